// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package ingest

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/depictio/strata/pkg/schema"
)

// Run is one discovered run directory. The directory name is the run id.
type Run struct {
	Workflow string
	ID       string
	Root     string
	Path     string
}

// scanBatch is how many directory entries a RunScanner reads per syscall.
const scanBatch = 64

// RunScanner lazily enumerates the run directories of a workflow across its
// declared locations, in the style of bufio.Scanner: nothing is listed
// ahead of the caller beyond one batch of directory entries. A new scanner
// per scan makes the sequence restartable.
//
// Non-matching entries are skipped silently. Unreadable locations become
// RunDiscoveryWarnings and are excluded; a workflow with zero readable
// locations is a fatal Err. Yield order follows the directory listing and
// is not sorted.
type RunScanner struct {
	workflow  string
	re        *regexp.Regexp
	locations []string

	loc     int // next location to open
	dir     *os.File
	root    string
	pending []os.DirEntry

	current  Run
	warnings []*RunDiscoveryWarning
	readable int
	err      error
}

// NewRunScanner starts a scan over the workflow's data locations.
func NewRunScanner(w *schema.Workflow) *RunScanner {
	return &RunScanner{
		workflow:  w.Name,
		re:        w.DataLocation.RunsRE(),
		locations: w.DataLocation.Locations,
	}
}

// Next advances to the next matching run directory. It returns false when
// every location is exhausted or discovery failed fatally; Err tells the
// two apart.
func (s *RunScanner) Next() bool {
	if s.err != nil {
		return false
	}
	for {
		for len(s.pending) > 0 {
			e := s.pending[0]
			s.pending = s.pending[1:]
			if !e.IsDir() || !s.re.MatchString(e.Name()) {
				continue
			}
			s.current = Run{
				Workflow: s.workflow,
				ID:       e.Name(),
				Root:     s.root,
				Path:     filepath.Join(s.root, e.Name()),
			}
			return true
		}

		if s.dir != nil {
			entries, err := s.dir.ReadDir(scanBatch)
			if err == nil {
				s.pending = entries
				continue
			}
			s.closeDir()
			if err != io.EOF {
				s.warn(s.root, err)
			}
		}

		if s.loc >= len(s.locations) {
			if s.readable == 0 {
				s.err = fmt.Errorf("workflow %q: no readable data location", s.workflow)
			}
			return false
		}
		loc := s.locations[s.loc]
		s.loc++
		dir, err := os.Open(loc)
		if err != nil {
			s.warn(loc, err)
			continue
		}
		s.dir = dir
		s.root = loc
		s.readable++
	}
}

// Run returns the run yielded by the last successful Next.
func (s *RunScanner) Run() Run { return s.current }

// Err returns the fatal discovery error, if any. Per-location failures are
// Warnings, not errors.
func (s *RunScanner) Err() error { return s.err }

// Warnings returns the per-location failures accumulated so far.
func (s *RunScanner) Warnings() []*RunDiscoveryWarning { return s.warnings }

// Close releases the directory handle of a scan abandoned mid-iteration. A
// scan driven to exhaustion has already closed it.
func (s *RunScanner) Close() error {
	s.closeDir()
	return nil
}

func (s *RunScanner) closeDir() {
	if s.dir != nil {
		_ = s.dir.Close()
		s.dir = nil
	}
}

func (s *RunScanner) warn(location string, err error) {
	s.warnings = append(s.warnings, &RunDiscoveryWarning{
		Workflow: s.workflow,
		Location: location,
		Err:      err,
	})
}

// DiscoverRuns drives a RunScanner to exhaustion and returns the runs
// sorted by (root, id) so downstream processing is deterministic.
// Unreadable or missing locations degrade to warnings; only a workflow with
// zero readable locations is an error.
func DiscoverRuns(w *schema.Workflow, logger *slog.Logger) ([]Run, []*RunDiscoveryWarning, error) {
	if logger == nil {
		logger = slog.Default()
	}

	scanner := NewRunScanner(w)
	defer scanner.Close()

	var runs []Run
	for scanner.Next() {
		runs = append(runs, scanner.Run())
	}
	warnings := scanner.Warnings()
	for _, warn := range warnings {
		logger.Warn("ingest.discovery.location.unreadable",
			"workflow", w.Name, "location", warn.Location, "err", warn.Err)
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, err
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Root != runs[j].Root {
			return runs[i].Root < runs[j].Root
		}
		return runs[i].ID < runs[j].ID
	})

	logger.Info("ingest.discovery.complete",
		"workflow", w.Name,
		"locations", len(w.DataLocation.Locations),
		"runs", len(runs),
		"warnings", len(warnings),
	)
	return runs, warnings, nil
}
