// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package ingest

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/depictio/strata/pkg/schema"
)

// Fingerprint modes. Stat hashes path, size and mtime and is the default;
// content streams the file bytes and survives touch(1) but costs a full
// read per matched file.
const (
	FingerprintStat    = "stat"
	FingerprintContent = "content"
)

// FileMatch is one file accepted for a data collection within a run.
type FileMatch struct {
	Workflow    string
	Collection  string
	Run         Run
	Path        string
	Wildcards   map[string]string
	Fingerprint string
	Size        int64
}

// Matcher locates collection files inside run directories.
type Matcher struct {
	// FingerprintMode selects how change detection hashes files; empty
	// means FingerprintStat.
	FingerprintMode string
}

// Match scans one run directory for one data collection. It returns the
// accepted files plus the per-file rejections (WildcardExtractionError);
// the error return is reserved for filesystem failures that abort the
// whole run.
//
// A file may match several collections' patterns; each collection matches
// independently, so such a file simply appears in every matching
// collection's result.
func (m *Matcher) Match(run Run, dc *schema.DataCollection) ([]FileMatch, []error, error) {
	switch dc.Config.Scan.Mode {
	case schema.ModeSingle:
		return m.matchSingle(run, dc)
	case schema.ModeRecursive:
		return m.matchRecursive(run, dc)
	default:
		return nil, nil, fmt.Errorf("collection %q: unknown scan mode %q", dc.Tag, dc.Config.Scan.Mode)
	}
}

// matchSingle expects exactly one file with a fixed name at the run root.
// Absence is not an error: the run simply contributes nothing to the
// collection.
func (m *Matcher) matchSingle(run Run, dc *schema.DataCollection) ([]FileMatch, []error, error) {
	path := filepath.Join(run.Path, dc.Config.Scan.Parameters.Filename)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, nil, nil
	}

	fp, err := m.fingerprint(path, info)
	if err != nil {
		return nil, nil, err
	}
	return []FileMatch{{
		Workflow:    run.Workflow,
		Collection:  dc.Tag,
		Run:         run,
		Path:        path,
		Fingerprint: fp,
		Size:        info.Size(),
	}}, nil, nil
}

// matchRecursive walks the run directory and applies the collection pattern
// to each candidate path. The candidate is the run directory name joined to
// the file's run-relative path, so patterns that expect at least one
// directory segment ahead of the filename still match files at the run root.
// Named groups become the file's wildcards; a group that captures an empty
// string rejects the file.
func (m *Matcher) matchRecursive(run Run, dc *schema.DataCollection) ([]FileMatch, []error, error) {
	rc := dc.Config.Scan.Parameters.Regex
	re := rc.RE()
	indexExt := dc.Config.Scan.Parameters.IndexExtension

	var matches []FileMatch
	var rejected []error

	err := filepath.WalkDir(run.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(run.Path, path)
		if err != nil {
			return err
		}
		candidate := run.ID + "/" + filepath.ToSlash(rel)

		// Index/sidecar files accompany a primary match and are never
		// primary matches themselves.
		if indexExt != "" && strings.HasSuffix(candidate, indexExt) {
			return nil
		}
		sub := re.FindStringSubmatch(candidate)
		if sub == nil {
			return nil
		}

		wildcards := make(map[string]string, len(rc.Groups()))
		for gi, name := range re.SubexpNames() {
			if name == "" {
				continue
			}
			if sub[gi] == "" {
				rejected = append(rejected, &WildcardExtractionError{
					Collection: dc.Tag,
					Path:       path,
					Group:      name,
				})
				return nil
			}
			wildcards[name] = sub[gi]
		}
		if len(wildcards) == 0 {
			wildcards = nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		fp, err := m.fingerprint(path, info)
		if err != nil {
			return err
		}

		matches = append(matches, FileMatch{
			Workflow:    run.Workflow,
			Collection:  dc.Tag,
			Run:         run,
			Path:        path,
			Wildcards:   wildcards,
			Fingerprint: fp,
			Size:        info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, rejected, fmt.Errorf("walk %s: %w", run.Path, err)
	}
	return matches, rejected, nil
}

// fingerprint produces the change-detection hash for a matched file.
func (m *Matcher) fingerprint(path string, info fs.FileInfo) (string, error) {
	if m.FingerprintMode == FingerprintContent {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", path, err)
		}
		defer f.Close()
		h := xxhash.New()
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", path, err)
		}
		return fmt.Sprintf("%016x", h.Sum64()), nil
	}

	h := xxhash.New()
	fmt.Fprintf(h, "%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
