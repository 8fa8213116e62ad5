// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package ingest

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/depictio/strata/pkg/catalog"
	"github.com/depictio/strata/pkg/store"
)

// Issue kinds, one per rejection cause, so reports can be counted and
// filtered by failure class.
const (
	IssueWildcard   = "wildcard_extraction"
	IssueSchema     = "schema_mismatch"
	IssueParse      = "parse_error"
	IssueDiscovery  = "run_discovery"
	IssueStorage    = "storage_write"
	IssueContention = "catalog_contention"
)

// Issue is one recorded failure, keyed to the file or location it affects.
type Issue struct {
	Kind       string `json:"kind"`
	Collection string `json:"collection,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	Path       string `json:"path,omitempty"`
	Message    string `json:"message"`
}

// CollectionReport summarizes one data collection within a scan.
type CollectionReport struct {
	Matched   int `json:"matched"`
	Parsed    int `json:"parsed"`
	Rejected  int `json:"rejected"`
	New       int `json:"new"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
	KnownBad  int `json:"known_bad,omitempty"`
	Missing   int `json:"missing,omitempty"`

	// Version is set when the collection materialized a new table version.
	Version *int64 `json:"version,omitempty"`

	// Skipped marks the idempotence fast path: nothing changed and a
	// version already exists, so no new version was written.
	Skipped bool `json:"skipped,omitempty"`

	// Degraded marks a collection whose version could not be produced this
	// scan (all files failed, or the write was refused).
	Degraded bool `json:"degraded,omitempty"`
}

// Report is the full outcome of one scan or process invocation. It is
// stored as the scan record's JSON payload and rendered by the CLI.
type Report struct {
	ScanID     string    `json:"scan_id"`
	Workflow   string    `json:"workflow"`
	Kind       string    `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	RunsDiscovered int `json:"runs_discovered"`
	RunsStale      int `json:"runs_stale,omitempty"`

	Collections map[string]*CollectionReport `json:"collections"`
	Issues      []Issue                      `json:"issues,omitempty"`

	// Degraded is true when any collection degraded or any issue was
	// recorded; the scan still completes.
	Degraded bool `json:"degraded,omitempty"`
}

func newReport(scanID, workflow, kind string) *Report {
	return &Report{
		ScanID:      scanID,
		Workflow:    workflow,
		Kind:        kind,
		StartedAt:   time.Now().UTC(),
		Collections: make(map[string]*CollectionReport),
	}
}

func (r *Report) collection(tag string) *CollectionReport {
	cr, ok := r.Collections[tag]
	if !ok {
		cr = &CollectionReport{}
		r.Collections[tag] = cr
	}
	return cr
}

// addIssue records a failure and classifies it by error type.
func (r *Report) addIssue(collection, runID, path string, err error) {
	kind := IssueParse
	var wErr *WildcardExtractionError
	var sErr *SchemaMismatchError
	var dErr *RunDiscoveryWarning
	var stErr *store.StorageWriteError
	var syncErr *catalog.SyncError
	switch {
	case errors.As(err, &wErr):
		kind = IssueWildcard
		if path == "" {
			path = wErr.Path
		}
	case errors.As(err, &sErr):
		kind = IssueSchema
		if path == "" {
			path = sErr.Path
		}
	case errors.As(err, &dErr):
		kind = IssueDiscovery
	case errors.As(err, &stErr):
		kind = IssueStorage
	case errors.As(err, &syncErr) && syncErr.Contention:
		kind = IssueContention
	}
	r.Issues = append(r.Issues, Issue{
		Kind:       kind,
		Collection: collection,
		RunID:      runID,
		Path:       path,
		Message:    err.Error(),
	})
	r.Degraded = true
}

// Matched/Parsed/Rejected totals across collections, for the scan record.
func (r *Report) totals() (matched, parsed, rejected int) {
	for _, cr := range r.Collections {
		matched += cr.Matched
		parsed += cr.Parsed
		rejected += cr.Rejected
	}
	return matched, parsed, rejected
}

// JSON renders the report for storage in the catalog.
func (r *Report) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"error":"report marshal failed"}`
	}
	return string(b)
}
