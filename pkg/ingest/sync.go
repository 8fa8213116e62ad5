// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package ingest

import (
	"github.com/depictio/strata/pkg/catalog"
)

// SyncPlan is the outcome of diffing one collection's matched files against
// its catalog records.
//
// New and Changed files get parsed and (re-)registered. Unchanged files are
// already registered and are re-parsed only when the collection
// materializes. KnownBad files failed deterministically on the same bytes
// and are skipped without re-parsing. Missing records point at files that
// vanished from disk; their rows stay in published versions (versions are
// immutable) but the records are flagged stale.
type SyncPlan struct {
	New       []FileMatch
	Changed   []FileMatch
	Unchanged []FileMatch
	KnownBad  []FileMatch
	Missing   []catalog.FileKey
}

// Total is the number of matched files covered by the plan.
func (p *SyncPlan) Total() int {
	return len(p.New) + len(p.Changed) + len(p.Unchanged) + len(p.KnownBad)
}

// Empty reports whether the plan requires no catalog mutation: nothing new,
// nothing changed, nothing gone. An empty plan against an existing version
// is the idempotence fast path.
func (p *SyncPlan) Empty() bool {
	return len(p.New) == 0 && len(p.Changed) == 0 && len(p.Missing) == 0
}

// Diff buckets the current matches of one (workflow, collection) against
// its catalog records. Records and matches are keyed by absolute location.
func Diff(records []catalog.FileRecord, matches []FileMatch) *SyncPlan {
	byLocation := make(map[string]*catalog.FileRecord, len(records))
	for i := range records {
		byLocation[records[i].Location] = &records[i]
	}

	plan := &SyncPlan{}
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		seen[m.Path] = true
		rec, ok := byLocation[m.Path]
		switch {
		case !ok:
			plan.New = append(plan.New, m)
		case rec.Fingerprint != m.Fingerprint:
			plan.Changed = append(plan.Changed, m)
		case rec.LastError != "":
			plan.KnownBad = append(plan.KnownBad, m)
		case rec.Stale:
			// The file came back after its record went stale; treat it as
			// changed so it is re-registered.
			plan.Changed = append(plan.Changed, m)
		default:
			plan.Unchanged = append(plan.Unchanged, m)
		}
	}

	for i := range records {
		rec := &records[i]
		if rec.Stale || seen[rec.Location] {
			continue
		}
		plan.Missing = append(plan.Missing, rec.FileKey)
	}
	return plan
}
