// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRunUpsertRevivesStale(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	run := RunRecord{
		Workflow:  "galaxy/rnaseq",
		RunID:     "run_2026_01",
		Root:      "/data/results",
		Path:      "/data/results/run_2026_01",
		FirstSeen: time.Now(),
	}
	require.NoError(t, c.UpsertRun(ctx, run))
	require.NoError(t, c.MarkRunStale(ctx, run.Workflow, run.RunID))

	runs, err := c.Runs(ctx, run.Workflow)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.True(t, runs[0].Stale)

	// Rediscovery clears the flag without rewriting identity.
	require.NoError(t, c.UpsertRun(ctx, run))
	runs, err = c.Runs(ctx, run.Workflow)
	require.NoError(t, err)
	require.False(t, runs[0].Stale)
	require.Equal(t, "/data/results/run_2026_01", runs[0].Path)
}

func TestRegisterFileRoundTrip(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	rec := FileRecord{
		FileKey: FileKey{
			Workflow:   "galaxy/rnaseq",
			Collection: "counts",
			RunID:      "run_a",
			Location:   "/data/run_a/sample1.counts.csv",
		},
		Wildcards:   map[string]string{"sample": "sample1"},
		Fingerprint: "aa11",
	}
	require.NoError(t, c.RegisterFile(ctx, rec))

	files, err := c.Files(ctx, "galaxy/rnaseq", "counts")
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.True(t, files[0].Registered())
	require.Equal(t, "sample1", files[0].Wildcards["sample"])
	require.Equal(t, "aa11", files[0].Fingerprint)
	require.False(t, files[0].RegisteredAt.IsZero())
}

func TestRecordFileErrorIsNotRegistered(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	rec := FileRecord{
		FileKey: FileKey{
			Workflow:   "galaxy/rnaseq",
			Collection: "counts",
			RunID:      "run_a",
			Location:   "/data/run_a/broken.csv",
		},
		Fingerprint: "dead",
	}
	require.NoError(t, c.RecordFileError(ctx, rec, errors.New("row 3: expected 4 fields, got 2")))

	files, err := c.Files(ctx, "galaxy/rnaseq", "counts")
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.False(t, files[0].Registered())
	require.Contains(t, files[0].LastError, "expected 4 fields")

	// A later successful parse of changed bytes replaces the error record.
	rec.Fingerprint = "beef"
	require.NoError(t, c.RegisterFile(ctx, rec))
	files, err = c.Files(ctx, "galaxy/rnaseq", "counts")
	require.NoError(t, err)
	require.True(t, files[0].Registered())
	require.Empty(t, files[0].LastError)
}

func TestMarkFilesStale(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	key := FileKey{Workflow: "wf", Collection: "dc", RunID: "r1", Location: "/x/a.csv"}
	require.NoError(t, c.RegisterFile(ctx, FileRecord{FileKey: key, Fingerprint: "f1"}))
	require.NoError(t, c.MarkFilesStale(ctx, []FileKey{key}))

	files, err := c.Files(ctx, "wf", "dc")
	require.NoError(t, err)
	require.True(t, files[0].Stale)
	require.False(t, files[0].Registered())

	// Re-registration revives the record.
	require.NoError(t, c.RegisterFile(ctx, FileRecord{FileKey: key, Fingerprint: "f1"}))
	files, err = c.Files(ctx, "wf", "dc")
	require.NoError(t, err)
	require.True(t, files[0].Registered())
}

func TestCollectionLockContention(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.AcquireLock(ctx, "wf", "counts", "scan-1"))

	err := c.AcquireLock(ctx, "wf", "counts", "scan-2")
	require.Error(t, err)
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	require.True(t, syncErr.Contention)

	// A different collection is independent.
	require.NoError(t, c.AcquireLock(ctx, "wf", "metadata", "scan-2"))

	require.NoError(t, c.ReleaseLock(ctx, "wf", "counts", "scan-1"))
	require.NoError(t, c.AcquireLock(ctx, "wf", "counts", "scan-2"))
}

func TestCollectionLockStaleTakeover(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.AcquireLock(ctx, "wf", "counts", "scan-dead"))

	// Age the lock past the TTL, as if its scan crashed long ago.
	old := time.Now().UTC().Add(-LockTTL - time.Minute).Format(time.RFC3339Nano)
	_, err := c.db.Exec(`UPDATE collection_locks SET acquired_at = ?`, old)
	require.NoError(t, err)

	require.NoError(t, c.AcquireLock(ctx, "wf", "counts", "scan-new"))

	// The takeover renewed the timestamp: the lock is live again.
	err = c.AcquireLock(ctx, "wf", "counts", "scan-other")
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	require.True(t, syncErr.Contention)

	require.NoError(t, c.ReleaseLock(ctx, "wf", "counts", "scan-new"))
}

func TestScanRecordLifecycle(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	_, err := c.LastScan(ctx, "wf")
	require.ErrorIs(t, err, ErrNoScans)

	started := time.Now().Add(-time.Minute)
	rec := ScanRecord{
		ScanID:    "scan-1",
		Workflow:  "wf",
		Kind:      "scan",
		StartedAt: started,
	}
	require.NoError(t, c.RecordScan(ctx, rec))

	rec.FinishedAt = time.Now()
	rec.Matched = 12
	rec.Parsed = 11
	rec.Rejected = 1
	rec.Report = `{"degraded":true}`
	require.NoError(t, c.RecordScan(ctx, rec))

	got, err := c.LastScan(ctx, "wf")
	require.NoError(t, err)
	require.Equal(t, "scan-1", got.ScanID)
	require.Equal(t, 12, got.Matched)
	require.Equal(t, 1, got.Rejected)
	require.Contains(t, got.Report, "degraded")
}
