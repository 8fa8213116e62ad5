// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/depictio/strata/pkg/table"
)

func newTestBackend(t *testing.T) *LocalBackend {
	t.Helper()
	b, err := NewLocalBackend(LocalConfig{Root: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func sampleTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.New(
		&table.Column{Name: "id", Type: table.Int, Values: []any{int64(1), int64(2), nil}},
		&table.Column{Name: "value", Type: table.String, Values: []any{"a", "b", "c"}},
		&table.Column{Name: "score", Type: table.Float, Values: []any{1.5, nil, 3.25}},
		&table.Column{Name: "ok", Type: table.Bool, Values: []any{true, false, nil}},
	)
	require.NoError(t, err)
	return tbl
}

func TestWriteVersion_RoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	v, err := b.WriteVersion(ctx, "rnaseq/counts", sampleTable(t))
	require.NoError(t, err)
	require.Equal(t, int64(0), v.Number, "first version is 0")
	require.Equal(t, 3, v.RowCount)

	got, rec, err := b.ReadVersion(ctx, "rnaseq/counts", 0)
	require.NoError(t, err)
	require.Equal(t, v.Checksum, rec.Checksum)
	require.True(t, table.RowMultisetEqual(sampleTable(t), got), "round-trip changed the rows")

	// Typed values survive the segment codec exactly.
	id, _ := got.Column("id")
	require.Equal(t, int64(1), id.Values[0])
	require.Nil(t, id.Values[2])
	score, _ := got.Column("score")
	require.Equal(t, 3.25, score.Values[2])
}

func TestWriteVersion_Monotonic(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for want := int64(0); want < 3; want++ {
		v, err := b.WriteVersion(ctx, "wf/dc", sampleTable(t))
		require.NoError(t, err)
		require.Equal(t, want, v.Number)
	}

	latest, err := b.Latest(ctx, "wf/dc")
	require.NoError(t, err)
	require.Equal(t, int64(2), latest.Number)

	versions, err := b.Versions(ctx, "wf/dc")
	require.NoError(t, err)
	require.Len(t, versions, 3)

	// Old versions stay readable after new ones are published.
	_, rec, err := b.ReadVersion(ctx, "wf/dc", 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), rec.Number)
}

func TestLatest_NoVersions(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.Latest(context.Background(), "wf/none")
	require.ErrorIs(t, err, ErrNoVersions)
}

func TestWriteVersion_ContentionRejected(t *testing.T) {
	b := newTestBackend(t)

	// Simulate a concurrent writer: hold the in-process lock.
	lock := b.writerLock("wf/dc")
	lock.Lock()
	defer lock.Unlock()

	_, err := b.WriteVersion(context.Background(), "wf/dc", sampleTable(t))
	var swe *StorageWriteError
	require.ErrorAs(t, err, &swe)
	require.True(t, swe.Contention)
}

func TestWriteVersion_LiveLockFileRejected(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	dir := b.collectionDir("wf/dc")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".write.lock"), nil, 0o644))

	_, err := b.WriteVersion(ctx, "wf/dc", sampleTable(t))
	var swe *StorageWriteError
	require.ErrorAs(t, err, &swe)
	require.True(t, swe.Contention)

	// Releasing the lock lets the next write proceed with an unchanged
	// version sequence.
	require.NoError(t, os.Remove(filepath.Join(dir, ".write.lock")))
	v, err := b.WriteVersion(ctx, "wf/dc", sampleTable(t))
	require.NoError(t, err)
	require.Equal(t, int64(0), v.Number)
}

func TestWriteVersion_AbandonedLockFileTakenOver(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	// A lock file left behind by a crashed writer, well past the TTL.
	dir := b.collectionDir("wf/dc")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	lockPath := filepath.Join(dir, ".write.lock")
	require.NoError(t, os.WriteFile(lockPath, nil, 0o644))
	old := time.Now().Add(-writeLockTTL - time.Minute)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	v, err := b.WriteVersion(ctx, "wf/dc", sampleTable(t))
	require.NoError(t, err)
	require.Equal(t, int64(0), v.Number)

	// The write cleaned up after itself.
	_, err = os.Stat(lockPath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCollections(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.WriteVersion(ctx, "wf/a", sampleTable(t))
	require.NoError(t, err)
	_, err = b.WriteVersion(ctx, "wf/b", sampleTable(t))
	require.NoError(t, err)

	cols, err := b.Collections(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"wf/a", "wf/b"}, cols)
}

func TestReadVersion_ChecksumMismatch(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	v, err := b.WriteVersion(ctx, "wf/dc", sampleTable(t))
	require.NoError(t, err)

	segPath := filepath.Join(b.collectionDir("wf/dc"), "data", v.Segment)
	data, err := os.ReadFile(segPath)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(segPath, data, 0o644))

	_, _, err = b.ReadVersion(ctx, "wf/dc", v.Number)
	require.Error(t, err)
	require.Contains(t, err.Error(), "checksum")
}

func TestWriteVersion_CancelledContext(t *testing.T) {
	b := newTestBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.WriteVersion(ctx, "wf/dc", sampleTable(t))
	require.Error(t, err)

	// A cancelled write never advances the version.
	_, err = b.Latest(context.Background(), "wf/dc")
	require.ErrorIs(t, err, ErrNoVersions)
}
