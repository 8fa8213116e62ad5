// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/depictio/strata/pkg/table"
)

// LocalConfig configures the filesystem-backed store.
type LocalConfig struct {
	// Root is the directory holding one subtree per collection.
	Root string

	// MaxWriteAttempts caps the retry budget for transient write errors.
	// Defaults to 4.
	MaxWriteAttempts uint

	// Logger is optional; nil uses slog.Default().
	Logger *slog.Logger
}

// LocalBackend stores versioned tables on a local (or mounted object-store)
// filesystem:
//
//	<root>/<collection>/_log/<%020d>.json   commit records, append-only
//	<root>/<collection>/data/<uuid>.seg.zst zstd columnar segments
//
// A version becomes visible when its commit record is renamed into _log;
// segments without a commit record are invisible garbage, never data.
type LocalBackend struct {
	root     string
	maxTries uint
	logger   *slog.Logger
	mu       sync.Mutex
	writers  map[string]*sync.Mutex
}

var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend creates the store root if needed.
func NewLocalBackend(cfg LocalConfig) (*LocalBackend, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("store root is required")
	}
	if cfg.MaxWriteAttempts == 0 {
		cfg.MaxWriteAttempts = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &LocalBackend{
		root:     cfg.Root,
		maxTries: cfg.MaxWriteAttempts,
		logger:   cfg.Logger,
		writers:  make(map[string]*sync.Mutex),
	}, nil
}

// Close implements Backend. The local backend holds no open handles between
// calls.
func (b *LocalBackend) Close() error { return nil }

func (b *LocalBackend) collectionDir(collection string) string {
	return filepath.Join(b.root, filepath.FromSlash(collection))
}

// writerLock returns the in-process mutex serializing writers of one
// collection.
func (b *LocalBackend) writerLock(collection string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.writers[collection]
	if !ok {
		m = &sync.Mutex{}
		b.writers[collection] = m
	}
	return m
}

// WriteVersion implements Backend. At most one materialization may be in
// flight per collection; a concurrent writer is rejected with a contention
// StorageWriteError rather than silently interleaved. Transient I/O errors
// are retried with bounded exponential backoff; after the budget is
// exhausted the version is not advanced.
func (b *LocalBackend) WriteVersion(ctx context.Context, collection string, t *table.Table) (*Version, error) {
	lock := b.writerLock(collection)
	if !lock.TryLock() {
		return nil, &StorageWriteError{Collection: collection, Contention: true}
	}
	defer lock.Unlock()

	dir := b.collectionDir(collection)
	if err := os.MkdirAll(filepath.Join(dir, "_log"), 0o755); err != nil {
		return nil, &StorageWriteError{Collection: collection, Err: err}
	}
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o755); err != nil {
		return nil, &StorageWriteError{Collection: collection, Err: err}
	}

	// Cross-process exclusivity: O_EXCL lock file for the duration of the
	// write.
	lockPath := filepath.Join(dir, ".write.lock")
	if err := b.acquireWriteLock(collection, lockPath); err != nil {
		return nil, err
	}
	defer os.Remove(lockPath)

	data, checksum, err := encodeSegment(t)
	if err != nil {
		return nil, &StorageWriteError{Collection: collection, Err: err}
	}

	next := int64(0)
	if latest, err := b.Latest(ctx, collection); err == nil {
		next = latest.Number + 1
	} else if !errors.Is(err, ErrNoVersions) {
		return nil, &StorageWriteError{Collection: collection, Err: err}
	}

	version := &Version{
		Collection: collection,
		Number:     next,
		Schema:     t.Schema(),
		RowCount:   t.NumRows(),
		Segment:    uuid.NewString() + ".seg.zst",
		Checksum:   checksum,
		CreatedAt:  time.Now().UTC(),
	}

	attempt := func() (*Version, error) {
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}
		if err := b.publish(dir, version, data); err != nil {
			// An existing commit record means another writer won the
			// version number; retrying cannot help.
			if errors.Is(err, fs.ErrExist) {
				return nil, backoff.Permanent(err)
			}
			b.logger.Warn("store.write.retry", "collection", collection, "version", version.Number, "err", err)
			return nil, err
		}
		return version, nil
	}

	published, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(b.maxTries),
	)
	if err != nil {
		return nil, &StorageWriteError{Collection: collection, Transient: false, Err: err}
	}

	b.logger.Info("store.version.published",
		"collection", collection,
		"version", published.Number,
		"rows", published.RowCount,
		"columns", len(published.Schema),
	)
	return published, nil
}

// writeLockTTL bounds how long a .write.lock left by a crashed writer
// blocks its collection. The lock covers a single version write; anything
// older was abandoned.
const writeLockTTL = 30 * time.Minute

// acquireWriteLock creates the cross-process lock file with O_EXCL. An
// existing lock older than writeLockTTL is removed and creation retried
// once; a younger one is contention.
func (b *LocalBackend) acquireWriteLock(collection, lockPath string) error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return &StorageWriteError{Collection: collection, Err: err}
		}
		info, statErr := os.Stat(lockPath)
		if statErr != nil || time.Since(info.ModTime()) < writeLockTTL || attempt > 0 {
			return &StorageWriteError{Collection: collection, Contention: true}
		}
		b.logger.Warn("store.write.lock_stale",
			"collection", collection,
			"age", time.Since(info.ModTime()).String(),
		)
		_ = os.Remove(lockPath)
	}
	return &StorageWriteError{Collection: collection, Contention: true}
}

// publish writes the segment then the commit record. The commit record is
// written to a temp file and renamed so readers never observe a torn
// record.
func (b *LocalBackend) publish(dir string, v *Version, segment []byte) error {
	segPath := filepath.Join(dir, "data", v.Segment)
	if err := os.WriteFile(segPath, segment, 0o644); err != nil {
		return fmt.Errorf("write segment: %w", err)
	}

	record, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal commit record: %w", err)
	}

	logPath := filepath.Join(dir, "_log", logName(v.Number))
	if _, err := os.Stat(logPath); err == nil {
		return fmt.Errorf("commit record %s: %w", logName(v.Number), fs.ErrExist)
	}

	tmpPath := logPath + ".tmp"
	if err := os.WriteFile(tmpPath, record, 0o644); err != nil {
		return fmt.Errorf("write commit record temp: %w", err)
	}
	if err := os.Rename(tmpPath, logPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("publish commit record: %w", err)
	}
	return nil
}

func logName(number int64) string {
	return fmt.Sprintf("%020d.json", number)
}

// ReadVersion implements Backend.
func (b *LocalBackend) ReadVersion(ctx context.Context, collection string, number int64) (*table.Table, *Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	dir := b.collectionDir(collection)
	v, err := readRecord(filepath.Join(dir, "_log", logName(number)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("collection %q version %d: %w", collection, number, ErrNoVersions)
		}
		return nil, nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, "data", v.Segment))
	if err != nil {
		return nil, nil, fmt.Errorf("read segment: %w", err)
	}
	t, err := decodeSegment(data, v.Checksum)
	if err != nil {
		return nil, nil, err
	}
	return t, v, nil
}

// Latest implements Backend.
func (b *LocalBackend) Latest(ctx context.Context, collection string) (*Version, error) {
	numbers, err := b.versionNumbers(collection)
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return nil, fmt.Errorf("collection %q: %w", collection, ErrNoVersions)
	}
	return readRecord(filepath.Join(b.collectionDir(collection), "_log", logName(numbers[len(numbers)-1])))
}

// Versions implements Backend.
func (b *LocalBackend) Versions(ctx context.Context, collection string) ([]*Version, error) {
	numbers, err := b.versionNumbers(collection)
	if err != nil {
		return nil, err
	}
	out := make([]*Version, 0, len(numbers))
	for _, n := range numbers {
		v, err := readRecord(filepath.Join(b.collectionDir(collection), "_log", logName(n)))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Collections implements Backend.
func (b *LocalBackend) Collections(ctx context.Context) ([]string, error) {
	var out []string
	err := filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || d.Name() != "_log" {
			return nil
		}
		rel, rerr := filepath.Rel(b.root, filepath.Dir(path))
		if rerr != nil {
			return rerr
		}
		out = append(out, filepath.ToSlash(rel))
		return fs.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("walk store: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// versionNumbers lists committed version numbers in ascending order.
func (b *LocalBackend) versionNumbers(collection string) ([]int64, error) {
	entries, err := os.ReadDir(filepath.Join(b.collectionDir(collection), "_log"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log dir: %w", err)
	}
	var numbers []int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers, nil
}

func readRecord(path string) (*Version, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v Version
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse commit record %s: %w", filepath.Base(path), err)
	}
	for i := range v.Schema {
		typ, err := table.ParseType(v.Schema[i].TypeName)
		if err != nil {
			return nil, fmt.Errorf("commit record %s: %w", filepath.Base(path), err)
		}
		v.Schema[i].Type = typ
	}
	return &v, nil
}
