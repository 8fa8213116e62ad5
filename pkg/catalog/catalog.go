// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package catalog is the metadata store of registered runs and files,
// distinct from the materialized data tables.
//
// The catalog is the source of truth the synchronizer diffs against on
// every scan: which files are already registered, with which fingerprints,
// which runs have gone stale. It also records per-scan diagnostics and
// holds the per-collection exclusivity locks that keep two scans from
// materializing the same collection concurrently.
//
// Backed by SQLite (modernc.org/sqlite, cgo-free). All writes go through a
// single mutex-guarded connection so catalog writes for a given file key
// are serialized; reads may run concurrently with unrelated writes.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoScans is returned by LastScan when a workflow has never been scanned.
var ErrNoScans = errors.New("no scans recorded")

// Catalog provides run/file registration and scan bookkeeping.
type Catalog struct {
	db     *sql.DB
	logger *slog.Logger

	// writeMu serializes all catalog mutations.
	writeMu sync.Mutex
}

// RunRecord is one discovered run directory. Runs are never mutated after
// creation; they only gain the stale flag when their directory disappears.
type RunRecord struct {
	Workflow  string    `json:"workflow"`
	RunID     string    `json:"run_id"`
	Root      string    `json:"root"`
	Path      string    `json:"path"`
	Stale     bool      `json:"stale"`
	FirstSeen time.Time `json:"first_seen"`
}

// FileKey identifies a file record: (workflow, data collection, run,
// location).
type FileKey struct {
	Workflow   string `json:"workflow"`
	Collection string `json:"collection"`
	RunID      string `json:"run_id"`
	Location   string `json:"location"`
}

// FileRecord is one matched file. A record with a non-empty LastError is a
// known-bad file, not a registered one: it exists so deterministic parse
// failures are not re-attempted on every scan, but it never counts as
// registered data.
type FileRecord struct {
	FileKey
	Wildcards    map[string]string `json:"wildcards,omitempty"`
	Fingerprint  string            `json:"fingerprint"`
	RegisteredAt time.Time         `json:"registered_at"`
	Stale        bool              `json:"stale"`
	LastError    string            `json:"last_error,omitempty"`
}

// Registered reports whether the record represents successfully parsed,
// non-stale data.
func (r *FileRecord) Registered() bool {
	return r.LastError == "" && !r.Stale
}

// ScanRecord summarizes one scan or process invocation for the status API.
type ScanRecord struct {
	ScanID     string    `json:"scan_id"`
	Workflow   string    `json:"workflow"`
	Kind       string    `json:"kind"` // "scan" or "process"
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Matched    int       `json:"matched"`
	Parsed     int       `json:"parsed"`
	Rejected   int       `json:"rejected"`
	Report     string    `json:"report,omitempty"` // JSON diagnostics report
}

const ddl = `
CREATE TABLE IF NOT EXISTS runs (
	workflow   TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	root       TEXT NOT NULL,
	path       TEXT NOT NULL,
	stale      INTEGER NOT NULL DEFAULT 0,
	first_seen TEXT NOT NULL,
	PRIMARY KEY (workflow, run_id)
);

CREATE TABLE IF NOT EXISTS files (
	workflow      TEXT NOT NULL,
	collection    TEXT NOT NULL,
	run_id        TEXT NOT NULL,
	location      TEXT NOT NULL,
	wildcards     TEXT NOT NULL DEFAULT '{}',
	fingerprint   TEXT NOT NULL,
	registered_at TEXT NOT NULL,
	stale         INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (workflow, collection, run_id, location)
);
CREATE INDEX IF NOT EXISTS idx_files_wf_dc ON files(workflow, collection);

CREATE TABLE IF NOT EXISTS scans (
	scan_id     TEXT PRIMARY KEY,
	workflow    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	matched     INTEGER NOT NULL DEFAULT 0,
	parsed      INTEGER NOT NULL DEFAULT 0,
	rejected    INTEGER NOT NULL DEFAULT 0,
	report      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS collection_locks (
	workflow    TEXT NOT NULL,
	collection  TEXT NOT NULL,
	scan_id     TEXT NOT NULL,
	acquired_at TEXT NOT NULL,
	PRIMARY KEY (workflow, collection)
);
`

// Open opens (creating if necessary) the catalog database at path.
func Open(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}

	// One connection keeps sqlite happy under concurrent use; the catalog
	// serializes writes itself.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}

	return &Catalog{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (c *Catalog) Close() error { return c.db.Close() }

// UpsertRun inserts a run on first discovery or clears its stale flag when
// it reappears. Existing identity fields are never rewritten.
func (c *Catalog) UpsertRun(ctx context.Context, r RunRecord) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO runs (workflow, run_id, root, path, stale, first_seen)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(workflow, run_id) DO UPDATE SET stale = 0`,
		r.Workflow, r.RunID, r.Root, r.Path, r.FirstSeen.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &SyncError{Workflow: r.Workflow, Err: fmt.Errorf("upsert run %q: %w", r.RunID, err)}
	}
	return nil
}

// Runs lists all runs of a workflow.
func (c *Catalog) Runs(ctx context.Context, workflow string) ([]RunRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT workflow, run_id, root, path, stale, first_seen
		FROM runs WHERE workflow = ? ORDER BY run_id`, workflow)
	if err != nil {
		return nil, &SyncError{Workflow: workflow, Err: fmt.Errorf("list runs: %w", err)}
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var stale int
		var firstSeen string
		if err := rows.Scan(&r.Workflow, &r.RunID, &r.Root, &r.Path, &stale, &firstSeen); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		r.Stale = stale != 0
		r.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkRunStale flags a run whose directory disappeared. Only the run is
// flagged; its file records go stale through the per-collection diff, which
// is what decides whether a rebuild is due. Materialized rows are untouched
// (versions are immutable).
func (c *Catalog) MarkRunStale(ctx context.Context, workflow, runID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.db.ExecContext(ctx,
		`UPDATE runs SET stale = 1 WHERE workflow = ? AND run_id = ?`, workflow, runID)
	if err != nil {
		return &SyncError{Workflow: workflow, Err: fmt.Errorf("mark run stale: %w", err)}
	}
	return nil
}

// RegisterFile upserts a file record after its fragment parsed cleanly.
// Registration is transactional per file: callers must only invoke this
// once the fragment exists, so a partially parsed file never appears
// registered.
func (c *Catalog) RegisterFile(ctx context.Context, r FileRecord) error {
	return c.putFile(ctx, r, "")
}

// RecordFileError stores a known-bad file with its parse diagnostic. The
// failure is deterministic for the same bytes, so the diff skips the file
// until its fingerprint changes instead of re-parsing it every scan.
func (c *Catalog) RecordFileError(ctx context.Context, r FileRecord, parseErr error) error {
	msg := parseErr.Error()
	if msg == "" {
		msg = "unknown parse error"
	}
	return c.putFile(ctx, r, msg)
}

func (c *Catalog) putFile(ctx context.Context, r FileRecord, lastError string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	wildcards, err := json.Marshal(r.Wildcards)
	if err != nil {
		return fmt.Errorf("marshal wildcards: %w", err)
	}
	registeredAt := r.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = time.Now()
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO files (workflow, collection, run_id, location, wildcards, fingerprint, registered_at, stale, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(workflow, collection, run_id, location) DO UPDATE SET
			wildcards = excluded.wildcards,
			fingerprint = excluded.fingerprint,
			registered_at = excluded.registered_at,
			stale = 0,
			last_error = excluded.last_error`,
		r.Workflow, r.Collection, r.RunID, r.Location,
		string(wildcards), r.Fingerprint, registeredAt.UTC().Format(time.RFC3339Nano), lastError)
	if err != nil {
		return &SyncError{Workflow: r.Workflow, Collection: r.Collection,
			Err: fmt.Errorf("register file %q: %w", r.Location, err)}
	}
	return nil
}

// Files lists all file records for one (workflow, collection), stale and
// known-bad ones included; callers filter with Registered().
func (c *Catalog) Files(ctx context.Context, workflow, collection string) ([]FileRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT workflow, collection, run_id, location, wildcards, fingerprint, registered_at, stale, last_error
		FROM files WHERE workflow = ? AND collection = ? ORDER BY run_id, location`,
		workflow, collection)
	if err != nil {
		return nil, &SyncError{Workflow: workflow, Collection: collection,
			Err: fmt.Errorf("list files: %w", err)}
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var r FileRecord
		var wildcards, registeredAt string
		var stale int
		if err := rows.Scan(&r.Workflow, &r.Collection, &r.RunID, &r.Location,
			&wildcards, &r.Fingerprint, &registeredAt, &stale, &r.LastError); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		r.Stale = stale != 0
		r.RegisteredAt, _ = time.Parse(time.RFC3339Nano, registeredAt)
		if wildcards != "" && wildcards != "{}" {
			if err := json.Unmarshal([]byte(wildcards), &r.Wildcards); err != nil {
				return nil, fmt.Errorf("parse wildcards for %q: %w", r.Location, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkFilesStale flags file records whose path no longer exists on disk.
func (c *Catalog) MarkFilesStale(ctx context.Context, keys []FileKey) error {
	if len(keys) == 0 {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `
			UPDATE files SET stale = 1
			WHERE workflow = ? AND collection = ? AND run_id = ? AND location = ?`,
			k.Workflow, k.Collection, k.RunID, k.Location); err != nil {
			return &SyncError{Workflow: k.Workflow, Collection: k.Collection,
				Err: fmt.Errorf("mark file stale: %w", err)}
		}
	}
	return tx.Commit()
}

// LockTTL bounds how long a collection lock is honored. A crashed scan
// never releases its lock; once the row is older than this, the next scan
// seizes it instead of reporting contention forever.
const LockTTL = 30 * time.Minute

// AcquireLock claims the per-(workflow, collection) exclusivity lock for a
// scan. A lock held by a live scan is contention: the caller must not
// proceed to materialize. A lock older than LockTTL is taken over.
func (c *Catalog) AcquireLock(ctx context.Context, workflow, collection, scanID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := time.Now().UTC()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO collection_locks (workflow, collection, scan_id, acquired_at)
		VALUES (?, ?, ?, ?)`,
		workflow, collection, scanID, now.Format(time.RFC3339Nano))
	if err == nil {
		return nil
	}

	// The row exists. Read the holder; only a stale one may be seized.
	var holder, acquiredAt string
	row := c.db.QueryRowContext(ctx, `
		SELECT scan_id, acquired_at FROM collection_locks
		WHERE workflow = ? AND collection = ?`,
		workflow, collection)
	if scanErr := row.Scan(&holder, &acquiredAt); scanErr != nil {
		return &SyncError{Workflow: workflow, Collection: collection, Contention: true,
			Err: fmt.Errorf("acquire lock: %w", err)}
	}
	held, parseErr := time.Parse(time.RFC3339Nano, acquiredAt)
	if parseErr != nil || now.Sub(held) < LockTTL {
		return &SyncError{Workflow: workflow, Collection: collection, Contention: true,
			Err: fmt.Errorf("acquire lock: held by scan %s since %s", holder, acquiredAt)}
	}

	res, err := c.db.ExecContext(ctx, `
		UPDATE collection_locks SET scan_id = ?, acquired_at = ?
		WHERE workflow = ? AND collection = ? AND scan_id = ?`,
		scanID, now.Format(time.RFC3339Nano), workflow, collection, holder)
	if err != nil {
		return &SyncError{Workflow: workflow, Collection: collection,
			Err: fmt.Errorf("seize stale lock: %w", err)}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &SyncError{Workflow: workflow, Collection: collection, Contention: true,
			Err: fmt.Errorf("acquire lock: holder changed during takeover")}
	}
	c.logger.Warn("catalog.lock.seized",
		"workflow", workflow,
		"collection", collection,
		"stale_scan", holder,
		"held_since", acquiredAt)
	return nil
}

// ReleaseLock drops the exclusivity lock held by a scan.
func (c *Catalog) ReleaseLock(ctx context.Context, workflow, collection, scanID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.db.ExecContext(ctx, `
		DELETE FROM collection_locks
		WHERE workflow = ? AND collection = ? AND scan_id = ?`,
		workflow, collection, scanID)
	if err != nil {
		return &SyncError{Workflow: workflow, Collection: collection,
			Err: fmt.Errorf("release lock: %w", err)}
	}
	return nil
}

// RecordScan persists the outcome of one scan/process invocation.
func (c *Catalog) RecordScan(ctx context.Context, r ScanRecord) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO scans (scan_id, workflow, kind, started_at, finished_at, matched, parsed, rejected, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scan_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			matched = excluded.matched,
			parsed = excluded.parsed,
			rejected = excluded.rejected,
			report = excluded.report`,
		r.ScanID, r.Workflow, r.Kind,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.FinishedAt.UTC().Format(time.RFC3339Nano),
		r.Matched, r.Parsed, r.Rejected, r.Report)
	if err != nil {
		return &SyncError{Workflow: r.Workflow, Err: fmt.Errorf("record scan: %w", err)}
	}
	return nil
}

// LastScan returns the most recent scan record for a workflow, or
// ErrNoScans when none exists.
func (c *Catalog) LastScan(ctx context.Context, workflow string) (*ScanRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT scan_id, workflow, kind, started_at, finished_at, matched, parsed, rejected, report
		FROM scans WHERE workflow = ? ORDER BY started_at DESC LIMIT 1`, workflow)

	var r ScanRecord
	var startedAt, finishedAt string
	err := row.Scan(&r.ScanID, &r.Workflow, &r.Kind, &startedAt, &finishedAt,
		&r.Matched, &r.Parsed, &r.Rejected, &r.Report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %q: %w", workflow, ErrNoScans)
	}
	if err != nil {
		return nil, fmt.Errorf("last scan: %w", err)
	}
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
	return &r, nil
}
