// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package store implements the versioned columnar table store behind the
// aggregator.
//
// Each data collection owns an append-only transaction log of immutable
// versions. A version is a commit record (schema, row count, checksum,
// segment reference) plus one compressed columnar segment. Readers only see
// versions whose commit record has been published, and publishing is a
// rename, so a crashed or cancelled write never surfaces a partial table:
// the previous version stays the latest readable one.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/depictio/strata/pkg/table"
)

// ErrNoVersions is returned when a collection has no materialized versions.
var ErrNoVersions = errors.New("no materialized versions")

// StorageWriteError wraps a failed materialization. Transient reports
// whether the failure was retryable; a contention rejection (another writer
// holds the collection) is never transient from the caller's point of view:
// the other scan owns the version.
type StorageWriteError struct {
	Collection string
	Transient  bool
	Contention bool
	Err        error
}

func (e *StorageWriteError) Error() string {
	switch {
	case e.Contention:
		return fmt.Sprintf("storage write: collection %q: another materialization is in flight", e.Collection)
	case e.Transient:
		return fmt.Sprintf("storage write: collection %q: transient: %v", e.Collection, e.Err)
	default:
		return fmt.Sprintf("storage write: collection %q: %v", e.Collection, e.Err)
	}
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// Version is the commit record of one immutable materialized table.
type Version struct {
	Collection string        `json:"collection"`
	Number     int64         `json:"version"`
	Schema     []table.Field `json:"schema"`
	RowCount   int           `json:"row_count"`
	Segment    string        `json:"segment"`
	Checksum   string        `json:"checksum"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Backend is the storage client used by the aggregator (writes) and the
// dashboard/read API (reads). Collections are keyed "workflow/tag".
type Backend interface {
	// WriteVersion publishes t as the next version of the collection.
	// Version numbers start at 0 and increase by exactly one per successful
	// write; on failure no version is advanced.
	WriteVersion(ctx context.Context, collection string, t *table.Table) (*Version, error)

	// ReadVersion loads a specific version. Old versions remain readable
	// until explicitly pruned.
	ReadVersion(ctx context.Context, collection string, number int64) (*table.Table, *Version, error)

	// Latest returns the newest commit record, or ErrNoVersions.
	Latest(ctx context.Context, collection string) (*Version, error)

	// Versions lists all commit records, oldest first.
	Versions(ctx context.Context, collection string) ([]*Version, error)

	// Collections lists every collection that has at least one version.
	Collections(ctx context.Context) ([]string, error)

	// Close releases resources held by the backend.
	Close() error
}
