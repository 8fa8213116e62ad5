// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package ingest

import "fmt"

// RunDiscoveryWarning reports a declared location that could not be
// enumerated. Discovery never aborts on it; other locations still yield
// runs and the warning surfaces in the scan report.
type RunDiscoveryWarning struct {
	Workflow string
	Location string
	Err      error
}

func (e *RunDiscoveryWarning) Error() string {
	return fmt.Sprintf("discover runs for %s at %s: %v", e.Workflow, e.Location, e.Err)
}

func (e *RunDiscoveryWarning) Unwrap() error { return e.Err }

// WildcardExtractionError rejects a file whose path matched a collection
// pattern but whose named wildcard group captured nothing. An empty
// wildcard would silently merge rows from distinct samples, so the file is
// skipped and reported instead.
type WildcardExtractionError struct {
	Collection string
	Path       string
	Group      string
}

func (e *WildcardExtractionError) Error() string {
	return fmt.Sprintf("collection %s: file %s: wildcard group %q captured an empty value", e.Collection, e.Path, e.Group)
}

// SchemaMismatchError rejects a file whose parsed columns cannot satisfy
// the collection configuration (a keep_columns entry is absent, or a
// wildcard name collides with a file column).
type SchemaMismatchError struct {
	Collection string
	Path       string
	Detail     string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("collection %s: file %s: %s", e.Collection, e.Path, e.Detail)
}
