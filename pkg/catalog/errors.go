// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import "fmt"

// SyncError reports an inconsistency or failed mutation while reconciling
// the catalog with the filesystem. Contention marks lock conflicts, which
// are retryable by a later scan; everything else needs operator attention.
type SyncError struct {
	Workflow   string
	Collection string
	Contention bool
	Err        error
}

func (e *SyncError) Error() string {
	scope := e.Workflow
	if e.Collection != "" {
		scope += "/" + e.Collection
	}
	if e.Contention {
		return fmt.Sprintf("catalog sync %s: collection locked by another scan: %v", scope, e.Err)
	}
	return fmt.Sprintf("catalog sync %s: %v", scope, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
