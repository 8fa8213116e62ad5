// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package testing provides shared helpers for strata tests: temporary
// catalogs and table stores with automatic cleanup, schema loading and
// fixture writing.
//
// Import it with an alias to avoid clashing with the standard library:
//
//	strtest "github.com/depictio/strata/internal/testing"
package testing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/depictio/strata/pkg/catalog"
	"github.com/depictio/strata/pkg/schema"
	"github.com/depictio/strata/pkg/store"
)

// OpenCatalog creates a temporary catalog database, closed when the test
// finishes.
func OpenCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// OpenStore creates a local table store rooted in a temporary directory.
func OpenStore(t *testing.T) *store.LocalBackend {
	t.Helper()
	backend, err := store.NewLocalBackend(store.LocalConfig{Root: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

// LoadProject parses and validates an inline project schema document.
func LoadProject(t *testing.T, doc string) *schema.Project {
	t.Helper()
	p, err := schema.Load(strings.NewReader(doc))
	require.NoError(t, err)
	return p
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
