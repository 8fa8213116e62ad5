// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/depictio/strata/internal/errors"
	"github.com/depictio/strata/pkg/catalog"
	"github.com/depictio/strata/pkg/ingest"
	"github.com/depictio/strata/pkg/schema"
	"github.com/depictio/strata/pkg/store"
)

// defaultConfigPath is tried when --config is not given.
const defaultConfigPath = "strata.yaml"

// Config is the CLI configuration (strata.yaml). It names the project
// schema to validate against, and where the catalog and table store live.
type Config struct {
	// Schema is the path to the project schema document.
	Schema string `yaml:"schema"`

	// Catalog is the path of the catalog database.
	Catalog string `yaml:"catalog"`

	// Tables is the root directory of the table store.
	Tables string `yaml:"tables"`

	// Workers bounds concurrent matching and parsing.
	Workers int `yaml:"workers"`

	// Fingerprint is "stat" (default) or "content".
	Fingerprint string `yaml:"fingerprint"`
}

// LoadConfig reads strata.yaml and applies defaults. Unknown keys are
// rejected so typos fail loudly.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = defaultConfigPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewConfigError(
			"Cannot load strata configuration",
			fmt.Sprintf("The config file %s does not exist or is unreadable", path),
			"Create a strata.yaml pointing at your project schema, catalog and tables root",
			err,
		)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.NewConfigError(
			"Invalid strata configuration",
			fmt.Sprintf("Cannot parse %s: %v", path, err),
			"Check the YAML syntax and field names in strata.yaml",
			err,
		)
	}

	if cfg.Schema == "" {
		return nil, errors.NewConfigError(
			"Invalid strata configuration",
			"The schema field is empty",
			"Set schema: to the path of your project schema document",
			nil,
		)
	}
	if cfg.Catalog == "" {
		cfg.Catalog = filepath.Join(".strata", "catalog.db")
	}
	if cfg.Tables == "" {
		cfg.Tables = filepath.Join(".strata", "tables")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = ingest.FingerprintStat
	}
	if cfg.Fingerprint != ingest.FingerprintStat && cfg.Fingerprint != ingest.FingerprintContent {
		return nil, errors.NewConfigError(
			"Invalid strata configuration",
			fmt.Sprintf("Unknown fingerprint mode %q", cfg.Fingerprint),
			`Use fingerprint: "stat" or fingerprint: "content"`,
			nil,
		)
	}
	return &cfg, nil
}

// loadProject loads and validates the project schema named by the config.
func loadProject(cfg *Config) (*schema.Project, error) {
	p, err := schema.LoadFile(cfg.Schema)
	if err != nil {
		return nil, errors.NewConfigError(
			"Invalid project schema",
			err.Error(),
			"Fix the schema and re-check it with: strata validate",
			err,
		)
	}
	return p, nil
}

// openCatalog opens the catalog database, creating parent directories.
func openCatalog(cfg *Config, logger *slog.Logger) (*catalog.Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Catalog), 0o755); err != nil {
		return nil, errors.NewPermissionError(
			"Cannot create the catalog directory",
			fmt.Sprintf("mkdir %s failed: %v", filepath.Dir(cfg.Catalog), err),
			"Check permissions on the catalog path in strata.yaml",
			err,
		)
	}
	cat, err := catalog.Open(cfg.Catalog, logger)
	if err != nil {
		return nil, errors.NewCatalogError(
			"Cannot open the strata catalog",
			err.Error(),
			"Check that no other process holds the catalog database open",
			err,
		)
	}
	return cat, nil
}

// openStore opens the local table store rooted at the configured path.
func openStore(cfg *Config, logger *slog.Logger) (*store.LocalBackend, error) {
	backend, err := store.NewLocalBackend(store.LocalConfig{Root: cfg.Tables, Logger: logger})
	if err != nil {
		return nil, errors.NewStorageError(
			"Cannot open the table store",
			err.Error(),
			"Check permissions on the tables root in strata.yaml",
			err,
		)
	}
	return backend, nil
}

// newLogger builds the slog logger used by long-running commands.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
