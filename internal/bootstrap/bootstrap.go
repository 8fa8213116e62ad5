// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package bootstrap scaffolds a strata workspace: the strata.yaml
// configuration, a starter project schema and the .strata data
// directories.
package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options configures workspace scaffolding.
type Options struct {
	// Dir is the project root directory.
	Dir string

	// ProjectName is the logical project name written into the starter
	// schema. Defaults to the base name of Dir.
	ProjectName string

	// Force overwrites an existing strata.yaml.
	Force bool
}

// Scaffold reports the paths Init created.
type Scaffold struct {
	ConfigPath string
	SchemaPath string
	CatalogDir string
	TablesDir  string
}

// ExistsError is returned when strata.yaml is already present and Force is
// false.
type ExistsError struct {
	Path string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("%s already exists", e.Path)
}

// Init scaffolds a strata workspace. An existing project schema is never
// overwritten; strata.yaml only with Force.
func Init(opts Options, logger *slog.Logger) (*Scaffold, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.ProjectName
	if name == "" {
		name = filepath.Base(opts.Dir)
	}

	sc := &Scaffold{
		ConfigPath: filepath.Join(opts.Dir, "strata.yaml"),
		SchemaPath: filepath.Join(opts.Dir, "schemas", "project.yaml"),
		CatalogDir: filepath.Join(opts.Dir, ".strata"),
		TablesDir:  filepath.Join(opts.Dir, ".strata", "tables"),
	}

	if _, err := os.Stat(sc.ConfigPath); err == nil && !opts.Force {
		return nil, &ExistsError{Path: sc.ConfigPath}
	}

	if err := os.MkdirAll(sc.TablesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directories: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(sc.SchemaPath), 0o755); err != nil {
		return nil, fmt.Errorf("create schema directory: %w", err)
	}

	if err := os.WriteFile(sc.ConfigPath, []byte(starterConfig), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", sc.ConfigPath, err)
	}
	logger.Info("bootstrap.config.written", "path", sc.ConfigPath)

	if _, err := os.Stat(sc.SchemaPath); os.IsNotExist(err) {
		schema := fmt.Sprintf(starterSchema, name)
		if err := os.WriteFile(sc.SchemaPath, []byte(schema), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", sc.SchemaPath, err)
		}
		logger.Info("bootstrap.schema.written", "path", sc.SchemaPath)
	}

	appendGitignore(opts.Dir, logger)
	return sc, nil
}

// appendGitignore adds .strata/ to the project's .gitignore when the file
// exists and does not already cover it. A missing or unwritable .gitignore
// is not an error.
func appendGitignore(dir string, logger *slog.Logger) {
	path := filepath.Join(dir, ".gitignore")
	content, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(content), "\n") {
		switch strings.TrimSpace(line) {
		case ".strata", ".strata/", "/.strata", "/.strata/":
			return
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	if len(content) > 0 && content[len(content)-1] != '\n' {
		_, _ = f.WriteString("\n")
	}
	_, _ = f.WriteString("\n# strata catalog and tables\n.strata/\n")
	logger.Info("bootstrap.gitignore.updated", "path", path)
}

const starterConfig = `# strata configuration
schema: schemas/project.yaml
catalog: .strata/catalog.db
tables: .strata/tables
workers: 4
fingerprint: stat
`

const starterSchema = `name: %s
workflows:
  - name: example
    engine:
      name: snakemake
    data_location:
      structure: flat
      locations:
        - ./data
      runs_regex: "run_.*"
    data_collections:
      - data_collection_tag: counts
        config:
          type: table
          scan:
            mode: recursive
            scan_parameters:
              regex_config:
                pattern: "(?P<sample>[^/]+)\\.counts\\.csv"
          dc_specific_properties:
            format: csv
            has_header: true
`
