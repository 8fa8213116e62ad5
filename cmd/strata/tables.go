// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/depictio/strata/internal/errors"
	"github.com/depictio/strata/internal/output"
	"github.com/depictio/strata/internal/ui"
	"github.com/depictio/strata/pkg/store"
	"github.com/depictio/strata/pkg/table"
)

// runTables executes the 'tables' command: list materialized collections
// and their versions, or inspect one collection with --collection.
//
// Examples:
//
//	strata tables                              List all collections
//	strata tables --collection rnaseq/counts   Version history + preview
//	strata tables --collection rnaseq/counts --version 2
func runTables(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("tables", flag.ExitOnError)
	collection := fs.String("collection", "", `Inspect one collection ("workflow/tag")`)
	versionNum := fs.Int64("version", -1, "Version to preview (default: latest)")
	rows := fs.Int("rows", 10, "Preview row count")
	jsonOut := fs.Bool("json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: strata tables [options]

Lists materialized table collections and their immutable versions. With
--collection, shows the full version history and a row preview.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(globals.ConfigPath)
	if err != nil {
		errors.FatalError(err, *jsonOut)
	}
	logger := newLogger(false)
	backend, err := openStore(cfg, logger)
	if err != nil {
		errors.FatalError(err, *jsonOut)
	}
	defer backend.Close()

	ctx := context.Background()
	if *collection != "" {
		inspectCollection(ctx, backend, *collection, *versionNum, *rows, *jsonOut)
		return
	}
	listCollections(ctx, backend, *jsonOut)
}

// listCollections prints every collection with its latest version.
func listCollections(ctx context.Context, backend store.Backend, jsonOut bool) {
	names, err := backend.Collections(ctx)
	if err != nil {
		errors.FatalError(errors.NewStorageError(
			"Cannot list table collections",
			err.Error(),
			"Check the tables root in strata.yaml",
			err,
		), jsonOut)
	}

	type entry struct {
		Collection string    `json:"collection"`
		Version    int64     `json:"version"`
		Rows       int       `json:"rows"`
		Columns    int       `json:"columns"`
		CreatedAt  time.Time `json:"created_at"`
	}
	var entries []entry
	for _, name := range names {
		latest, err := backend.Latest(ctx, name)
		if err != nil {
			errors.FatalError(errors.NewStorageError(
				"Cannot read collection metadata",
				fmt.Sprintf("collection %s: %v", name, err),
				"The tables root may be incomplete or corrupted",
				err,
			), jsonOut)
		}
		entries = append(entries, entry{
			Collection: name,
			Version:    latest.Number,
			Rows:       latest.RowCount,
			Columns:    len(latest.Schema),
			CreatedAt:  latest.CreatedAt,
		})
	}

	if jsonOut {
		if err := output.JSON(entries); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	if len(entries) == 0 {
		ui.Info("No materialized tables yet. Run 'strata process' first.")
		return
	}
	for _, e := range entries {
		fmt.Printf("%-30s v%-4d %s rows, %s columns  %s\n",
			e.Collection, e.Version,
			ui.CountText(e.Rows), ui.CountText(e.Columns),
			ui.DimText(e.CreatedAt.Local().Format(time.RFC3339)))
	}
}

// inspectCollection prints the version history of one collection and a
// preview of the requested (or latest) version.
func inspectCollection(ctx context.Context, backend store.Backend, name string, versionNum int64, rows int, jsonOut bool) {
	versions, err := backend.Versions(ctx, name)
	if err != nil || len(versions) == 0 {
		if stderrors.Is(err, store.ErrNoVersions) || len(versions) == 0 {
			errors.FatalError(errors.NewNotFoundError(
				"Unknown collection",
				fmt.Sprintf("No materialized versions for %q", name),
				"Run 'strata tables' to list available collections",
			), jsonOut)
		}
		errors.FatalError(errors.NewStorageError(
			"Cannot read collection versions",
			err.Error(),
			"Check the tables root in strata.yaml",
			err,
		), jsonOut)
	}

	if versionNum < 0 {
		versionNum = versions[len(versions)-1].Number
	}
	t, meta, err := backend.ReadVersion(ctx, name, versionNum)
	if err != nil {
		errors.FatalError(errors.NewNotFoundError(
			"Unknown version",
			fmt.Sprintf("Collection %s has no version %d", name, versionNum),
			"Run 'strata tables --collection' without --version for the latest",
		), jsonOut)
	}

	if rows > t.NumRows() {
		rows = t.NumRows()
	}
	preview := make([][]string, 0, rows)
	for i := 0; i < rows; i++ {
		row := t.Row(i)
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = table.FormatValue(v)
		}
		preview = append(preview, cells)
	}

	if jsonOut {
		result := struct {
			Collection string           `json:"collection"`
			Versions   []*store.Version `json:"versions"`
			Preview    struct {
				Version int64      `json:"version"`
				Columns []string   `json:"columns"`
				Rows    [][]string `json:"rows"`
			} `json:"preview"`
		}{Collection: name, Versions: versions}
		result.Preview.Version = meta.Number
		result.Preview.Columns = t.ColumnNames()
		result.Preview.Rows = preview
		if err := output.JSON(result); err != nil {
			errors.FatalError(err, true)
		}
		return
	}

	ui.Header(fmt.Sprintf("Collection %s", name))
	for _, v := range versions {
		marker := " "
		if v.Number == meta.Number {
			marker = "*"
		}
		fmt.Printf("%s v%-4d %6d rows  %s\n", marker, v.Number, v.RowCount,
			ui.DimText(v.CreatedAt.Local().Format(time.RFC3339)))
	}
	fmt.Println()
	fmt.Printf("%s %s\n", ui.Label("Columns"), strings.Join(t.ColumnNames(), ", "))
	if len(preview) > 0 {
		ui.SubHeader(fmt.Sprintf("First %d rows of v%d", len(preview), meta.Number))
		for _, cells := range preview {
			fmt.Println("  " + strings.Join(cells, "\t"))
		}
	}
}
