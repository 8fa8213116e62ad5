// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	stderrors "errors"
	"flag"
	"fmt"
	"os"

	"github.com/depictio/strata/internal/bootstrap"
	"github.com/depictio/strata/internal/errors"
	"github.com/depictio/strata/internal/ui"
)

// runInit executes the 'init' command: scaffold strata.yaml, a starter
// project schema and the .strata data directories in the current directory.
func runInit(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	name := fs.String("name", "", "Project name for the starter schema (default: directory name)")
	force := fs.Bool("force", false, "Overwrite an existing strata.yaml")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: strata init [options]

Creates strata.yaml, a starter project schema under schemas/ and the
.strata data directories. An existing schema is never overwritten.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot determine the current directory",
			err.Error(),
			"Run strata init from a writable project directory",
			err,
		), false)
	}

	sc, err := bootstrap.Init(bootstrap.Options{
		Dir:         cwd,
		ProjectName: *name,
		Force:       *force,
	}, newLogger(false))
	if err != nil {
		var exists *bootstrap.ExistsError
		if stderrors.As(err, &exists) {
			errors.FatalError(errors.NewInputError(
				"Workspace already initialized",
				fmt.Sprintf("%s already exists", exists.Path),
				"Pass --force to overwrite strata.yaml",
			), false)
		}
		errors.FatalError(errors.NewPermissionError(
			"Cannot scaffold the strata workspace",
			err.Error(),
			"Check write permissions on the current directory",
			err,
		), false)
	}

	ui.Successf("Created %s", sc.ConfigPath)
	ui.Successf("Created %s", sc.SchemaPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Describe your workflows in schemas/project.yaml")
	fmt.Println("  2. Check the schema:  strata validate")
	fmt.Println("  3. Ingest run data:   strata process --all")
}
