// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package main implements the strata CLI for ingesting scientific pipeline
// outputs into versioned, queryable tables.
//
// Usage:
//
//	strata init                     Scaffold a workspace
//	strata validate                 Validate the project schema
//	strata scan [--workflow NAME]   Discover, match and register files
//	strata process [--workflow]     Scan and materialize table versions
//	strata status [--json]          Show catalog state per workflow
//	strata tables [--collection]    List materialized tables and versions
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/depictio/strata/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"     // Version string
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// GlobalFlags carries the flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	NoColor    bool
	Quiet      bool
}

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version and exit")
		configPath  = flag.String("config", "", "Path to strata.yaml (default: ./strata.yaml)")
		noColor     = flag.Bool("no-color", false, "Disable colored output")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `strata - versioned ingestion of pipeline outputs

strata scans the output directories of scientific pipeline runs, matches
files against a declarative schema, parses them into typed fragments and
materializes immutable, versioned tables. Re-running a scan on unchanged
data writes nothing.

Usage:
  strata <command> [options]

Commands:
  init       Scaffold strata.yaml and a starter project schema
  validate   Validate the project schema and show the join plan
  scan       Discover runs, match and register files (no table writes)
  process    Scan and materialize new table versions
  status     Show registered runs, files and the last scan per workflow
  tables     List materialized collections and their versions

Global Options:
  --config     Path to strata.yaml
  --no-color   Disable colored output
  --version    Show version and exit

Examples:
  strata validate
  strata scan --workflow rnaseq
  strata process --all
  strata process --workflow rnaseq --rematerialize
  strata status --json
  strata tables --collection rnaseq/counts

Getting Started:
  1. Scaffold a workspace:  strata init
  2. Describe workflows and collections in schemas/project.yaml
  3. Validate it:           strata validate
  4. Ingest:                strata process --all

For detailed command help: strata <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("strata version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	ui.InitColors(*noColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	globals := GlobalFlags{ConfigPath: *configPath, NoColor: *noColor}
	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init":
		runInit(cmdArgs, globals)
	case "validate":
		runValidate(cmdArgs, globals)
	case "scan":
		runScan(cmdArgs, globals)
	case "process":
		runProcess(cmdArgs, globals)
	case "status":
		runStatus(cmdArgs, globals)
	case "tables":
		runTables(cmdArgs, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
