// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// runProcess executes the 'process' command: a scan followed by
// materialization of every table collection in join-plan order. Unchanged
// collections with an existing version are skipped.
//
// Flags:
//   - --workflow: process a single workflow (default: the only one)
//   - --all: process every workflow in the project
//   - --rematerialize: write a new version even when nothing changed
//   - --workers: parallel match/parse workers
//   - --fingerprint: override the fingerprint mode ("stat" or "content")
//   - --metrics-addr: HTTP address for Prometheus metrics (default: disabled)
func runProcess(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	workflow := fs.String("workflow", "", "Process a single workflow by name")
	all := fs.Bool("all", false, "Process every workflow in the project")
	rematerialize := fs.Bool("rematerialize", false, "Write a new version even when the catalog diff is empty")
	workers := fs.Int("workers", 0, "Concurrent match/parse workers (default from strata.yaml)")
	fingerprint := fs.String("fingerprint", "", `Fingerprint mode: "stat" or "content" (default from strata.yaml)`)
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
	jsonOut := fs.Bool("json", false, "Output diagnostics reports as JSON")
	quiet := fs.Bool("quiet", false, "Suppress progress output")
	debug := fs.Bool("debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: strata process [options]

Scans run directories and materializes a new immutable version of every
table collection whose files changed. Collections are materialized in
dependency order so joins always see their targets. Re-running on
unchanged data writes nothing.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  strata process --all
  strata process --workflow rnaseq --rematerialize
  strata process --all --metrics-addr :9100
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: *metricsAddr, Handler: mux}
			fmt.Fprintf(os.Stderr, "metrics listening on %s/metrics\n", *metricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics endpoint error: %v\n", err)
			}
		}()
	}

	globals.Quiet = *quiet
	runIngest(ingestInvocation{
		globals:       globals,
		kind:          "process",
		workflow:      *workflow,
		all:           *all,
		workers:       *workers,
		fingerprint:   *fingerprint,
		rematerialize: *rematerialize,
		jsonOut:       *jsonOut,
		debug:         *debug,
	})
}
