// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/depictio/strata/internal/errors"
	"github.com/depictio/strata/internal/output"
	"github.com/depictio/strata/internal/ui"
	"github.com/depictio/strata/pkg/ingest"
	"github.com/depictio/strata/pkg/schema"
)

// runScan executes the 'scan' command: discover runs, match files against
// the schema, parse and register them in the catalog. Nothing is written to
// the table store; stale runs and files are flagged for the next process.
func runScan(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	workflow := fs.String("workflow", "", "Scan a single workflow by name")
	all := fs.Bool("all", false, "Scan every workflow in the project")
	workers := fs.Int("workers", 0, "Concurrent match/parse workers (default from strata.yaml)")
	fingerprint := fs.String("fingerprint", "", `Fingerprint mode: "stat" or "content" (default from strata.yaml)`)
	jsonOut := fs.Bool("json", false, "Output diagnostics reports as JSON")
	quiet := fs.Bool("quiet", false, "Suppress progress output")
	debug := fs.Bool("debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: strata scan [options]

Discovers run directories, matches files against the project schema,
parses new and changed files and registers them in the catalog. No table
versions are written; use 'strata process' to materialize.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  strata scan --workflow rnaseq
  strata scan --all --fingerprint content
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	globals.Quiet = *quiet
	runIngest(ingestInvocation{
		globals:     globals,
		kind:        "scan",
		workflow:    *workflow,
		all:         *all,
		workers:     *workers,
		fingerprint: *fingerprint,
		jsonOut:     *jsonOut,
		debug:       *debug,
	})
}

// ingestInvocation carries the resolved flags shared by scan and process.
type ingestInvocation struct {
	globals       GlobalFlags
	kind          string // "scan" or "process"
	workflow      string
	all           bool
	workers       int
	fingerprint   string
	rematerialize bool
	jsonOut       bool
	debug         bool
}

// runIngest is the shared body of the scan and process commands: load
// config and schema, open catalog and store, run the pipeline per selected
// workflow and render the reports.
func runIngest(inv ingestInvocation) {
	cfg, err := LoadConfig(inv.globals.ConfigPath)
	if err != nil {
		errors.FatalError(err, inv.jsonOut)
	}
	if inv.workers > 0 {
		cfg.Workers = inv.workers
	}
	if inv.fingerprint != "" {
		if inv.fingerprint != ingest.FingerprintStat && inv.fingerprint != ingest.FingerprintContent {
			errors.FatalError(errors.NewInputError(
				"Invalid fingerprint mode",
				fmt.Sprintf("Unknown fingerprint mode %q", inv.fingerprint),
				`Use --fingerprint stat or --fingerprint content`,
			), inv.jsonOut)
		}
		cfg.Fingerprint = inv.fingerprint
	}

	project, err := loadProject(cfg)
	if err != nil {
		errors.FatalError(err, inv.jsonOut)
	}
	workflows, err := selectWorkflows(project, inv.workflow, inv.all)
	if err != nil {
		errors.FatalError(err, inv.jsonOut)
	}

	logger := newLogger(inv.debug)
	cat, err := openCatalog(cfg, logger)
	if err != nil {
		errors.FatalError(err, inv.jsonOut)
	}
	defer cat.Close()

	backend, err := openStore(cfg, logger)
	if err != nil {
		errors.FatalError(err, inv.jsonOut)
	}
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	progress := NewProgressConfig(inv.globals, inv.jsonOut)

	degraded := false
	for _, name := range workflows {
		opts := ingest.Options{
			Workers:         cfg.Workers,
			FingerprintMode: cfg.Fingerprint,
			Rematerialize:   inv.rematerialize,
		}
		var bar *progressbar.ProgressBar
		if progress.Enabled {
			wf := name
			opts.OnCollection = func(tag string, index, total int) {
				if bar == nil {
					bar = NewProgressBar(progress, int64(total), wf)
				}
				bar.Describe(fmt.Sprintf("%s: %s", wf, tag))
				_ = bar.Add(1)
			}
		}

		pipeline := ingest.New(project, cat, backend, logger, opts)

		var report *ingest.Report
		if inv.kind == "process" {
			report, err = pipeline.Process(ctx, name)
		} else {
			report, err = pipeline.Scan(ctx, name)
		}
		if bar != nil {
			_ = bar.Finish()
		}
		if err != nil {
			errors.FatalError(errors.NewInternalError(
				fmt.Sprintf("The %s of workflow %s failed", inv.kind, name),
				err.Error(),
				"Re-run with --debug for the full event log",
				err,
			), inv.jsonOut)
		}

		if inv.jsonOut {
			if err := output.JSON(report); err != nil {
				errors.FatalError(err, true)
			}
		} else {
			renderReport(report)
		}
		if report.Degraded {
			degraded = true
		}
	}

	if degraded {
		os.Exit(errors.ExitInput)
	}
}

// selectWorkflows resolves --workflow/--all into workflow names. With
// neither flag a single-workflow project is selected implicitly.
func selectWorkflows(project *schema.Project, workflow string, all bool) ([]string, error) {
	if workflow != "" && all {
		return nil, errors.NewInputError(
			"Conflicting workflow selection",
			"Both --workflow and --all were given",
			"Pass --workflow NAME for one workflow, or --all for every workflow",
		)
	}
	if all {
		names := make([]string, len(project.Workflows))
		for i, w := range project.Workflows {
			names[i] = w.Name
		}
		return names, nil
	}
	if workflow != "" {
		if _, ok := project.Workflow(workflow); !ok {
			return nil, errors.NewNotFoundError(
				"Unknown workflow",
				fmt.Sprintf("The project schema has no workflow named %q", workflow),
				"Run 'strata validate' to list the workflows the schema defines",
			)
		}
		return []string{workflow}, nil
	}
	if len(project.Workflows) == 1 {
		return []string{project.Workflows[0].Name}, nil
	}
	return nil, errors.NewInputError(
		"No workflow selected",
		fmt.Sprintf("The project defines %d workflows", len(project.Workflows)),
		"Pass --workflow NAME or --all",
	)
}

// renderReport prints one workflow report in human-readable form.
func renderReport(r *ingest.Report) {
	ui.Header(fmt.Sprintf("%s %s", r.Workflow, r.Kind))
	fmt.Printf("%s %s\n", ui.Label("Scan"), ui.DimText(r.ScanID))
	runs := fmt.Sprintf("%s discovered", ui.CountText(r.RunsDiscovered))
	if r.RunsStale > 0 {
		runs += fmt.Sprintf(", %s went stale", ui.CountText(r.RunsStale))
	}
	fmt.Printf("%s %s\n", ui.Label("Runs"), runs)

	tags := make([]string, 0, len(r.Collections))
	for tag := range r.Collections {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		cr := r.Collections[tag]
		switch {
		case cr.Skipped:
			fmt.Printf("  %-20s %s\n", tag, ui.DimText("up to date"))
		case cr.Version != nil:
			line := fmt.Sprintf("matched %d, parsed %d -> version %d", cr.Matched, cr.Parsed, *cr.Version)
			if cr.Rejected > 0 {
				line += fmt.Sprintf(" (%d rejected)", cr.Rejected)
			}
			fmt.Printf("  %-20s %s\n", tag, line)
		default:
			line := fmt.Sprintf("matched %d, parsed %d", cr.Matched, cr.Parsed)
			if cr.Rejected > 0 {
				line += fmt.Sprintf(", rejected %d", cr.Rejected)
			}
			if cr.Missing > 0 {
				line += fmt.Sprintf(", missing %d", cr.Missing)
			}
			if cr.Degraded {
				line += " (degraded)"
			}
			fmt.Printf("  %-20s %s\n", tag, line)
		}
	}

	for _, issue := range r.Issues {
		loc := issue.Path
		if loc == "" {
			loc = issue.Collection
		}
		ui.Warningf("%s: %s: %s", issue.Kind, loc, issue.Message)
	}

	if r.Degraded {
		ui.Warning("Completed with errors; rejected files are recorded in the catalog")
	} else {
		ui.Successf("Completed in %s", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	fmt.Println()
}
