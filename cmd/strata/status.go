// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	uerrors "github.com/depictio/strata/internal/errors"
	"github.com/depictio/strata/internal/output"
	"github.com/depictio/strata/internal/ui"
	"github.com/depictio/strata/pkg/catalog"
	"github.com/depictio/strata/pkg/schema"
)

// WorkflowStatus summarizes the catalog state of one workflow.
type WorkflowStatus struct {
	Workflow    string             `json:"workflow"`
	Runs        int                `json:"runs"`
	StaleRuns   int                `json:"stale_runs,omitempty"`
	Collections []CollectionStatus `json:"collections"`
	LastScan    *ScanStatus        `json:"last_scan,omitempty"`
}

// CollectionStatus counts the file records of one data collection.
type CollectionStatus struct {
	Tag        string `json:"tag"`
	Registered int    `json:"registered"`
	Stale      int    `json:"stale,omitempty"`
	KnownBad   int    `json:"known_bad,omitempty"`
}

// ScanStatus is the last scan or process recorded for a workflow.
type ScanStatus struct {
	ScanID     string    `json:"scan_id"`
	Kind       string    `json:"kind"`
	FinishedAt time.Time `json:"finished_at"`
	Matched    int       `json:"matched"`
	Parsed     int       `json:"parsed"`
	Rejected   int       `json:"rejected"`
}

// runStatus executes the 'status' command, showing the registered runs,
// files and last scan of every workflow from the catalog.
func runStatus(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	workflow := fs.String("workflow", "", "Show a single workflow")
	jsonOut := fs.Bool("json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: strata status [options]

Shows the catalog state per workflow: discovered runs, registered and
known-bad files per collection, and the last scan.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(globals.ConfigPath)
	if err != nil {
		uerrors.FatalError(err, *jsonOut)
	}
	project, err := loadProject(cfg)
	if err != nil {
		uerrors.FatalError(err, *jsonOut)
	}
	logger := newLogger(false)
	cat, err := openCatalog(cfg, logger)
	if err != nil {
		uerrors.FatalError(err, *jsonOut)
	}
	defer cat.Close()

	ctx := context.Background()
	var statuses []WorkflowStatus
	for _, w := range project.Workflows {
		if *workflow != "" && w.Name != *workflow {
			continue
		}
		st, err := workflowStatus(ctx, cat, w.Name, collectionTags(w))
		if err != nil {
			uerrors.FatalError(uerrors.NewCatalogError(
				"Cannot read the strata catalog",
				err.Error(),
				"Check that the catalog path in strata.yaml is correct",
				err,
			), *jsonOut)
		}
		statuses = append(statuses, *st)
	}
	if *workflow != "" && len(statuses) == 0 {
		uerrors.FatalError(uerrors.NewNotFoundError(
			"Unknown workflow",
			fmt.Sprintf("The project schema has no workflow named %q", *workflow),
			"Run 'strata validate' to list the workflows the schema defines",
		), *jsonOut)
	}

	if *jsonOut {
		if err := output.JSON(statuses); err != nil {
			uerrors.FatalError(err, true)
		}
		return
	}

	for _, st := range statuses {
		ui.Header(fmt.Sprintf("Workflow %s", st.Workflow))
		runs := fmt.Sprintf("%s registered", ui.CountText(st.Runs))
		if st.StaleRuns > 0 {
			runs += fmt.Sprintf(" (%s stale)", ui.CountText(st.StaleRuns))
		}
		fmt.Printf("%s %s\n", ui.Label("Runs"), runs)
		for _, cs := range st.Collections {
			line := fmt.Sprintf("%d files registered", cs.Registered)
			if cs.Stale > 0 {
				line += fmt.Sprintf(", %d stale", cs.Stale)
			}
			if cs.KnownBad > 0 {
				line += fmt.Sprintf(", %d known-bad", cs.KnownBad)
			}
			fmt.Printf("  %-20s %s\n", cs.Tag, line)
		}
		if st.LastScan != nil {
			fmt.Printf("%s %s at %s: matched %d, parsed %d, rejected %d\n",
				ui.Label("Last scan"), st.LastScan.Kind,
				st.LastScan.FinishedAt.Local().Format(time.RFC3339),
				st.LastScan.Matched, st.LastScan.Parsed, st.LastScan.Rejected)
		} else {
			fmt.Printf("%s %s\n", ui.Label("Last scan"), ui.DimText("never (run 'strata scan' or 'strata process')"))
		}
		fmt.Println()
	}
}

// collectionTags lists a workflow's collection tags in declaration order.
func collectionTags(w *schema.Workflow) []string {
	tags := make([]string, len(w.DataCollections))
	for i, dc := range w.DataCollections {
		tags[i] = dc.Tag
	}
	return tags
}

// workflowStatus assembles one workflow's status from the catalog.
func workflowStatus(ctx context.Context, cat *catalog.Catalog, workflow string, tags []string) (*WorkflowStatus, error) {
	st := &WorkflowStatus{Workflow: workflow}

	runs, err := cat.Runs(ctx, workflow)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		st.Runs++
		if r.Stale {
			st.StaleRuns++
		}
	}

	for _, tag := range tags {
		files, err := cat.Files(ctx, workflow, tag)
		if err != nil {
			return nil, err
		}
		cs := CollectionStatus{Tag: tag}
		for i := range files {
			switch {
			case files[i].LastError != "":
				cs.KnownBad++
			case files[i].Stale:
				cs.Stale++
			default:
				cs.Registered++
			}
		}
		st.Collections = append(st.Collections, cs)
	}

	last, err := cat.LastScan(ctx, workflow)
	switch {
	case err == nil:
		st.LastScan = &ScanStatus{
			ScanID:     last.ScanID,
			Kind:       last.Kind,
			FinishedAt: last.FinishedAt,
			Matched:    last.Matched,
			Parsed:     last.Parsed,
			Rejected:   last.Rejected,
		}
	case errors.Is(err, catalog.ErrNoScans):
		// first contact with this workflow
	default:
		return nil, err
	}
	return st, nil
}
