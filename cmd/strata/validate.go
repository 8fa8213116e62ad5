// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/depictio/strata/internal/errors"
	"github.com/depictio/strata/internal/output"
	"github.com/depictio/strata/internal/ui"
	"github.com/depictio/strata/pkg/schema"
)

// runValidate executes the 'validate' command: load the project schema,
// run every validation pass and show the resulting join plan per workflow.
func runValidate(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: strata validate [options]

Validates the project schema named by strata.yaml: regex compilation,
tag uniqueness, join targets and join graph acyclicity. Exits non-zero
on the first violation.

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
	project, err := loadProject(cfg)
	if err != nil {
		errors.FatalError(err, *jsonOut)
	}

	type workflowSummary struct {
		Name        string   `json:"name"`
		Engine      string   `json:"engine"`
		Locations   int      `json:"locations"`
		Collections int      `json:"collections"`
		JoinOrder   []string `json:"join_order"`
	}
	type validateResult struct {
		Schema    string            `json:"schema"`
		Project   string            `json:"project"`
		Workflows []workflowSummary `json:"workflows"`
	}

	result := validateResult{Schema: cfg.Schema, Project: project.Name}
	for _, w := range project.Workflows {
		plan, err := schema.JoinPlan(w)
		if err != nil {
			errors.FatalError(errors.NewConfigError("Invalid project schema", err.Error(),
				"Break the join cycle by removing one of its join declarations", err), *jsonOut)
		}
		order := make([]string, len(plan))
		for i, dc := range plan {
			order[i] = dc.Tag
		}
		result.Workflows = append(result.Workflows, workflowSummary{
			Name:        w.Name,
			Engine:      w.Engine.Name,
			Locations:   len(w.DataLocation.Locations),
			Collections: len(w.DataCollections),
			JoinOrder:   order,
		})
	}

	if *jsonOut {
		if err := output.JSON(result); err != nil {
			errors.FatalError(err, true)
		}
		return
	}

	ui.Successf("Schema %s is valid", cfg.Schema)
	for _, w := range result.Workflows {
		fmt.Printf("%s %s (%s): %s collections, %s locations\n",
			ui.Label("Workflow"), w.Name, w.Engine,
			ui.CountText(w.Collections), ui.CountText(w.Locations))
		fmt.Printf("  materialization order: %s\n", ui.DimText(strings.Join(w.JoinOrder, " -> ")))
	}
}
