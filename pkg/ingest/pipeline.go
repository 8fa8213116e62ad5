// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package ingest orchestrates the scan pipeline: discover run directories,
// match collection files, parse them into typed fragments, reconcile the
// catalog and materialize versioned tables.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/depictio/strata/pkg/catalog"
	"github.com/depictio/strata/pkg/schema"
	"github.com/depictio/strata/pkg/store"
	"github.com/depictio/strata/pkg/table"
)

// Options tune one pipeline instance.
type Options struct {
	// Workers bounds concurrent matching and parsing. Zero means 4.
	Workers int

	// FingerprintMode is FingerprintStat or FingerprintContent.
	FingerprintMode string

	// Rematerialize forces a new version even when the catalog diff is
	// empty. This is how stale-flagged data gets an explicit rebuild.
	Rematerialize bool

	// OnCollection, when set, is called before each collection is
	// processed. The CLI uses it for progress display.
	OnCollection func(tag string, index, total int)
}

// Pipeline runs scans and full processing for the workflows of one project.
type Pipeline struct {
	project *schema.Project
	catalog *catalog.Catalog
	store   store.Backend
	logger  *slog.Logger
	opts    Options

	matcher Matcher
	mat     Materializer
}

// New assembles a pipeline over an already-validated project.
func New(project *schema.Project, cat *catalog.Catalog, st store.Backend, logger *slog.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Pipeline{
		project: project,
		catalog: cat,
		store:   st,
		logger:  logger,
		opts:    opts,
		matcher: Matcher{FingerprintMode: opts.FingerprintMode},
		mat:     Materializer{Store: st, Logger: logger},
	}
}

// Scan discovers, matches, parses and registers without materializing.
// Stale runs and files are flagged; published versions are untouched.
func (p *Pipeline) Scan(ctx context.Context, workflow string) (*Report, error) {
	return p.run(ctx, workflow, "scan", false)
}

// Process is a scan followed by materialization of every Table collection,
// in join-plan order, with the idempotence fast path: an empty diff against
// an existing version writes nothing.
func (p *Pipeline) Process(ctx context.Context, workflow string) (*Report, error) {
	return p.run(ctx, workflow, "process", true)
}

func (p *Pipeline) run(ctx context.Context, workflowName, kind string, materialize bool) (*Report, error) {
	pipelineMetrics.init()
	start := time.Now()

	w, ok := p.project.Workflow(workflowName)
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q", workflowName)
	}

	report := newReport(uuid.NewString(), workflowName, kind)
	p.logger.Info("ingest.scan.start", "workflow", workflowName, "kind", kind, "scan_id", report.ScanID)

	if err := p.catalog.RecordScan(ctx, catalog.ScanRecord{
		ScanID:    report.ScanID,
		Workflow:  workflowName,
		Kind:      kind,
		StartedAt: report.StartedAt,
	}); err != nil {
		return nil, err
	}

	runs, warnings, err := DiscoverRuns(w, p.logger)
	if err != nil {
		return nil, err
	}
	for _, warn := range warnings {
		report.addIssue("", "", warn.Location, warn)
	}
	report.RunsDiscovered = len(runs)
	pipelineMetrics.runsDiscovered.Add(float64(len(runs)))

	if err := p.syncRuns(ctx, w, runs, report); err != nil {
		return nil, err
	}

	plan, err := schema.JoinPlan(w)
	if err != nil {
		return nil, err
	}
	for i, dc := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.opts.OnCollection != nil {
			p.opts.OnCollection(dc.Tag, i, len(plan))
		}
		if err := p.processCollection(ctx, w, dc, runs, report, materialize); err != nil {
			return nil, err
		}
	}

	report.FinishedAt = time.Now().UTC()
	matched, parsed, rejected := report.totals()
	if err := p.catalog.RecordScan(ctx, catalog.ScanRecord{
		ScanID:     report.ScanID,
		Workflow:   workflowName,
		Kind:       kind,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Matched:    matched,
		Parsed:     parsed,
		Rejected:   rejected,
		Report:     report.JSON(),
	}); err != nil {
		return nil, err
	}

	pipelineMetrics.totalDuration.Observe(time.Since(start).Seconds())
	p.logger.Info("ingest.scan.complete",
		"workflow", workflowName,
		"kind", kind,
		"scan_id", report.ScanID,
		"runs", report.RunsDiscovered,
		"matched", matched,
		"parsed", parsed,
		"rejected", rejected,
		"degraded", report.Degraded,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

// syncRuns registers discovered runs and stale-flags the ones that vanished.
func (p *Pipeline) syncRuns(ctx context.Context, w *schema.Workflow, runs []Run, report *Report) error {
	now := time.Now()
	discovered := make(map[string]bool, len(runs))
	for _, r := range runs {
		discovered[r.ID] = true
		err := p.catalog.UpsertRun(ctx, catalog.RunRecord{
			Workflow:  w.Name,
			RunID:     r.ID,
			Root:      r.Root,
			Path:      r.Path,
			FirstSeen: now,
		})
		if err != nil {
			return err
		}
	}

	known, err := p.catalog.Runs(ctx, w.Name)
	if err != nil {
		return err
	}
	for _, rec := range known {
		if rec.Stale || discovered[rec.RunID] {
			continue
		}
		if err := p.catalog.MarkRunStale(ctx, w.Name, rec.RunID); err != nil {
			return err
		}
		report.RunsStale++
		pipelineMetrics.runsStale.Inc()
		p.logger.Warn("ingest.run.stale", "workflow", w.Name, "run_id", rec.RunID)
	}
	return nil
}

// processCollection runs match, diff, parse/register and (optionally)
// materialization for one data collection.
func (p *Pipeline) processCollection(ctx context.Context, w *schema.Workflow, dc *schema.DataCollection, runs []Run, report *Report, materialize bool) error {
	cr := report.collection(dc.Tag)

	matches, err := p.matchRuns(ctx, dc, runs, report)
	if err != nil {
		return err
	}
	cr.Matched = len(matches)
	pipelineMetrics.filesMatched.Add(float64(len(matches)))

	records, err := p.catalog.Files(ctx, w.Name, dc.Tag)
	if err != nil {
		return err
	}
	plan := Diff(records, matches)
	cr.New = len(plan.New)
	cr.Changed = len(plan.Changed)
	cr.Unchanged = len(plan.Unchanged)
	cr.KnownBad = len(plan.KnownBad)
	cr.Missing = len(plan.Missing)
	pipelineMetrics.filesSkipped.Add(float64(len(plan.Unchanged) + len(plan.KnownBad)))

	if err := p.catalog.MarkFilesStale(ctx, plan.Missing); err != nil {
		return err
	}
	for _, key := range plan.Missing {
		p.logger.Warn("ingest.file.stale", "workflow", w.Name, "collection", dc.Tag, "path", key.Location)
	}

	// Non-table collections (genome browser tracks and friends) are matched
	// and registered so their files are tracked, but never parsed.
	if !dc.IsTable() {
		return p.registerUnparsed(ctx, append(plan.New, plan.Changed...))
	}

	if materialize {
		return p.materializeCollection(ctx, w, dc, plan, cr, report)
	}

	// Scan only: parse and register what is new or changed.
	_, err = p.parseAndRegister(ctx, dc, append(plan.New, plan.Changed...), cr, report, true)
	return err
}

// matchRuns applies the collection matcher across runs with bounded
// concurrency. Wildcard rejections become report issues, not failures.
func (p *Pipeline) matchRuns(ctx context.Context, dc *schema.DataCollection, runs []Run, report *Report) ([]FileMatch, error) {
	matchStart := time.Now()

	var mu sync.Mutex
	var all []FileMatch

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, run := range runs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			matches, rejected, err := p.matcher.Match(run, dc)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			all = append(all, matches...)
			for _, rerr := range rejected {
				report.addIssue(dc.Tag, run.ID, "", rerr)
				report.collection(dc.Tag).Rejected++
				pipelineMetrics.filesRejected.Inc()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Path < all[j].Path })
	pipelineMetrics.matchDuration.Observe(time.Since(matchStart).Seconds())
	return all, nil
}

// registerUnparsed records matched files of out-of-scope collection types.
func (p *Pipeline) registerUnparsed(ctx context.Context, matches []FileMatch) error {
	for _, m := range matches {
		err := p.catalog.RegisterFile(ctx, catalog.FileRecord{
			FileKey: catalog.FileKey{
				Workflow:   m.Workflow,
				Collection: m.Collection,
				RunID:      m.Run.ID,
				Location:   m.Path,
			},
			Wildcards:   m.Wildcards,
			Fingerprint: m.Fingerprint,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// parseAndRegister parses files with bounded concurrency. Successful parses
// are registered when register is true; failures are recorded as known-bad
// and reported. Returned fragments are sorted by path so aggregation is
// deterministic regardless of scheduling.
func (p *Pipeline) parseAndRegister(ctx context.Context, dc *schema.DataCollection, files []FileMatch, cr *CollectionReport, report *Report, register bool) ([]*table.Table, error) {
	if len(files) == 0 {
		return nil, nil
	}
	parseStart := time.Now()

	type parsed struct {
		path     string
		fragment *table.Table
	}
	var mu sync.Mutex
	var fragments []parsed

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, m := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec := catalog.FileRecord{
				FileKey: catalog.FileKey{
					Workflow:   m.Workflow,
					Collection: m.Collection,
					RunID:      m.Run.ID,
					Location:   m.Path,
				},
				Wildcards:   m.Wildcards,
				Fingerprint: m.Fingerprint,
			}

			fragment, err := ParseFile(m, dc)
			if err != nil {
				mu.Lock()
				report.addIssue(dc.Tag, m.Run.ID, m.Path, err)
				cr.Rejected++
				mu.Unlock()
				pipelineMetrics.filesRejected.Inc()
				return p.catalog.RecordFileError(gctx, rec, err)
			}

			if register {
				if err := p.catalog.RegisterFile(gctx, rec); err != nil {
					return err
				}
			}
			mu.Lock()
			fragments = append(fragments, parsed{path: m.Path, fragment: fragment})
			cr.Parsed++
			mu.Unlock()
			pipelineMetrics.filesParsed.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(fragments, func(i, j int) bool { return fragments[i].path < fragments[j].path })
	out := make([]*table.Table, len(fragments))
	for i, f := range fragments {
		out[i] = f.fragment
	}
	pipelineMetrics.parseDuration.Observe(time.Since(parseStart).Seconds())
	return out, nil
}

// materializeCollection writes the collection's next version unless the
// idempotence fast path applies. All current non-bad files are re-parsed so
// a version is always a complete snapshot, never an increment.
func (p *Pipeline) materializeCollection(ctx context.Context, w *schema.Workflow, dc *schema.DataCollection, plan *SyncPlan, cr *CollectionReport, report *Report) error {
	key := collectionKey(w.Name, dc.Tag)

	if plan.Empty() && !p.opts.Rematerialize {
		if _, err := p.store.Latest(ctx, key); err == nil {
			cr.Skipped = true
			pipelineMetrics.collectionsSkipped.Inc()
			p.logger.Info("ingest.materialize.skipped", "collection", key, "reason", "no changes")
			return nil
		}
	}

	if err := p.catalog.AcquireLock(ctx, w.Name, dc.Tag, report.ScanID); err != nil {
		report.addIssue(dc.Tag, "", "", err)
		cr.Degraded = true
		pipelineMetrics.collectionsDegraded.Inc()
		return nil
	}
	defer func() {
		if err := p.catalog.ReleaseLock(ctx, w.Name, dc.Tag, report.ScanID); err != nil {
			p.logger.Warn("ingest.lock.release_failed", "collection", key, "err", err)
		}
	}()

	current := make([]FileMatch, 0, plan.Total())
	current = append(current, plan.New...)
	current = append(current, plan.Changed...)
	current = append(current, plan.Unchanged...)

	fragments, err := p.parseAndRegister(ctx, dc, current, cr, report, true)
	if err != nil {
		return err
	}

	matStart := time.Now()
	version, _, err := p.mat.Materialize(ctx, w, dc, fragments)
	pipelineMetrics.materializeDuration.Observe(time.Since(matStart).Seconds())
	if err != nil {
		report.addIssue(dc.Tag, "", "", err)
		cr.Degraded = true
		pipelineMetrics.collectionsDegraded.Inc()
		return nil
	}
	if version == nil {
		cr.Degraded = true
		report.Degraded = true
		pipelineMetrics.collectionsDegraded.Inc()
		return nil
	}
	cr.Version = &version.Number
	pipelineMetrics.versionsWritten.Inc()
	return nil
}
