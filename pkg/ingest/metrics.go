// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package ingest

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsIngest holds Prometheus metrics for the ingestion pipeline.
type metricsIngest struct {
	once sync.Once

	// Discovery
	runsDiscovered prometheus.Counter
	runsStale      prometheus.Counter

	// Matching / parsing
	filesMatched  prometheus.Counter
	filesParsed   prometheus.Counter
	filesRejected prometheus.Counter
	filesSkipped  prometheus.Counter

	// Materialization
	versionsWritten     prometheus.Counter
	collectionsSkipped  prometheus.Counter
	collectionsDegraded prometheus.Counter

	// Durations
	matchDuration       prometheus.Histogram
	parseDuration       prometheus.Histogram
	materializeDuration prometheus.Histogram
	totalDuration       prometheus.Histogram
}

var pipelineMetrics metricsIngest

func (m *metricsIngest) init() {
	m.once.Do(func() {
		m.runsDiscovered = prometheus.NewCounter(prometheus.CounterOpts{Name: "strata_ingest_runs_discovered_total", Help: "Run directories discovered"})
		m.runsStale = prometheus.NewCounter(prometheus.CounterOpts{Name: "strata_ingest_runs_stale_total", Help: "Runs marked stale after disappearing"})

		m.filesMatched = prometheus.NewCounter(prometheus.CounterOpts{Name: "strata_ingest_files_matched_total", Help: "Files matched by collection patterns"})
		m.filesParsed = prometheus.NewCounter(prometheus.CounterOpts{Name: "strata_ingest_files_parsed_total", Help: "Files parsed into fragments"})
		m.filesRejected = prometheus.NewCounter(prometheus.CounterOpts{Name: "strata_ingest_files_rejected_total", Help: "Files rejected by wildcard, schema or parse errors"})
		m.filesSkipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "strata_ingest_files_skipped_total", Help: "Files skipped as unchanged or known-bad"})

		m.versionsWritten = prometheus.NewCounter(prometheus.CounterOpts{Name: "strata_ingest_versions_written_total", Help: "Table versions materialized"})
		m.collectionsSkipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "strata_ingest_collections_skipped_total", Help: "Collections skipped on the idempotence fast path"})
		m.collectionsDegraded = prometheus.NewCounter(prometheus.CounterOpts{Name: "strata_ingest_collections_degraded_total", Help: "Collections that produced no version this scan"})

		buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
		m.matchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "strata_ingest_match_seconds", Help: "Run matching duration", Buckets: buckets})
		m.parseDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "strata_ingest_parse_seconds", Help: "File parsing duration", Buckets: buckets})
		m.materializeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "strata_ingest_materialize_seconds", Help: "Materialization duration", Buckets: buckets})
		m.totalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "strata_ingest_total_seconds", Help: "Total scan duration", Buckets: buckets})

		prometheus.MustRegister(
			m.runsDiscovered, m.runsStale,
			m.filesMatched, m.filesParsed, m.filesRejected, m.filesSkipped,
			m.versionsWritten, m.collectionsSkipped, m.collectionsDegraded,
			m.matchDuration, m.parseDuration, m.materializeDuration, m.totalDuration,
		)
	})
}
