// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	strtest "github.com/depictio/strata/internal/testing"
	"github.com/depictio/strata/pkg/catalog"
	"github.com/depictio/strata/pkg/schema"
	"github.com/depictio/strata/pkg/store"
	"github.com/depictio/strata/pkg/table"
)

const pipelineSchemaTmpl = `
name: test-project
workflows:
  - name: rnaseq
    engine:
      name: nextflow
    data_location:
      runs_regex: '^run_.*'
      locations:
        - %s
    data_collections:
      - data_collection_tag: counts
        config:
          type: table
          scan:
            mode: recursive
            scan_parameters:
              regex_config:
                pattern: '(?P<sample>[^/]+)\.counts\.csv$'
          dc_specific_properties:
            format: csv
      - data_collection_tag: metadata
        config:
          type: table
          scan:
            mode: single
            scan_parameters:
              filename: metadata.tsv
          dc_specific_properties:
            format: tsv
        join:
          on_columns:
            - sample
          how: inner
          with_dc:
            - counts
`

type testEnv struct {
	dataRoot string
	project  *schema.Project
	cat      *catalog.Catalog
	backend  *store.LocalBackend
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dataRoot := t.TempDir()

	return &testEnv{
		dataRoot: dataRoot,
		project:  strtest.LoadProject(t, fmt.Sprintf(pipelineSchemaTmpl, dataRoot)),
		cat:      strtest.OpenCatalog(t),
		backend:  strtest.OpenStore(t),
	}
}

func (e *testEnv) pipeline(opts Options) *Pipeline {
	return New(e.project, e.cat, e.backend, nil, opts)
}

func (e *testEnv) seedRunA(t *testing.T) {
	t.Helper()
	runA := filepath.Join(e.dataRoot, "run_a")
	strtest.WriteFile(t, filepath.Join(runA, "sampleA.counts.csv"), "gene,count\ng1,5\ng2,7\n")
	strtest.WriteFile(t, filepath.Join(runA, "sampleB.counts.csv"), "gene,count\ng1,3\n")
	strtest.WriteFile(t, filepath.Join(runA, "metadata.tsv"), "sample\tcondition\nsampleA\ttreated\nsampleB\tcontrol\n")
}

func columnValues(t *testing.T, tab *table.Table, name string) []any {
	t.Helper()
	col, ok := tab.Column(name)
	require.True(t, ok, "column %s", name)
	return col.Values
}

func TestProcess_FirstScanMaterializes(t *testing.T) {
	env := newTestEnv(t)
	env.seedRunA(t)
	ctx := context.Background()

	report, err := env.pipeline(Options{}).Process(ctx, "rnaseq")
	require.NoError(t, err)
	require.False(t, report.Degraded)
	require.Equal(t, 1, report.RunsDiscovered)

	counts := report.Collections["counts"]
	require.Equal(t, 2, counts.Matched)
	require.Equal(t, 2, counts.Parsed)
	require.Equal(t, 2, counts.New)
	require.NotNil(t, counts.Version)
	require.Equal(t, int64(0), *counts.Version)

	tab, _, err := env.backend.ReadVersion(ctx, "rnaseq/counts", 0)
	require.NoError(t, err)
	require.Equal(t, 3, tab.NumRows())

	// Wildcard round trip: the group captured from the path is a column in
	// the materialized table.
	samples := map[any]int{}
	for _, v := range columnValues(t, tab, "sample") {
		samples[v]++
	}
	require.Equal(t, 2, samples["sampleA"])
	require.Equal(t, 1, samples["sampleB"])
	require.Equal(t, "run_a", columnValues(t, tab, "run_id")[0])

	// Joined collection: metadata rows fan out against counts.
	meta := report.Collections["metadata"]
	require.NotNil(t, meta.Version)
	mtab, _, err := env.backend.ReadVersion(ctx, "rnaseq/metadata", 0)
	require.NoError(t, err)
	require.Equal(t, 3, mtab.NumRows())
	require.True(t, mtab.HasColumn("condition"))
	require.True(t, mtab.HasColumn("gene"))
	require.True(t, mtab.HasColumn("count"))
}

func TestProcess_SecondScanIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedRunA(t)
	ctx := context.Background()
	pipe := env.pipeline(Options{})

	_, err := pipe.Process(ctx, "rnaseq")
	require.NoError(t, err)

	report, err := pipe.Process(ctx, "rnaseq")
	require.NoError(t, err)
	require.True(t, report.Collections["counts"].Skipped)
	require.True(t, report.Collections["metadata"].Skipped)

	latest, err := env.backend.Latest(ctx, "rnaseq/counts")
	require.NoError(t, err)
	require.Equal(t, int64(0), latest.Number)
}

func TestProcess_NewRunProducesNewVersion(t *testing.T) {
	env := newTestEnv(t)
	env.seedRunA(t)
	ctx := context.Background()
	pipe := env.pipeline(Options{})

	_, err := pipe.Process(ctx, "rnaseq")
	require.NoError(t, err)

	strtest.WriteFile(t, filepath.Join(env.dataRoot, "run_b", "sampleC.counts.csv"), "gene,count\ng1,9\n")

	report, err := pipe.Process(ctx, "rnaseq")
	require.NoError(t, err)

	counts := report.Collections["counts"]
	require.Equal(t, 1, counts.New)
	require.NotNil(t, counts.Version)
	require.Equal(t, int64(1), *counts.Version)

	// Untouched collection is independent.
	require.True(t, report.Collections["metadata"].Skipped)

	tab, _, err := env.backend.ReadVersion(ctx, "rnaseq/counts", 1)
	require.NoError(t, err)
	require.Equal(t, 4, tab.NumRows())

	// Version 0 is immutable and still readable.
	old, _, err := env.backend.ReadVersion(ctx, "rnaseq/counts", 0)
	require.NoError(t, err)
	require.Equal(t, 3, old.NumRows())
}

func TestProcess_RemovedRunExcludedFromNextVersion(t *testing.T) {
	env := newTestEnv(t)
	env.seedRunA(t)
	strtest.WriteFile(t, filepath.Join(env.dataRoot, "run_b", "sampleC.counts.csv"), "gene,count\ng1,9\n")
	ctx := context.Background()
	pipe := env.pipeline(Options{})

	_, err := pipe.Process(ctx, "rnaseq")
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(env.dataRoot, "run_b")))

	report, err := pipe.Process(ctx, "rnaseq")
	require.NoError(t, err)
	require.Equal(t, 1, report.RunsStale)

	counts := report.Collections["counts"]
	require.Equal(t, 1, counts.Missing)
	require.NotNil(t, counts.Version)
	require.Equal(t, int64(1), *counts.Version)

	tab, _, err := env.backend.ReadVersion(ctx, "rnaseq/counts", 1)
	require.NoError(t, err)
	require.Equal(t, 3, tab.NumRows())
	for _, v := range columnValues(t, tab, "run_id") {
		require.NotEqual(t, "run_b", v)
	}
}

func TestScan_MarksStaleWithoutRewriting(t *testing.T) {
	env := newTestEnv(t)
	env.seedRunA(t)
	strtest.WriteFile(t, filepath.Join(env.dataRoot, "run_b", "sampleC.counts.csv"), "gene,count\ng1,9\n")
	ctx := context.Background()
	pipe := env.pipeline(Options{})

	_, err := pipe.Process(ctx, "rnaseq")
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(env.dataRoot, "run_b")))

	// Scan reconciles the catalog but never touches published versions.
	report, err := pipe.Scan(ctx, "rnaseq")
	require.NoError(t, err)
	require.Equal(t, 1, report.RunsStale)

	latest, err := env.backend.Latest(ctx, "rnaseq/counts")
	require.NoError(t, err)
	require.Equal(t, int64(0), latest.Number)

	// The catalog was already reconciled by the scan, so a plain process
	// sees no diff; the rebuild has to be explicit.
	report, err = pipe.Process(ctx, "rnaseq")
	require.NoError(t, err)
	require.True(t, report.Collections["counts"].Skipped)

	report, err = env.pipeline(Options{Rematerialize: true}).Process(ctx, "rnaseq")
	require.NoError(t, err)
	require.NotNil(t, report.Collections["counts"].Version)
	require.Equal(t, int64(1), *report.Collections["counts"].Version)

	tab, _, err := env.backend.ReadVersion(ctx, "rnaseq/counts", 1)
	require.NoError(t, err)
	require.Equal(t, 3, tab.NumRows())
}

func TestScan_RegistersWithoutMaterializing(t *testing.T) {
	env := newTestEnv(t)
	env.seedRunA(t)
	ctx := context.Background()

	report, err := env.pipeline(Options{}).Scan(ctx, "rnaseq")
	require.NoError(t, err)
	require.Equal(t, 2, report.Collections["counts"].Parsed)

	files, err := env.cat.Files(ctx, "rnaseq", "counts")
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		require.True(t, f.Registered())
	}

	collections, err := env.backend.Collections(ctx)
	require.NoError(t, err)
	require.Empty(t, collections)
}

func TestProcess_BadFileDegradesButMaterializes(t *testing.T) {
	env := newTestEnv(t)
	env.seedRunA(t)
	strtest.WriteFile(t, filepath.Join(env.dataRoot, "run_a", "sampleX.counts.csv"), "gene,count\ng1,1\ng2\n")
	ctx := context.Background()
	pipe := env.pipeline(Options{})

	report, err := pipe.Process(ctx, "rnaseq")
	require.NoError(t, err)
	require.True(t, report.Degraded)

	counts := report.Collections["counts"]
	require.Equal(t, 1, counts.Rejected)
	require.Equal(t, 2, counts.Parsed)
	require.NotNil(t, counts.Version, "good fragments still materialize")

	// The failed file is recorded, never registered.
	files, err := env.cat.Files(ctx, "rnaseq", "counts")
	require.NoError(t, err)
	var bad int
	for _, f := range files {
		if !f.Registered() {
			bad++
			require.NotEmpty(t, f.LastError)
		}
	}
	require.Equal(t, 1, bad)

	// Same bytes are not re-parsed: the next process is the fast path.
	report, err = pipe.Process(ctx, "rnaseq")
	require.NoError(t, err)
	require.True(t, report.Collections["counts"].Skipped)
	require.Equal(t, 1, report.Collections["counts"].KnownBad)
}

func TestProcess_AllFilesBadDegradesCollection(t *testing.T) {
	env := newTestEnv(t)
	strtest.WriteFile(t, filepath.Join(env.dataRoot, "run_a", "sampleX.counts.csv"), "gene,count\ng1,1\ng2\n")
	ctx := context.Background()

	report, err := env.pipeline(Options{}).Process(ctx, "rnaseq")
	require.NoError(t, err)
	require.True(t, report.Collections["counts"].Degraded)

	_, err = env.backend.Latest(ctx, "rnaseq/counts")
	require.ErrorIs(t, err, store.ErrNoVersions)
}

func TestProcess_UnknownWorkflow(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.pipeline(Options{}).Process(context.Background(), "nope")
	require.Error(t, err)
}

// Pattern with a mandatory directory segment ahead of the filename; the
// match candidate includes the run directory, so files at the run root
// still satisfy it.
const rootFileSchemaTmpl = `
name: test-project
workflows:
  - name: rnaseq
    engine:
      name: nextflow
    data_location:
      runs_regex: '^run.*'
      locations:
        - %s
    data_collections:
      - data_collection_tag: samples
        config:
          type: table
          scan:
            mode: recursive
            scan_parameters:
              regex_config:
                pattern: '.*/sample\.csv'
          dc_specific_properties:
            format: csv
`

func TestProcess_PatternWithDirPrefixMatchesRunRootFiles(t *testing.T) {
	dataRoot := t.TempDir()
	project := strtest.LoadProject(t, fmt.Sprintf(rootFileSchemaTmpl, dataRoot))
	cat := strtest.OpenCatalog(t)
	backend := strtest.OpenStore(t)
	ctx := context.Background()

	strtest.WriteFile(t, filepath.Join(dataRoot, "run1", "sample.csv"), "value\n1\n")
	strtest.WriteFile(t, filepath.Join(dataRoot, "run2", "sample.csv"), "value\n2\n")

	report, err := New(project, cat, backend, nil, Options{}).Process(ctx, "rnaseq")
	require.NoError(t, err)
	require.False(t, report.Degraded)

	samples := report.Collections["samples"]
	require.Equal(t, 2, samples.Matched)
	require.Equal(t, 2, samples.Parsed)
	require.NotNil(t, samples.Version)

	tab, _, err := backend.ReadVersion(ctx, "rnaseq/samples", 0)
	require.NoError(t, err)
	require.Equal(t, 2, tab.NumRows())

	runs := map[any]bool{}
	for _, v := range columnValues(t, tab, "run_id") {
		runs[v] = true
	}
	require.True(t, runs["run1"])
	require.True(t, runs["run2"])
}

// keep_columns lists only the analysis columns; the join key must still be
// validated for presence and carried through to the join.
const joinKeySchemaTmpl = `
name: test-project
workflows:
  - name: cohort
    engine:
      name: nextflow
    data_location:
      runs_regex: '^run_.*'
      locations:
        - %s
    data_collections:
      - data_collection_tag: physical_features
        config:
          type: table
          scan:
            mode: single
            scan_parameters:
              filename: features.csv
          dc_specific_properties:
            format: csv
      - data_collection_tag: demographics
        config:
          type: table
          scan:
            mode: single
            scan_parameters:
              filename: demographics.csv
          dc_specific_properties:
            format: csv
          keep_columns:
            - age
        join:
          on_columns:
            - individual_id
          how: inner
          with_dc:
            - physical_features
`

func TestProcess_JoinKeyOutsideKeepColumns(t *testing.T) {
	dataRoot := t.TempDir()
	project := strtest.LoadProject(t, fmt.Sprintf(joinKeySchemaTmpl, dataRoot))
	cat := strtest.OpenCatalog(t)
	backend := strtest.OpenStore(t)
	ctx := context.Background()

	runA := filepath.Join(dataRoot, "run_a")
	strtest.WriteFile(t, filepath.Join(runA, "features.csv"), "individual_id,height\ni1,180\ni2,165\n")
	strtest.WriteFile(t, filepath.Join(runA, "demographics.csv"), "individual_id,age,notes\ni1,30,x\ni2,40,y\n")

	report, err := New(project, cat, backend, nil, Options{}).Process(ctx, "cohort")
	require.NoError(t, err)
	require.False(t, report.Degraded)
	require.NotNil(t, report.Collections["demographics"].Version)

	tab, _, err := backend.ReadVersion(ctx, "cohort/demographics", 0)
	require.NoError(t, err)
	require.Equal(t, 2, tab.NumRows())
	require.True(t, tab.HasColumn("individual_id"))
	require.True(t, tab.HasColumn("age"))
	require.True(t, tab.HasColumn("height"))
	require.False(t, tab.HasColumn("notes"), "non-kept columns stay projected out")
}

// Two collections whose patterns both accept the same file; the file is
// registered and aggregated once per collection.
const overlapSchemaTmpl = `
name: test-project
workflows:
  - name: rnaseq
    engine:
      name: nextflow
    data_location:
      runs_regex: '^run_.*'
      locations:
        - %s
    data_collections:
      - data_collection_tag: counts
        config:
          type: table
          scan:
            mode: recursive
            scan_parameters:
              regex_config:
                pattern: '(?P<sample>[^/]+)\.counts\.csv$'
          dc_specific_properties:
            format: csv
      - data_collection_tag: all_tables
        config:
          type: table
          scan:
            mode: recursive
            scan_parameters:
              regex_config:
                pattern: '\.csv$'
          dc_specific_properties:
            format: csv
`

func TestProcess_FileRegisteredInEveryMatchingCollection(t *testing.T) {
	dataRoot := t.TempDir()
	project := strtest.LoadProject(t, fmt.Sprintf(overlapSchemaTmpl, dataRoot))
	cat := strtest.OpenCatalog(t)
	backend := strtest.OpenStore(t)
	ctx := context.Background()

	path := filepath.Join(dataRoot, "run_a", "sampleA.counts.csv")
	strtest.WriteFile(t, path, "gene,count\ng1,5\n")

	report, err := New(project, cat, backend, nil, Options{}).Process(ctx, "rnaseq")
	require.NoError(t, err)
	require.False(t, report.Degraded)
	require.Equal(t, 1, report.Collections["counts"].Matched)
	require.Equal(t, 1, report.Collections["all_tables"].Matched)

	for _, tag := range []string{"counts", "all_tables"} {
		files, err := cat.Files(ctx, "rnaseq", tag)
		require.NoError(t, err)
		require.Len(t, files, 1, tag)
		require.Equal(t, path, files[0].Location, tag)

		latest, err := backend.Latest(ctx, "rnaseq/"+tag)
		require.NoError(t, err)
		require.Equal(t, int64(0), latest.Number, tag)
	}
}

func TestProcess_WildcardColumnsTraceBackToPaths(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Every data row in the aggregate must carry the (sample, run_id) pair
	// of the file it came from, with multiplicity.
	fixtures := []struct {
		run    string
		sample string
		rows   int
	}{
		{"run_a", "sampleA", 2},
		{"run_a", "sampleB", 1},
		{"run_b", "sampleA", 1},
		{"run_b", "sampleC", 3},
	}
	want := map[[2]any]int{}
	for _, fx := range fixtures {
		content := "gene,count\n"
		for i := 0; i < fx.rows; i++ {
			content += fmt.Sprintf("g%d,%d\n", i+1, i+1)
		}
		strtest.WriteFile(t, filepath.Join(env.dataRoot, fx.run, fx.sample+".counts.csv"), content)
		want[[2]any{fx.sample, fx.run}] += fx.rows
	}

	report, err := env.pipeline(Options{}).Process(ctx, "rnaseq")
	require.NoError(t, err)
	require.Equal(t, 4, report.Collections["counts"].Parsed)

	tab, _, err := env.backend.ReadVersion(ctx, "rnaseq/counts", 0)
	require.NoError(t, err)

	samples := columnValues(t, tab, "sample")
	runIDs := columnValues(t, tab, "run_id")
	got := map[[2]any]int{}
	for i := range samples {
		got[[2]any{samples[i], runIDs[i]}]++
	}
	require.Equal(t, want, got)
}

// Pattern whose group may capture nothing; such files are rejected while a
// valid sibling in the same run still aggregates.
const laxWildcardSchemaTmpl = `
name: test-project
workflows:
  - name: rnaseq
    engine:
      name: nextflow
    data_location:
      runs_regex: '^run_.*'
      locations:
        - %s
    data_collections:
      - data_collection_tag: counts
        config:
          type: table
          scan:
            mode: recursive
            scan_parameters:
              regex_config:
                pattern: '(?P<sample>[^/]*)\.counts\.csv$'
          dc_specific_properties:
            format: csv
`

func TestProcess_EmptyWildcardFileExcludedSiblingAggregates(t *testing.T) {
	dataRoot := t.TempDir()
	project := strtest.LoadProject(t, fmt.Sprintf(laxWildcardSchemaTmpl, dataRoot))
	cat := strtest.OpenCatalog(t)
	backend := strtest.OpenStore(t)
	ctx := context.Background()

	runA := filepath.Join(dataRoot, "run_a")
	strtest.WriteFile(t, filepath.Join(runA, ".counts.csv"), "gene,count\ng1,1\n")
	strtest.WriteFile(t, filepath.Join(runA, "sampleA.counts.csv"), "gene,count\ng1,5\ng2,7\n")

	report, err := New(project, cat, backend, nil, Options{}).Process(ctx, "rnaseq")
	require.NoError(t, err)
	require.True(t, report.Degraded)

	counts := report.Collections["counts"]
	require.Equal(t, 1, counts.Matched)
	require.Equal(t, 1, counts.Rejected)
	require.Equal(t, 1, counts.Parsed)
	require.NotNil(t, counts.Version, "valid sibling still materializes")

	tab, _, err := backend.ReadVersion(ctx, "rnaseq/counts", 0)
	require.NoError(t, err)
	require.Equal(t, 2, tab.NumRows())
	for _, v := range columnValues(t, tab, "sample") {
		require.Equal(t, "sampleA", v)
	}
}

func TestProcess_RecordsScanInCatalog(t *testing.T) {
	env := newTestEnv(t)
	env.seedRunA(t)
	ctx := context.Background()

	report, err := env.pipeline(Options{}).Process(ctx, "rnaseq")
	require.NoError(t, err)

	rec, err := env.cat.LastScan(ctx, "rnaseq")
	require.NoError(t, err)
	require.Equal(t, report.ScanID, rec.ScanID)
	require.Equal(t, "process", rec.Kind)
	require.Equal(t, 3, rec.Matched) // 2 counts + 1 metadata
	require.Contains(t, rec.Report, `"collections"`)
}
