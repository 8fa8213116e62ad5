// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/depictio/strata/pkg/schema"
	"github.com/depictio/strata/pkg/store"
	"github.com/depictio/strata/pkg/table"
)

// aggregatedAtColumn stamps every materialized row with the aggregation
// wall-clock time, mirroring the run id stamped at parse time.
const aggregatedAtColumn = "aggregated_at"

// collectionKey is the store identity of a collection: workflow-scoped so
// equal tags in different workflows never share versions.
func collectionKey(workflow, tag string) string {
	return workflow + "/" + tag
}

// Materializer turns a collection's parsed fragments into a new immutable
// table version: concatenate, resolve declared joins against sibling
// collections' latest versions, stamp provenance, write.
type Materializer struct {
	Store  store.Backend
	Logger *slog.Logger
}

// Materialize writes the next version of one collection from its fragments.
//
// Returns (nil, filled, nil) when fragments is empty: an all-failed or
// empty collection never publishes an empty version; the previous version
// (if any) stays latest and the scan is reported degraded. The filled slice
// names columns that had to be null-filled during schema reconciliation.
//
// Join targets are read at their latest version; the caller materializes in
// join-plan order so a target's version from this same scan is visible.
func (a *Materializer) Materialize(ctx context.Context, w *schema.Workflow, dc *schema.DataCollection, fragments []*table.Table) (*store.Version, []string, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	key := collectionKey(w.Name, dc.Tag)

	if len(fragments) == 0 {
		logger.Warn("ingest.materialize.empty", "collection", key)
		return nil, nil, nil
	}

	agg, filled, err := table.Concat(fragments...)
	if err != nil {
		return nil, nil, fmt.Errorf("aggregate %s: %w", key, err)
	}
	if len(filled) > 0 {
		logger.Warn("ingest.materialize.schema_reconciled", "collection", key, "null_filled", filled)
	}

	if dc.Join != nil {
		agg, err = a.resolveJoins(ctx, w, dc, agg)
		if err != nil {
			return nil, filled, err
		}
	}

	if err := agg.AddConst(aggregatedAtColumn, table.String, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, filled, fmt.Errorf("aggregate %s: %w", key, err)
	}

	version, err := a.Store.WriteVersion(ctx, key, agg)
	if err != nil {
		return nil, filled, err
	}
	logger.Info("ingest.materialize.complete",
		"collection", key,
		"version", version.Number,
		"rows", version.RowCount,
		"columns", len(version.Schema),
	)
	return version, filled, nil
}

// resolveJoins applies the collection's declared joins, in declaration
// order, against each target's latest materialized version.
func (a *Materializer) resolveJoins(ctx context.Context, w *schema.Workflow, dc *schema.DataCollection, agg *table.Table) (*table.Table, error) {
	for _, targetTag := range dc.Join.WithDC {
		targetKey := collectionKey(w.Name, targetTag)
		latest, err := a.Store.Latest(ctx, targetKey)
		if err != nil {
			return nil, fmt.Errorf("join %s with %s: target has no materialized version: %w",
				collectionKey(w.Name, dc.Tag), targetKey, err)
		}
		right, _, err := a.Store.ReadVersion(ctx, targetKey, latest.Number)
		if err != nil {
			return nil, fmt.Errorf("join %s with %s: %w", collectionKey(w.Name, dc.Tag), targetKey, err)
		}

		// The target's own provenance columns would only collide with ours;
		// keep its data columns.
		var keep []string
		for _, name := range right.ColumnNames() {
			if name != runIDColumn && name != aggregatedAtColumn {
				keep = append(keep, name)
			}
		}
		right, err = right.Select(keep)
		if err != nil {
			return nil, fmt.Errorf("join %s with %s: %w", collectionKey(w.Name, dc.Tag), targetKey, err)
		}

		agg, err = table.Join(agg, right, dc.Join.OnColumns, dc.Join.Kind())
		if err != nil {
			return nil, fmt.Errorf("join %s with %s: %w", collectionKey(w.Name, dc.Tag), targetKey, err)
		}
	}
	return agg, nil
}
