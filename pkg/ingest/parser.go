// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/depictio/strata/pkg/schema"
	"github.com/depictio/strata/pkg/table"
)

// runIDColumn is the provenance column stamped on every fragment so rows in
// an aggregated table are always traceable to the run that produced them.
const runIDColumn = "run_id"

// ParseFile reads one matched tabular file into a typed fragment. The
// fragment already carries its provenance: the run id column and one
// constant column per extracted wildcard.
//
// Parsing is strict. Ragged rows, missing keep_columns and wildcard/column
// name collisions are errors; the caller records them against the file and
// moves on. The same bytes always produce the same fragment or the same
// error.
func ParseFile(m FileMatch, dc *schema.DataCollection) (*table.Table, error) {
	f, err := os.Open(m.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", m.Path, err)
	}
	defer f.Close()

	t, err := parseTabular(f, &dc.Config.Properties)
	if err != nil {
		return nil, &SchemaMismatchError{Collection: dc.Tag, Path: m.Path, Detail: err.Error()}
	}

	// keep_columns must all exist before projection; a file missing one is
	// rejected whole rather than silently narrowed. Join keys get the same
	// presence check unless a wildcard group or the run id supplies them,
	// and they survive the projection even when keep_columns omits them.
	fileKeys := fileJoinKeys(t, dc)
	if len(fileKeys.missing) > 0 {
		return nil, &SchemaMismatchError{
			Collection: dc.Tag,
			Path:       m.Path,
			Detail:     fmt.Sprintf("join key columns not present in file: %s", strings.Join(fileKeys.missing, ", ")),
		}
	}
	if len(dc.Config.KeepColumns) > 0 {
		var missing []string
		for _, name := range dc.Config.KeepColumns {
			if !t.HasColumn(name) {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return nil, &SchemaMismatchError{
				Collection: dc.Tag,
				Path:       m.Path,
				Detail:     fmt.Sprintf("keep_columns not present in file: %s", strings.Join(missing, ", ")),
			}
		}
		t, err = t.Select(withJoinKeys(dc.Config.KeepColumns, fileKeys.present))
		if err != nil {
			return nil, &SchemaMismatchError{Collection: dc.Tag, Path: m.Path, Detail: err.Error()}
		}
	}

	for _, name := range wildcardNames(m, dc) {
		if t.HasColumn(name) {
			return nil, &SchemaMismatchError{
				Collection: dc.Tag,
				Path:       m.Path,
				Detail:     fmt.Sprintf("wildcard %q collides with a file column", name),
			}
		}
		if err := t.AddConst(name, table.String, m.Wildcards[name]); err != nil {
			return nil, &SchemaMismatchError{Collection: dc.Tag, Path: m.Path, Detail: err.Error()}
		}
	}

	if t.HasColumn(runIDColumn) {
		return nil, &SchemaMismatchError{
			Collection: dc.Tag,
			Path:       m.Path,
			Detail:     fmt.Sprintf("file column %q collides with the provenance column", runIDColumn),
		}
	}
	if err := t.AddConst(runIDColumn, table.String, m.Run.ID); err != nil {
		return nil, &SchemaMismatchError{Collection: dc.Tag, Path: m.Path, Detail: err.Error()}
	}
	return t, nil
}

// joinKeySplit separates a collection's join key columns into those the
// parsed file carries and those it is required to but does not. Keys
// supplied outside the file (a declared wildcard group or the run id
// column) appear in neither slice.
type joinKeySplit struct {
	present []string
	missing []string
}

func fileJoinKeys(t *table.Table, dc *schema.DataCollection) joinKeySplit {
	var groups []string
	if rc := dc.Config.Scan.Parameters.Regex; rc != nil {
		groups = rc.Groups()
	}

	var split joinKeySplit
	for _, key := range dc.JoinKeyColumns() {
		if t.HasColumn(key) {
			split.present = append(split.present, key)
			continue
		}
		external := key == runIDColumn
		for _, g := range groups {
			if g == key {
				external = true
				break
			}
		}
		if !external {
			split.missing = append(split.missing, key)
		}
	}
	return split
}

// withJoinKeys appends the join keys absent from keep_columns so the
// projection never strips a column a downstream join needs.
func withJoinKeys(keep, keys []string) []string {
	out := make([]string, len(keep), len(keep)+len(keys))
	copy(out, keep)
	for _, key := range keys {
		found := false
		for _, name := range keep {
			if name == key {
				found = true
				break
			}
		}
		if !found {
			out = append(out, key)
		}
	}
	return out
}

// wildcardNames returns the collection's declared group order, restricted
// to the wildcards this match actually extracted.
func wildcardNames(m FileMatch, dc *schema.DataCollection) []string {
	rc := dc.Config.Scan.Parameters.Regex
	if rc == nil || len(m.Wildcards) == 0 {
		return nil
	}
	var names []string
	for _, g := range rc.Groups() {
		if _, ok := m.Wildcards[g]; ok {
			names = append(names, g)
		}
	}
	return names
}

// parseTabular decodes delimited text into typed columns.
func parseTabular(r io.Reader, opts *schema.FormatOptions) (*table.Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = opts.Delimiter()
	cr.ReuseRecord = false

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	for ri, rec := range records {
		for _, cell := range rec {
			if !utf8.ValidString(cell) {
				return nil, fmt.Errorf("row %d: invalid UTF-8", ri+1)
			}
		}
	}

	var header []string
	var rows [][]string
	if opts.Header() {
		header = records[0]
		rows = records[1:]
	} else {
		for i := range records[0] {
			header = append(header, fmt.Sprintf("column_%d", i+1))
		}
		rows = records
	}

	cols := make([]*table.Column, len(header))
	for ci, name := range header {
		values := make([]string, len(rows))
		for ri, row := range rows {
			values[ri] = row[ci]
		}
		cols[ci] = inferColumn(strings.TrimSpace(name), values)
	}
	return table.New(cols...)
}

// inferColumn picks the narrowest type every non-empty cell satisfies, in
// the order int, float, bool, string. Empty cells are nulls and do not
// constrain the type.
func inferColumn(name string, raw []string) *table.Column {
	typ := inferType(raw)
	values := make([]any, len(raw))
	for i, s := range raw {
		if s == "" {
			continue // null
		}
		switch typ {
		case table.Int:
			n, _ := strconv.ParseInt(s, 10, 64)
			values[i] = n
		case table.Float:
			f, _ := strconv.ParseFloat(s, 64)
			values[i] = f
		case table.Bool:
			b, _ := strconv.ParseBool(strings.ToLower(s))
			values[i] = b
		default:
			values[i] = s
		}
	}
	return &table.Column{Name: name, Type: typ, Values: values}
}

func inferType(raw []string) table.Type {
	isInt, isFloat, isBool := true, true, true
	seen := false
	for _, s := range raw {
		if s == "" {
			continue
		}
		seen = true
		if isInt {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			switch strings.ToLower(s) {
			case "true", "false":
			default:
				isBool = false
			}
		}
	}
	switch {
	case !seen:
		return table.String
	case isInt:
		return table.Int
	case isFloat:
		return table.Float
	case isBool:
		return table.Bool
	default:
		return table.String
	}
}
