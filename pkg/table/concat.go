// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package table

import "sort"

// Concat vertically stacks fragments into one table using column-superset
// reconciliation: the result carries every column seen in any fragment (in
// first-seen order); a fragment missing a column contributes nulls for it.
//
// The second return value lists the columns that had to be null-filled in
// at least one fragment, so callers can report partial schemas without
// treating them as errors.
//
// Column types are unified across fragments: identical types stay as-is,
// Int and Float unify to Float, any other mix degrades to String.
func Concat(fragments ...*Table) (*Table, []string, error) {
	if len(fragments) == 0 {
		return Empty(), nil, nil
	}

	// Union of columns in first-seen order, with unified types.
	type colSpec struct {
		name string
		typ  Type
		seen int // fragments that carry this column
	}
	var order []string
	specs := make(map[string]*colSpec)
	totalRows := 0
	for _, f := range fragments {
		totalRows += f.NumRows()
		for _, c := range f.Columns() {
			s, ok := specs[c.Name]
			if !ok {
				specs[c.Name] = &colSpec{name: c.Name, typ: c.Type, seen: 1}
				order = append(order, c.Name)
				continue
			}
			s.seen++
			s.typ = unify(s.typ, c.Type)
		}
	}

	filledSet := make(map[string]bool)
	cols := make([]*Column, 0, len(order))
	for _, name := range order {
		spec := specs[name]
		values := make([]any, 0, totalRows)
		for _, f := range fragments {
			src, ok := f.Column(name)
			if !ok {
				for i := 0; i < f.NumRows(); i++ {
					values = append(values, nil)
				}
				if f.NumRows() > 0 {
					filledSet[name] = true
				}
				continue
			}
			for _, v := range src.Values {
				values = append(values, convert(v, spec.typ))
			}
		}
		cols = append(cols, &Column{Name: name, Type: spec.typ, Values: values})
	}

	out, err := New(cols...)
	if err != nil {
		return nil, nil, err
	}

	filled := make([]string, 0, len(filledSet))
	for name := range filledSet {
		filled = append(filled, name)
	}
	sort.Strings(filled)
	return out, filled, nil
}

// unify picks the common type for two column types across fragments.
func unify(a, b Type) Type {
	if a == b {
		return a
	}
	if (a == Int && b == Float) || (a == Float && b == Int) {
		return Float
	}
	return String
}
