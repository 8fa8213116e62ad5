// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package table implements the in-memory columnar model shared by the
// ingestion pipeline and the versioned store.
//
// A Table is an ordered set of named, typed columns of equal length. A nil
// cell value is a null. Fragments produced by the format parser, join
// results and materialized versions are all Tables; the pipeline never
// handles rows directly.
package table

import (
	"fmt"
	"strconv"
)

// Type identifies the logical type of a column.
type Type int

// Column types supported by the ingestion pipeline. Parsed cells are
// represented as string, int64, float64 or bool; nil marks a null.
const (
	String Type = iota
	Int
	Float
	Bool
)

// String returns the lower-case type name used in logs and commit records.
func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// ParseType converts a type name from a commit record back to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "string":
		return String, nil
	case "int":
		return Int, nil
	case "float":
		return Float, nil
	case "bool":
		return Bool, nil
	default:
		return String, fmt.Errorf("unknown column type %q", s)
	}
}

// Column is a single named column. Values holds one entry per row; nil
// entries are nulls. Non-nil entries must match Type (string, int64,
// float64 or bool).
type Column struct {
	Name   string
	Type   Type
	Values []any
}

// Field describes one column of a table schema.
type Field struct {
	Name string `json:"name"`
	Type Type   `json:"-"`

	// TypeName is the serialized form of Type for commit records.
	TypeName string `json:"type"`
}

// Table is an ordered collection of equal-length columns.
type Table struct {
	cols   []*Column
	byName map[string]int
}

// New builds a table from columns, validating name uniqueness and equal
// lengths.
func New(cols ...*Column) (*Table, error) {
	t := &Table{byName: make(map[string]int, len(cols))}
	rows := -1
	for _, c := range cols {
		if c.Name == "" {
			return nil, fmt.Errorf("column with empty name")
		}
		if _, dup := t.byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		if rows == -1 {
			rows = len(c.Values)
		} else if len(c.Values) != rows {
			return nil, fmt.Errorf("column %q has %d rows, want %d", c.Name, len(c.Values), rows)
		}
		t.byName[c.Name] = len(t.cols)
		t.cols = append(t.cols, c)
	}
	return t, nil
}

// Empty returns a table with no columns and no rows.
func Empty() *Table {
	return &Table{byName: make(map[string]int)}
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	if len(t.cols) == 0 {
		return 0
	}
	return len(t.cols[0].Values)
}

// NumCols returns the column count.
func (t *Table) NumCols() int { return len(t.cols) }

// Columns returns the columns in declaration order.
func (t *Table) Columns() []*Column { return t.cols }

// Column returns the named column, or false if absent.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// ColumnNames returns all column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Schema returns the ordered (name, type) pairs of the table.
func (t *Table) Schema() []Field {
	fields := make([]Field, len(t.cols))
	for i, c := range t.cols {
		fields[i] = Field{Name: c.Name, Type: c.Type, TypeName: c.Type.String()}
	}
	return fields
}

// AddConst appends a constant column with the given value repeated for
// every row. Fails if the name collides with an existing column.
func (t *Table) AddConst(name string, typ Type, value any) error {
	if _, dup := t.byName[name]; dup {
		return fmt.Errorf("duplicate column %q", name)
	}
	values := make([]any, t.NumRows())
	for i := range values {
		values[i] = value
	}
	t.byName[name] = len(t.cols)
	t.cols = append(t.cols, &Column{Name: name, Type: typ, Values: values})
	return nil
}

// Select returns a new table containing only the named columns, in the
// given order. Unknown names are an error.
func (t *Table) Select(keep []string) (*Table, error) {
	cols := make([]*Column, 0, len(keep))
	for _, name := range keep {
		c, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("unknown column %q", name)
		}
		cols = append(cols, c)
	}
	return New(cols...)
}

// Row returns the values of row i in column order.
func (t *Table) Row(i int) []any {
	row := make([]any, len(t.cols))
	for j, c := range t.cols {
		row[j] = c.Values[i]
	}
	return row
}

// FormatValue renders a cell value for display, join keys and multiset
// comparison. Nulls format as empty string.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// convert coerces a value to the target type where a lossless conversion
// exists; anything else degrades to its string rendering.
func convert(v any, to Type) any {
	if v == nil {
		return nil
	}
	switch to {
	case Float:
		if i, ok := v.(int64); ok {
			return float64(i)
		}
		return v
	case String:
		if _, ok := v.(string); ok {
			return v
		}
		return FormatValue(v)
	default:
		return v
	}
}
