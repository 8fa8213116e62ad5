// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package table

import (
	"fmt"
	"strings"
)

// JoinKind selects the relational join semantics.
type JoinKind string

// Supported join kinds.
const (
	InnerJoin JoinKind = "inner"
	LeftJoin  JoinKind = "left"
)

// ParseJoinKind validates a join kind declared in a schema.
func ParseJoinKind(s string) (JoinKind, error) {
	switch JoinKind(s) {
	case InnerJoin, LeftJoin:
		return JoinKind(s), nil
	default:
		return "", fmt.Errorf("unsupported join kind %q (want inner or left)", s)
	}
}

// ErrMissingJoinKey is wrapped by Join when a key column is absent from
// either side.
type ErrMissingJoinKey struct {
	Column string
	Side   string // "left" or "right"
}

func (e *ErrMissingJoinKey) Error() string {
	return fmt.Sprintf("join key column %q missing from %s side", e.Column, e.Side)
}

// Join performs a hash join of left against right on the named key
// columns. Key columns appear once in the output (taken from the left
// side); a non-key right column whose name collides with a left column is
// suffixed "_right", matching common dataframe behavior.
//
// Duplicate keys on either side fan out: each matching (left, right) pair
// produces one output row. Rows whose key contains a null never match; for
// a left join they are emitted with null right-side values.
func Join(left, right *Table, on []string, kind JoinKind) (*Table, error) {
	if len(on) == 0 {
		return nil, fmt.Errorf("join requires at least one key column")
	}
	for _, key := range on {
		if !left.HasColumn(key) {
			return nil, &ErrMissingJoinKey{Column: key, Side: "left"}
		}
		if !right.HasColumn(key) {
			return nil, &ErrMissingJoinKey{Column: key, Side: "right"}
		}
	}

	onSet := make(map[string]bool, len(on))
	for _, key := range on {
		onSet[key] = true
	}

	// Right-side payload columns and their output names.
	var rightCols []*Column
	var rightNames []string
	for _, c := range right.Columns() {
		if onSet[c.Name] {
			continue
		}
		name := c.Name
		if left.HasColumn(name) {
			name += "_right"
		}
		rightCols = append(rightCols, c)
		rightNames = append(rightNames, name)
	}

	// Hash the right side by key tuple. Null keys are excluded: they can
	// never match.
	buckets := make(map[string][]int)
	for i := 0; i < right.NumRows(); i++ {
		key, ok := joinKey(right, on, i)
		if !ok {
			continue
		}
		buckets[key] = append(buckets[key], i)
	}

	// Output builders.
	leftOut := make([][]any, left.NumCols())
	rightOut := make([][]any, len(rightCols))

	emit := func(li int, ri int) {
		for j, c := range left.Columns() {
			leftOut[j] = append(leftOut[j], c.Values[li])
		}
		for j, c := range rightCols {
			if ri < 0 {
				rightOut[j] = append(rightOut[j], nil)
			} else {
				rightOut[j] = append(rightOut[j], c.Values[ri])
			}
		}
	}

	for i := 0; i < left.NumRows(); i++ {
		key, ok := joinKey(left, on, i)
		matches := buckets[key]
		if !ok || len(matches) == 0 {
			if kind == LeftJoin {
				emit(i, -1)
			}
			continue
		}
		for _, ri := range matches {
			emit(i, ri)
		}
	}

	cols := make([]*Column, 0, left.NumCols()+len(rightCols))
	for j, c := range left.Columns() {
		cols = append(cols, &Column{Name: c.Name, Type: c.Type, Values: leftOut[j]})
	}
	for j, c := range rightCols {
		cols = append(cols, &Column{Name: rightNames[j], Type: c.Type, Values: rightOut[j]})
	}
	return New(cols...)
}

// joinKey encodes the key tuple of row i. ok is false when any key cell is
// null.
func joinKey(t *Table, on []string, i int) (string, bool) {
	var b strings.Builder
	for _, name := range on {
		c, _ := t.Column(name)
		v := c.Values[i]
		if v == nil {
			return "", false
		}
		b.WriteString(FormatValue(v))
		b.WriteByte(0x1f) // unit separator, never appears in parsed cells
	}
	return b.String(), true
}
