// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package table

import (
	"sort"
	"strings"
)

// RowMultisetEqual reports whether two tables hold the same rows regardless
// of row order. Column sets must match exactly; row comparison uses the
// canonical cell rendering, with columns compared in sorted-name order so
// column ordering does not matter either.
//
// Join output ordering is not part of the pipeline contract, so tests
// compare multisets rather than exact tables.
func RowMultisetEqual(a, b *Table) bool {
	if a.NumRows() != b.NumRows() {
		return false
	}
	namesA := append([]string(nil), a.ColumnNames()...)
	namesB := append([]string(nil), b.ColumnNames()...)
	sort.Strings(namesA)
	sort.Strings(namesB)
	if len(namesA) != len(namesB) {
		return false
	}
	for i := range namesA {
		if namesA[i] != namesB[i] {
			return false
		}
	}

	return multisetKey(a, namesA) == multisetKey(b, namesB)
}

func multisetKey(t *Table, names []string) string {
	rows := make([]string, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		var b strings.Builder
		for _, name := range names {
			c, _ := t.Column(name)
			if c.Values[i] == nil {
				b.WriteString("\x00null")
			} else {
				b.WriteString(FormatValue(c.Values[i]))
			}
			b.WriteByte(0x1f)
		}
		rows[i] = b.String()
	}
	sort.Strings(rows)
	return strings.Join(rows, "\x1e")
}
