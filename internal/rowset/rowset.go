// Package rowset holds the in-memory table snapshots passed between the
// source extractor, the diff engine and the warehouse loader.
package rowset

import "fmt"

// RowSet is an ordered sequence of rows sharing one column set.
// Each row is positional against Columns.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// New builds a RowSet and checks every row has one value per column.
func New(columns []string, rows [][]any) (RowSet, error) {
	for i, row := range rows {
		if len(row) != len(columns) {
			return RowSet{}, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
		}
	}
	return RowSet{Columns: columns, Rows: rows}, nil
}

// Len returns the number of rows.
func (r RowSet) Len() int {
	return len(r.Rows)
}

// Empty reports whether the set has no rows.
func (r RowSet) Empty() bool {
	return len(r.Rows) == 0
}

// ColumnIndex returns the position of a column, or -1.
func (r RowSet) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the row schema contains the column.
func (r RowSet) HasColumn(name string) bool {
	return r.ColumnIndex(name) >= 0
}

// Value returns the value of column for the i-th row.
func (r RowSet) Value(i int, column string) (any, bool) {
	idx := r.ColumnIndex(column)
	if idx < 0 || i < 0 || i >= len(r.Rows) || idx >= len(r.Rows[i]) {
		return nil, false
	}
	return r.Rows[i][idx], true
}
