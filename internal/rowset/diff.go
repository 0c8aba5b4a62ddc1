package rowset

import (
	"errors"
	"fmt"
)

// ErrMissingColumn is returned when the identity column is not part of the
// row schema.
var ErrMissingColumn = errors.New("identity column not in row set")

// Diff returns the rows whose identityColumn value is not in existing,
// preserving input order.
//
// Source values are keyed as the kind the loader stages the column with, so
// they compare against what the destination reads back.
//
// This is a set difference by key only. A row whose other columns changed
// while its key is already present is not returned, and duplicate keys in
// rows that are absent from existing are all returned.
func Diff(rows RowSet, identityColumn string, existing KeySet) (RowSet, error) {
	idx := rows.ColumnIndex(identityColumn)
	if idx < 0 {
		return RowSet{}, fmt.Errorf("%w: %q", ErrMissingColumn, identityColumn)
	}

	kind := rows.ColumnKind(idx)
	out := RowSet{Columns: rows.Columns}
	for i, row := range rows.Rows {
		if idx >= len(row) {
			return RowSet{}, fmt.Errorf("%w: row %d has no value for %q", ErrMissingColumn, i, identityColumn)
		}
		if existing.Contains(Coerce(row[idx], kind)) {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
