package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/withObsrvr/obsrvr-table-sync/internal/rowset"
)

// CreateFromRows materializes table with schema and contents taken from
// rows. It is a single best-effort write and is not retried.
func (w *Warehouse) CreateFromRows(ctx context.Context, table string, rows rowset.RowSet) (int64, error) {
	if len(rows.Columns) == 0 {
		return 0, fmt.Errorf("%w: create %s: row set has no columns", ErrLoad, table)
	}

	stage, release, err := w.Stage(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %w", ErrLoad, table, err)
	}
	defer release()

	stmt := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", w.dialect.Quote(table), stage)
	if err := w.Exec(ctx, stmt); err != nil {
		return 0, fmt.Errorf("%w: create %s: %w", ErrLoad, table, err)
	}

	w.log.Debug("created table", "table", table, "rows", rows.Len())
	return int64(rows.Len()), nil
}

// AppendRows inserts exactly rows into the existing table. Columns are
// matched by name; a column the table lacks fails the append.
func (w *Warehouse) AppendRows(ctx context.Context, table string, rows rowset.RowSet) (int64, error) {
	if rows.Empty() {
		return 0, nil
	}

	stage, release, err := w.Stage(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("%w: append %s: %w", ErrLoad, table, err)
	}
	defer release()

	cols := make([]string, len(rows.Columns))
	for i, c := range rows.Columns {
		cols[i] = w.dialect.Quote(c)
	}
	list := strings.Join(cols, ", ")

	stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", w.dialect.Quote(table), list, list, stage)
	if err := w.Exec(ctx, stmt); err != nil {
		return 0, fmt.Errorf("%w: append %s: %w", ErrLoad, table, err)
	}

	w.log.Debug("appended rows", "table", table, "rows", rows.Len())
	return int64(rows.Len()), nil
}
