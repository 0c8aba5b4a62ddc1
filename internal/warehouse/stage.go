package warehouse

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	duckdb "github.com/duckdb/duckdb-go/v2"

	"github.com/withObsrvr/obsrvr-table-sync/internal/rowset"
	"github.com/withObsrvr/obsrvr-table-sync/internal/util"
)

// column is a staged column with its inferred SQL type.
type column struct {
	name    string
	kind    rowset.Kind
	sqlType string
}

// stageTable describes a temporary relation holding an in-memory RowSet.
type stageTable struct {
	name string // bare name, used by the DuckDB appender
	ref  string // qualified, quoted name for SQL statements
	cols []column
}

// stager fills a freshly created stage table.
type stager interface {
	stage(ctx context.Context, conn *sql.Conn, st stageTable, rows [][]any) error
}

// Stage registers rows as a temporary relation on the session connection so
// a following CREATE ... AS SELECT or INSERT ... SELECT can read it. The
// returned release func drops the relation.
func (w *Warehouse) Stage(ctx context.Context, rows rowset.RowSet) (string, func(), error) {
	w.seq++
	st := stageTable{
		name: fmt.Sprintf("_table_sync_stage_%d", w.seq),
		cols: inferColumns(rows),
	}
	st.ref = w.stageRef(st.name)

	defs := make([]string, len(st.cols))
	for i, c := range st.cols {
		defs[i] = w.dialect.Quote(c.name) + " " + c.sqlType
	}
	create := fmt.Sprintf("CREATE TEMP TABLE %s (%s)", w.dialect.Quote(st.name), strings.Join(defs, ", "))
	if err := w.Exec(ctx, create); err != nil {
		return "", nil, fmt.Errorf("create stage: %w", err)
	}

	release := func() {
		if err := w.Exec(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+st.ref); err != nil {
			w.log.Warn("failed to drop stage", "stage", st.name, "error", err)
		}
	}

	if err := w.stager.stage(ctx, w.conn, st, rows.Rows); err != nil {
		release()
		return "", nil, fmt.Errorf("stage %d rows: %w", rows.Len(), err)
	}
	return st.ref, release, nil
}

func (w *Warehouse) stageRef(name string) string {
	if w.dialect == util.DuckDB {
		return "temp.main." + w.dialect.Quote(name)
	}
	return "temp." + w.dialect.Quote(name)
}

// insertStager loads the stage with a prepared insert inside a transaction.
type insertStager struct{}

func (insertStager) stage(ctx context.Context, conn *sql.Conn, st stageTable, rows [][]any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(st.cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", st.ref, placeholders))
	if err != nil {
		return err
	}
	defer stmt.Close()

	args := make([]any, len(st.cols))
	for i, row := range rows {
		for j, c := range st.cols {
			args[j] = rowset.Coerce(row[j], c.kind)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert staged row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// appenderStager loads the stage through the DuckDB Appender API on the
// native connection behind the pinned *sql.Conn.
type appenderStager struct{}

func (appenderStager) stage(ctx context.Context, conn *sql.Conn, st stageTable, rows [][]any) error {
	return conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}

		app, err := duckdb.NewAppender(dc, "temp", "main", st.name)
		if err != nil {
			return fmt.Errorf("create appender: %w", err)
		}

		vals := make([]driver.Value, len(st.cols))
		for i, row := range rows {
			for j, c := range st.cols {
				vals[j] = rowset.Coerce(row[j], c.kind)
			}
			if err := app.AppendRow(vals...); err != nil {
				app.Close()
				return fmt.Errorf("append staged row %d: %w", i, err)
			}
		}

		// Close flushes the remaining buffered rows.
		return app.Close()
	})
}

// inferColumns picks one SQL type per column from the values present.
func inferColumns(rs rowset.RowSet) []column {
	kinds := rs.ColumnKinds()
	cols := make([]column, len(rs.Columns))
	for j, name := range rs.Columns {
		cols[j] = column{name: name, kind: kinds[j], sqlType: sqlType(kinds[j])}
	}
	return cols
}

func sqlType(k rowset.Kind) string {
	switch k {
	case rowset.KindInt:
		return "BIGINT"
	case rowset.KindFloat:
		return "DOUBLE"
	case rowset.KindBool:
		return "BOOLEAN"
	case rowset.KindBytes:
		return "BLOB"
	case rowset.KindTime:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}
