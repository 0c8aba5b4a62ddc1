// Package warehouse is the analytical destination: existence probe,
// existing-key fetcher and loader over a single pinned DuckDB, MotherDuck or
// SQLite connection.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	duckdb "github.com/duckdb/duckdb-go/v2"
	_ "modernc.org/sqlite"

	"github.com/withObsrvr/obsrvr-table-sync/internal/rowset"
	"github.com/withObsrvr/obsrvr-table-sync/internal/util"
)

var (
	// ErrProbeAmbiguous is returned when existence could not be determined.
	// It never means "absent".
	ErrProbeAmbiguous = errors.New("destination probe failed")

	// ErrKeyFetch marks a failure reading the identity column.
	ErrKeyFetch = errors.New("fetch existing keys failed")

	// ErrLoad marks a rejected create or append.
	ErrLoad = errors.New("load failed")
)

// Config configures the destination connection.
type Config struct {
	Driver string // "duckdb" | "sqlite"

	// DSN is "md:<database>" for MotherDuck, a file path, or ":memory:".
	DSN string

	MotherDuckToken string
	ConnectTimeout  time.Duration
}

// Warehouse is one destination session, held for a whole run.
type Warehouse struct {
	db      *sql.DB
	conn    *sql.Conn
	dialect util.Dialect
	stager  stager
	log     *slog.Logger
	seq     int
}

// Open connects to the destination described by cfg.
func Open(ctx context.Context, cfg Config) (*Warehouse, error) {
	var (
		db      *sql.DB
		dialect util.Dialect
	)

	switch cfg.Driver {
	case "", "duckdb":
		connector, err := duckdb.NewConnector(motherDuckDSN(cfg.DSN, cfg.MotherDuckToken), nil)
		if err != nil {
			return nil, fmt.Errorf("create duckdb connector: %w", err)
		}
		db = sql.OpenDB(connector)
		dialect = util.DuckDB
	case "sqlite":
		var err error
		db, err = sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DSN, err)
		}
		dialect = util.SQLite
	default:
		return nil, fmt.Errorf("unknown destination driver: %s", cfg.Driver)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	w, err := New(connCtx, db, dialect)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s destination: %w", dialect, err)
	}
	return w, nil
}

// motherDuckDSN attaches the token to md: DSNs. The result must not be logged.
func motherDuckDSN(dsn, token string) string {
	if !strings.HasPrefix(dsn, "md:") || token == "" || strings.Contains(dsn, "motherduck_token=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "motherduck_token=" + token
}

// New pins one connection from db. The warehouse owns db and closes it.
func New(ctx context.Context, db *sql.DB, dialect util.Dialect) (*Warehouse, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	var st stager = insertStager{}
	if dialect == util.DuckDB {
		st = appenderStager{}
	}

	return &Warehouse{
		db:      db,
		conn:    conn,
		dialect: dialect,
		stager:  st,
		log:     slog.With("component", "warehouse"),
	}, nil
}

// Exec runs a statement on the session connection.
func (w *Warehouse) Exec(ctx context.Context, query string, args ...any) error {
	_, err := w.conn.ExecContext(ctx, query, args...)
	return err
}

// Query runs a statement and materializes its result.
func (w *Warehouse) Query(ctx context.Context, query string, args ...any) (rowset.RowSet, error) {
	rows, err := w.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return rowset.RowSet{}, err
	}
	return util.ScanRowSet(rows)
}

// Close releases the pinned connection and the pool.
func (w *Warehouse) Close() error {
	connErr := w.conn.Close()
	dbErr := w.db.Close()
	return errors.Join(connErr, dbErr)
}

// Exists reports whether table is present at the destination.
//
// The catalog lookup decides absent vs present; a present table is then
// read with LIMIT 1 to confirm it is queryable. Any failure along the way
// wraps ErrProbeAmbiguous instead of being reported as absence.
func (w *Warehouse) Exists(ctx context.Context, table string) (bool, error) {
	var count int64
	if err := w.conn.QueryRowContext(ctx, w.catalogQuery(), table).Scan(&count); err != nil {
		return false, fmt.Errorf("%w: catalog lookup for %s: %w", ErrProbeAmbiguous, table, err)
	}
	if count == 0 {
		return false, nil
	}

	rows, err := w.conn.QueryContext(ctx, "SELECT 1 FROM "+w.dialect.Quote(table)+" LIMIT 1")
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %w", ErrProbeAmbiguous, table, err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("%w: read %s: %w", ErrProbeAmbiguous, table, err)
	}
	return true, nil
}

func (w *Warehouse) catalogQuery() string {
	if w.dialect == util.SQLite {
		return `SELECT count(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?`
	}
	return `SELECT count(*) FROM information_schema.tables
		WHERE table_catalog = current_database()
		  AND table_schema = current_schema()
		  AND table_name = ?`
}

// FetchKeys reads the identity column of table into a KeySet.
func (w *Warehouse) FetchKeys(ctx context.Context, table, column string) (rowset.KeySet, error) {
	// Qualified so SQLite reports an unknown column instead of reading a
	// double-quoted name as a string literal.
	t := w.dialect.Quote(table)
	query := fmt.Sprintf("SELECT %s.%s FROM %s", t, w.dialect.Quote(column), t)
	rs, err := w.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrKeyFetch, table, column, err)
	}

	keys := make(rowset.KeySet, rs.Len())
	for _, row := range rs.Rows {
		keys.Add(row[0])
	}
	return keys, nil
}

// CountRows returns the number of rows in table.
func (w *Warehouse) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := w.conn.QueryRowContext(ctx, "SELECT count(*) FROM "+w.dialect.Quote(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
