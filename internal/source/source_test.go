package source

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/withObsrvr/obsrvr-table-sync/internal/util"
)

func openSQLite(t *testing.T) *Session {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s, err := NewSession(context.Background(), db, util.SQLite)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func exec(t *testing.T, s *Session, stmt string) {
	t.Helper()
	if _, err := s.conn.ExecContext(context.Background(), stmt); err != nil {
		t.Fatalf("exec %q: %v", stmt, err)
	}
}

func TestExtractFullTable(t *testing.T) {
	s := openSQLite(t)
	exec(t, s, `CREATE TABLE "orders" (id INTEGER, customer TEXT, total REAL)`)
	exec(t, s, `INSERT INTO "orders" VALUES (1, 'ann', 9.5), (2, 'bob', 3), (3, NULL, 1.25)`)

	rs, err := NewExtractor(s).Extract(context.Background(), "orders")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if rs.Len() != 3 {
		t.Fatalf("got %d rows, want 3", rs.Len())
	}
	if len(rs.Columns) != 3 || rs.Columns[0] != "id" {
		t.Fatalf("unexpected columns: %v", rs.Columns)
	}
	if v, _ := rs.Value(1, "customer"); v != "bob" {
		t.Errorf("row 1 customer = %#v, want bob", v)
	}
	if v, _ := rs.Value(2, "customer"); v != nil {
		t.Errorf("row 2 customer = %#v, want nil", v)
	}
	if v, _ := rs.Value(0, "id"); v != int64(1) {
		t.Errorf("row 0 id = %#v, want int64(1)", v)
	}
}

func TestExtractEmptyTableIsNotAnError(t *testing.T) {
	s := openSQLite(t)
	exec(t, s, `CREATE TABLE "logs" (msg TEXT)`)

	rs, err := NewExtractor(s).Extract(context.Background(), "logs")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !rs.Empty() {
		t.Errorf("expected empty row set, got %d rows", rs.Len())
	}
}

func TestExtractMissingTableWrapsErrExtract(t *testing.T) {
	s := openSQLite(t)

	_, err := NewExtractor(s).Extract(context.Background(), "nope")
	if !errors.Is(err, ErrExtract) {
		t.Fatalf("expected ErrExtract, got %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
