package util

import (
	"testing"
	"time"
)

func TestDialectQuote(t *testing.T) {
	tests := []struct {
		d    Dialect
		in   string
		want string
	}{
		{MySQL, "user", "`user`"},
		{MySQL, "we`ird", "`we``ird`"},
		{DuckDB, "user", `"user"`},
		{SQLite, `we"ird`, `"we""ird"`},
		{Postgres, "orders", `"orders"`},
	}
	for _, tt := range tests {
		if got := tt.d.Quote(tt.in); got != tt.want {
			t.Errorf("%s.Quote(%q) = %s, want %s", tt.d, tt.in, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		in     any
		dbType string
		want   any
	}{
		{"mysql int text", []byte("42"), "INT", int64(42)},
		{"mysql unsigned", []byte("7"), "UNSIGNED BIGINT", int64(7)},
		{"mysql double text", []byte("1.25"), "DOUBLE", 1.25},
		{"mysql decimal stays text", []byte("10.10"), "DECIMAL", "10.10"},
		{"mysql varchar", []byte("abc"), "VARCHAR", "abc"},
		{"bad int falls back to text", []byte("x1"), "INT", "x1"},
		{"int32", int32(5), "INTEGER", int64(5)},
		{"float32", float32(0.5), "FLOAT", float64(0.5)},
		{"huge uint", uint64(1<<63 + 1), "UBIGINT", "9223372036854775809"},
		{"nil", nil, "INT", nil},
		{"bool", true, "BOOLEAN", true},
		{"time", now, "DATETIME", now},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in, tt.dbType); got != tt.want {
			t.Errorf("%s: Normalize(%v, %s) = %#v, want %#v", tt.name, tt.in, tt.dbType, got, tt.want)
		}
	}
}

func TestNormalizeBinaryCopies(t *testing.T) {
	src := []byte{1, 2, 3}
	got, ok := Normalize(src, "BLOB").([]byte)
	if !ok {
		t.Fatalf("BLOB should stay []byte, got %T", got)
	}
	src[0] = 9
	if got[0] != 1 {
		t.Error("normalized bytes share the driver buffer")
	}
}

func TestEnsureDir(t *testing.T) {
	dir := t.TempDir() + "/a/b/c"
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
}
