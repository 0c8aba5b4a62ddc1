package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/obsrvr-table-sync/internal/rowset"
	"github.com/withObsrvr/obsrvr-table-sync/internal/tablesync"
)

// orderRecord mirrors the archived orders schema, fields in name order.
type orderRecord struct {
	Customer *string  `parquet:"customer,optional"`
	ID       *int64   `parquet:"id,optional"`
	Total    *float64 `parquet:"total,optional"`
}

func orders() rowset.RowSet {
	return rowset.RowSet{
		Columns: []string{"id", "customer", "total"},
		Rows: [][]any{
			{int64(1), "ann", 10.5},
			{int64(2), nil, int64(3)},
			{int64(3), "cy", nil},
		},
	}
}

func openTestArchive(t *testing.T, compression string) *Archive {
	t.Helper()
	a, err := Open(context.Background(), Config{
		URL:                 "file://" + t.TempDir(),
		Prefix:              "table-sync/",
		ManifestCompression: compression,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestEncodeParquet(t *testing.T) {
	data, err := encodeParquet("orders", orders())
	if err != nil {
		t.Fatalf("encodeParquet failed: %v", err)
	}

	records, err := parquet.Read[orderRecord](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	if r := records[0]; r.ID == nil || *r.ID != 1 || r.Customer == nil || *r.Customer != "ann" || r.Total == nil || *r.Total != 10.5 {
		t.Errorf("record 0 = %+v", r)
	}
	if r := records[1]; r.Customer != nil || r.Total == nil || *r.Total != 3 {
		t.Errorf("record 1 should have null customer and widened total: %+v", r)
	}
	if r := records[2]; r.Total != nil {
		t.Errorf("record 2 should have null total: %+v", r)
	}
}

func TestEncodeParquetDuplicateColumns(t *testing.T) {
	rs := rowset.RowSet{Columns: []string{"id", "id"}, Rows: [][]any{{int64(1), int64(1)}}}
	if _, err := encodeParquet("dupes", rs); err == nil {
		t.Fatal("expected an error for duplicate column names")
	}
}

func TestLoadedAndManifest(t *testing.T) {
	for _, compression := range []string{"zstd", "none"} {
		t.Run(compression, func(t *testing.T) {
			ctx := context.Background()
			a := openTestArchive(t, compression)

			if err := a.Loaded(ctx, "run-1", "orders", tablesync.Created, orders()); err != nil {
				t.Fatalf("Loaded failed: %v", err)
			}

			r, err := a.NewReader(ctx, a.TableKey("run-1", "orders"))
			if err != nil {
				t.Fatalf("open archived table: %v", err)
			}
			data, err := io.ReadAll(r)
			r.Close()
			if err != nil {
				t.Fatal(err)
			}
			f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
			if err != nil {
				t.Fatalf("archived object is not parquet: %v", err)
			}
			if f.NumRows() != 3 {
				t.Errorf("archived %d rows, want 3", f.NumRows())
			}

			summary := &tablesync.JobSummary{
				RunID:     "run-1",
				Succeeded: true,
				Outcomes: []tablesync.Outcome{
					{Table: "orders", Status: tablesync.Created, RowCount: 3},
					{Table: "tools", Status: tablesync.FetchFailed, Err: errors.New("access denied")},
				},
			}
			if err := a.Report(ctx, "run-1", summary, nil); err != nil {
				t.Fatalf("Report failed: %v", err)
			}

			key := a.ManifestKey("run-1")
			if compression == "zstd" && !strings.HasSuffix(key, ".json.zst") {
				t.Errorf("manifest key %q should be zstd", key)
			}

			m, err := a.ReadManifest(ctx, "run-1")
			if err != nil {
				t.Fatalf("ReadManifest failed: %v", err)
			}
			if !m.Succeeded || len(m.Files) != 1 || len(m.Outcomes) != 2 {
				t.Fatalf("manifest = %+v", m)
			}
			file := m.Files[0]
			if file.Table != "orders" || file.RowCount != 3 || file.ByteSize != int64(len(data)) {
				t.Errorf("file info = %+v", file)
			}
			if !strings.HasPrefix(file.Checksum, "sha256:") {
				t.Errorf("checksum = %q", file.Checksum)
			}
			if m.Outcomes[1].Error != "access denied" {
				t.Errorf("outcome error = %q", m.Outcomes[1].Error)
			}
		})
	}
}

func TestManifestForFailedRun(t *testing.T) {
	ctx := context.Background()
	a := openTestArchive(t, "zstd")

	if err := a.Report(ctx, "run-2", nil, errors.New("connection failed")); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	m, err := a.ReadManifest(ctx, "run-2")
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if m.Succeeded || m.Error != "connection failed" || len(m.Files) != 0 {
		t.Errorf("manifest = %+v", m)
	}
}
