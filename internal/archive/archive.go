// Package archive keeps a copy of every row set loaded into the destination
// in blob storage, plus a manifest per run.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver

	"github.com/withObsrvr/obsrvr-table-sync/internal/rowset"
	"github.com/withObsrvr/obsrvr-table-sync/internal/tablesync"
)

// Config configures the archive.
type Config struct {
	URL                 string // file:///path, gs://bucket, s3://bucket?region=...
	Prefix              string // key prefix within the bucket
	ManifestCompression string // "zstd" | "none"
}

// Manifest describes the files written for one run.
type Manifest struct {
	RunID     string        `json:"run_id"`
	Succeeded bool          `json:"succeeded"`
	Error     string        `json:"error,omitempty"`
	Outcomes  []OutcomeInfo `json:"outcomes,omitempty"`
	Files     []FileInfo    `json:"files"`
	CreatedAt time.Time     `json:"created_at"`
}

// OutcomeInfo is the manifest form of a table outcome.
type OutcomeInfo struct {
	Table      string           `json:"table"`
	Status     tablesync.Status `json:"status"`
	RowCount   int64            `json:"row_count"`
	DryRun     bool             `json:"dry_run,omitempty"`
	Error      string           `json:"error,omitempty"`
	Warnings   []string         `json:"warnings,omitempty"`
	DurationMS int64            `json:"duration_ms"`
}

// FileInfo describes one archived row set.
type FileInfo struct {
	Table    string           `json:"table"`
	Status   tablesync.Status `json:"status"`
	Key      string           `json:"key"`
	RowCount int64            `json:"row_count"`
	ByteSize int64            `json:"byte_size"`
	Checksum string           `json:"checksum"`
}

// Archive writes parquet snapshots and run manifests to a bucket.
type Archive struct {
	bucket      *blob.Bucket
	prefix      string
	compression string
	log         *slog.Logger

	mu    sync.Mutex
	files map[string][]FileInfo // by run ID
}

// Open opens the bucket at cfg.URL.
func Open(ctx context.Context, cfg Config) (*Archive, error) {
	bucket, err := blob.OpenBucket(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open archive bucket %s: %w", cfg.URL, err)
	}
	return New(bucket, cfg), nil
}

// New wraps an open bucket. The archive owns the bucket.
func New(bucket *blob.Bucket, cfg Config) *Archive {
	compression := cfg.ManifestCompression
	if compression == "" {
		compression = "zstd"
	}
	return &Archive{
		bucket:      bucket,
		prefix:      cfg.Prefix,
		compression: compression,
		log:         slog.With("component", "archive"),
		files:       make(map[string][]FileInfo),
	}
}

// TableKey returns the object key for a table's row set in a run.
func (a *Archive) TableKey(runID, table string) string {
	return fmt.Sprintf("%s%s/%s.parquet", a.prefix, runID, table)
}

// ManifestKey returns the object key of a run manifest.
func (a *Archive) ManifestKey(runID string) string {
	key := fmt.Sprintf("%s%s/_manifest.json", a.prefix, runID)
	if a.compression == "zstd" {
		key += ".zst"
	}
	return key
}

// Loaded archives rows that were just written to the destination.
func (a *Archive) Loaded(ctx context.Context, runID, table string, status tablesync.Status, rows rowset.RowSet) error {
	data, err := encodeParquet(table, rows)
	if err != nil {
		return fmt.Errorf("encode %s: %w", table, err)
	}

	key := a.TableKey(runID, table)
	if err := a.write(ctx, key, data, "application/vnd.apache.parquet"); err != nil {
		return err
	}

	sum := sha256.Sum256(data)
	info := FileInfo{
		Table:    table,
		Status:   status,
		Key:      key,
		RowCount: int64(rows.Len()),
		ByteSize: int64(len(data)),
		Checksum: "sha256:" + hex.EncodeToString(sum[:]),
	}

	a.mu.Lock()
	a.files[runID] = append(a.files[runID], info)
	a.mu.Unlock()

	a.log.Debug("archived table", "run_id", runID, "table", table, "key", key, "rows", info.RowCount, "bytes", info.ByteSize)
	return nil
}

// Report writes the run manifest.
func (a *Archive) Report(ctx context.Context, runID string, summary *tablesync.JobSummary, runErr error) error {
	a.mu.Lock()
	files := a.files[runID]
	delete(a.files, runID)
	a.mu.Unlock()

	m := Manifest{
		RunID:     runID,
		Files:     files,
		CreatedAt: time.Now().UTC(),
	}
	if summary != nil {
		m.Succeeded = summary.Succeeded && runErr == nil
		for _, o := range summary.Outcomes {
			m.Outcomes = append(m.Outcomes, OutcomeInfo{
				Table:      o.Table,
				Status:     o.Status,
				RowCount:   o.RowCount,
				DryRun:     o.DryRun,
				Error:      o.ErrorText(),
				Warnings:   o.Warnings,
				DurationMS: o.Duration.Milliseconds(),
			})
		}
	}
	if runErr != nil {
		m.Error = runErr.Error()
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	contentType := "application/json"
	if a.compression == "zstd" {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		data = enc.EncodeAll(data, nil)
		enc.Close()
		contentType = "application/zstd"
	}

	key := a.ManifestKey(runID)
	if err := a.write(ctx, key, data, contentType); err != nil {
		return err
	}
	a.log.Info("wrote run manifest", "run_id", runID, "key", key, "files", len(files))
	return nil
}

// ReadManifest loads the manifest of a run.
func (a *Archive) ReadManifest(ctx context.Context, runID string) (*Manifest, error) {
	key := a.ManifestKey(runID)
	data, err := a.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	if a.compression == "zstd" {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()
		if data, err = dec.DecodeAll(data, nil); err != nil {
			return nil, fmt.Errorf("decompress %s: %w", key, err)
		}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &m, nil
}

// NewReader returns a reader for an archived object.
func (a *Archive) NewReader(ctx context.Context, key string) (io.ReadCloser, error) {
	return a.bucket.NewReader(ctx, key, nil)
}

// Close releases the bucket.
func (a *Archive) Close() error {
	return a.bucket.Close()
}

func (a *Archive) write(ctx context.Context, key string, data []byte, contentType string) error {
	w, err := a.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}
