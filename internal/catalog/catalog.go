// Package catalog records run history in PostgreSQL.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/withObsrvr/obsrvr-table-sync/internal/tablesync"
)

//go:embed schema.sql
var schemaSQL string

// Config holds catalog configuration.
type Config struct {
	DSN string
}

// Catalog writes _sync_runs and _sync_outcomes.
type Catalog struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// New connects to the catalog and creates its tables if needed.
func New(ctx context.Context, cfg Config) (*Catalog, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	poolCfg.MaxConns = 2
	poolCfg.MinConns = 0
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	c := &Catalog{pool: pool, log: slog.With("component", "catalog")}
	c.log.Info("connected to run catalog")
	return c, nil
}

// RecordRun stores a run and its outcomes in one transaction. runErr is set
// for an interrupted run.
func (c *Catalog) RecordRun(ctx context.Context, summary *tablesync.JobSummary, runErr error) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, insertRunSQL, runArgs(summary, runErr)...)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		c.log.Debug("run already recorded", "run_id", summary.RunID)
		return nil
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"_sync_outcomes"},
		outcomeColumns,
		pgx.CopyFromRows(outcomeRows(summary)),
	)
	if err != nil {
		return fmt.Errorf("copy outcomes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	c.log.Debug("recorded run", "run_id", summary.RunID, "outcomes", n)
	return nil
}

// RecordFailure stores a run that aborted before any table was processed.
func (c *Catalog) RecordFailure(ctx context.Context, runID string, runErr error) error {
	_, err := c.pool.Exec(ctx, insertFailedRunSQL, runID, time.Now().UTC(), errorText(runErr))
	if err != nil {
		return fmt.Errorf("insert failed run: %w", err)
	}
	return nil
}

// Report implements the end-of-run hook.
func (c *Catalog) Report(ctx context.Context, runID string, summary *tablesync.JobSummary, runErr error) error {
	if summary == nil {
		return c.RecordFailure(ctx, runID, runErr)
	}
	return c.RecordRun(ctx, summary, runErr)
}

// Close releases the pool.
func (c *Catalog) Close() {
	c.pool.Close()
}

const insertRunSQL = `
	INSERT INTO _sync_runs (run_id, started_at, finished_at, succeeded, tables, failed, rows_loaded, error)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (run_id) DO NOTHING
`

const insertFailedRunSQL = `
	INSERT INTO _sync_runs (run_id, finished_at, succeeded, error)
	VALUES ($1, $2, FALSE, $3)
	ON CONFLICT (run_id) DO NOTHING
`

// runArgs binds insertRunSQL.
func runArgs(summary *tablesync.JobSummary, runErr error) []any {
	return []any{
		summary.RunID,
		summary.StartedAt,
		summary.FinishedAt,
		summary.Succeeded && runErr == nil,
		int32(len(summary.Outcomes)),
		int32(len(summary.Failed())),
		summary.RowsLoaded(),
		errorText(runErr),
	}
}

var outcomeColumns = []string{
	"run_id", "position", "table_name", "status", "row_count", "dry_run", "error", "warnings", "duration_ms",
}

func outcomeRows(summary *tablesync.JobSummary) [][]any {
	rows := make([][]any, 0, len(summary.Outcomes))
	for i, o := range summary.Outcomes {
		// Untyped nil so COPY writes NULL.
		var warnings any
		if len(o.Warnings) > 0 {
			warnings = o.Warnings
		}
		rows = append(rows, []any{
			summary.RunID,
			int32(i),
			o.Table,
			string(o.Status),
			o.RowCount,
			o.DryRun,
			nullIfEmpty(o.ErrorText()),
			warnings,
			o.Duration.Milliseconds(),
		})
	}
	return rows
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// errorText maps a nil error to SQL NULL.
func errorText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
