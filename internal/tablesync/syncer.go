// Package tablesync drives the per-table synchronization state machine:
// extract, probe, then create or diff and append.
package tablesync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/withObsrvr/obsrvr-table-sync/internal/logging"
	"github.com/withObsrvr/obsrvr-table-sync/internal/registry"
	"github.com/withObsrvr/obsrvr-table-sync/internal/rowset"
)

// Extractor reads full table snapshots from the source.
type Extractor interface {
	Extract(ctx context.Context, table string) (rowset.RowSet, error)
}

// Destination is the analytical store being kept in sync.
type Destination interface {
	Exists(ctx context.Context, table string) (bool, error)
	FetchKeys(ctx context.Context, table, column string) (rowset.KeySet, error)
	CreateFromRows(ctx context.Context, table string, rows rowset.RowSet) (int64, error)
	AppendRows(ctx context.Context, table string, rows rowset.RowSet) (int64, error)
	CountRows(ctx context.Context, table string) (int64, error)
}

// LoadObserver is told about every row set written to the destination.
type LoadObserver interface {
	Loaded(ctx context.Context, runID, table string, status Status, rows rowset.RowSet) error
}

// Options tunes a Syncer. The zero value runs each stage once and loads.
type Options struct {
	// ReadRetries retries extract, probe and key fetch. Loads are never
	// retried.
	ReadRetries  int
	RetryBackoff time.Duration

	// VerifyCounts compares the destination row count with the loaded
	// count after a create.
	VerifyCounts bool

	// DryRun stops before any load.
	DryRun bool
}

// Syncer runs tables one at a time against one source and one destination.
type Syncer struct {
	src       Extractor
	dst       Destination
	opts      Options
	observers []LoadObserver
	log       *slog.Logger
}

// NewSyncer creates a syncer over open sessions.
func NewSyncer(src Extractor, dst Destination, opts Options, observers ...LoadObserver) *Syncer {
	return &Syncer{
		src:       src,
		dst:       dst,
		opts:      opts,
		observers: observers,
		log:       logging.Component("tablesync"),
	}
}

// RunAll synchronizes every table in order and returns exactly one outcome
// per table. If ctx is cancelled the remaining tables are recorded as
// FetchFailed and the summary is marked unsucceeded. A cancellation after
// the last table started leaves the run succeeded.
func (s *Syncer) RunAll(ctx context.Context, tables []registry.TableSpec) JobSummary {
	summary := JobSummary{
		RunID:     logging.RunID(ctx),
		StartedAt: time.Now().UTC(),
		Outcomes:  make([]Outcome, 0, len(tables)),
	}

	s.log.Info("starting run", "run_id", summary.RunID, "tables", len(tables), "dry_run", s.opts.DryRun)

	skipped := 0
	for _, spec := range tables {
		if err := ctx.Err(); err != nil {
			skipped++
			summary.Outcomes = append(summary.Outcomes, Outcome{
				Table:  spec.Name,
				Status: FetchFailed,
				Err:    fmt.Errorf("run interrupted: %w", err),
			})
			continue
		}
		summary.Outcomes = append(summary.Outcomes, s.SyncTable(ctx, spec))
	}

	summary.FinishedAt = time.Now().UTC()
	summary.Succeeded = skipped == 0

	counts := summary.Counts()
	s.log.Info("run complete",
		"run_id", summary.RunID,
		"tables", len(summary.Outcomes),
		"created", counts[Created],
		"appended", counts[Appended],
		"failed", len(summary.Failed()),
		"rows_loaded", summary.RowsLoaded(),
		"duration", summary.Duration().String(),
	)
	return summary
}

// SyncTable takes one table through the state machine.
func (s *Syncer) SyncTable(ctx context.Context, spec registry.TableSpec) Outcome {
	log := logging.TableLogger(logging.RunID(ctx), spec.Name)
	start := time.Now()

	out := s.syncTable(ctx, log, spec)
	out.Table = spec.Name
	out.DryRun = s.opts.DryRun && out.Status.Loaded()
	out.Duration = time.Since(start)

	attrs := []any{"status", out.Status, "rows", out.RowCount, "duration", out.Duration.String()}
	switch {
	case out.Status.Failed():
		log.Warn("table failed", append(attrs, "error", out.Err)...)
	case out.DryRun:
		log.Info("table would be loaded", attrs...)
	default:
		log.Info("table synced", attrs...)
	}
	return out
}

func (s *Syncer) syncTable(ctx context.Context, log *slog.Logger, spec registry.TableSpec) Outcome {
	rows, err := s.Extract(ctx, log, spec.Name)
	if err != nil {
		return Outcome{Status: FetchFailed, Err: err}
	}
	if rows.Empty() {
		return Outcome{Status: SkippedEmpty}
	}
	log.Debug("extracted rows", "rows", rows.Len())

	exists, err := s.Probe(ctx, log, spec.Name)
	if err != nil {
		return Outcome{Status: ProbeAmbiguous, Err: err}
	}

	if !exists {
		return s.Create(ctx, log, spec.Name, rows)
	}

	if !spec.HasIdentity() || !rows.HasColumn(spec.IdentityColumn) {
		log.Debug("no identity column, skipping incremental sync", "identity_column", spec.IdentityColumn)
		return Outcome{Status: SkippedNoKey}
	}

	fresh, err := s.NewRows(ctx, log, spec, rows)
	if err != nil {
		return Outcome{Status: DiffFailed, Err: err}
	}
	if fresh.Empty() {
		return Outcome{Status: NoNewRows}
	}

	return s.Append(ctx, log, spec.Name, fresh)
}

// Extract reads the source snapshot, retrying when configured.
func (s *Syncer) Extract(ctx context.Context, log *slog.Logger, table string) (rowset.RowSet, error) {
	return retryRead(ctx, s, log, "extract", func() (rowset.RowSet, error) {
		return s.src.Extract(ctx, table)
	})
}

// Probe determines whether table exists at the destination.
func (s *Syncer) Probe(ctx context.Context, log *slog.Logger, table string) (bool, error) {
	return retryRead(ctx, s, log, "probe", func() (bool, error) {
		return s.dst.Exists(ctx, table)
	})
}

// NewRows fetches the destination keys and returns the source rows whose
// identity value is not among them.
func (s *Syncer) NewRows(ctx context.Context, log *slog.Logger, spec registry.TableSpec, rows rowset.RowSet) (rowset.RowSet, error) {
	existing, err := retryRead(ctx, s, log, "fetch_keys", func() (rowset.KeySet, error) {
		return s.dst.FetchKeys(ctx, spec.Name, spec.IdentityColumn)
	})
	if err != nil {
		return rowset.RowSet{}, err
	}

	fresh, err := rowset.Diff(rows, spec.IdentityColumn, existing)
	if err != nil {
		return rowset.RowSet{}, err
	}
	log.Debug("computed diff", "source_rows", rows.Len(), "existing_keys", existing.Len(), "new_rows", fresh.Len())
	return fresh, nil
}

// Create materializes an absent table from the full snapshot.
func (s *Syncer) Create(ctx context.Context, log *slog.Logger, table string, rows rowset.RowSet) Outcome {
	if s.opts.DryRun {
		return Outcome{Status: Created, RowCount: int64(rows.Len())}
	}

	n, err := s.dst.CreateFromRows(ctx, table, rows)
	if err != nil {
		return Outcome{Status: CreateFailed, Err: err}
	}

	out := Outcome{Status: Created, RowCount: n}
	if s.opts.VerifyCounts {
		out.Warnings = s.verifyCount(ctx, log, table, n)
	}
	s.notifyLoaded(ctx, log, table, Created, rows)
	return out
}

// Append inserts exactly the new rows into an existing table.
func (s *Syncer) Append(ctx context.Context, log *slog.Logger, table string, fresh rowset.RowSet) Outcome {
	if s.opts.DryRun {
		return Outcome{Status: Appended, RowCount: int64(fresh.Len())}
	}

	n, err := s.dst.AppendRows(ctx, table, fresh)
	if err != nil {
		return Outcome{Status: AppendFailed, Err: err}
	}

	s.notifyLoaded(ctx, log, table, Appended, fresh)
	return Outcome{Status: Appended, RowCount: n}
}

func (s *Syncer) verifyCount(ctx context.Context, log *slog.Logger, table string, loaded int64) []string {
	count, err := s.dst.CountRows(ctx, table)
	if err != nil {
		log.Warn("row count verification failed", "error", err)
		return []string{fmt.Sprintf("count verification failed: %v", err)}
	}
	if count != loaded {
		log.Warn("row count mismatch", "loaded", loaded, "destination", count)
		return []string{fmt.Sprintf("row count mismatch: loaded %d, destination has %d", loaded, count)}
	}
	return nil
}

func (s *Syncer) notifyLoaded(ctx context.Context, log *slog.Logger, table string, status Status, rows rowset.RowSet) {
	runID := logging.RunID(ctx)
	for _, o := range s.observers {
		if err := o.Loaded(ctx, runID, table, status, rows); err != nil {
			log.Warn("load observer failed", "error", err)
		}
	}
}

// retryRead runs a read-only stage, retrying with exponential backoff when
// ReadRetries is set.
func retryRead[T any](ctx context.Context, s *Syncer, log *slog.Logger, stage string, op func() (T, error)) (T, error) {
	if s.opts.ReadRetries <= 0 {
		return op()
	}

	eb := backoff.NewExponentialBackOff()
	if s.opts.RetryBackoff > 0 {
		eb.InitialInterval = s.opts.RetryBackoff
	}
	eb.MaxElapsedTime = 0
	eb.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.opts.ReadRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		log.Warn("retrying read", "stage", stage, "error", err, "backoff", wait.String())
	}
	return backoff.RetryNotifyWithData(op, b, notify)
}
