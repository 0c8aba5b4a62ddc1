package tablesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/obsrvr-table-sync/internal/logging"
	"github.com/withObsrvr/obsrvr-table-sync/internal/registry"
)

// ErrConnection marks a source or destination session that could not be
// established. It is fatal to the run.
var ErrConnection = errors.New("connection failed")

// SourceSession is an extractor holding a connection.
type SourceSession interface {
	Extractor
	Close() error
}

// DestinationSession is a destination holding a connection.
type DestinationSession interface {
	Destination
	Close() error
}

// Reporter receives the end of every run. Exactly one of summary and runErr
// is set, except for an interrupted run which carries both.
type Reporter interface {
	Report(ctx context.Context, runID string, summary *JobSummary, runErr error) error
}

// Runner owns the two sessions for one run.
type Runner struct {
	Tables          []registry.TableSpec
	OpenSource      func(ctx context.Context) (SourceSession, error)
	OpenDestination func(ctx context.Context) (DestinationSession, error)
	Options         Options
	Observers       []LoadObserver
	Reporters       []Reporter
}

// Run opens the destination and source, syncs every table and reports the
// result. A connection failure returns an error wrapping ErrConnection and
// no summary.
func (r *Runner) Run(ctx context.Context) (*JobSummary, error) {
	runID := logging.RunID(ctx)
	if runID == "" {
		runID = logging.NewRunID()
		ctx = logging.WithRunID(ctx, runID)
	}
	log := logging.Component("runner").With("run_id", runID)

	summary, err := r.run(ctx, log)
	if err != nil {
		log.Error("run failed", "error", err)
	}

	// Reporting happens after both sessions are released.
	r.report(context.WithoutCancel(ctx), log, runID, summary, err)
	return summary, err
}

func (r *Runner) run(ctx context.Context, log *slog.Logger) (*JobSummary, error) {
	dst, err := r.OpenDestination(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: destination: %w", ErrConnection, err)
	}
	defer closeSession(log, "destination", dst)
	log.Info("destination connected")

	src, err := r.OpenSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: source: %w", ErrConnection, err)
	}
	defer closeSession(log, "source", src)
	log.Info("source connected")

	summary := NewSyncer(src, dst, r.Options, r.Observers...).RunAll(ctx, r.Tables)
	if !summary.Succeeded {
		return &summary, fmt.Errorf("run interrupted: %w", ctx.Err())
	}
	return &summary, nil
}

func (r *Runner) report(ctx context.Context, log *slog.Logger, runID string, summary *JobSummary, runErr error) {
	for _, rep := range r.Reporters {
		if err := rep.Report(ctx, runID, summary, runErr); err != nil {
			log.Warn("reporter failed", "reporter", fmt.Sprintf("%T", rep), "error", err)
		}
	}
}

func closeSession(log *slog.Logger, name string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		log.Warn("failed to close session", "session", name, "error", err)
	}
}
