package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/withObsrvr/obsrvr-table-sync/internal/tablesync"
)

// FormatSummary renders a completed run with one line per table.
func FormatSummary(s *tablesync.JobSummary) string {
	var b strings.Builder

	state := "completed"
	if !s.Succeeded {
		state = "interrupted"
	}
	counts := s.Counts()
	fmt.Fprintf(&b, "table-sync run %s %s in %s: %d tables, %d created, %d appended, %d failed, %d rows loaded\n",
		s.RunID, state, s.Duration().Round(time.Millisecond), len(s.Outcomes),
		counts[tablesync.Created], counts[tablesync.Appended], len(s.Failed()), s.RowsLoaded())

	for _, o := range s.Outcomes {
		fmt.Fprintf(&b, "- %s: %s", o.Table, o.Status)
		if o.Status.Loaded() {
			fmt.Fprintf(&b, " (%d rows)", o.RowCount)
		}
		if o.DryRun {
			b.WriteString(" [dry run]")
		}
		if o.Err != nil {
			fmt.Fprintf(&b, ": %v", o.Err)
		}
		for _, w := range o.Warnings {
			fmt.Fprintf(&b, " (warning: %s)", w)
		}
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// FormatFailure renders a run that aborted before producing a summary.
func FormatFailure(runID string, err error) string {
	return fmt.Sprintf("table-sync run %s failed: %v", runID, err)
}

// Reporter adapts a Dispatcher to the end-of-run hook.
type Reporter struct {
	Dispatcher Dispatcher
}

// Report sends the summary when there is one, otherwise the failure.
func (r Reporter) Report(ctx context.Context, runID string, summary *tablesync.JobSummary, runErr error) error {
	var msg string
	switch {
	case summary != nil:
		msg = FormatSummary(summary)
	case runErr != nil:
		msg = FormatFailure(runID, runErr)
	default:
		return errors.New("nothing to report")
	}

	if !r.Dispatcher.Notify(ctx, msg) {
		return errors.New("alert not delivered")
	}
	return nil
}
