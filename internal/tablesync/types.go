package tablesync

import (
	"time"
)

// Status is the terminal state of one table in one run.
type Status string

const (
	Created        Status = "created"
	Appended       Status = "appended"
	NoNewRows      Status = "no_new_rows"
	SkippedEmpty   Status = "skipped_empty"
	SkippedNoKey   Status = "skipped_no_key"
	FetchFailed    Status = "fetch_failed"
	ProbeAmbiguous Status = "probe_ambiguous"
	DiffFailed     Status = "diff_failed"
	CreateFailed   Status = "create_failed"
	AppendFailed   Status = "append_failed"
)

// Failed reports whether the status is a per-table failure.
func (s Status) Failed() bool {
	switch s {
	case FetchFailed, ProbeAmbiguous, DiffFailed, CreateFailed, AppendFailed:
		return true
	}
	return false
}

// Loaded reports whether rows were written to the destination.
func (s Status) Loaded() bool {
	return s == Created || s == Appended
}

// Outcome is the result of synchronizing one table.
type Outcome struct {
	Table    string
	Status   Status
	RowCount int64 // rows created or appended
	Err      error
	Duration time.Duration
	Warnings []string
	DryRun   bool
}

// ErrorText returns the failure detail, or "".
func (o Outcome) ErrorText() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// JobSummary collects the outcomes of one run in registry order.
type JobSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome

	// Succeeded is true when the run iterated every table. Per-table
	// failures do not clear it.
	Succeeded bool
}

// Failed returns the outcomes with a failure status.
func (s *JobSummary) Failed() []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.Status.Failed() {
			out = append(out, o)
		}
	}
	return out
}

// Counts tallies outcomes by status.
func (s *JobSummary) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, o := range s.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// RowsLoaded sums the rows written across all tables.
func (s *JobSummary) RowsLoaded() int64 {
	var n int64
	for _, o := range s.Outcomes {
		if o.Status.Loaded() && !o.DryRun {
			n += o.RowCount
		}
	}
	return n
}

// Duration is the wall time of the run.
func (s *JobSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
