package tablesync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/withObsrvr/obsrvr-table-sync/internal/rowset"
	"github.com/withObsrvr/obsrvr-table-sync/internal/source"
	"github.com/withObsrvr/obsrvr-table-sync/internal/warehouse"
)

// fakeSource implements SourceSession over in-memory tables.
type fakeSource struct {
	tables map[string]rowset.RowSet
	errs   map[string]error

	// failFirst makes the first n extracts of a table fail.
	failFirst map[string]int

	mu     sync.Mutex
	calls  map[string]int
	closed bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		tables:    make(map[string]rowset.RowSet),
		errs:      make(map[string]error),
		failFirst: make(map[string]int),
		calls:     make(map[string]int),
	}
}

func (f *fakeSource) Extract(ctx context.Context, table string) (rowset.RowSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[table]++

	if err := f.errs[table]; err != nil {
		return rowset.RowSet{}, fmt.Errorf("%w: %w", source.ErrExtract, err)
	}
	if f.calls[table] <= f.failFirst[table] {
		return rowset.RowSet{}, fmt.Errorf("%w: transient", source.ErrExtract)
	}
	rs, ok := f.tables[table]
	if !ok {
		return rowset.RowSet{}, fmt.Errorf("%w: no such table %s", source.ErrExtract, table)
	}
	return rs, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeDestination implements DestinationSession over in-memory tables.
type fakeDestination struct {
	tables map[string]rowset.RowSet

	existsErr map[string]error
	keysErr   map[string]error
	loadErr   map[string]error

	// countOffset skews CountRows to simulate a lossy load.
	countOffset int64

	mu     sync.Mutex
	calls  []string
	closed bool
}

func newFakeDestination() *fakeDestination {
	return &fakeDestination{
		tables:    make(map[string]rowset.RowSet),
		existsErr: make(map[string]error),
		keysErr:   make(map[string]error),
		loadErr:   make(map[string]error),
	}
}

func (f *fakeDestination) record(op, table string) {
	f.calls = append(f.calls, op+":"+table)
}

func (f *fakeDestination) Exists(ctx context.Context, table string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("exists", table)
	if err := f.existsErr[table]; err != nil {
		return false, fmt.Errorf("%w: %w", warehouse.ErrProbeAmbiguous, err)
	}
	_, ok := f.tables[table]
	return ok, nil
}

func (f *fakeDestination) FetchKeys(ctx context.Context, table, column string) (rowset.KeySet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("keys", table)
	if err := f.keysErr[table]; err != nil {
		return nil, fmt.Errorf("%w: %w", warehouse.ErrKeyFetch, err)
	}
	rs := f.tables[table]
	idx := rs.ColumnIndex(column)
	if idx < 0 {
		return nil, fmt.Errorf("%w: no column %s", warehouse.ErrKeyFetch, column)
	}
	keys := rowset.NewKeySet()
	for _, row := range rs.Rows {
		keys.Add(row[idx])
	}
	return keys, nil
}

func (f *fakeDestination) CreateFromRows(ctx context.Context, table string, rows rowset.RowSet) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create", table)
	if err := f.loadErr[table]; err != nil {
		return 0, fmt.Errorf("%w: %w", warehouse.ErrLoad, err)
	}
	if _, ok := f.tables[table]; ok {
		return 0, fmt.Errorf("%w: table %s already exists", warehouse.ErrLoad, table)
	}
	f.tables[table] = rowset.RowSet{
		Columns: append([]string(nil), rows.Columns...),
		Rows:    append([][]any(nil), rows.Rows...),
	}
	return int64(rows.Len()), nil
}

func (f *fakeDestination) AppendRows(ctx context.Context, table string, rows rowset.RowSet) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("append", table)
	if err := f.loadErr[table]; err != nil {
		return 0, fmt.Errorf("%w: %w", warehouse.ErrLoad, err)
	}
	rs, ok := f.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: no table %s", warehouse.ErrLoad, table)
	}
	rs.Rows = append(rs.Rows, rows.Rows...)
	f.tables[table] = rs
	return int64(rows.Len()), nil
}

func (f *fakeDestination) CountRows(ctx context.Context, table string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs, ok := f.tables[table]
	if !ok {
		return 0, errors.New("no such table")
	}
	return int64(rs.Len()) + f.countOffset, nil
}

func (f *fakeDestination) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeDestination) callsFor(table string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if len(c) > len(table) && c[len(c)-len(table)-1:] == ":"+table {
			out = append(out, c)
		}
	}
	return out
}

// recordingObserver captures loaded row sets.
type recordingObserver struct {
	mu     sync.Mutex
	loaded map[string]int
	err    error
}

func (r *recordingObserver) Loaded(ctx context.Context, runID, table string, status Status, rows rowset.RowSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded == nil {
		r.loaded = make(map[string]int)
	}
	r.loaded[table] += rows.Len()
	return r.err
}

// recordingReporter captures reports and whether sessions were closed at
// report time.
type recordingReporter struct {
	reports   int
	runID     string
	summary   *JobSummary
	runErr    error
	srcClosed bool
	dstClosed bool
	src       *fakeSource
	dst       *fakeDestination
}

func (r *recordingReporter) Report(ctx context.Context, runID string, summary *JobSummary, runErr error) error {
	r.reports++
	r.runID = runID
	r.summary = summary
	r.runErr = runErr
	if r.src != nil {
		r.srcClosed = r.src.closed
	}
	if r.dst != nil {
		r.dstClosed = r.dst.closed
	}
	return nil
}

func orderRows(ids ...int64) rowset.RowSet {
	rs := rowset.RowSet{Columns: []string{"id", "customer"}}
	for _, id := range ids {
		rs.Rows = append(rs.Rows, []any{id, fmt.Sprintf("customer-%d", id)})
	}
	return rs
}
