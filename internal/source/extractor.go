package source

import (
	"context"
	"fmt"

	"github.com/withObsrvr/obsrvr-table-sync/internal/rowset"
)

// Extractor pulls full, unfiltered table snapshots.
type Extractor struct {
	session *Session
}

// NewExtractor creates an extractor over an open session.
func NewExtractor(s *Session) *Extractor {
	return &Extractor{session: s}
}

// Extract reads every row of table. An empty table is a valid result.
func (e *Extractor) Extract(ctx context.Context, table string) (rowset.RowSet, error) {
	query := "SELECT * FROM " + e.session.Dialect().Quote(table)
	rs, err := e.session.Query(ctx, query)
	if err != nil {
		return rowset.RowSet{}, fmt.Errorf("%w: table %s: %w", ErrExtract, table, err)
	}
	return rs, nil
}

// Close closes the underlying session.
func (e *Extractor) Close() error {
	return e.session.Close()
}
