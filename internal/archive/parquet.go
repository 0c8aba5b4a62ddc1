package archive

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/obsrvr-table-sync/internal/rowset"
)

// encodeParquet writes rows as a single parquet file with one optional
// column per source column.
func encodeParquet(table string, rows rowset.RowSet) ([]byte, error) {
	kinds := rows.ColumnKinds()

	group := make(parquet.Group, len(rows.Columns))
	for j, name := range rows.Columns {
		group[name] = parquet.Optional(parquetNode(kinds[j]))
	}
	if len(group) != len(rows.Columns) {
		return nil, fmt.Errorf("table %s has duplicate column names", table)
	}
	schema := parquet.NewSchema(table, group)

	// Group fields are laid out in name order.
	order := make([]int, len(rows.Columns))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return rows.Columns[order[a]] < rows.Columns[order[b]]
	})

	var buf bytes.Buffer
	w := parquet.NewWriter(&buf, schema, parquet.Compression(&parquet.Zstd))

	batch := make([]parquet.Row, 0, 1024)
	for _, src := range rows.Rows {
		row := make(parquet.Row, len(order))
		for col, j := range order {
			row[col] = parquetValue(src[j], kinds[j]).Level(0, definitionLevel(src[j]), col)
		}
		batch = append(batch, row)
		if len(batch) == cap(batch) {
			if _, err := w.WriteRows(batch); err != nil {
				return nil, fmt.Errorf("write rows: %w", err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if _, err := w.WriteRows(batch); err != nil {
			return nil, fmt.Errorf("write rows: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func parquetNode(k rowset.Kind) parquet.Node {
	switch k {
	case rowset.KindInt:
		return parquet.Int(64)
	case rowset.KindFloat:
		return parquet.Leaf(parquet.DoubleType)
	case rowset.KindBool:
		return parquet.Leaf(parquet.BooleanType)
	case rowset.KindBytes:
		return parquet.Leaf(parquet.ByteArrayType)
	case rowset.KindTime:
		return parquet.Timestamp(parquet.Microsecond)
	default:
		return parquet.String()
	}
}

func definitionLevel(v any) int {
	if v == nil {
		return 0
	}
	return 1
}

func parquetValue(v any, k rowset.Kind) parquet.Value {
	v = rowset.Coerce(v, k)
	switch x := v.(type) {
	case nil:
		return parquet.NullValue()
	case int64:
		return parquet.Int64Value(x)
	case float64:
		return parquet.DoubleValue(x)
	case bool:
		return parquet.BooleanValue(x)
	case []byte:
		return parquet.ByteArrayValue(x)
	case time.Time:
		return parquet.Int64Value(x.UnixMicro())
	case string:
		return parquet.ByteArrayValue([]byte(x))
	default:
		return parquet.ByteArrayValue([]byte(fmt.Sprint(x)))
	}
}
