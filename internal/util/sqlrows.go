package util

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/withObsrvr/obsrvr-table-sync/internal/rowset"
)

// ScanRowSet drains rows into a RowSet, normalizing every value with the
// column's reported database type. rows is closed on return.
func ScanRowSet(rows *sql.Rows) (rowset.RowSet, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return rowset.RowSet{}, fmt.Errorf("read columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return rowset.RowSet{}, fmt.Errorf("read column types: %w", err)
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return rowset.RowSet{}, fmt.Errorf("scan row %d: %w", len(out), err)
		}
		for i := range vals {
			vals[i] = Normalize(vals[i], types[i].DatabaseTypeName())
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return rowset.RowSet{}, fmt.Errorf("iterate rows: %w", err)
	}
	return rowset.New(cols, out)
}

// Normalize maps a driver value onto the small set of types the loader
// knows how to stage: nil, int64, float64, bool, string, []byte, time.Time.
//
// Text-protocol drivers hand back []byte for every column; dbType decides
// whether those bytes are an integer, a float, binary data or text.
// DECIMAL stays a string so no precision is lost.
func Normalize(v any, dbType string) any {
	switch x := v.(type) {
	case nil, int64, float64, bool, string, time.Time:
		return x
	case []byte:
		return normalizeBytes(x, dbType)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		return normalizeUint(uint64(x))
	case uint64:
		return normalizeUint(x)
	case float32:
		return float64(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func normalizeUint(u uint64) any {
	if u > math.MaxInt64 {
		return strconv.FormatUint(u, 10)
	}
	return int64(u)
}

func normalizeBytes(b []byte, dbType string) any {
	t := strings.TrimPrefix(strings.ToUpper(dbType), "UNSIGNED ")
	switch {
	case binaryTypes[t]:
		return append([]byte(nil), b...)
	case integerTypes[t]:
		if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n
		}
		return string(b)
	case floatTypes[t]:
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
		return string(b)
	default:
		return string(b)
	}
}

var (
	integerTypes = map[string]bool{
		"TINYINT": true, "SMALLINT": true, "MEDIUMINT": true, "INT": true,
		"INTEGER": true, "BIGINT": true, "YEAR": true, "INT2": true,
		"INT4": true, "INT8": true,
	}
	floatTypes = map[string]bool{
		"FLOAT": true, "DOUBLE": true, "REAL": true, "FLOAT4": true, "FLOAT8": true,
	}
	binaryTypes = map[string]bool{
		"BLOB": true, "TINYBLOB": true, "MEDIUMBLOB": true, "LONGBLOB": true,
		"BINARY": true, "VARBINARY": true, "BYTEA": true, "BIT": true,
		"GEOMETRY": true,
	}
)
