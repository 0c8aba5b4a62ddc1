package rowset

import (
	"fmt"
	"time"
)

// Kind is the storage class of a normalized value.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindBytes
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTime:
		return "time"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindOf classifies a normalized value. Anything unrecognized is a string.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case int64:
		return KindInt
	case float64:
		return KindFloat
	case bool:
		return KindBool
	case []byte:
		return KindBytes
	case time.Time:
		return KindTime
	default:
		return KindString
	}
}

// ColumnKinds picks one kind per column from the values present. Mixed int
// and float columns widen to float, any other mix and all-null columns
// become string.
func (r RowSet) ColumnKinds() []Kind {
	kinds := make([]Kind, len(r.Columns))
	for j := range r.Columns {
		kinds[j] = r.ColumnKind(j)
	}
	return kinds
}

// ColumnKind is ColumnKinds for the j-th column alone.
func (r RowSet) ColumnKind(j int) Kind {
	k := KindNull
	for _, row := range r.Rows {
		if j < len(row) {
			k = widen(k, KindOf(row[j]))
		}
	}
	if k == KindNull {
		return KindString
	}
	return k
}

func widen(cur, next Kind) Kind {
	switch {
	case next == KindNull || cur == next:
		return cur
	case cur == KindNull:
		return next
	case (cur == KindInt && next == KindFloat) || (cur == KindFloat && next == KindInt):
		return KindFloat
	default:
		return KindString
	}
}

// Coerce converts a normalized value to kind k. Nil stays nil.
func Coerce(v any, k Kind) any {
	if v == nil {
		return nil
	}
	switch k {
	case KindFloat:
		if n, ok := v.(int64); ok {
			return float64(n)
		}
	case KindString:
		switch x := v.(type) {
		case string:
			return x
		case []byte:
			return string(x)
		case time.Time:
			return x.Format(time.RFC3339Nano)
		default:
			return fmt.Sprint(x)
		}
	}
	return v
}
