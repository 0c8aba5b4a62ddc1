package rowset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// KeySet is the set of identity values resident at the destination.
// Membership is by canonical key, so an int64 read from the source matches
// an int32 read back from the destination.
type KeySet map[string]struct{}

// NewKeySet builds a set from raw values.
func NewKeySet(values ...any) KeySet {
	ks := make(KeySet, len(values))
	for _, v := range values {
		ks.Add(v)
	}
	return ks
}

// Add inserts a raw value.
func (k KeySet) Add(v any) {
	k[Key(v)] = struct{}{}
}

// Contains reports whether a raw value is a member.
func (k KeySet) Contains(v any) bool {
	_, ok := k[Key(v)]
	return ok
}

// Len returns the number of distinct keys.
func (k KeySet) Len() int {
	return len(k)
}

// Key canonicalizes an identity value.
//
// Destinations do not always read a key back in the type it was written
// with: SQLite returns TIMESTAMP columns as text and an id column staged as
// VARCHAR returns decimal strings. Strings holding a canonical integer or a
// timestamp therefore share the integer and time keyspaces.
func Key(v any) string {
	switch x := v.(type) {
	case nil:
		return "n:"
	case int:
		return "i:" + strconv.FormatInt(int64(x), 10)
	case int8:
		return "i:" + strconv.FormatInt(int64(x), 10)
	case int16:
		return "i:" + strconv.FormatInt(int64(x), 10)
	case int32:
		return "i:" + strconv.FormatInt(int64(x), 10)
	case int64:
		return "i:" + strconv.FormatInt(x, 10)
	case uint:
		return "i:" + strconv.FormatUint(uint64(x), 10)
	case uint8:
		return "i:" + strconv.FormatUint(uint64(x), 10)
	case uint16:
		return "i:" + strconv.FormatUint(uint64(x), 10)
	case uint32:
		return "i:" + strconv.FormatUint(uint64(x), 10)
	case uint64:
		return "i:" + strconv.FormatUint(x, 10)
	case float32:
		return floatKey(float64(x))
	case float64:
		return floatKey(x)
	case bool:
		return "b:" + strconv.FormatBool(x)
	case string:
		return stringKey(x)
	case []byte:
		return stringKey(string(x))
	case time.Time:
		return "t:" + x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return "s:" + x.String()
	default:
		return "v:" + fmt.Sprint(x)
	}
}

// floatKey folds integral floats onto the integer keyspace.
func floatKey(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return "i:" + strconv.FormatInt(int64(f), 10)
	}
	return "f:" + strconv.FormatFloat(f, 'g', -1, 64)
}

func stringKey(s string) string {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
		return "i:" + s
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil && strconv.FormatUint(n, 10) == s {
		return "i:" + s
	}
	if t, ok := parseTimestamp(s); ok {
		return "t:" + t.UTC().Format(time.RFC3339Nano)
	}
	return "s:" + s
}

// timestampLayouts covers RFC 3339, the SQL literal forms and time.Time's
// String output, which is how the SQLite driver writes times by default.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, bool) {
	if len(s) < 19 || s[4] != '-' || s[7] != '-' {
		return time.Time{}, false
	}
	if i := strings.Index(s, " m="); i > 0 {
		s = s[:i]
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
