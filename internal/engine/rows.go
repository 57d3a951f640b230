package engine

import (
	"fmt"
	"time"
)

// Row value coercers. Postgres hands back native Go types; SQLite hands back
// integers for booleans and text for timestamps, so every accessor tolerates
// both shapes.

func rowString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func rowBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t == "true" || t == "1"
	}
	return false
}

func rowInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	case float64:
		return int(t)
	}
	return 0
}

// rowTime parses a timestamp column. SQLite stores text in either the
// datetime('now') format or RFC 3339 depending on how the value was written.
func rowTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04:05.999999999-07:00"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

func rowTimePtr(v any) *time.Time {
	if v == nil {
		return nil
	}
	t := rowTime(v)
	if t.IsZero() {
		return nil
	}
	return &t
}

// nilIfEmpty maps empty strings to SQL NULL.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
