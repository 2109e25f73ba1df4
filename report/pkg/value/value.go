// Package value coerces the dynamically typed cells of query results.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/shopspring/decimal"

	"github.com/malbeclabs/dashboards/report/pkg/settings"
)

// Deref unwraps pointer values, returning nil for nil pointers. Nullable
// columns scanned from ClickHouse arrive as pointers.
func Deref(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

// String formats a cell for display and comparison.
func String(v any) string {
	switch val := Deref(v).(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int, int8, int16, int32, int64:
		return fmt.Sprintf("%d", val)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case json.Number:
		return val.String()
	case decimal.Decimal:
		return val.String()
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format(settings.DateLayout)
		}
		return val.Format(time.RFC3339)
	case []any:
		parts := make([]string, len(val))
		for i, p := range val {
			parts[i] = String(p)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Float parses a cell as a finite number. Strings must be numeric in full.
func Float(v any) (float64, bool) {
	var f float64
	switch val := Deref(v).(type) {
	case nil, bool:
		return 0, false
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int8:
		f = float64(val)
	case int16:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case uint:
		f = float64(val)
	case uint8:
		f = float64(val)
	case uint16:
		f = float64(val)
	case uint32:
		f = float64(val)
	case uint64:
		f = float64(val)
	case decimal.Decimal:
		f = val.InexactFloat64()
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// IsEmpty reports whether a cell holds no value at all.
func IsEmpty(v any) bool {
	switch val := Deref(v).(type) {
	case nil:
		return true
	case string:
		return val == ""
	}
	return false
}

// Time parses a cell as a point in time. Strings are parsed in UTC with
// dateparse so both "2024-03-04" and "2024-03-04 10:00:00" are accepted.
func Time(v any) (time.Time, bool) {
	switch val := Deref(v).(type) {
	case time.Time:
		return val, true
	case string:
		if strings.TrimSpace(val) == "" {
			return time.Time{}, false
		}
		t, err := dateparse.ParseIn(val, time.UTC)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Compare orders two cells case-insensitively, numerically when both parse
// as numbers and lexicographically otherwise. Nil sorts as the empty string.
func Compare(a, b any) int {
	af, aok := Float(a)
	bf, bok := Float(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(strings.ToLower(String(a)), strings.ToLower(String(b)))
}

// Sanitize replaces NaN and Inf floats with nil so rows stay JSON safe.
func Sanitize(rows []map[string]any) {
	for _, row := range rows {
		for key, val := range row {
			if f, ok := val.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
				row[key] = nil
			}
		}
	}
}
