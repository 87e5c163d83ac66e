package replica

import (
	"fmt"
	"reflect"
	"strconv"
)

// CloneValue deep-copies a column value
func CloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = CloneValue(e)
		}
		return out
	}
	return v
}

// CloneRow deep-copies a row
func CloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = CloneValue(v)
	}
	return out
}

// IsEmpty reports whether a value holds no instances
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// EqualValue compares two column values, treating all empty values as equal
func EqualValue(a, b any) bool {
	if IsEmpty(a) || IsEmpty(b) {
		return IsEmpty(a) && IsEmpty(b)
	}
	return reflect.DeepEqual(a, b)
}

// EqualRow compares two rows column by column
func EqualRow(a, b map[string]any) bool {
	for k, v := range a {
		if !EqualValue(v, b[k]) {
			return false
		}
	}
	for k, v := range b {
		if _, ok := a[k]; !ok && !IsEmpty(v) {
			return false
		}
	}
	return true
}

// FormatAtom renders a scalar value the way it appears in an index URI segment
func FormatAtom(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}
