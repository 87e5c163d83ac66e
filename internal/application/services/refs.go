package services

import "sort"

// Reference columns are stored as a UUID string (singular), a list of UUID
// strings (plural) or a map of canonical key → UUID string (key-valued).

// refMembers returns the UUIDs held by a reference column value
func refMembers(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]string, 0, len(t))
		for _, k := range keys {
			if s, ok := t[k].(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// refContains reports whether a reference column value holds id
func refContains(v any, id string) bool {
	for _, m := range refMembers(v) {
		if m == id {
			return true
		}
	}
	return false
}

// refKey returns the key under which a key-valued reference holds id
func refKey(v any, id string) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	for k, e := range m {
		if e == id {
			return k, true
		}
	}
	return "", false
}

// refWithout returns a copy of a reference column value without ids. A singular
// reference to a removed id becomes nil.
func refWithout(v any, ids map[string]bool) (any, bool) {
	switch t := v.(type) {
	case string:
		if ids[t] {
			return nil, true
		}
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && ids[s] {
				continue
			}
			out = append(out, e)
		}
		if len(out) != len(t) {
			return out, true
		}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if s, ok := e.(string); ok && ids[s] {
				continue
			}
			out[k] = e
		}
		if len(out) != len(t) {
			return out, true
		}
	}
	return v, false
}

// refWith returns a copy of a plural reference value with id appended
func refWith(v any, id string) []any {
	list, _ := v.([]any)
	out := make([]any, 0, len(list)+1)
	out = append(out, list...)
	return append(out, id)
}
