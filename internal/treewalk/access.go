package treewalk

import (
	"fmt"
	"strconv"
)

// Map returns m[key] as a map, or nil.
func Map(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

// Path follows nested map keys, returning nil as soon as one is missing.
func Path(m map[string]any, keys ...string) map[string]any {
	cur := m
	for _, k := range keys {
		cur = Map(cur, k)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// List returns m[key] as a list, or nil.
func List(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	v, _ := m[key].([]any)
	return v
}

// String returns m[key] when it is a scalar, formatted as a string.
func String(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case nil:
		return ""
	case map[string]any, []any:
		return ""
	default:
		return toString(v)
	}
}

// Strings returns m[key] as a list of strings. A lone string is returned as
// a single-element list; "null" and empty values are dropped.
func Strings(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case string:
		if v == "" || v == "null" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s := toString(item)
			if s != "" && s != "null" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Bool returns m[key] as a bool, accepting "true"/"false" strings.
func Bool(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}
