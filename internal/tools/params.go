package tools

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

func stringParam(params map[string]any, key string, required bool) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		if required {
			return "", invalid("missing required param %q", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid("param %q must be a string, got %T", key, v)
	}
	if required && s == "" {
		return "", invalid("param %q must not be empty", key)
	}
	return s, nil
}

func intParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, invalid("param %q must be an integer, got %v", key, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, invalid("param %q must be an integer: %v", key, err)
		}
		return i, nil
	default:
		return 0, invalid("param %q must be an integer, got %T", key, v)
	}
}

func stringsParam(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, invalid("param %q[%d] must be a string, got %T", key, i, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, invalid("param %q must be a list of strings, got %T", key, v)
	}
}

func stringMapParam(params map[string]any, key string) (map[string]string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case map[string]string:
		return t, nil
	case map[string]any:
		out := make(map[string]string, len(t))
		for k, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, invalid("param %q.%s must be a string, got %T", key, k, e)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, invalid("param %q must be an object of strings, got %T", key, v)
	}
}

// rowsParam accepts a list of objects, the shape load_local and sql_query
// return under "rows".
func rowsParam(params map[string]any, key string) ([]map[string]any, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, invalid("missing required param %q", key)
	}
	switch t := v.(type) {
	case []map[string]any:
		return t, nil
	case []any:
		out := make([]map[string]any, 0, len(t))
		for i, e := range t {
			row, ok := e.(map[string]any)
			if !ok {
				return nil, invalid("param %q[%d] must be an object, got %T", key, i, e)
			}
			out = append(out, row)
		}
		return out, nil
	case map[string]any:
		// a whole tool output passed by reference, e.g. $(.step_1)
		if inner, ok := t["rows"]; ok {
			return rowsParam(map[string]any{key: inner}, key)
		}
	}
	return nil, invalid("param %q must be a list of objects, got %T", key, v)
}

// toFloat converts a cell to a number. Numeric strings count.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		return 0, false
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// columnsOf lists the keys of rows in first-seen order.
func columnsOf(rows []map[string]any, ordered []string) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, c := range ordered {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			cols = append(cols, c)
		}
	}
	for _, row := range rows {
		var extra []string
		for k := range row {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				extra = append(extra, k)
			}
		}
		sort.Strings(extra)
		cols = append(cols, extra...)
	}
	return cols
}
