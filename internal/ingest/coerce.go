package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Coercion helpers. Every field is coerced independently: a malformed value
// becomes nil (or an empty list) rather than failing the record or the batch.

// parseTimestamp parses an ISO-8601 timestamp, accepting a trailing literal Z
// as the UTC offset. Unparsable or absent values yield nil.
func parseTimestamp(v any) *time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// toInt coerces a value to an int64. Numbers truncate; strings must be whole
// integers, so "3.9" yields nil the same as empty or non-numeric strings.
func toInt(v any) *int64 {
	switch val := v.(type) {
	case nil:
		return nil
	case float64:
		n := int64(val)
		return &n
	case int64:
		n := val
		return &n
	case int:
		n := int64(val)
		return &n
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return &n
		}
		if f, err := val.Float64(); err == nil {
			n := int64(f)
			return &n
		}
		return nil
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return nil
		}
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return &n
		}
		return nil
	default:
		return nil
	}
}

// toString keeps string values and drops everything else.
func toString(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

// toFloat coerces numeric and numeric-string values to float64.
func toFloat(v any) *float64 {
	switch val := v.(type) {
	case float64:
		f := val
		return &f
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return &f
		}
		return nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return &f
		}
		return nil
	default:
		return nil
	}
}

// toStringList projects a value to a list of strings. Absent or wrong-shaped
// values become an empty list, never nil, so list columns stay non-null.
func toStringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// toObjectList projects a value to a list of JSON objects, dropping entries of
// the wrong shape.
func toObjectList(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// toObject returns the value as a JSON object when it is truthy and object
// shaped, nil otherwise. Callers use this to keep absent nested objects null
// instead of materializing objects full of nulls.
func toObject(v any) map[string]any {
	obj, ok := v.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil
	}
	return obj
}
