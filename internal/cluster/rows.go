package cluster

import "time"

// UmapCoordinateRow is one projected document position, keyed by run and
// document.
type UmapCoordinateRow struct {
	RunID     string    `bigquery:"run_id" json:"run_id"`
	UnifiedID string    `bigquery:"unified_id" json:"unified_id"`
	UmapX     float64   `bigquery:"umap_x" json:"umap_x"`
	UmapY     float64   `bigquery:"umap_y" json:"umap_y"`
	CreatedAt time.Time `bigquery:"created_at" json:"created_at"`
}

// Warehouse result values arrive as any-typed scalars whose concrete type
// depends on the column type. These helpers coerce them leniently: a wrong or
// missing value yields the zero value rather than a panic.

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringPtr(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func asTime(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}

func asFloat64Slice(v any) []float64 {
	switch vec := v.(type) {
	case []float64:
		return vec
	case []any:
		out := make([]float64, 0, len(vec))
		for _, e := range vec {
			out = append(out, asFloat64(e))
		}
		return out
	default:
		return nil
	}
}
