package query

import (
	"sort"
	"strings"

	"driftdb/internal/index"
	"driftdb/pkg/model"
)

// sortDocuments returns a sorted copy; the comparator is stable so equal
// documents keep their store order.
func sortDocuments(items []model.Document, spec []model.SortField) []model.Document {
	out := append([]model.Document(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, field := range spec {
			cmp := compareValues(out[i][field.Field], out[j][field.Field])
			if cmp == 0 {
				continue
			}
			if field.Direction < 0 {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return out
}

// compareValues orders nil before everything, then numbers, booleans and
// strings by their natural order. Values of incomparable types fall back to
// their canonical serialized form.
func compareValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	if fa, aok := asFloat(a); aok {
		if fb, bok := asFloat(b); bok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}

	if sa, aok := a.(string); aok {
		if sb, bok := b.(string); bok {
			return strings.Compare(sa, sb)
		}
	}

	if ba, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			switch {
			case ba == bb:
				return 0
			case bb:
				return -1
			default:
				return 1
			}
		}
	}

	return strings.Compare(index.Key(a), index.Key(b))
}

func asFloat(v interface{}) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int32:
		return float64(value), true
	case int64:
		return float64(value), true
	default:
		return 0, false
	}
}
