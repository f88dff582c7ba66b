// Package index implements the secondary index providers of the store: a
// hash index and an ordered btree index, both mapping serialized field
// values to store positions, plus the primary id index.
package index

import (
	"encoding/json"
	"sort"

	"driftdb/internal/match"
	"driftdb/pkg/model"
)

// Provider answers whether a single-field selector condition reduces to an
// index lookup, and rebuilds its mapping from the full store.
type Provider interface {
	// Field returns the indexed field name.
	Field() string

	// Query resolves the condition for this provider's field to store
	// positions. The second return is false when the condition cannot be
	// answered by an equality index ($gt, $regex, composite objects, ...).
	Query(cond interface{}) ([]int, bool)

	// Rebuild recomputes the whole value-to-positions mapping in one pass.
	Rebuild(items []model.Document)
}

// Key serializes an indexable field value into its canonical index key.
// Missing and null values share the "null" key; a null selector value is a
// literal lookup like any other.
func Key(value interface{}) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(raw)
}

// keyspace is the minimal surface the shared condition resolution needs from
// a concrete index structure.
type keyspace interface {
	lookup(key string) []int
	keys() []string
}

func resolve(cond interface{}, ks keyspace) ([]int, bool) {
	classified := match.Classify(cond)

	switch classified.Kind {
	case match.KindEquality:
		return append([]int(nil), ks.lookup(Key(classified.Values[0]))...), true

	case match.KindIn:
		return union(ks, keySet(classified.Values), false), true

	case match.KindNotEqual, match.KindNotIn:
		// Exclude-keys: every known key except the excluded ones.
		return union(ks, keySet(classified.Values), true), true

	default:
		return nil, false
	}
}

func keySet(values []interface{}) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[Key(v)] = struct{}{}
	}
	return set
}

func union(ks keyspace, selected map[string]struct{}, exclude bool) []int {
	seen := map[int]struct{}{}
	for _, key := range ks.keys() {
		_, inSet := selected[key]
		if inSet == exclude {
			continue
		}
		for _, pos := range ks.lookup(key) {
			seen[pos] = struct{}{}
		}
	}

	positions := make([]int, 0, len(seen))
	for pos := range seen {
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	return positions
}
