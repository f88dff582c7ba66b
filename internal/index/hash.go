package index

import "driftdb/pkg/model"

// Hash is the default secondary index: a plain map from serialized field
// value to the store positions currently holding it.
type Hash struct {
	field   string
	entries map[string][]int
}

// NewHash creates a hash index over the given field.
func NewHash(field string) *Hash {
	return &Hash{field: field, entries: map[string][]int{}}
}

// Field returns the indexed field name.
func (h *Hash) Field() string { return h.field }

// Query resolves an equality-class condition to positions.
func (h *Hash) Query(cond interface{}) ([]int, bool) {
	return resolve(cond, h)
}

// Rebuild recomputes the mapping in one pass over the store.
func (h *Hash) Rebuild(items []model.Document) {
	h.entries = make(map[string][]int, len(items))
	for pos, item := range items {
		key := Key(item[h.field])
		h.entries[key] = append(h.entries[key], pos)
	}
}

func (h *Hash) lookup(key string) []int { return h.entries[key] }

func (h *Hash) keys() []string {
	keys := make([]string, 0, len(h.entries))
	for key := range h.entries {
		keys = append(keys, key)
	}
	return keys
}
