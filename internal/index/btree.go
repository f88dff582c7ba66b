package index

import (
	"github.com/google/btree"

	"driftdb/pkg/model"
)

// btreeEntry holds all positions for one serialized key.
type btreeEntry struct {
	key       string
	positions []int
}

func btreeLess(a, b btreeEntry) bool {
	return a.key < b.key
}

// Ordered is a secondary index keeping its keys sorted in a btree. It
// answers the same equality-class conditions as Hash; the sorted keyspace
// makes exclude-key scans deterministic and leaves room for range lookups.
type Ordered struct {
	field string
	tree  *btree.BTreeG[btreeEntry]
}

// NewOrdered creates a btree index over the given field.
func NewOrdered(field string) *Ordered {
	return &Ordered{
		field: field,
		tree:  btree.NewG[btreeEntry](32, btreeLess),
	}
}

// Field returns the indexed field name.
func (o *Ordered) Field() string { return o.field }

// Query resolves an equality-class condition to positions.
func (o *Ordered) Query(cond interface{}) ([]int, bool) {
	return resolve(cond, o)
}

// Rebuild recomputes the tree in one pass over the store.
func (o *Ordered) Rebuild(items []model.Document) {
	tree := btree.NewG[btreeEntry](32, btreeLess)
	grouped := make(map[string][]int, len(items))
	for pos, item := range items {
		key := Key(item[o.field])
		grouped[key] = append(grouped[key], pos)
	}
	for key, positions := range grouped {
		tree.ReplaceOrInsert(btreeEntry{key: key, positions: positions})
	}
	o.tree = tree
}

func (o *Ordered) lookup(key string) []int {
	entry, ok := o.tree.Get(btreeEntry{key: key})
	if !ok {
		return nil
	}
	return entry.positions
}

func (o *Ordered) keys() []string {
	keys := make([]string, 0, o.tree.Len())
	o.tree.Ascend(func(entry btreeEntry) bool {
		keys = append(keys, entry.key)
		return true
	})
	return keys
}
