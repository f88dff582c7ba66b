package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftdb/pkg/model"
)

func sampleItems() []model.Document {
	return []model.Document{
		{"id": "1", "name": "alice", "age": float64(30)},
		{"id": "2", "name": "bob", "age": float64(25)},
		{"id": "3", "name": "alice", "age": float64(40)},
		{"id": "4", "age": float64(25)}, // no name
		{"id": "5", "name": nil},
	}
}

func providers() map[string]Provider {
	return map[string]Provider{
		"hash":    NewHash("name"),
		"ordered": NewOrdered("name"),
	}
}

func TestProviderQuery(t *testing.T) {
	tests := []struct {
		name    string
		cond    interface{}
		want    []int
		matched bool
	}{
		{"equality", "alice", []int{0, 2}, true},
		{"equality miss", "carol", []int{}, true},
		{"null literal key", nil, []int{3, 4}, true},
		{"in", map[string]interface{}{"$in": []interface{}{"alice", "bob"}}, []int{0, 1, 2}, true},
		{"ne", map[string]interface{}{"$ne": "alice"}, []int{1, 3, 4}, true},
		{"nin", map[string]interface{}{"$nin": []interface{}{"alice", "bob"}}, []int{3, 4}, true},
		{"nin of null", map[string]interface{}{"$nin": []interface{}{nil}}, []int{0, 1, 2}, true},
		{"gt unsupported", map[string]interface{}{"$gt": "a"}, nil, false},
		{"regex unsupported", map[string]interface{}{"$regex": "^a"}, nil, false},
		{"object unsupported", map[string]interface{}{"x": 1}, nil, false},
	}

	for kind, provider := range providers() {
		provider.Rebuild(sampleItems())
		for _, tt := range tests {
			t.Run(kind+"/"+tt.name, func(t *testing.T) {
				positions, matched := provider.Query(tt.cond)
				assert.Equal(t, tt.matched, matched)
				if tt.matched {
					if len(tt.want) == 0 {
						assert.Empty(t, positions)
					} else {
						assert.Equal(t, tt.want, positions)
					}
				}
			})
		}
	}
}

func TestProviderRebuildReflectsChanges(t *testing.T) {
	for kind, provider := range providers() {
		t.Run(kind, func(t *testing.T) {
			provider.Rebuild(sampleItems())
			positions, matched := provider.Query("alice")
			require.True(t, matched)
			require.Equal(t, []int{0, 2}, positions)

			// Remove position 0, shift everything left.
			provider.Rebuild(sampleItems()[1:])
			positions, matched = provider.Query("alice")
			require.True(t, matched)
			assert.Equal(t, []int{1}, positions)
		})
	}
}

func TestPrimaryIndex(t *testing.T) {
	p := NewPrimary()
	p.Rebuild(sampleItems())

	pos, ok := p.Lookup("3")
	require.True(t, ok)
	assert.Equal(t, 2, pos)

	_, ok = p.Lookup("nope")
	assert.False(t, ok)
	assert.Equal(t, 5, p.Len())
}

func TestKeyCanonicalization(t *testing.T) {
	assert.Equal(t, Key(float64(1)), Key(1), "ints and floats share a key")
	assert.Equal(t, "null", Key(nil))
	assert.NotEqual(t, Key("1"), Key(1), "strings never collide with numbers")
}
