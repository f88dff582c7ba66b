package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftdb/internal/index"
	"driftdb/pkg/model"
)

func TestStoreAppendRebuildsImmediately(t *testing.T) {
	s := New(index.NewHash("name"))

	s.Append(model.Document{"id": "1", "name": "a"})
	s.Append(model.Document{"id": "2", "name": "b"})

	assert.False(t, s.Outdated())
	assert.Equal(t, 2, s.RebuildCount())

	pos, ok := s.PositionOfID("2")
	require.True(t, ok)
	assert.Equal(t, 1, pos)

	positions, matched := s.Providers()[0].Query("a")
	require.True(t, matched)
	assert.Equal(t, []int{0}, positions)
}

func TestStoreRemovePreservesOrder(t *testing.T) {
	s := New()
	for _, id := range []string{"1", "2", "3", "4"} {
		s.Append(model.Document{"id": id})
	}

	removed, err := s.RemoveAt(1)
	require.NoError(t, err)
	assert.Equal(t, "2", removed.GetID())

	ids := make([]string, 0, s.Len())
	for _, item := range s.Items() {
		ids = append(ids, item.GetID())
	}
	assert.Equal(t, []string{"1", "3", "4"}, ids)

	// Positions were revalidated by the rebuild.
	pos, ok := s.PositionOfID("4")
	require.True(t, ok)
	assert.Equal(t, 2, pos)
}

func TestStorePositionBounds(t *testing.T) {
	s := New()
	s.Append(model.Document{"id": "1"})

	_, err := s.At(5)
	assert.ErrorIs(t, err, model.ErrStalePosition)
	_, err = s.RemoveAt(-1)
	assert.ErrorIs(t, err, model.ErrStalePosition)
	err = s.ReplaceAt(1, model.Document{"id": "2"})
	assert.ErrorIs(t, err, model.ErrStalePosition)
}

func TestStoreBatchCoalescesRebuilds(t *testing.T) {
	s := New(index.NewHash("name"))

	s.Begin()
	for i := 0; i < 10; i++ {
		s.Append(model.Document{"id": string(rune('a' + i)), "name": "x"})
	}
	assert.True(t, s.Outdated(), "indexes lag behind inside an open batch")
	assert.Equal(t, 0, s.RebuildCount())

	// Reads inside the batch stay correct via scan fallback.
	pos, ok := s.PositionOfID("c")
	require.True(t, ok)
	assert.Equal(t, 2, pos)

	s.End()
	assert.False(t, s.Outdated())
	assert.Equal(t, 1, s.RebuildCount(), "exactly one rebuild per batch")
}

func TestStoreNestedBatchesFlushOnce(t *testing.T) {
	s := New()

	s.Begin()
	s.Append(model.Document{"id": "1"})
	s.Begin()
	s.Append(model.Document{"id": "2"})
	s.End()
	assert.True(t, s.Outdated(), "inner scope must not flush")
	s.End()

	assert.False(t, s.Outdated())
	assert.Equal(t, 1, s.RebuildCount())
}

func TestStoreLoad(t *testing.T) {
	s := New(index.NewHash("name"))
	s.Load([]model.Document{
		{"id": "1", "name": "a"},
		{"id": "2", "name": "a"},
	})

	positions, matched := s.Providers()[0].Query("a")
	require.True(t, matched)
	assert.Equal(t, []int{0, 1}, positions)
}
