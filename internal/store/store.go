// Package store holds the authoritative in-memory item list for one
// collection together with its index set and the outdated/rebuild
// bookkeeping. A store is owned by exactly one collection backend; callers
// provide external synchronization.
package store

import (
	"fmt"

	"driftdb/internal/index"
	"driftdb/pkg/model"
)

// Store is the ordered, mutable document list for one collection. Positions
// are not stable across removals; indexes are either fresh or outdated and
// an outdated index is never treated as authoritative.
type Store struct {
	items     []model.Document
	primary   *index.Primary
	secondary []index.Provider

	outdated       bool
	batchDepth     int
	rebuildPending bool
	rebuilds       int
}

// New creates an empty store with the given secondary index providers. The
// primary id index always exists.
func New(secondary ...index.Provider) *Store {
	s := &Store{
		primary:   index.NewPrimary(),
		secondary: secondary,
	}
	return s
}

// Items returns the backing slice. Callers must not mutate it.
func (s *Store) Items() []model.Document { return s.items }

// Len returns the number of documents.
func (s *Store) Len() int { return len(s.items) }

// At returns the document at a resolved index position. A position that no
// longer holds an item is an internal invariant failure, not a miss.
func (s *Store) At(pos int) (model.Document, error) {
	if pos < 0 || pos >= len(s.items) {
		return nil, fmt.Errorf("position %d: %w", pos, model.ErrStalePosition)
	}
	return s.items[pos], nil
}

// PositionOfID resolves a document id to its current position. Inside an
// open batch the primary index may be stale, so this falls back to a scan.
func (s *Store) PositionOfID(id string) (int, bool) {
	if !s.outdated {
		return s.primary.Lookup(id)
	}
	for pos, item := range s.items {
		if item.GetID() == id {
			return pos, true
		}
	}
	return 0, false
}

// Append adds a document at the end of the store.
func (s *Store) Append(doc model.Document) {
	s.items = append(s.items, doc)
	s.markDirty()
}

// ReplaceAt swaps the document at the given position.
func (s *Store) ReplaceAt(pos int, doc model.Document) error {
	if pos < 0 || pos >= len(s.items) {
		return fmt.Errorf("position %d: %w", pos, model.ErrStalePosition)
	}
	s.items[pos] = doc
	s.markDirty()
	return nil
}

// RemoveAt splices out the document at the given position, preserving the
// relative order of the remaining documents.
func (s *Store) RemoveAt(pos int) (model.Document, error) {
	if pos < 0 || pos >= len(s.items) {
		return nil, fmt.Errorf("position %d: %w", pos, model.ErrStalePosition)
	}
	doc := s.items[pos]
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	s.markDirty()
	return doc, nil
}

// Load replaces the whole store content, e.g. from a storage collaborator.
func (s *Store) Load(items []model.Document) {
	s.items = items
	s.markDirty()
}

// Providers returns the secondary index providers.
func (s *Store) Providers() []index.Provider { return s.secondary }

// Primary returns the id index.
func (s *Store) Primary() *index.Primary { return s.primary }

// Outdated reports whether any index is behind the store.
func (s *Store) Outdated() bool { return s.outdated }

// RebuildCount returns how many full index rebuilds have run.
func (s *Store) RebuildCount() int { return s.rebuilds }

// Begin opens a batch scope. Index rebuilds are deferred until the
// outermost scope ends; nested scopes coalesce into one rebuild.
func (s *Store) Begin() {
	s.batchDepth++
}

// End closes a batch scope, flushing the deferred rebuild when the
// outermost scope exits.
func (s *Store) End() {
	if s.batchDepth == 0 {
		return
	}
	s.batchDepth--
	if s.batchDepth == 0 && s.rebuildPending {
		s.rebuild()
	}
}

// InBatch reports whether a batch scope is open.
func (s *Store) InBatch() bool { return s.batchDepth > 0 }

func (s *Store) markDirty() {
	s.outdated = true
	if s.batchDepth > 0 {
		s.rebuildPending = true
		return
	}
	s.rebuild()
}

func (s *Store) rebuild() {
	s.primary.Rebuild(s.items)
	for _, provider := range s.secondary {
		provider.Rebuild(s.items)
	}
	s.outdated = false
	s.rebuildPending = false
	s.rebuilds++
}
