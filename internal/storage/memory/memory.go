// Package memory provides the in-memory storage collaborator: no
// durability, insertion-ordered reads. It backs tests and ephemeral
// collections.
package memory

import (
	"context"
	"sync"

	"driftdb/internal/index"
	"driftdb/pkg/model"
)

// Memory is a storage collaborator keeping everything in process memory.
type Memory struct {
	mu      sync.RWMutex
	order   []string
	docs    map[string]model.Document
	indexes map[string]struct{}
}

// New creates an empty in-memory collaborator.
func New() *Memory {
	return &Memory{
		docs:    map[string]model.Document{},
		indexes: map[string]struct{}{},
	}
}

// Seed pre-populates the collaborator, for bootstrapping tests.
func (m *Memory) Seed(items []model.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		id := item.GetID()
		if _, exists := m.docs[id]; !exists {
			m.order = append(m.order, id)
		}
		m.docs[id] = item.Clone()
	}
}

// Setup implements storage.Collaborator.
func (m *Memory) Setup(context.Context) error { return nil }

// Teardown implements storage.Collaborator.
func (m *Memory) Teardown(context.Context) error { return nil }

// ReadAll returns all documents in insertion order.
func (m *Memory) ReadAll(context.Context) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Document, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.docs[id].Clone())
	}
	return out, nil
}

// ReadIDs returns the documents with the given ids, skipping unknown ones.
func (m *Memory) ReadIDs(_ context.Context, ids []string) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := m.docs[id]; ok {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

// CreateIndex records the indexed field.
func (m *Memory) CreateIndex(_ context.Context, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[field] = struct{}{}
	return nil
}

// DropIndex forgets the indexed field.
func (m *Memory) DropIndex(_ context.Context, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexes, field)
	return nil
}

// ReadIndex derives the value-to-ids mapping from the stored documents.
func (m *Memory) ReadIndex(_ context.Context, field string) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string][]string{}
	for _, id := range m.order {
		key := index.Key(m.docs[id][field])
		out[key] = append(out[key], id)
	}
	return out, nil
}

// Insert implements storage.Collaborator.
func (m *Memory) Insert(_ context.Context, items []model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		id := item.GetID()
		if _, exists := m.docs[id]; !exists {
			m.order = append(m.order, id)
		}
		m.docs[id] = item.Clone()
	}
	return nil
}

// Replace implements storage.Collaborator.
func (m *Memory) Replace(_ context.Context, items []model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		id := item.GetID()
		if _, exists := m.docs[id]; !exists {
			m.order = append(m.order, id)
		}
		m.docs[id] = item.Clone()
	}
	return nil
}

// Remove implements storage.Collaborator.
func (m *Memory) Remove(_ context.Context, items []model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		id := item.GetID()
		if _, exists := m.docs[id]; !exists {
			continue
		}
		delete(m.docs, id)
		for i, existing := range m.order {
			if existing == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

// RemoveAll implements storage.Collaborator.
func (m *Memory) RemoveAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = map[string]model.Document{}
	m.order = nil
	return nil
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
