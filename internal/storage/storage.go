// Package storage defines the collaborator contract a collection may be
// backed by. A collaborator owns durability only; the in-memory store stays
// authoritative for reads. Collaborator failures surface through the
// engine's error hook, never as panics.
package storage

import (
	"context"

	"driftdb/pkg/model"
)

// Collaborator is the pluggable durability backend for one collection. All
// methods may fail; the engine reports failures through its onError hook.
type Collaborator interface {
	// Setup prepares the backend (open files, connect, ensure schema).
	Setup(ctx context.Context) error

	// Teardown releases the backend's resources.
	Teardown(ctx context.Context) error

	// ReadAll returns every persisted document.
	ReadAll(ctx context.Context) ([]model.Document, error)

	// ReadIDs returns the persisted documents with the given ids; unknown
	// ids are skipped.
	ReadIDs(ctx context.Context, ids []string) ([]model.Document, error)

	// CreateIndex registers a persisted index on the given field.
	CreateIndex(ctx context.Context, field string) error

	// DropIndex removes a persisted index.
	DropIndex(ctx context.Context, field string) error

	// ReadIndex returns the persisted mapping from serialized field value
	// to document ids.
	ReadIndex(ctx context.Context, field string) (map[string][]string, error)

	// Insert persists new documents.
	Insert(ctx context.Context, items []model.Document) error

	// Replace persists new versions of existing documents, matched by id.
	Replace(ctx context.Context, items []model.Document) error

	// Remove deletes the given documents, matched by id.
	Remove(ctx context.Context, items []model.Document) error

	// RemoveAll deletes every document of the collection.
	RemoveAll(ctx context.Context) error
}
