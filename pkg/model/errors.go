package model

import (
	"errors"
	"fmt"
)

var (
	// ErrItemExists is returned when an insert, update or replace would
	// introduce a duplicate document id.
	ErrItemExists = errors.New("item already exists")
	// ErrNoCollaborator is returned when an operation requires a storage
	// collaborator and the collection has none registered.
	ErrNoCollaborator = errors.New("no storage collaborator registered")
	// ErrCollectionUninitialized is returned when an operation references a
	// collection whose bookkeeping was never created or already disposed.
	ErrCollectionUninitialized = errors.New("collection not initialized")
	// ErrDisposed is returned for any operation attempted after disposal.
	ErrDisposed = errors.New("disposed")
	// ErrStalePosition signals an internal invariant failure: an index
	// resolved to a store position that no longer holds an item.
	ErrStalePosition = errors.New("index position not present in store")
	// ErrReadyTimeout is returned when the host ready handshake does not
	// arrive within the configured window.
	ErrReadyTimeout = errors.New("ready handshake timed out")
	// ErrMethodNotFound is returned by the host for unknown RPC methods.
	ErrMethodNotFound = errors.New("method not found")
)

// ItemExistsError builds the canonical uniqueness violation error for an id.
func ItemExistsError(id string) error {
	return fmt.Errorf("item with id %s already exists: %w", id, ErrItemExists)
}

// NoCollaboratorError builds the missing-collaborator error for a collection.
func NoCollaboratorError(collection string) error {
	return fmt.Errorf("collection %s: %w", collection, ErrNoCollaborator)
}

// UninitializedError builds the uninitialized-collection error.
func UninitializedError(collection string) error {
	return fmt.Errorf("collection %s: %w", collection, ErrCollectionUninitialized)
}
