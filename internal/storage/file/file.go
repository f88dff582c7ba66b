// Package file provides a snapshot-file storage collaborator: the whole
// collection is encoded with msgpack, compressed with lz4 and rewritten on
// every mutation. Suitable for small embedded datasets where a full
// rewrite per write is acceptable.
package file

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"driftdb/internal/index"
	"driftdb/pkg/model"
)

var magic = []byte("DRIFT1")

// snapshot is the on-disk layout.
type snapshot struct {
	Items   []map[string]interface{} `msgpack:"items"`
	Indexes []string                 `msgpack:"indexes,omitempty"`
}

// File is a snapshot-file storage collaborator for one collection.
type File struct {
	path string

	mu      sync.Mutex
	order   []string
	docs    map[string]model.Document
	indexes []string
}

// New creates a collaborator persisting to the given file path.
func New(path string) *File {
	return &File{
		path: path,
		docs: map[string]model.Document{},
	}
}

// Setup loads the snapshot file if it exists.
func (f *File) Setup(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	snap, err := decode(raw)
	if err != nil {
		return err
	}

	f.order = nil
	f.docs = map[string]model.Document{}
	for _, item := range snap.Items {
		doc := model.Document(item)
		f.order = append(f.order, doc.GetID())
		f.docs[doc.GetID()] = doc
	}
	f.indexes = snap.Indexes
	return nil
}

// Teardown flushes a final snapshot.
func (f *File) Teardown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persist()
}

// ReadAll returns all documents in insertion order.
func (f *File) ReadAll(ctx context.Context) ([]model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Document, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.docs[id].Clone())
	}
	return out, nil
}

// ReadIDs returns the documents with the given ids, skipping unknown ones.
func (f *File) ReadIDs(_ context.Context, ids []string) ([]model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := f.docs[id]; ok {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

// CreateIndex records the field in the snapshot metadata.
func (f *File) CreateIndex(_ context.Context, field string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.indexes {
		if existing == field {
			return nil
		}
	}
	f.indexes = append(f.indexes, field)
	return f.persist()
}

// DropIndex removes the field from the snapshot metadata.
func (f *File) DropIndex(_ context.Context, field string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.indexes {
		if existing == field {
			f.indexes = append(f.indexes[:i], f.indexes[i+1:]...)
			break
		}
	}
	return f.persist()
}

// ReadIndex derives the value-to-ids mapping from the stored documents.
func (f *File) ReadIndex(_ context.Context, field string) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string][]string{}
	for _, id := range f.order {
		key := index.Key(f.docs[id][field])
		out[key] = append(out[key], id)
	}
	return out, nil
}

// Insert implements storage.Collaborator.
func (f *File) Insert(_ context.Context, items []model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsert(items)
	return f.persist()
}

// Replace implements storage.Collaborator.
func (f *File) Replace(_ context.Context, items []model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsert(items)
	return f.persist()
}

// Remove implements storage.Collaborator.
func (f *File) Remove(_ context.Context, items []model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range items {
		id := item.GetID()
		if _, ok := f.docs[id]; !ok {
			continue
		}
		delete(f.docs, id)
		for i, existing := range f.order {
			if existing == id {
				f.order = append(f.order[:i], f.order[i+1:]...)
				break
			}
		}
	}
	return f.persist()
}

// RemoveAll implements storage.Collaborator.
func (f *File) RemoveAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = map[string]model.Document{}
	f.order = nil
	return f.persist()
}

func (f *File) upsert(items []model.Document) {
	for _, item := range items {
		id := item.GetID()
		if _, exists := f.docs[id]; !exists {
			f.order = append(f.order, id)
		}
		f.docs[id] = item.Clone()
	}
}

// persist rewrites the snapshot atomically: encode, compress, write to a
// temp file, rename over the target.
func (f *File) persist() error {
	snap := snapshot{Indexes: f.indexes}
	for _, id := range f.order {
		snap.Items = append(snap.Items, f.docs[id])
	}

	raw, err := encode(snap)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func encode(snap snapshot) ([]byte, error) {
	packed, err := msgpack.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(packed)))
	n, err := lz4.CompressBlock(packed, compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}

	// n == 0 means incompressible data; store it raw with size 0 marker.
	header := make([]byte, len(magic)+8)
	copy(header, magic)
	if n == 0 {
		binary.LittleEndian.PutUint64(header[len(magic):], 0)
		return append(header, packed...), nil
	}
	binary.LittleEndian.PutUint64(header[len(magic):], uint64(len(packed)))
	return append(header, compressed[:n]...), nil
}

func decode(raw []byte) (snapshot, error) {
	var snap snapshot
	if len(raw) < len(magic)+8 || !bytes.Equal(raw[:len(magic)], magic) {
		return snap, fmt.Errorf("snapshot header malformed")
	}

	size := binary.LittleEndian.Uint64(raw[len(magic) : len(magic)+8])
	body := raw[len(magic)+8:]

	packed := body
	if size > 0 {
		packed = make([]byte, size)
		if _, err := lz4.UncompressBlock(body, packed); err != nil {
			return snap, fmt.Errorf("decompress snapshot: %w", err)
		}
	}

	if err := msgpack.Unmarshal(packed, &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
