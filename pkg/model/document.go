// Package model defines the public data model shared by the driftdb engine,
// storage collaborators and the RPC layer: documents, selectors, modifiers,
// query options and the error taxonomy.
package model

import (
	"github.com/google/uuid"
)

// Document represents a single item in a collection. It is a plain JSON
// object; the "id" field is reserved for the document identifier and must be
// unique within a collection.
type Document map[string]interface{}

// GetID returns the document id, or "" if unset.
func (doc Document) GetID() string {
	if id, ok := doc["id"].(string); ok {
		return id
	}
	return ""
}

// SetID sets the document id.
func (doc Document) SetID(id string) {
	doc["id"] = id
}

// GenerateIDIfEmpty assigns a random UUID id if the document has none.
func (doc Document) GenerateIDIfEmpty() {
	if _, ok := doc["id"]; !ok {
		doc["id"] = uuid.New().String()
	}
}

// HasKey reports whether the document contains the given top-level field.
func (doc Document) HasKey(key string) bool {
	_, exists := doc[key]
	return exists
}

// Clone returns a deep copy of the document. Modifier application always
// works on a clone so the stored object is never aliased mid-mutation.
func (doc Document) Clone() Document {
	if doc == nil {
		return nil
	}
	return Document(cloneMap(doc))
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		return cloneMap(value)
	case Document:
		return Document(cloneMap(value))
	case []interface{}:
		out := make([]interface{}, len(value))
		for i, e := range value {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return value
	}
}
