// Package live tracks the set of active queries per collection and decides,
// for every batch of added, modified and removed documents, which queries
// must be recomputed and which subscribers must be notified.
package live

import "driftdb/pkg/model"

// Changeset groups the documents touched by one mutation. It is consumed by
// the registry to decide affectedness, then discarded; inside a batch the
// per-mutation changesets coalesce into one.
type Changeset struct {
	Added    []model.Document
	Modified []model.Document
	Removed  []model.Document
}

// IsEmpty reports whether the changeset carries no documents.
func (c Changeset) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// Merge folds another changeset into this one.
func (c *Changeset) Merge(other Changeset) {
	c.Added = append(c.Added, other.Added...)
	c.Modified = append(c.Modified, other.Modified...)
	c.Removed = append(c.Removed, other.Removed...)
}

func (c Changeset) all() []model.Document {
	out := make([]model.Document, 0, len(c.Added)+len(c.Modified)+len(c.Removed))
	out = append(out, c.Added...)
	out = append(out, c.Modified...)
	out = append(out, c.Removed...)
	return out
}
