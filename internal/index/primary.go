package index

import "driftdb/pkg/model"

// Primary is the implicit id index every collection carries. It enables O(1)
// id lookups and the uniqueness checks of the mutation pipeline.
type Primary struct {
	positions map[string]int
}

// NewPrimary creates an empty primary index.
func NewPrimary() *Primary {
	return &Primary{positions: map[string]int{}}
}

// Rebuild recomputes the id-to-position mapping.
func (p *Primary) Rebuild(items []model.Document) {
	p.positions = make(map[string]int, len(items))
	for pos, item := range items {
		p.positions[item.GetID()] = pos
	}
}

// Lookup returns the store position holding the given id.
func (p *Primary) Lookup(id string) (int, bool) {
	pos, ok := p.positions[id]
	return pos, ok
}

// Len returns the number of indexed documents.
func (p *Primary) Len() int {
	return len(p.positions)
}
