// Package query executes selector-based queries against a store: it decides
// whether an index lookup can narrow the candidate set, runs predicate
// matching over the candidates, and applies sort, skip, limit and
// projection.
package query

import (
	"driftdb/internal/match"
	"driftdb/internal/store"
	"driftdb/pkg/model"
)

// IndexInfo is the result of resolving a selector against the index set.
type IndexInfo struct {
	// Matched reports whether any index narrowed the candidate set.
	Matched bool
	// Positions are the candidate store positions when Matched.
	Positions []int
	// Optimized is the residual selector that still needs predicate
	// matching after index consumption. Empty means no further filtering.
	Optimized model.Selector
}

// Engine runs queries over one collection's store.
type Engine struct {
	store *store.Store
}

// New creates a query engine bound to a store.
func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// IndexInfo resolves a selector to candidate positions. An outdated index is
// never consulted: the full selector falls back to predicate matching.
func (e *Engine) IndexInfo(selector model.Selector) IndexInfo {
	if selector == nil {
		return IndexInfo{Matched: false, Optimized: model.Selector{}}
	}

	if e.store.Outdated() {
		return IndexInfo{Matched: false, Optimized: selector}
	}

	// Fast path: a pure id equality resolves through the primary index.
	if len(selector) == 1 {
		if cond, ok := selector["id"]; ok {
			if id, isString := cond.(string); isString {
				if pos, found := e.store.Primary().Lookup(id); found {
					return IndexInfo{Matched: true, Positions: []int{pos}, Optimized: model.Selector{}}
				}
				return IndexInfo{Matched: true, Optimized: model.Selector{}}
			}
		}
	}

	fields := match.TopLevelFields(selector)
	residual := make(model.Selector, len(selector))
	for key, cond := range selector {
		residual[key] = cond
	}

	var narrowed [][]int
	matched := false
	for _, provider := range e.store.Providers() {
		cond, present := fields[provider.Field()]
		if !present {
			continue
		}
		positions, ok := provider.Query(cond)
		if !ok {
			continue
		}
		narrowed = append(narrowed, positions)
		delete(residual, provider.Field())
		matched = true
	}

	if !matched {
		return IndexInfo{Matched: false, Optimized: selector}
	}
	return IndexInfo{Matched: true, Positions: intersect(narrowed), Optimized: residual}
}

// Items returns the documents matching the selector, in store order.
func (e *Engine) Items(selector model.Selector) ([]model.Document, error) {
	info := e.IndexInfo(selector)

	if info.Matched {
		candidates := make([]model.Document, 0, len(info.Positions))
		for _, pos := range info.Positions {
			doc, err := e.store.At(pos)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, doc)
		}
		if info.Optimized.IsEmpty() {
			return candidates, nil
		}
		return filter(candidates, info.Optimized)
	}

	if selector.IsEmpty() {
		return append([]model.Document(nil), e.store.Items()...), nil
	}
	return filter(e.store.Items(), selector)
}

// Execute runs the full query pipeline: match, sort, skip, limit, project.
func (e *Engine) Execute(selector model.Selector, options model.Options) ([]model.Document, error) {
	items, err := e.Items(selector)
	if err != nil {
		return nil, err
	}

	if len(options.Sort) > 0 {
		items = sortDocuments(items, options.Sort)
	}

	if options.Skip > 0 {
		if options.Skip >= len(items) {
			items = nil
		} else {
			items = items[options.Skip:]
		}
	}
	if options.Limit > 0 && options.Limit < len(items) {
		items = items[:options.Limit]
	}

	if len(options.Fields) > 0 {
		projected := make([]model.Document, len(items))
		for i, item := range items {
			projected[i] = project(item, options.Fields)
		}
		items = projected
	}

	if items == nil {
		items = []model.Document{}
	}
	return items, nil
}

// Count returns the number of documents matching the selector.
func (e *Engine) Count(selector model.Selector) (int, error) {
	items, err := e.Items(selector)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func filter(items []model.Document, selector model.Selector) ([]model.Document, error) {
	out := make([]model.Document, 0, len(items))
	for _, item := range items {
		ok, err := match.Document(item, selector)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func intersect(sets [][]int) []int {
	if len(sets) == 0 {
		return nil
	}
	result := append([]int(nil), sets[0]...)
	for _, set := range sets[1:] {
		members := make(map[int]struct{}, len(set))
		for _, pos := range set {
			members[pos] = struct{}{}
		}
		kept := result[:0]
		for _, pos := range result {
			if _, ok := members[pos]; ok {
				kept = append(kept, pos)
			}
		}
		result = kept
	}
	return result
}
