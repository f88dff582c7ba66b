// Package match implements the selector predicate capability: deciding
// whether a document matches a MongoDB-style selector. Full operator
// evaluation is delegated to github.com/SierraSoftworks/connor; this package
// adds the logical composition ($and/$or/$nor) and the few operators connor
// does not ship ($nin, $exists, $not).
package match

import (
	"fmt"

	"github.com/SierraSoftworks/connor"

	"driftdb/pkg/model"
)

// Document reports whether doc matches the selector. A nil or empty selector
// matches everything. Errors indicate a malformed selector, never a
// non-match.
func Document(doc model.Document, selector model.Selector) (bool, error) {
	if selector.IsEmpty() {
		return true, nil
	}
	for key, cond := range selector {
		ok, err := matchEntry(doc, key, cond)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchEntry(doc model.Document, key string, cond interface{}) (bool, error) {
	switch key {
	case "$and":
		branches, err := selectorList(key, cond)
		if err != nil {
			return false, err
		}
		for _, branch := range branches {
			ok, err := Document(doc, branch)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case "$or":
		branches, err := selectorList(key, cond)
		if err != nil {
			return false, err
		}
		for _, branch := range branches {
			ok, err := Document(doc, branch)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "$nor":
		branches, err := selectorList(key, cond)
		if err != nil {
			return false, err
		}
		for _, branch := range branches {
			ok, err := Document(doc, branch)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		}
		return true, nil
	}

	if ops, ok := operatorMap(cond); ok {
		for op, arg := range ops {
			ok, err := matchOperator(doc, key, op, arg)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}

	return matchEquality(doc, key, cond)
}

func matchOperator(doc model.Document, field, op string, arg interface{}) (bool, error) {
	switch op {
	case "$exists":
		want := true
		if b, ok := arg.(bool); ok {
			want = b
		}
		return doc.HasKey(field) == want, nil
	case "$nin":
		ok, err := delegate(doc, field, map[string]interface{}{"$in": arg})
		if err != nil {
			return false, err
		}
		return !ok, nil
	case "$not":
		ok, err := matchEntry(doc, field, arg)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return delegate(doc, field, map[string]interface{}{op: arg})
	}
}

func matchEquality(doc model.Document, field string, value interface{}) (bool, error) {
	// Equality against null also matches an absent field.
	if value == nil {
		return !doc.HasKey(field) || doc[field] == nil, nil
	}
	return delegate(doc, field, value)
}

func delegate(doc model.Document, field string, cond interface{}) (bool, error) {
	ok, err := connor.Match(map[string]interface{}{field: cond}, map[string]interface{}(doc))
	if err != nil {
		return false, fmt.Errorf("match field %s: %w", field, err)
	}
	return ok, nil
}

func selectorList(key string, cond interface{}) ([]model.Selector, error) {
	raw, ok := cond.([]interface{})
	if !ok {
		if sels, ok := cond.([]model.Selector); ok {
			return sels, nil
		}
		return nil, fmt.Errorf("%s expects an array of selectors", key)
	}
	out := make([]model.Selector, 0, len(raw))
	for _, entry := range raw {
		switch sel := entry.(type) {
		case model.Selector:
			out = append(out, sel)
		case map[string]interface{}:
			out = append(out, model.Selector(sel))
		default:
			return nil, fmt.Errorf("%s expects selector objects, got %T", key, entry)
		}
	}
	return out, nil
}

func operatorMap(cond interface{}) (map[string]interface{}, bool) {
	var m map[string]interface{}
	switch value := cond.(type) {
	case map[string]interface{}:
		m = value
	case model.Selector:
		m = value
	default:
		return nil, false
	}
	for key := range m {
		if len(key) > 0 && key[0] == '$' {
			return m, true
		}
	}
	return nil, false
}
