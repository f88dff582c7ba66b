package match

import "driftdb/pkg/model"

// ConditionKind classifies a top-level field condition for index resolution.
type ConditionKind int

const (
	// KindEquality is a direct value comparison, resolvable as one index key.
	KindEquality ConditionKind = iota
	// KindIn is a $in condition, resolvable as a union of index keys.
	KindIn
	// KindNotEqual is a $ne condition, resolvable as all keys minus one.
	KindNotEqual
	// KindNotIn is a $nin condition, resolvable as all keys minus a set.
	KindNotIn
	// KindUnsupported covers every other operator; the index cannot answer
	// it and predicate matching must run instead.
	KindUnsupported
)

// FieldCondition is the classified form of one top-level selector entry.
type FieldCondition struct {
	Kind   ConditionKind
	Values []interface{}
}

// Classify inspects a single field condition and reduces it to the operator
// kinds an equality index can serve. Composite conditions (multiple
// operators, nested objects, comparisons) classify as unsupported.
func Classify(cond interface{}) FieldCondition {
	ops, isOperator := operatorMap(cond)
	if !isOperator {
		if _, isObject := cond.(map[string]interface{}); isObject {
			return FieldCondition{Kind: KindUnsupported}
		}
		if _, isObject := cond.(model.Selector); isObject {
			return FieldCondition{Kind: KindUnsupported}
		}
		return FieldCondition{Kind: KindEquality, Values: []interface{}{cond}}
	}

	if len(ops) != 1 {
		return FieldCondition{Kind: KindUnsupported}
	}

	for op, arg := range ops {
		switch op {
		case "$in":
			if values, ok := arg.([]interface{}); ok {
				return FieldCondition{Kind: KindIn, Values: values}
			}
		case "$ne":
			return FieldCondition{Kind: KindNotEqual, Values: []interface{}{arg}}
		case "$nin":
			if values, ok := arg.([]interface{}); ok {
				return FieldCondition{Kind: KindNotIn, Values: values}
			}
		}
	}
	return FieldCondition{Kind: KindUnsupported}
}

// Excluding reports whether the condition is answered by excluding keys from
// the full key set rather than looking keys up directly.
func (c FieldCondition) Excluding() bool {
	return c.Kind == KindNotEqual || c.Kind == KindNotIn
}

// TopLevelFields returns the selector's non-logical top-level entries. Index
// resolution only ever consults these; $and/$or/$nor subtrees are left to
// predicate matching.
func TopLevelFields(selector model.Selector) map[string]interface{} {
	fields := make(map[string]interface{}, len(selector))
	for key, cond := range selector {
		if len(key) > 0 && key[0] == '$' {
			continue
		}
		fields[key] = cond
	}
	return fields
}
