// Package modify applies MongoDB-style modifiers ($set, $inc, $push, ...) to
// documents. The engine always applies modifiers to a deep clone so the
// stored document is never aliased during application.
package modify

import (
	"fmt"
	"reflect"
	"strings"

	"driftdb/pkg/model"
)

// Apply returns a new document with the modifier applied. The input document
// is never mutated. Unknown operators and non-operator top-level keys are
// rejected.
func Apply(doc model.Document, modifier model.Modifier) (model.Document, error) {
	out := doc.Clone()
	if out == nil {
		out = model.Document{}
	}

	for op, arg := range modifier {
		fields, ok := arg.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("modifier %s expects an object argument", op)
		}
		for path, value := range fields {
			if err := applyField(out, op, path, value); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

func applyField(doc model.Document, op, path string, value interface{}) error {
	switch op {
	case "$set":
		setPath(doc, path, value)
	case "$unset":
		deletePath(doc, path)
	case "$inc":
		return applyNumeric(doc, path, value, func(current, delta float64) float64 {
			return current + delta
		})
	case "$mul":
		return applyNumeric(doc, path, value, func(current, factor float64) float64 {
			return current * factor
		})
	case "$min":
		return applyBound(doc, path, value, func(current, bound float64) bool {
			return bound < current
		})
	case "$max":
		return applyBound(doc, path, value, func(current, bound float64) bool {
			return bound > current
		})
	case "$rename":
		newPath, ok := value.(string)
		if !ok {
			return fmt.Errorf("$rename %s: target must be a string", path)
		}
		if current, exists := getPath(doc, path); exists {
			deletePath(doc, path)
			setPath(doc, newPath, current)
		}
	case "$push":
		list := pathList(doc, path)
		setPath(doc, path, append(list, value))
	case "$addToSet":
		list := pathList(doc, path)
		for _, existing := range list {
			if reflect.DeepEqual(existing, value) {
				return nil
			}
		}
		setPath(doc, path, append(list, value))
	case "$pull":
		list := pathList(doc, path)
		kept := make([]interface{}, 0, len(list))
		for _, existing := range list {
			if !reflect.DeepEqual(existing, value) {
				kept = append(kept, existing)
			}
		}
		setPath(doc, path, kept)
	case "$pop":
		list := pathList(doc, path)
		if len(list) == 0 {
			return nil
		}
		if direction, _ := toFloat(value); direction < 0 {
			setPath(doc, path, list[1:])
		} else {
			setPath(doc, path, list[:len(list)-1])
		}
	default:
		return fmt.Errorf("unknown modifier operator %s", op)
	}
	return nil
}

func applyNumeric(doc model.Document, path string, arg interface{}, combine func(current, operand float64) float64) error {
	operand, ok := toFloat(arg)
	if !ok {
		return fmt.Errorf("numeric modifier on %s: operand %v is not a number", path, arg)
	}
	current := float64(0)
	if existing, exists := getPath(doc, path); exists {
		current, ok = toFloat(existing)
		if !ok {
			return fmt.Errorf("numeric modifier on %s: field holds non-numeric value %v", path, existing)
		}
	}
	setPath(doc, path, combine(current, operand))
	return nil
}

func applyBound(doc model.Document, path string, arg interface{}, replace func(current, bound float64) bool) error {
	bound, ok := toFloat(arg)
	if !ok {
		return fmt.Errorf("bound modifier on %s: operand %v is not a number", path, arg)
	}
	existing, exists := getPath(doc, path)
	if !exists {
		setPath(doc, path, bound)
		return nil
	}
	current, ok := toFloat(existing)
	if !ok {
		return fmt.Errorf("bound modifier on %s: field holds non-numeric value %v", path, existing)
	}
	if replace(current, bound) {
		setPath(doc, path, bound)
	}
	return nil
}

func pathList(doc model.Document, path string) []interface{} {
	if existing, exists := getPath(doc, path); exists {
		if list, ok := existing.([]interface{}); ok {
			return list
		}
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int32:
		return float64(value), true
	case int64:
		return float64(value), true
	case uint64:
		return float64(value), true
	default:
		return 0, false
	}
}

// Dotted paths address nested objects; intermediate objects are created on
// write and tolerated as missing on read.

func getPath(doc model.Document, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	current := map[string]interface{}(doc)
	for i, part := range parts {
		value, exists := current[part]
		if !exists {
			return nil, false
		}
		if i == len(parts)-1 {
			return value, true
		}
		next, ok := value.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

func setPath(doc model.Document, path string, value interface{}) {
	parts := strings.Split(path, ".")
	current := map[string]interface{}(doc)
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func deletePath(doc model.Document, path string) {
	parts := strings.Split(path, ".")
	current := map[string]interface{}(doc)
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			return
		}
		current = next
	}
	delete(current, parts[len(parts)-1])
}
