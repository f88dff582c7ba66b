package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftdb/pkg/model"
)

func TestDocumentOperators(t *testing.T) {
	doc := model.Document{
		"id":    "1",
		"name":  "alice",
		"age":   float64(30),
		"tags":  []interface{}{"a", "b"},
		"email": nil,
	}

	tests := []struct {
		name     string
		selector model.Selector
		want     bool
	}{
		{"empty selector", model.Selector{}, true},
		{"nil selector", nil, true},
		{"equality match", model.Selector{"name": "alice"}, true},
		{"equality miss", model.Selector{"name": "bob"}, false},
		{"two fields", model.Selector{"name": "alice", "age": float64(30)}, true},
		{"ne miss", model.Selector{"name": map[string]interface{}{"$ne": "alice"}}, false},
		{"ne match", model.Selector{"name": map[string]interface{}{"$ne": "bob"}}, true},
		{"gt match", model.Selector{"age": map[string]interface{}{"$gt": float64(18)}}, true},
		{"gt miss", model.Selector{"age": map[string]interface{}{"$gt": float64(40)}}, false},
		{"gte boundary", model.Selector{"age": map[string]interface{}{"$gte": float64(30)}}, true},
		{"lt match", model.Selector{"age": map[string]interface{}{"$lt": float64(40)}}, true},
		{"in match", model.Selector{"name": map[string]interface{}{"$in": []interface{}{"alice", "bob"}}}, true},
		{"in miss", model.Selector{"name": map[string]interface{}{"$in": []interface{}{"carol"}}}, false},
		{"nin match", model.Selector{"name": map[string]interface{}{"$nin": []interface{}{"carol"}}}, true},
		{"nin miss", model.Selector{"name": map[string]interface{}{"$nin": []interface{}{"alice"}}}, false},
		{"exists true", model.Selector{"email": map[string]interface{}{"$exists": true}}, true},
		{"exists false", model.Selector{"missing": map[string]interface{}{"$exists": false}}, true},
		{"exists miss", model.Selector{"missing": map[string]interface{}{"$exists": true}}, false},
		{"null equality on null field", model.Selector{"email": nil}, true},
		{"null equality on absent field", model.Selector{"missing": nil}, true},
		{"null equality on set field", model.Selector{"name": nil}, false},
		{"not", model.Selector{"name": map[string]interface{}{"$not": map[string]interface{}{"$in": []interface{}{"alice"}}}}, false},
		{"and match", model.Selector{"$and": []interface{}{
			map[string]interface{}{"name": "alice"},
			map[string]interface{}{"age": map[string]interface{}{"$gt": float64(20)}},
		}}, true},
		{"and miss", model.Selector{"$and": []interface{}{
			map[string]interface{}{"name": "alice"},
			map[string]interface{}{"age": map[string]interface{}{"$gt": float64(40)}},
		}}, false},
		{"or match", model.Selector{"$or": []interface{}{
			map[string]interface{}{"name": "bob"},
			map[string]interface{}{"age": float64(30)},
		}}, true},
		{"or miss", model.Selector{"$or": []interface{}{
			map[string]interface{}{"name": "bob"},
			map[string]interface{}{"age": float64(31)},
		}}, false},
		{"nor", model.Selector{"$nor": []interface{}{
			map[string]interface{}{"name": "bob"},
		}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Document(doc, tt.selector)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDocumentMalformedLogical(t *testing.T) {
	_, err := Document(model.Document{"a": 1}, model.Selector{"$and": "not a list"})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		cond interface{}
		want ConditionKind
	}{
		{"scalar", "alice", KindEquality},
		{"number", float64(1), KindEquality},
		{"null", nil, KindEquality},
		{"in", map[string]interface{}{"$in": []interface{}{"a"}}, KindIn},
		{"ne", map[string]interface{}{"$ne": "a"}, KindNotEqual},
		{"nin", map[string]interface{}{"$nin": []interface{}{"a"}}, KindNotIn},
		{"gt", map[string]interface{}{"$gt": 1}, KindUnsupported},
		{"exists", map[string]interface{}{"$exists": true}, KindUnsupported},
		{"regex", map[string]interface{}{"$regex": "^a"}, KindUnsupported},
		{"composite", map[string]interface{}{"$gt": 1, "$lt": 5}, KindUnsupported},
		{"plain object", map[string]interface{}{"a": 1}, KindUnsupported},
		{"in with non-array", map[string]interface{}{"$in": "a"}, KindUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.cond).Kind)
		})
	}
}

func TestTopLevelFields(t *testing.T) {
	sel := model.Selector{
		"name": "x",
		"$or":  []interface{}{map[string]interface{}{"a": 1}},
		"age":  map[string]interface{}{"$gt": 1},
	}
	fields := TopLevelFields(sel)
	assert.Len(t, fields, 2)
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "age")
}
