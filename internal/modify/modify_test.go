package modify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftdb/pkg/model"
)

func TestApplySet(t *testing.T) {
	doc := model.Document{"id": "1", "name": "a"}
	out, err := Apply(doc, model.Modifier{"$set": map[string]interface{}{"name": "b", "value": float64(100)}})
	require.NoError(t, err)

	assert.Equal(t, "b", out["name"])
	assert.Equal(t, float64(100), out["value"])
	// Source document untouched.
	assert.Equal(t, "a", doc["name"])
	assert.False(t, doc.HasKey("value"))
}

func TestApplySetNestedPath(t *testing.T) {
	doc := model.Document{"id": "1"}
	out, err := Apply(doc, model.Modifier{"$set": map[string]interface{}{"meta.author.name": "x"}})
	require.NoError(t, err)

	meta := out["meta"].(map[string]interface{})
	author := meta["author"].(map[string]interface{})
	assert.Equal(t, "x", author["name"])
}

func TestApplyUnset(t *testing.T) {
	doc := model.Document{"id": "1", "name": "a", "nested": map[string]interface{}{"x": 1, "y": 2}}
	out, err := Apply(doc, model.Modifier{"$unset": map[string]interface{}{"name": "", "nested.x": ""}})
	require.NoError(t, err)

	assert.False(t, out.HasKey("name"))
	assert.False(t, model.Document(out["nested"].(map[string]interface{})).HasKey("x"))
	assert.Equal(t, 2, out["nested"].(map[string]interface{})["y"])
}

func TestApplyNumericOperators(t *testing.T) {
	tests := []struct {
		name     string
		doc      model.Document
		modifier model.Modifier
		field    string
		want     float64
	}{
		{"inc", model.Document{"n": float64(1)}, model.Modifier{"$inc": map[string]interface{}{"n": float64(2)}}, "n", 3},
		{"inc missing field", model.Document{}, model.Modifier{"$inc": map[string]interface{}{"n": float64(2)}}, "n", 2},
		{"inc int operand", model.Document{"n": 5}, model.Modifier{"$inc": map[string]interface{}{"n": 1}}, "n", 6},
		{"mul", model.Document{"n": float64(3)}, model.Modifier{"$mul": map[string]interface{}{"n": float64(4)}}, "n", 12},
		{"min replaces", model.Document{"n": float64(9)}, model.Modifier{"$min": map[string]interface{}{"n": float64(2)}}, "n", 2},
		{"min keeps", model.Document{"n": float64(1)}, model.Modifier{"$min": map[string]interface{}{"n": float64(2)}}, "n", 1},
		{"max replaces", model.Document{"n": float64(1)}, model.Modifier{"$max": map[string]interface{}{"n": float64(2)}}, "n", 2},
		{"max keeps", model.Document{"n": float64(9)}, model.Modifier{"$max": map[string]interface{}{"n": float64(2)}}, "n", 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Apply(tt.doc, tt.modifier)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out[tt.field])
		})
	}
}

func TestApplyNumericTypeErrors(t *testing.T) {
	_, err := Apply(model.Document{"n": "text"}, model.Modifier{"$inc": map[string]interface{}{"n": float64(1)}})
	assert.Error(t, err)

	_, err = Apply(model.Document{}, model.Modifier{"$inc": map[string]interface{}{"n": "nope"}})
	assert.Error(t, err)
}

func TestApplyArrayOperators(t *testing.T) {
	doc := model.Document{"tags": []interface{}{"a", "b"}}

	out, err := Apply(doc, model.Modifier{"$push": map[string]interface{}{"tags": "c"}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b", "c"}, out["tags"])

	out, err = Apply(doc, model.Modifier{"$addToSet": map[string]interface{}{"tags": "a"}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, out["tags"])

	out, err = Apply(doc, model.Modifier{"$pull": map[string]interface{}{"tags": "a"}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"b"}, out["tags"])

	out, err = Apply(doc, model.Modifier{"$pop": map[string]interface{}{"tags": float64(1)}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a"}, out["tags"])

	out, err = Apply(doc, model.Modifier{"$pop": map[string]interface{}{"tags": float64(-1)}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"b"}, out["tags"])

	out, err = Apply(model.Document{}, model.Modifier{"$push": map[string]interface{}{"tags": "x"}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"x"}, out["tags"])
}

func TestApplyRename(t *testing.T) {
	out, err := Apply(model.Document{"old": "v"}, model.Modifier{"$rename": map[string]interface{}{"old": "new"}})
	require.NoError(t, err)
	assert.False(t, out.HasKey("old"))
	assert.Equal(t, "v", out["new"])

	// Renaming an absent field is a no-op.
	out, err = Apply(model.Document{"a": 1}, model.Modifier{"$rename": map[string]interface{}{"old": "new"}})
	require.NoError(t, err)
	assert.False(t, out.HasKey("new"))
}

func TestApplyRejectsUnknownOperator(t *testing.T) {
	_, err := Apply(model.Document{}, model.Modifier{"$frobnicate": map[string]interface{}{"a": 1}})
	assert.Error(t, err)

	_, err = Apply(model.Document{}, model.Modifier{"$set": "not an object"})
	assert.Error(t, err)
}

func TestApplyChangesID(t *testing.T) {
	out, err := Apply(model.Document{"id": "1"}, model.Modifier{"$set": map[string]interface{}{"id": "2"}})
	require.NoError(t, err)
	assert.Equal(t, "2", out.GetID())
}
