package configtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTree_GetSetDelete(t *testing.T) {
	tree := Tree{}

	tree.Set("a.b.c", 1)
	v, ok := tree.Get("a.b.c")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// A scalar on the path is replaced by a subtree.
	tree.Set("a.b.c.d", "x")
	v, ok = tree.Get("a.b.c.d")
	require.True(t, ok)
	assert.Equal(t, "x", v)

	assert.True(t, tree.Delete("a.b.c.d"))
	assert.False(t, tree.Delete("a.b.c.d"))
	assert.False(t, tree.Delete("a.zz.q"))

	_, ok = tree.Get("")
	assert.False(t, ok)
	_, ok = tree.Get("a.b.c.d")
	assert.False(t, ok)
}

func TestTree_Sub(t *testing.T) {
	tree := Tree{"user_perms": map[string]any{"owner": map[string]any{"owner": true}}}

	sub := tree.Sub("user_perms")
	require.NotNil(t, sub)
	assert.Equal(t, []string{"owner"}, sub.Keys())
	assert.Nil(t, tree.Sub("user_perms.owner.owner"))
	assert.Nil(t, tree.Sub("missing"))
}

func TestShapeOf(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  Shape
	}{
		{"nil", nil, ShapeScalar},
		{"string", "x", ShapeScalar},
		{"number", 3.5, ShapeScalar},
		{"any list", []any{1}, ShapeList},
		{"string list", []string{"a"}, ShapeList},
		{"any map", map[string]any{}, ShapeSubtree},
		{"typed map", map[string]int{"a": 1}, ShapeSubtree},
		{"tree", Tree{}, ShapeSubtree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShapeOf(tt.value))
		})
	}
}

func TestNormalize(t *testing.T) {
	in := map[string]any{
		"groups": map[string][]string{"admins": {"1", "2"}},
		"ids":    []int{1, 2},
		"tree":   Tree{"k": "v"},
	}

	got := Normalize(in)

	assert.Equal(t, map[string]any{
		"groups": map[string]any{"admins": []any{"1", "2"}},
		"ids":    []any{1, 2},
		"tree":   map[string]any{"k": "v"},
	}, got)
}

func TestTree_CloneIsDeep(t *testing.T) {
	orig := Tree{"a": map[string]any{"list": []any{"x"}}}
	clone := orig.Clone()

	clone.Set("a.list", []any{"y"})
	clone.Set("a.new", true)

	v, _ := orig.Get("a.list")
	assert.Equal(t, []any{"x"}, v)
	_, ok := orig.Get("a.new")
	assert.False(t, ok)
	assert.Nil(t, Tree(nil).Clone())
}
