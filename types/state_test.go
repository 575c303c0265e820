package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepCopyState_Isolation(t *testing.T) {
	original := State{
		"x": 1,
		"nested": map[string]any{
			"list": []any{1, 2, 3},
			"name": "alpha",
		},
	}

	copied := DeepCopyState(original)
	require.True(t, DeepEqualState(original, copied))

	// 修改副本不得影响原状态
	copied["x"] = 2
	copied["nested"].(map[string]any)["name"] = "beta"
	copied["nested"].(map[string]any)["list"].([]any)[0] = 99

	assert.Equal(t, 1, original["x"])
	assert.Equal(t, "alpha", original["nested"].(map[string]any)["name"])
	assert.Equal(t, 1, original["nested"].(map[string]any)["list"].([]any)[0])
}

func TestDeepCopyState_Nil(t *testing.T) {
	assert.Nil(t, DeepCopyState(nil))
}

func TestDeepEqualState(t *testing.T) {
	a := State{"k": map[string]any{"v": []any{"a", "b"}}}
	b := State{"k": map[string]any{"v": []any{"a", "b"}}}
	c := State{"k": map[string]any{"v": []any{"a", "c"}}}

	assert.True(t, DeepEqualState(a, b))
	assert.False(t, DeepEqualState(a, c))
}
