package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/stateflow/types"
)

func TestDiff_EmptyOnEqual(t *testing.T) {
	s := types.State{
		"x": 1,
		"nested": map[string]any{
			"name": "alpha",
			"list": []any{1, 2},
		},
	}
	assert.Empty(t, Diff(s, types.DeepCopyState(s)))
}

func TestDiff_ConflictKinds(t *testing.T) {
	old := types.State{
		"changed":  1,
		"typed":    1,
		"deleted":  "gone",
		"nilgone":  nil,
		"same":     true,
	}
	new := types.State{
		"changed": 2,
		"typed":   "one",
		"added":   "fresh",
		"same":    true,
	}

	conflicts := Diff(old, new)
	byPath := map[string]FieldConflict{}
	for _, c := range conflicts {
		byPath[c.FieldPath] = c
	}

	require.Len(t, conflicts, 4)

	assert.Equal(t, ConflictValueChanged, byPath["changed"].Type)
	assert.Equal(t, 1, byPath["changed"].CurrentValue)
	assert.Equal(t, 2, byPath["changed"].NewValue)

	assert.Equal(t, ConflictTypeMismatch, byPath["typed"].Type)

	assert.Equal(t, ConflictDeleted, byPath["deleted"].Type)
	assert.Equal(t, "gone", byPath["deleted"].CurrentValue)

	assert.Equal(t, ConflictAdded, byPath["added"].Type)
	assert.Equal(t, "fresh", byPath["added"].NewValue)

	// null old value disappearing is not a deletion
	_, ok := byPath["nilgone"]
	assert.False(t, ok)
}

func TestDiff_NestedDottedPaths(t *testing.T) {
	old := types.State{
		"user": map[string]any{
			"profile": map[string]any{"name": "alice", "age": 30},
		},
	}
	new := types.State{
		"user": map[string]any{
			"profile": map[string]any{"name": "bob", "age": 30},
		},
	}

	conflicts := Diff(old, new)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "user.profile.name", conflicts[0].FieldPath)
	assert.Equal(t, ConflictValueChanged, conflicts[0].Type)
}

func TestDiff_SequencesAreOpaque(t *testing.T) {
	old := types.State{"items": []any{1, 2, 3}}
	new := types.State{"items": []any{1, 2, 4}}

	conflicts := Diff(old, new)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "items", conflicts[0].FieldPath)
	assert.Equal(t, ConflictValueChanged, conflicts[0].Type)
	assert.Equal(t, []any{1, 2, 3}, conflicts[0].CurrentValue)
	assert.Equal(t, []any{1, 2, 4}, conflicts[0].NewValue)
}

func TestDiff_DeterministicOrder(t *testing.T) {
	old := types.State{"b": 1, "a": 1, "c": 1}
	new := types.State{"b": 2, "a": 2, "z": 2, "y": 2}

	first := Diff(old, new)
	for i := 0; i < 10; i++ {
		again := Diff(old, new)
		require.Len(t, again, len(first))
		for j := range first {
			assert.Equal(t, first[j].FieldPath, again[j].FieldPath)
			assert.Equal(t, first[j].Type, again[j].Type)
		}
	}

	// old keys (sorted) before new-only keys (sorted)
	paths := make([]string, len(first))
	for i, c := range first {
		paths[i] = c.FieldPath
	}
	assert.Equal(t, []string{"a", "b", "c", "y", "z"}, paths)
}

func TestDiff_DoesNotMutateInputs(t *testing.T) {
	old := types.State{"k": map[string]any{"v": 1}}
	new := types.State{"k": map[string]any{"v": 2}}
	oldCopy := types.DeepCopyState(old)
	newCopy := types.DeepCopyState(new)

	Diff(old, new)

	assert.True(t, types.DeepEqualState(old, oldCopy))
	assert.True(t, types.DeepEqualState(new, newCopy))
}
