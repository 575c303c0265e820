package state

import (
	"reflect"
	"sort"
	"time"

	"github.com/BaSui01/stateflow/types"
)

// ConflictType classifies a field-level disagreement between two states.
type ConflictType string

const (
	// ConflictValueChanged means both states hold the field with the same
	// runtime type but different values.
	ConflictValueChanged ConflictType = "VALUE_CHANGED"
	// ConflictTypeMismatch means both states hold the field but with
	// different runtime types.
	ConflictTypeMismatch ConflictType = "TYPE_MISMATCH"
	// ConflictAdded means the field exists only in the new state.
	ConflictAdded ConflictType = "ADDED"
	// ConflictDeleted means the field exists only in the old state.
	ConflictDeleted ConflictType = "DELETED"
)

// FieldConflict describes one field-level difference between two states.
// FieldPath is dotted for nested maps ("user.profile.name").
type FieldConflict struct {
	FieldPath    string       `json:"field_path"`
	CurrentValue any          `json:"current_value"`
	NewValue     any          `json:"new_value"`
	Type         ConflictType `json:"conflict_type"`
	DetectedAt   time.Time    `json:"detected_at"`
}

// Diff computes the ordered field-level differences between two states.
//
// Traversal is deterministic: old's keys in sorted order, then new-only
// keys in sorted order. Nested maps are compared leaf-wise with dotted
// paths; sequences are compared as opaque values (a whole-sequence
// VALUE_CHANGED, never element-wise). Equal fields are omitted.
// Pure function: neither input is mutated.
func Diff(old, new types.State) []FieldConflict {
	return diffMaps(old, new, "", time.Now())
}

func diffMaps(old, new map[string]any, prefix string, detectedAt time.Time) []FieldConflict {
	var conflicts []FieldConflict

	for _, key := range sortedKeys(old) {
		path := joinPath(prefix, key)
		oldVal := old[key]

		newVal, inNew := new[key]
		if !inNew {
			// A null old value disappearing is not a deletion.
			if oldVal != nil {
				conflicts = append(conflicts, FieldConflict{
					FieldPath:    path,
					CurrentValue: oldVal,
					Type:         ConflictDeleted,
					DetectedAt:   detectedAt,
				})
			}
			continue
		}

		conflicts = append(conflicts, diffValues(oldVal, newVal, path, detectedAt)...)
	}

	for _, key := range sortedKeys(new) {
		if _, inOld := old[key]; inOld {
			continue
		}
		conflicts = append(conflicts, FieldConflict{
			FieldPath:  joinPath(prefix, key),
			NewValue:   new[key],
			Type:       ConflictAdded,
			DetectedAt: detectedAt,
		})
	}

	return conflicts
}

func diffValues(oldVal, newVal any, path string, detectedAt time.Time) []FieldConflict {
	oldMap, oldIsMap := oldVal.(map[string]any)
	newMap, newIsMap := newVal.(map[string]any)

	if oldIsMap && newIsMap {
		return diffMaps(oldMap, newMap, path, detectedAt)
	}

	if sameRuntimeType(oldVal, newVal) {
		if reflect.DeepEqual(oldVal, newVal) {
			return nil
		}
		return []FieldConflict{{
			FieldPath:    path,
			CurrentValue: oldVal,
			NewValue:     newVal,
			Type:         ConflictValueChanged,
			DetectedAt:   detectedAt,
		}}
	}

	return []FieldConflict{{
		FieldPath:    path,
		CurrentValue: oldVal,
		NewValue:     newVal,
		Type:         ConflictTypeMismatch,
		DetectedAt:   detectedAt,
	}}
}

func sameRuntimeType(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.TypeOf(a) == reflect.TypeOf(b)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
