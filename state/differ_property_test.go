package state

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/BaSui01/stateflow/types"
)

// genState 生成随机的两层状态映射（标量 + 嵌套 map + 序列）。
func genState(t *rapid.T) types.State {
	scalar := rapid.OneOf(
		rapid.Int().AsAny(),
		rapid.String().AsAny(),
		rapid.Bool().AsAny(),
	)
	keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,8}`), 0, 6, rapid.ID[string]).Draw(t, "keys")

	s := types.State{}
	for _, k := range keys {
		switch rapid.IntRange(0, 2).Draw(t, "kind_"+k) {
		case 0:
			s[k] = scalar.Draw(t, "scalar_"+k)
		case 1:
			inner := types.State{}
			innerKeys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,6}`), 0, 4, rapid.ID[string]).Draw(t, "innerkeys_"+k)
			for _, ik := range innerKeys {
				inner[ik] = scalar.Draw(t, "inner_"+k+"_"+ik)
			}
			s[k] = map[string]any(inner)
		default:
			n := rapid.IntRange(0, 4).Draw(t, "len_"+k)
			list := make([]any, n)
			for i := 0; i < n; i++ {
				list[i] = scalar.Draw(t, "item_"+k)
			}
			s[k] = list
		}
	}
	return s
}

func TestDiff_SelfDiffIsEmpty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := genState(t)
		if conflicts := Diff(s, types.DeepCopyState(s)); len(conflicts) != 0 {
			t.Fatalf("diff(S, S) produced %d conflicts: %v", len(conflicts), conflicts)
		}
	})
}

func TestResolve_LastWriteWinsFieldEquation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genState(t)
		b := genState(t)

		r, err := NewResolver(LastWriteWins, nil)
		if err != nil {
			t.Fatalf("NewResolver: %v", err)
		}

		conflicts := Diff(a, b)
		resolved, unresolved := r.Resolve(a, b, conflicts)
		if len(unresolved) != 0 {
			t.Fatalf("last-write-wins left %d unresolved", len(unresolved))
		}

		for _, c := range conflicts {
			got, ok := lookupPath(resolved, c.FieldPath)
			switch c.Type {
			case ConflictDeleted:
				if ok {
					t.Fatalf("deleted field %q still present: %v", c.FieldPath, got)
				}
			default:
				if !ok || !types.DeepEqualState(types.State{"v": got}, types.State{"v": c.NewValue}) {
					t.Fatalf("field %q = %v, want new value %v", c.FieldPath, got, c.NewValue)
				}
			}
		}
	})
}

func TestResolve_FirstWriteWinsPreservesOld(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genState(t)
		b := genState(t)

		r, err := NewResolver(FirstWriteWins, nil)
		if err != nil {
			t.Fatalf("NewResolver: %v", err)
		}

		resolved, _ := r.Resolve(a, b, Diff(a, b))
		if !types.DeepEqualState(resolved, a) {
			t.Fatalf("first-write-wins mutated state:\nold: %v\ngot: %v", a, resolved)
		}
	})
}

// lookupPath reads a dotted path out of a state map.
func lookupPath(s types.State, path string) (any, bool) {
	current := any(s)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = m[path[start:i]]
			if !ok {
				return nil, false
			}
			start = i + 1
		}
	}
	return current, true
}
