package backup

import (
	"reflect"
	"testing"

	"github.com/guardian-mrv/policyengine/policy/store"
)

func snapshotOf(t *testing.T, docs map[string][]store.Document) *Snapshot {
	t.Helper()

	snap := NewSnapshot()
	for collection, list := range docs {
		for _, doc := range list {
			snap.Put(collection, doc)
		}
	}
	normalized, err := snap.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	return normalized
}

func TestComputeDiff(t *testing.T) {
	prev := snapshotOf(t, map[string][]store.Document{
		"vc": {
			{ID: "a", Fields: map[string]interface{}{"v": "1"}},
			{ID: "b", Fields: map[string]interface{}{"v": "1"}},
			{ID: "c", Fields: map[string]interface{}{"v": "1"}},
		},
	})
	next := snapshotOf(t, map[string][]store.Document{
		"vc": {
			{ID: "a", Fields: map[string]interface{}{"v": "1"}}, // unchanged
			{ID: "b", Fields: map[string]interface{}{"v": "2"}}, // updated
			{ID: "d", Fields: map[string]interface{}{"v": "1"}}, // added
		},
		// c removed
	})

	d := ComputeDiff(prev, next)
	if d.Empty() {
		t.Fatal("diff should not be empty")
	}

	if _, ok := d.Added["vc"]["d"]; !ok {
		t.Error("d should be in added")
	}
	if _, ok := d.Updated["vc"]["b"]; !ok {
		t.Error("b should be in updated")
	}
	if _, ok := d.Updated["vc"]["a"]; ok {
		t.Error("unchanged a must not appear as updated")
	}
	if !reflect.DeepEqual(d.Removed["vc"], []string{"c"}) {
		t.Errorf("removed = %v, want [c]", d.Removed["vc"])
	}
}

func TestComputeDiffIdentical(t *testing.T) {
	snap := snapshotOf(t, map[string][]store.Document{
		"vc": {{ID: "a", Fields: map[string]interface{}{"n": 1}}},
	})
	clone, err := snap.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	if d := ComputeDiff(snap, clone); !d.Empty() {
		t.Errorf("diff of identical snapshots = %+v, want empty", d)
	}
}

func TestApplyDiffReconstructs(t *testing.T) {
	base := snapshotOf(t, map[string][]store.Document{
		"vc": {
			{ID: "a", Fields: map[string]interface{}{"v": "1"}},
			{ID: "b", Fields: map[string]interface{}{"v": "1"}},
		},
		"topics": {
			{ID: "t1", Fields: map[string]interface{}{"open": true}},
		},
	})
	target := snapshotOf(t, map[string][]store.Document{
		"vc": {
			{ID: "b", Fields: map[string]interface{}{"v": "9"}},
			{ID: "c", Fields: map[string]interface{}{"v": "new"}},
		},
		"topics": {
			{ID: "t1", Fields: map[string]interface{}{"open": false}},
		},
	})

	rebuilt, err := ApplyDiff(base, ComputeDiff(base, target))
	if err != nil {
		t.Fatalf("ApplyDiff failed: %v", err)
	}
	if !reflect.DeepEqual(rebuilt.Collections, target.Collections) {
		t.Errorf("rebuilt = %v, want %v", rebuilt.Collections, target.Collections)
	}

	// The base snapshot is untouched.
	if _, ok := base.Collections["vc"]["a"]; !ok {
		t.Error("ApplyDiff mutated the base snapshot")
	}
}

func TestApplyDiffChain(t *testing.T) {
	s0 := snapshotOf(t, map[string][]store.Document{
		"vc": {{ID: "a", Fields: map[string]interface{}{"v": "0"}}},
	})
	s1 := snapshotOf(t, map[string][]store.Document{
		"vc": {
			{ID: "a", Fields: map[string]interface{}{"v": "1"}},
			{ID: "b", Fields: map[string]interface{}{"v": "1"}},
		},
	})
	s2 := snapshotOf(t, map[string][]store.Document{
		"vc": {{ID: "b", Fields: map[string]interface{}{"v": "2"}}},
	})

	// Replaying sequential diffs reconstructs the final state.
	rebuilt, err := ApplyDiff(s0, ComputeDiff(s0, s1))
	if err != nil {
		t.Fatalf("ApplyDiff failed: %v", err)
	}
	rebuilt, err = ApplyDiff(rebuilt, ComputeDiff(s1, s2))
	if err != nil {
		t.Fatalf("ApplyDiff failed: %v", err)
	}

	if !reflect.DeepEqual(rebuilt.Collections, s2.Collections) {
		t.Errorf("rebuilt = %v, want %v", rebuilt.Collections, s2.Collections)
	}
}
