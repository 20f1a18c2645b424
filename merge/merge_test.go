package merge

import (
	"errors"
	"testing"
)

func TestTreesCleanCases(t *testing.T) {
	base := map[string]string{"a": "1", "b": "2", "c": "3"}
	left := map[string]string{"a": "1x", "b": "2", "c": "3", "d": "4"}
	right := map[string]string{"a": "1", "b": "2y", "d": "4"}

	r := Trees(base, left, right)
	if !r.Clean() {
		t.Fatalf("unexpected conflicts: %v", r.Conflicts)
	}
	want := map[string]string{"a": "1x", "b": "2y", "d": "4"}
	if len(r.Tree) != len(want) {
		t.Fatalf("tree = %v, want %v", r.Tree, want)
	}
	for p, d := range want {
		if r.Tree[p] != d {
			t.Errorf("tree[%s] = %s, want %s", p, r.Tree[p], d)
		}
	}
	if _, ok := r.Tree["c"]; ok {
		t.Errorf("deletion of c not honored")
	}
}

func TestTreesIdenticalChangesCollapse(t *testing.T) {
	base := map[string]string{"a": "1"}
	left := map[string]string{"a": "9", "n": "5"}
	right := map[string]string{"a": "9", "n": "5"}

	r := Trees(base, left, right)
	if !r.Clean() {
		t.Fatalf("unexpected conflicts: %v", r.Conflicts)
	}
	if r.Tree["a"] != "9" || r.Tree["n"] != "5" {
		t.Errorf("tree = %v", r.Tree)
	}
}

func TestTreesConflicts(t *testing.T) {
	base := map[string]string{"mod": "1", "del": "2"}
	left := map[string]string{"mod": "left", "del": "changed", "new": "l"}
	right := map[string]string{"mod": "right", "new": "r"}

	r := Trees(base, left, right)
	if r.Clean() {
		t.Fatal("expected conflicts")
	}
	if len(r.Conflicts) != 3 {
		t.Fatalf("got %d conflicts: %v", len(r.Conflicts), r.Conflicts)
	}

	kinds := map[string]ConflictKind{}
	for _, c := range r.Conflicts {
		kinds[c.Path] = c.Kind
	}
	if kinds["mod"] != ConflictBothModified {
		t.Errorf("mod: %s", kinds["mod"])
	}
	if kinds["del"] != ConflictModifyVsDelete {
		t.Errorf("del: %s", kinds["del"])
	}
	if kinds["new"] != ConflictBothAdded {
		t.Errorf("new: %s", kinds["new"])
	}

	err := r.Err()
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	var ce *ConflictError
	if !errors.As(err, &ce) || len(ce.Conflicts) != 3 {
		t.Errorf("expected ConflictError with 3 entries, got %v", err)
	}
}

func TestTreesDeleteVsUnchanged(t *testing.T) {
	base := map[string]string{"a": "1"}
	left := map[string]string{}
	right := map[string]string{"a": "1"}

	r := Trees(base, left, right)
	if !r.Clean() {
		t.Fatalf("unexpected conflicts: %v", r.Conflicts)
	}
	if len(r.Tree) != 0 {
		t.Errorf("deletion against unchanged side should win, got %v", r.Tree)
	}

	// Mirror image.
	r = Trees(base, right, left)
	if !r.Clean() || len(r.Tree) != 0 {
		t.Errorf("mirror deletion failed: %v %v", r.Conflicts, r.Tree)
	}
}

func TestTreesBothDeleted(t *testing.T) {
	base := map[string]string{"a": "1", "keep": "k"}
	left := map[string]string{"keep": "k"}
	right := map[string]string{"keep": "k"}

	r := Trees(base, left, right)
	if !r.Clean() {
		t.Fatalf("unexpected conflicts: %v", r.Conflicts)
	}
	if len(r.Tree) != 1 || r.Tree["keep"] != "k" {
		t.Errorf("tree = %v", r.Tree)
	}
}

func TestReconcileNewerWins(t *testing.T) {
	older := &Snapshot{ProjectID: "p", LastModified: 100, Files: map[string]string{"a": "1"}}
	newer := &Snapshot{ProjectID: "p", LastModified: 200, Files: map[string]string{"a": "2"}}

	got, err := Reconcile(older, newer)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got != newer {
		t.Errorf("expected newer snapshot to win")
	}

	got, err = Reconcile(newer, older)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got != newer {
		t.Errorf("reconcile is not commutative")
	}
}

func TestReconcileTieBreakIsCommutative(t *testing.T) {
	a := &Snapshot{ProjectID: "p", LastModified: 100, Files: map[string]string{"a": "1"}}
	b := &Snapshot{ProjectID: "p", LastModified: 100, Files: map[string]string{"a": "2"}}

	ab, err := Reconcile(a, b)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	ba, err := Reconcile(b, a)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if ab != ba {
		t.Errorf("tie break picked different winners")
	}
}

func TestReconcileNilSides(t *testing.T) {
	s := &Snapshot{ProjectID: "p", LastModified: 1, Files: map[string]string{}}

	if got, _ := Reconcile(nil, s); got != s {
		t.Errorf("nil local should yield remote")
	}
	if got, _ := Reconcile(s, nil); got != s {
		t.Errorf("nil remote should yield local")
	}
}
