package commit

import (
	"errors"
	"path/filepath"
	"testing"

	"kodeon-core/blob"
	"kodeon-core/store"
)

func setupGraph(t *testing.T) (*Graph, *blob.Store) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	blobs := blob.NewStore(db)
	return NewGraph(db, blobs), blobs
}

func mustBlob(t *testing.T, blobs *blob.Store, content string) string {
	t.Helper()
	digest, err := blobs.Put([]byte(content))
	if err != nil {
		t.Fatalf("putting blob: %v", err)
	}
	return digest
}

func mustCommit(t *testing.T, g *Graph, parents []string, tree map[string]string, msg string) *Commit {
	t.Helper()
	c, err := g.Create(parents, tree, "tester", msg)
	if err != nil {
		t.Fatalf("creating commit %q: %v", msg, err)
	}
	return c
}

func TestCreateAndGet(t *testing.T) {
	g, blobs := setupGraph(t)

	d := mustBlob(t, blobs, "package main\n")
	c := mustCommit(t, g, nil, map[string]string{"main.kod": d}, "initial")

	got, err := g.Get(c.ID)
	if err != nil {
		t.Fatalf("getting commit: %v", err)
	}
	if got.Message != "initial" || got.Author != "tester" {
		t.Errorf("got message=%q author=%q", got.Message, got.Author)
	}
	if got.Tree["main.kod"] != d {
		t.Errorf("tree digest mismatch: %s", got.Tree["main.kod"])
	}
	if len(got.Parents) != 0 {
		t.Errorf("expected no parents, got %v", got.Parents)
	}
}

func TestCreateRejectsUnknownParent(t *testing.T) {
	g, blobs := setupGraph(t)

	d := mustBlob(t, blobs, "x")
	bogus := "00000000000000000000000000000000000000000000000000000000000000ff"
	_, err := g.Create([]string{bogus}, map[string]string{"a": d}, "tester", "bad")
	if !errors.Is(err, ErrInvalidParent) {
		t.Errorf("expected ErrInvalidParent, got %v", err)
	}
}

func TestCreateRejectsDanglingBlob(t *testing.T) {
	g, _ := setupGraph(t)

	missing := "1111111111111111111111111111111111111111111111111111111111111111"
	_, err := g.Create(nil, map[string]string{"a": missing}, "tester", "bad")
	if !errors.Is(err, ErrDanglingBlob) {
		t.Errorf("expected ErrDanglingBlob, got %v", err)
	}
}

func TestCreateRejectsThreeParents(t *testing.T) {
	g, blobs := setupGraph(t)

	d := mustBlob(t, blobs, "x")
	tree := map[string]string{"a": d}
	c1 := mustCommit(t, g, nil, tree, "1")
	c2 := mustCommit(t, g, nil, tree, "2")
	c3 := mustCommit(t, g, nil, tree, "3")

	_, err := g.Create([]string{c1.ID, c2.ID, c3.ID}, tree, "tester", "octopus")
	if !errors.Is(err, ErrTooManyParents) {
		t.Errorf("expected ErrTooManyParents, got %v", err)
	}
}

func TestIsAncestor(t *testing.T) {
	g, blobs := setupGraph(t)

	d := mustBlob(t, blobs, "x")
	tree := map[string]string{"a": d}
	root := mustCommit(t, g, nil, tree, "root")
	mid := mustCommit(t, g, []string{root.ID}, tree, "mid")
	tip := mustCommit(t, g, []string{mid.ID}, tree, "tip")
	side := mustCommit(t, g, []string{root.ID}, tree, "side")

	cases := []struct {
		a, b string
		want bool
	}{
		{root.ID, tip.ID, true},
		{mid.ID, tip.ID, true},
		{tip.ID, tip.ID, true},
		{tip.ID, root.ID, false},
		{side.ID, tip.ID, false},
		{root.ID, side.ID, true},
	}
	for _, tc := range cases {
		got, err := g.IsAncestor(tc.a, tc.b)
		if err != nil {
			t.Fatalf("IsAncestor: %v", err)
		}
		if got != tc.want {
			t.Errorf("IsAncestor(%.8s, %.8s) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestMergeBase(t *testing.T) {
	g, blobs := setupGraph(t)

	d := mustBlob(t, blobs, "x")
	tree := map[string]string{"a": d}
	root := mustCommit(t, g, nil, tree, "root")
	base := mustCommit(t, g, []string{root.ID}, tree, "base")
	left := mustCommit(t, g, []string{base.ID}, tree, "left")
	right := mustCommit(t, g, []string{base.ID}, tree, "right")

	mb, err := g.MergeBase(left.ID, right.ID)
	if err != nil {
		t.Fatalf("MergeBase: %v", err)
	}
	if mb == nil || mb.ID != base.ID {
		t.Errorf("expected merge base %.8s, got %+v", base.ID, mb)
	}

	// When one side is an ancestor of the other, it is the base.
	mb, err = g.MergeBase(base.ID, left.ID)
	if err != nil {
		t.Fatalf("MergeBase: %v", err)
	}
	if mb == nil || mb.ID != base.ID {
		t.Errorf("expected merge base %.8s, got %+v", base.ID, mb)
	}
}

func TestMergeBaseDisjoint(t *testing.T) {
	g, blobs := setupGraph(t)

	d := mustBlob(t, blobs, "x")
	tree := map[string]string{"a": d}
	a := mustCommit(t, g, nil, tree, "island a")
	b := mustCommit(t, g, nil, tree, "island b")

	mb, err := g.MergeBase(a.ID, b.ID)
	if err != nil {
		t.Fatalf("MergeBase: %v", err)
	}
	if mb != nil {
		t.Errorf("expected nil merge base for disjoint histories, got %.8s", mb.ID)
	}
}

func TestCreateIsIdempotentForIdenticalContent(t *testing.T) {
	g, blobs := setupGraph(t)

	d := mustBlob(t, blobs, "x")
	tree := map[string]string{"a": d}
	c1 := mustCommit(t, g, nil, tree, "same")

	// Re-inserting a commit with the same id is a no-op at the store level.
	got, err := g.Get(c1.ID)
	if err != nil {
		t.Fatalf("getting commit: %v", err)
	}
	if got.ID != c1.ID {
		t.Errorf("id mismatch after reload")
	}
}

func TestLogFollowsFirstParent(t *testing.T) {
	g, blobs := setupGraph(t)

	d := mustBlob(t, blobs, "x")
	tree := map[string]string{"a": d}
	root := mustCommit(t, g, nil, tree, "root")
	a := mustCommit(t, g, []string{root.ID}, tree, "a")
	side := mustCommit(t, g, []string{root.ID}, tree, "side")
	merged := mustCommit(t, g, []string{a.ID, side.ID}, tree, "merge")

	log, err := g.Log(merged.ID, 0)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	want := []string{merged.ID, a.ID, root.ID}
	if len(log) != len(want) {
		t.Fatalf("got %d entries, want %d", len(log), len(want))
	}
	for i, c := range log {
		if c.ID != want[i] {
			t.Errorf("log[%d] = %.8s, want %.8s", i, c.ID, want[i])
		}
	}

	limited, err := g.Log(merged.ID, 2)
	if err != nil {
		t.Fatalf("Log limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("got %d entries with limit 2", len(limited))
	}
}
