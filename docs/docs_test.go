package docs

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"kodeon-core/blob"
	"kodeon-core/store"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, blob.NewStore(db))
}

func TestCreateSeedsVersionOne(t *testing.T) {
	s := setupStore(t)

	doc, err := s.Create("Getting Started", []string{"guide", "intro"}, []byte("# Hello\n"), "writer")
	if err != nil {
		t.Fatalf("creating: %v", err)
	}
	if doc.Title != "Getting Started" || len(doc.Tags) != 2 {
		t.Errorf("unexpected document %+v", doc)
	}

	hist, err := s.History(doc.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].Number != 1 || hist[0].Author != "writer" {
		t.Errorf("unexpected history %+v", hist)
	}

	content, err := s.Content(doc.ID, 1)
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if !bytes.Equal(content, []byte("# Hello\n")) {
		t.Errorf("content round trip failed: %q", content)
	}
}

func TestAppendNumbersAreGapFree(t *testing.T) {
	s := setupStore(t)

	doc, err := s.Create("Doc", nil, []byte("v1"), "a")
	if err != nil {
		t.Fatalf("creating: %v", err)
	}
	for i := 2; i <= 5; i++ {
		v, err := s.Append(doc.ID, []byte{byte('0' + i)}, "b")
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if v.Number != int64(i) {
			t.Errorf("version = %d, want %d", v.Number, i)
		}
	}

	hist, err := s.History(doc.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 5 {
		t.Fatalf("got %d versions", len(hist))
	}
	for i, v := range hist {
		if v.Number != int64(i+1) {
			t.Errorf("hist[%d].Number = %d", i, v.Number)
		}
	}
}

func TestUnknownDocument(t *testing.T) {
	s := setupStore(t)

	if _, err := s.Append("119c949c-5ecf-4e48-9e4a-1f471b8d6c1e", []byte("x"), "a"); !errors.Is(err, ErrUnknownDocument) {
		t.Errorf("expected ErrUnknownDocument, got %v", err)
	}
	if _, err := s.History("not-a-uuid"); !errors.Is(err, ErrUnknownDocument) {
		t.Errorf("expected ErrUnknownDocument for bad id, got %v", err)
	}

	// Version lookups on a missing document are an unknown document, not an
	// invalid version.
	if _, err := s.Version("119c949c-5ecf-4e48-9e4a-1f471b8d6c1e", 1); !errors.Is(err, ErrUnknownDocument) {
		t.Errorf("expected ErrUnknownDocument from version, got %v", err)
	}
	if _, err := s.Diff("119c949c-5ecf-4e48-9e4a-1f471b8d6c1e", 1, 2); !errors.Is(err, ErrUnknownDocument) {
		t.Errorf("expected ErrUnknownDocument from diff, got %v", err)
	}
}

func TestInvalidVersion(t *testing.T) {
	s := setupStore(t)

	doc, err := s.Create("Doc", nil, []byte("v1"), "a")
	if err != nil {
		t.Fatalf("creating: %v", err)
	}
	if _, err := s.Content(doc.ID, 9); !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("expected ErrInvalidVersion, got %v", err)
	}
	if _, err := s.Diff(doc.ID, 1, 9); !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("expected ErrInvalidVersion from diff, got %v", err)
	}
}

func TestDiffSignReversal(t *testing.T) {
	s := setupStore(t)

	doc, err := s.Create("Doc", nil, []byte("alpha\nbeta\n"), "a")
	if err != nil {
		t.Fatalf("creating: %v", err)
	}
	if _, err := s.Append(doc.ID, []byte("alpha\ngamma\n"), "a"); err != nil {
		t.Fatalf("append: %v", err)
	}

	forward, err := s.Diff(doc.ID, 1, 2)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	backward, err := s.Diff(doc.ID, 2, 1)
	if err != nil {
		t.Fatalf("reverse diff: %v", err)
	}

	ops := func(cs []Change) map[string]ChangeOp {
		m := map[string]ChangeOp{}
		for _, c := range cs {
			if c.Op != OpEqual {
				m[c.Text] = c.Op
			}
		}
		return m
	}

	fw := ops(forward)
	bw := ops(backward)
	if fw["beta"] != OpDelete || fw["gamma"] != OpInsert {
		t.Errorf("forward diff %v", fw)
	}
	if bw["beta"] != OpInsert || bw["gamma"] != OpDelete {
		t.Errorf("backward diff %v", bw)
	}
}

func TestIdenticalContentSharesBlob(t *testing.T) {
	s := setupStore(t)

	doc, err := s.Create("Doc", nil, []byte("same"), "a")
	if err != nil {
		t.Fatalf("creating: %v", err)
	}
	if _, err := s.Append(doc.ID, []byte("other"), "a"); err != nil {
		t.Fatalf("append: %v", err)
	}
	v3, err := s.Append(doc.ID, []byte("same"), "a")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	v1, err := s.Version(doc.ID, 1)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v1.ContentDigest != v3.ContentDigest {
		t.Errorf("identical contents should share a digest")
	}
}
