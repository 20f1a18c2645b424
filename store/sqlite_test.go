package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"kodeon-core/cas"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "core-store-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	db, err := OpenRepoDB(tmpDir)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func TestOpenRepoDB(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "core-store-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	db, err := OpenRepoDB(tmpDir)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(tmpDir, "core.db")); os.IsNotExist(err) {
		t.Error("expected database file to be created")
	}
}

func TestBlobOperations(t *testing.T) {
	db := setupTestDB(t)

	content := []byte("hello world")
	digest := cas.Blake3Hash(content)

	tx, err := db.BeginTx()
	if err != nil {
		t.Fatalf("failed to begin tx: %v", err)
	}
	if err := db.PutBlob(tx, digest, content); err != nil {
		t.Fatalf("failed to put blob: %v", err)
	}
	// Idempotent: second put of the same bytes is a no-op.
	if err := db.PutBlob(tx, digest, content); err != nil {
		t.Fatalf("failed to re-put blob: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}

	got, err := db.GetBlob(digest)
	if err != nil {
		t.Fatalf("failed to get blob: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("expected 'hello world', got %q", got)
	}

	has, err := db.HasBlob(digest)
	if err != nil {
		t.Fatalf("failed to check blob: %v", err)
	}
	if !has {
		t.Error("expected blob to exist")
	}

	_, err = db.GetBlob([]byte{0xde, 0xad})
	if !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}

	infos, err := db.ListBlobs()
	if err != nil {
		t.Fatalf("failed to list blobs: %v", err)
	}
	if len(infos) != 1 {
		t.Errorf("expected 1 blob, got %d", len(infos))
	}
	if infos[0].Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), infos[0].Size)
	}
}

func TestBranchCompareAndSwap(t *testing.T) {
	db := setupTestDB(t)

	head := cas.Blake3Hash([]byte("commit-a"))
	next := cas.Blake3Hash([]byte("commit-b"))

	tx, _ := db.BeginTx()
	if err := db.CreateBranch(tx, "main", head); err != nil {
		t.Fatalf("failed to create branch: %v", err)
	}
	if err := db.CreateBranch(tx, "main", head); !errors.Is(err, ErrDuplicateBranch) {
		t.Errorf("expected ErrDuplicateBranch, got %v", err)
	}
	tx.Commit()

	// CAS with correct old head succeeds.
	tx2, _ := db.BeginTx()
	if err := db.SetBranchHead(tx2, "main", head, next, "tester", "fast-forward"); err != nil {
		t.Fatalf("failed to set branch head: %v", err)
	}
	tx2.Commit()

	// CAS with a stale old head fails.
	tx3, _ := db.BeginTx()
	err := db.SetBranchHead(tx3, "main", head, next, "tester", "fast-forward")
	if !errors.Is(err, ErrHeadMismatch) {
		t.Errorf("expected ErrHeadMismatch, got %v", err)
	}
	tx3.Rollback()

	row, err := db.GetBranch("main")
	if err != nil {
		t.Fatalf("failed to get branch: %v", err)
	}
	if cas.BytesToHex(row.Head) != cas.BytesToHex(next) {
		t.Error("expected head to be advanced")
	}

	history, err := db.GetBranchHistory("main", 0, 10)
	if err != nil {
		t.Fatalf("failed to get history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if history[0].Mode != "fast-forward" {
		t.Errorf("expected mode 'fast-forward', got %s", history[0].Mode)
	}
}

func TestPullRequestCompareAndSwap(t *testing.T) {
	db := setupTestDB(t)

	id := cas.Blake3Hash([]byte("pr-1"))[:16]
	v1 := []byte(`{"status":"open"}`)
	v2 := []byte(`{"status":"approved"}`)
	v3 := []byte(`{"status":"merged"}`)

	tx, _ := db.BeginTx()
	if err := db.InsertPullRequest(tx, id, v1); err != nil {
		t.Fatalf("failed to insert pull request: %v", err)
	}
	tx.Commit()

	// CAS with the stored payload succeeds.
	tx2, _ := db.BeginTx()
	if err := db.UpdatePullRequest(tx2, id, v1, v2); err != nil {
		t.Fatalf("failed to update pull request: %v", err)
	}
	tx2.Commit()

	// CAS against a stale payload fails and changes nothing.
	tx3, _ := db.BeginTx()
	err := db.UpdatePullRequest(tx3, id, v1, v3)
	if !errors.Is(err, ErrPayloadMismatch) {
		t.Errorf("expected ErrPayloadMismatch, got %v", err)
	}
	tx3.Rollback()

	payload, err := db.GetPullRequest(id)
	if err != nil {
		t.Fatalf("failed to get pull request: %v", err)
	}
	if string(payload) != string(v2) {
		t.Errorf("payload = %s, want %s", payload, v2)
	}

	// Unknown id is not a mismatch.
	tx4, _ := db.BeginTx()
	err = db.UpdatePullRequest(tx4, cas.Blake3Hash([]byte("missing"))[:16], v1, v2)
	if !errors.Is(err, ErrPullRequestNotFound) {
		t.Errorf("expected ErrPullRequestNotFound, got %v", err)
	}
	tx4.Rollback()
}

func TestDocVersionCompareAndSwap(t *testing.T) {
	db := setupTestDB(t)

	docID := []byte{1, 2, 3, 4}
	digest := cas.Blake3Hash([]byte("content"))

	tx, _ := db.BeginTx()
	if err := db.InsertDocument(tx, docID, "Guide", `["intro"]`); err != nil {
		t.Fatalf("failed to insert document: %v", err)
	}

	max, err := db.MaxDocVersion(tx, docID)
	if err != nil {
		t.Fatalf("failed to query max version: %v", err)
	}
	if max != 0 {
		t.Errorf("expected max version 0, got %d", max)
	}

	ok, err := db.InsertDocVersion(tx, docID, 1, digest, "alice")
	if err != nil {
		t.Fatalf("failed to insert version: %v", err)
	}
	if !ok {
		t.Error("expected first insert to win")
	}

	// A second insert of the same version number loses the race.
	ok, err = db.InsertDocVersion(tx, docID, 1, digest, "bob")
	if err != nil {
		t.Fatalf("failed to insert version: %v", err)
	}
	if ok {
		t.Error("expected duplicate version insert to lose")
	}
	tx.Commit()

	versions, err := db.ListDocVersions(docID)
	if err != nil {
		t.Fatalf("failed to list versions: %v", err)
	}
	if len(versions) != 1 || versions[0].Author != "alice" {
		t.Errorf("expected one version by alice, got %+v", versions)
	}
}

func TestProjectSnapshotUpsert(t *testing.T) {
	db := setupTestDB(t)

	if err := db.UpsertProjectSnapshot("proj-1", 100, `{"a":"h1"}`); err != nil {
		t.Fatalf("failed to upsert snapshot: %v", err)
	}
	if err := db.UpsertProjectSnapshot("proj-1", 200, `{"a":"h2"}`); err != nil {
		t.Fatalf("failed to upsert snapshot: %v", err)
	}

	row, err := db.GetProjectSnapshot("proj-1")
	if err != nil {
		t.Fatalf("failed to get snapshot: %v", err)
	}
	if row.LastModified != 200 {
		t.Errorf("expected last_modified 200, got %d", row.LastModified)
	}

	_, err = db.GetProjectSnapshot("missing")
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}
