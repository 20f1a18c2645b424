package gitio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"kodeon-core/blob"
	"kodeon-core/commit"
	"kodeon-core/store"
)

func setupNative(t *testing.T) (*blob.Store, *commit.Graph) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	blobs := blob.NewStore(db)
	return blobs, commit.NewGraph(db, blobs)
}

// initGitRepo creates a git repository with two commits on master.
func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("git init: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}

	sig := &object.Signature{Name: "Importer Test", Email: "t@example.com", When: time.Now()}

	write := func(rel, content string) {
		if err := os.WriteFile(filepath.Join(dir, rel), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := wt.Add(rel); err != nil {
			t.Fatalf("git add: %v", err)
		}
	}

	write("main.kod", "fn main() {}\n")
	if _, err := wt.Commit("initial", &git.CommitOptions{Author: sig}); err != nil {
		t.Fatalf("git commit: %v", err)
	}

	write("lib.kod", "fn lib() {}\n")
	if _, err := wt.Commit("add lib", &git.CommitOptions{Author: sig}); err != nil {
		t.Fatalf("git commit: %v", err)
	}

	return dir
}

func TestImportReplaysHistory(t *testing.T) {
	blobs, graph := setupNative(t)
	dir := initGitRepo(t)

	repo, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	result, err := Import(repo, "master", blobs, graph)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Commits != 2 {
		t.Errorf("imported %d commits, want 2", result.Commits)
	}

	log, err := graph.Log(result.Head, 0)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("native history has %d entries", len(log))
	}
	if log[0].Message != "add lib" || log[1].Message != "initial" {
		t.Errorf("messages %q, %q", log[0].Message, log[1].Message)
	}

	content, err := blobs.Get(log[0].Tree["lib.kod"])
	if err != nil {
		t.Fatalf("getting imported blob: %v", err)
	}
	if string(content) != "fn lib() {}\n" {
		t.Errorf("imported content %q", content)
	}
	if _, ok := log[1].Tree["lib.kod"]; ok {
		t.Errorf("first revision should not carry lib.kod")
	}
}

func TestOpenMissingRepository(t *testing.T) {
	if _, err := Open(t.TempDir()); err == nil {
		t.Error("expected error for non-repository directory")
	}
}

func TestResolveUnknownRef(t *testing.T) {
	dir := initGitRepo(t)
	repo, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := repo.ResolveRef("no-such-branch"); err == nil {
		t.Error("expected error for unknown ref")
	}
}
