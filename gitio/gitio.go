// Package gitio imports history from existing Git repositories using go-git.
package gitio

import (
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"kodeon-core/blob"
	"kodeon-core/commit"
)

// Repository wraps an opened Git repository.
type Repository struct {
	repo *git.Repository
	path string
}

// Open opens an existing Git repository at path.
func Open(path string) (*Repository, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return &Repository{repo: repo, path: path}, nil
}

// ResolveRef resolves a branch name, tag, or commit hash to a Git commit.
func (r *Repository) ResolveRef(refName string) (*object.Commit, error) {
	if ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(refName), true); err == nil {
		return r.repo.CommitObject(ref.Hash())
	}
	if ref, err := r.repo.Reference(plumbing.NewTagReferenceName(refName), true); err == nil {
		return r.repo.CommitObject(ref.Hash())
	}
	c, err := r.repo.CommitObject(plumbing.NewHash(refName))
	if err != nil {
		return nil, fmt.Errorf("resolving ref %q: not a branch, tag, or commit hash", refName)
	}
	return c, nil
}

// ImportResult summarizes an import run.
type ImportResult struct {
	Commits int
	Blobs   int
	Head    string // native id of the imported tip
}

// Import replays the first-parent history ending at refName as native
// commits: every file of every revision is written through the blob store and
// each Git commit becomes a single-parent native commit carrying the original
// author and message. Returns the native id of the tip.
func Import(r *Repository, refName string, blobs *blob.Store, graph *commit.Graph) (*ImportResult, error) {
	tip, err := r.ResolveRef(refName)
	if err != nil {
		return nil, err
	}

	// Collect first-parent chain oldest first.
	var chain []*object.Commit
	for c := tip; c != nil; {
		chain = append(chain, c)
		if c.NumParents() == 0 {
			break
		}
		parent, err := c.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("walking parents: %w", err)
		}
		c = parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	result := &ImportResult{}
	var parents []string

	for _, gc := range chain {
		tree, err := gc.Tree()
		if err != nil {
			return nil, fmt.Errorf("getting tree for %s: %w", gc.Hash, err)
		}

		nativeTree := make(map[string]string)
		err = tree.Files().ForEach(func(f *object.File) error {
			content, err := f.Contents()
			if err != nil {
				return fmt.Errorf("reading %s: %w", f.Name, err)
			}
			digest, err := blobs.Put([]byte(content))
			if err != nil {
				return err
			}
			nativeTree[f.Name] = digest
			result.Blobs++
			return nil
		})
		if err != nil {
			return nil, err
		}

		nc, err := graph.Create(parents, nativeTree, gc.Author.String(), gc.Message)
		if err != nil {
			return nil, fmt.Errorf("importing %s: %w", gc.Hash, err)
		}
		parents = []string{nc.ID}
		result.Commits++
		result.Head = nc.ID
	}

	return result, nil
}
