// Package commit provides the immutable, content-addressed commit graph.
package commit

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"kodeon-core/blob"
	"kodeon-core/cas"
	"kodeon-core/store"
)

var (
	ErrInvalidParent  = errors.New("unknown parent commit")
	ErrDanglingBlob   = errors.New("tree references unknown blob")
	ErrTooManyParents = errors.New("commit may have at most two parents")
)

// Commit is an immutable node in the history graph. The id is a deterministic
// hash of the remaining fields, so two commits with identical content and
// parents are the same node.
type Commit struct {
	ID        string            `json:"-"`
	Parents   []string          `json:"parents"`
	Tree      map[string]string `json:"tree"`
	Author    string            `json:"author"`
	Message   string            `json:"message"`
	Timestamp int64             `json:"timestamp"`
}

// Graph provides commit creation and ancestry queries.
type Graph struct {
	db    *store.DB
	blobs *blob.Store
}

// NewGraph creates a commit graph over the given database.
func NewGraph(db *store.DB, blobs *blob.Store) *Graph {
	return &Graph{db: db, blobs: blobs}
}

// Create appends a new commit. Parents must already exist in the graph and
// every tree entry must resolve to a stored blob.
func (g *Graph) Create(parents []string, tree map[string]string, author, message string) (*Commit, error) {
	if len(parents) > 2 {
		return nil, ErrTooManyParents
	}

	for _, p := range parents {
		raw, err := cas.HexToBytes(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidParent, p)
		}
		has, err := g.db.HasCommit(raw)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, fmt.Errorf("%w: %s", ErrInvalidParent, p)
		}
	}

	digests := make([]string, 0, len(tree))
	for _, d := range tree {
		digests = append(digests, d)
	}
	present, err := g.blobs.ContainsAll(digests)
	if err != nil {
		return nil, err
	}
	// Deterministic error for the first missing path.
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if !present[tree[p]] {
			return nil, fmt.Errorf("%w: %s -> %s", ErrDanglingBlob, p, tree[p])
		}
	}

	c := &Commit{
		Parents:   append([]string{}, parents...),
		Tree:      tree,
		Author:    author,
		Message:   message,
		Timestamp: cas.NowMs(),
	}

	id, payload, err := identify(c)
	if err != nil {
		return nil, err
	}
	c.ID = cas.BytesToHex(id)

	tx, err := g.db.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := g.db.InsertCommit(tx, id, payload); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return c, nil
}

// identify computes the content-addressed id and canonical payload.
func identify(c *Commit) ([]byte, []byte, error) {
	payloadMap := map[string]interface{}{
		"parents":   c.Parents,
		"tree":      c.Tree,
		"author":    c.Author,
		"message":   c.Message,
		"timestamp": c.Timestamp,
	}
	payload, err := cas.CanonicalJSON(payloadMap)
	if err != nil {
		return nil, nil, fmt.Errorf("canonicalizing commit: %w", err)
	}
	id := cas.Blake3Hash(append([]byte("Commit\n"), payload...))
	return id, payload, nil
}

// Get retrieves a commit by hex id.
func (g *Graph) Get(id string) (*Commit, error) {
	raw, err := cas.HexToBytes(id)
	if err != nil {
		return nil, fmt.Errorf("decoding commit id: %w", err)
	}
	payload, err := g.db.GetCommitPayload(raw)
	if err != nil {
		return nil, err
	}

	var c Commit
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("unmarshaling commit: %w", err)
	}
	c.ID = id
	return &c, nil
}

// Has reports whether a commit exists.
func (g *Graph) Has(id string) (bool, error) {
	raw, err := cas.HexToBytes(id)
	if err != nil {
		return false, fmt.Errorf("decoding commit id: %w", err)
	}
	return g.db.HasCommit(raw)
}

// IsAncestor reports whether a is reachable by following parent edges from b,
// including a == b. The walk memoizes visited nodes per query and terminates
// because the parent relation is acyclic.
func (g *Graph) IsAncestor(a, b string) (bool, error) {
	if a == b {
		return true, nil
	}

	visited := map[string]bool{b: true}
	queue := []string{b}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		c, err := g.Get(id)
		if err != nil {
			if errors.Is(err, store.ErrCommitNotFound) {
				continue
			}
			return false, err
		}

		for _, p := range c.Parents {
			if p == a {
				return true, nil
			}
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}

	return false, nil
}

// MergeBase returns the lowest common ancestor of a and b, or nil for
// disjoint histories. BFS runs breadth-first over both sides; parents are
// enqueued in order, so among equally-deep candidates the one reached through
// first-parent edges wins, keeping criss-cross histories deterministic.
func (g *Graph) MergeBase(a, b string) (*Commit, error) {
	ancestorsOfA, err := g.ancestorSet(a)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{b: true}
	queue := []string{b}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if ancestorsOfA[id] {
			return g.Get(id)
		}

		c, err := g.Get(id)
		if err != nil {
			if errors.Is(err, store.ErrCommitNotFound) {
				continue
			}
			return nil, err
		}
		for _, p := range c.Parents {
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}

	return nil, nil
}

// ancestorSet returns every commit reachable from id, including id itself.
func (g *Graph) ancestorSet(id string) (map[string]bool, error) {
	set := map[string]bool{id: true}
	queue := []string{id}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		c, err := g.Get(cur)
		if err != nil {
			if errors.Is(err, store.ErrCommitNotFound) {
				continue
			}
			return nil, err
		}
		for _, p := range c.Parents {
			if !set[p] {
				set[p] = true
				queue = append(queue, p)
			}
		}
	}

	return set, nil
}

// Log lists history from a commit following first-parent edges, newest first.
// limit <= 0 means no limit.
func (g *Graph) Log(from string, limit int) ([]*Commit, error) {
	var out []*Commit
	id := from

	for id != "" {
		if limit > 0 && len(out) >= limit {
			break
		}
		c, err := g.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)

		if len(c.Parents) == 0 {
			break
		}
		id = c.Parents[0]
	}

	return out, nil
}
