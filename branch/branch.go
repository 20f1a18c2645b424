// Package branch manages named branch pointers over the commit graph.
package branch

import (
	"errors"
	"fmt"

	"kodeon-core/cas"
	"kodeon-core/commit"
	"kodeon-core/store"
)

var (
	ErrNotFastForward         = errors.New("update is not a fast-forward")
	ErrInvalidMerge           = errors.New("merge head does not contain current head")
	ErrProtectedBranch        = errors.New("branch is protected")
	ErrConcurrentModification = errors.New("branch moved concurrently")
	ErrUnknownCommit          = errors.New("unknown commit")
)

// UpdateMode selects which safety check an Advance runs.
type UpdateMode string

const (
	// FastForward requires the new head to be a descendant of the current one.
	FastForward UpdateMode = "fast-forward"
	// Merge requires the current head to be a parent-reachable ancestor of the
	// new head, which is how a merge commit lands on a branch.
	Merge UpdateMode = "merge"
	// Force skips ancestry checks. Refused on protected branches.
	Force UpdateMode = "force"
)

// Branch is a named pointer into the commit graph.
type Branch struct {
	Name      string
	Head      string
	Protected bool
	CreatedAt int64
	UpdatedAt int64
}

// Observer is notified after a branch head moves. Implementations must not
// advance branches from within the callback.
type Observer interface {
	BranchAdvanced(name, oldHead, newHead string)
}

// Manager performs checked branch pointer updates.
type Manager struct {
	db        *store.DB
	graph     *commit.Graph
	observers []Observer
}

// NewManager creates a branch manager.
func NewManager(db *store.DB, graph *commit.Graph) *Manager {
	return &Manager{db: db, graph: graph}
}

// Watch registers an observer for head moves.
func (m *Manager) Watch(o Observer) {
	m.observers = append(m.observers, o)
}

// Create creates a branch pointing at an existing commit.
func (m *Manager) Create(name, head string) (*Branch, error) {
	has, err := m.graph.Has(head)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommit, head)
	}

	raw, err := cas.HexToBytes(head)
	if err != nil {
		return nil, fmt.Errorf("decoding head: %w", err)
	}

	tx, err := m.db.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := m.db.CreateBranch(tx, name, raw); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return m.Get(name)
}

// Get retrieves a branch by name.
func (m *Manager) Get(name string) (*Branch, error) {
	row, err := m.db.GetBranch(name)
	if err != nil {
		return nil, err
	}
	return fromRow(row), nil
}

// List returns all branches ordered by name.
func (m *Manager) List() ([]*Branch, error) {
	rows, err := m.db.ListBranches()
	if err != nil {
		return nil, err
	}
	out := make([]*Branch, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row)
	}
	return out, nil
}

func fromRow(row *store.BranchRow) *Branch {
	return &Branch{
		Name:      row.Name,
		Head:      cas.BytesToHex(row.Head),
		Protected: row.Protected,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

// Advance moves a branch head from old to new under the given mode. The old
// head is a compare-and-swap guard: if the branch moved since the caller read
// it, ErrConcurrentModification is returned and the caller must re-read and
// retry.
func (m *Manager) Advance(name, oldHead, newHead, actor string, mode UpdateMode) error {
	b, err := m.Get(name)
	if err != nil {
		return err
	}

	if b.Protected && mode == Force {
		return fmt.Errorf("%w: %s", ErrProtectedBranch, name)
	}

	has, err := m.graph.Has(newHead)
	if err != nil {
		return err
	}
	if !has {
		return fmt.Errorf("%w: %s", ErrUnknownCommit, newHead)
	}

	switch mode {
	case FastForward:
		ok, err := m.graph.IsAncestor(oldHead, newHead)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s -> %s", ErrNotFastForward, shortID(oldHead), shortID(newHead))
		}
	case Merge:
		c, err := m.graph.Get(newHead)
		if err != nil {
			return err
		}
		if len(c.Parents) != 2 {
			return fmt.Errorf("%w: %s has %d parents, want 2", ErrInvalidMerge, shortID(newHead), len(c.Parents))
		}
		if c.Parents[0] != oldHead && c.Parents[1] != oldHead {
			return fmt.Errorf("%w: %s is not a parent of %s", ErrInvalidMerge, shortID(oldHead), shortID(newHead))
		}
	case Force:
		// No ancestry check.
	default:
		return fmt.Errorf("unknown update mode %q", mode)
	}

	oldRaw, err := cas.HexToBytes(oldHead)
	if err != nil {
		return fmt.Errorf("decoding old head: %w", err)
	}
	newRaw, err := cas.HexToBytes(newHead)
	if err != nil {
		return fmt.Errorf("decoding new head: %w", err)
	}

	tx, err := m.db.BeginTx()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := m.db.SetBranchHead(tx, name, oldRaw, newRaw, actor, string(mode)); err != nil {
		if errors.Is(err, store.ErrHeadMismatch) {
			return fmt.Errorf("%w: %s", ErrConcurrentModification, name)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	for _, o := range m.observers {
		o.BranchAdvanced(name, oldHead, newHead)
	}
	return nil
}

// SetProtected toggles branch protection.
func (m *Manager) SetProtected(name string, protected bool) error {
	return m.db.SetBranchProtected(name, protected)
}

// Delete removes a branch pointer. Protected branches are refused.
func (m *Manager) Delete(name string) error {
	b, err := m.Get(name)
	if err != nil {
		return err
	}
	if b.Protected {
		return fmt.Errorf("%w: %s", ErrProtectedBranch, name)
	}

	tx, err := m.db.BeginTx()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := m.db.DeleteBranch(tx, name); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// History returns the recorded head moves for a branch in order.
func (m *Manager) History(name string, limit int) ([]*store.BranchHistoryEntry, error) {
	return m.db.GetBranchHistory(name, 0, limit)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
