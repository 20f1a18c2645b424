// Package review implements the pull request workflow gating merges.
package review

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"kodeon-core/branch"
	"kodeon-core/commit"
	"kodeon-core/merge"
	"kodeon-core/store"
)

var (
	ErrStale                  = errors.New("pull request is stale")
	ErrWorkflowClosed         = errors.New("pull request is in a terminal state")
	ErrNotReviewer            = errors.New("actor is not a reviewer")
	ErrNotApproved            = errors.New("pull request is not approved")
	ErrNotParticipant         = errors.New("actor is not a participant")
	ErrInvalidTransition      = errors.New("transition not allowed from current state")
	ErrConcurrentModification = errors.New("pull request modified concurrently")
)

// Status is the lifecycle state of a pull request.
type Status string

const (
	StatusOpen             Status = "open"
	StatusApproved         Status = "approved"
	StatusChangesRequested Status = "changes_requested"
	StatusMerged           Status = "merged"
	StatusClosed           Status = "closed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusMerged || s == StatusClosed
}

// PullRequest is the stored review record. Base is the target head frozen at
// open (or last UpdateBase); Stale flips when the target moves past it.
type PullRequest struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Author    string   `json:"author"`
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Base      string   `json:"base"`
	Status    Status   `json:"status"`
	Stale     bool     `json:"stale"`
	Reviewers []string `json:"reviewers"`
	Approvals []string `json:"approvals"`
	MergedAs  string   `json:"mergedAs,omitempty"`
}

// Comment is a review comment, optionally anchored to a file path.
type Comment struct {
	ID       string
	PRID     string
	Author   string
	Body     string
	FilePath string
	Resolved bool
	Created  int64
}

// Workflow drives pull request state transitions. It watches the branch
// manager to detect target moves that stale open requests.
type Workflow struct {
	db       *store.DB
	graph    *commit.Graph
	branches *branch.Manager
}

// NewWorkflow creates a workflow and registers it with the branch manager so
// target-branch advances mark affected pull requests stale.
func NewWorkflow(db *store.DB, graph *commit.Graph, branches *branch.Manager) *Workflow {
	w := &Workflow{db: db, graph: graph, branches: branches}
	branches.Watch(w)
	return w
}

// Open creates a pull request from source into target, freezing the current
// target head as the review base.
func (w *Workflow) Open(title, author, source, target string, reviewers []string) (*PullRequest, error) {
	if _, err := w.branches.Get(source); err != nil {
		return nil, fmt.Errorf("source branch: %w", err)
	}
	tb, err := w.branches.Get(target)
	if err != nil {
		return nil, fmt.Errorf("target branch: %w", err)
	}

	pr := &PullRequest{
		ID:        uuid.NewString(),
		Title:     title,
		Author:    author,
		Source:    source,
		Target:    target,
		Base:      tb.Head,
		Status:    StatusOpen,
		Reviewers: append([]string{}, reviewers...),
	}
	if err := w.insert(pr); err != nil {
		return nil, err
	}
	return pr, nil
}

// Get retrieves a pull request by id.
func (w *Workflow) Get(id string) (*PullRequest, error) {
	raw, err := prKey(id)
	if err != nil {
		return nil, err
	}
	payload, err := w.db.GetPullRequest(raw)
	if err != nil {
		return nil, err
	}
	var pr PullRequest
	if err := json.Unmarshal(payload, &pr); err != nil {
		return nil, fmt.Errorf("unmarshaling pull request: %w", err)
	}
	return &pr, nil
}

// List returns every pull request, newest first.
func (w *Workflow) List() ([]*PullRequest, error) {
	payloads, err := w.db.ListPullRequests()
	if err != nil {
		return nil, err
	}
	out := make([]*PullRequest, 0, len(payloads))
	for _, p := range payloads {
		var pr PullRequest
		if err := json.Unmarshal(p, &pr); err != nil {
			return nil, fmt.Errorf("unmarshaling pull request: %w", err)
		}
		out = append(out, &pr)
	}
	return out, nil
}

// AddReviewer adds a reviewer to an open pull request.
func (w *Workflow) AddReviewer(id, reviewer string) error {
	return w.mutate(id, func(pr *PullRequest) error {
		for _, r := range pr.Reviewers {
			if r == reviewer {
				return nil
			}
		}
		pr.Reviewers = append(pr.Reviewers, reviewer)
		return nil
	})
}

// Approve records a reviewer approval. All listed reviewers must approve
// before the request reaches StatusApproved. Approving an already approved
// request is a no-op; a changes_requested request must go through Resubmit
// first.
func (w *Workflow) Approve(id, reviewer string) error {
	return w.mutate(id, func(pr *PullRequest) error {
		if pr.Status == StatusApproved {
			return nil
		}
		if pr.Status != StatusOpen {
			return fmt.Errorf("%w: approve from %s", ErrInvalidTransition, pr.Status)
		}
		if pr.Stale {
			return fmt.Errorf("%w: target moved past frozen base", ErrStale)
		}
		if !contains(pr.Reviewers, reviewer) {
			return fmt.Errorf("%w: %s", ErrNotReviewer, reviewer)
		}
		if !contains(pr.Approvals, reviewer) {
			pr.Approvals = append(pr.Approvals, reviewer)
		}
		if len(pr.Approvals) == len(pr.Reviewers) {
			pr.Status = StatusApproved
		}
		return nil
	})
}

// RequestChanges moves the request to changes_requested and clears approvals.
func (w *Workflow) RequestChanges(id, reviewer string) error {
	return w.mutate(id, func(pr *PullRequest) error {
		if !contains(pr.Reviewers, reviewer) {
			return fmt.Errorf("%w: %s", ErrNotReviewer, reviewer)
		}
		pr.Status = StatusChangesRequested
		pr.Approvals = nil
		return nil
	})
}

// Resubmit returns a changes_requested pull request to open after the author
// pushed new work.
func (w *Workflow) Resubmit(id string) error {
	return w.mutate(id, func(pr *PullRequest) error {
		if pr.Status != StatusChangesRequested {
			return fmt.Errorf("%w: resubmit from %s", ErrInvalidTransition, pr.Status)
		}
		pr.Status = StatusOpen
		pr.Approvals = nil
		return nil
	})
}

// UpdateBase refreezes the base to the current target head and clears the
// stale flag. Approvals reset: they applied to the old base.
func (w *Workflow) UpdateBase(id string) error {
	return w.mutate(id, func(pr *PullRequest) error {
		tb, err := w.branches.Get(pr.Target)
		if err != nil {
			return err
		}
		pr.Base = tb.Head
		pr.Stale = false
		pr.Approvals = nil
		if pr.Status == StatusApproved {
			pr.Status = StatusOpen
		}
		return nil
	})
}

// Close moves a pull request to the closed terminal state.
func (w *Workflow) Close(id string) error {
	return w.mutate(id, func(pr *PullRequest) error {
		pr.Status = StatusClosed
		return nil
	})
}

// Merge performs the gated merge: the request must be approved and not stale.
// The source tree is three-way merged against the common ancestor; a clean result
// produces a merge commit with parents (targetHead, sourceHead) and advances
// the target branch. Conflicts surface as *merge.ConflictError and leave the
// request open.
func (w *Workflow) Merge(id, actor string) (*commit.Commit, error) {
	pr, err := w.Get(id)
	if err != nil {
		return nil, err
	}
	if pr.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowClosed, pr.Status)
	}
	if pr.Stale {
		return nil, fmt.Errorf("%w: call UpdateBase and re-review", ErrStale)
	}
	if pr.Status != StatusApproved {
		return nil, fmt.Errorf("%w: status %s", ErrNotApproved, pr.Status)
	}

	sb, err := w.branches.Get(pr.Source)
	if err != nil {
		return nil, err
	}
	tb, err := w.branches.Get(pr.Target)
	if err != nil {
		return nil, err
	}

	sourceCommit, err := w.graph.Get(sb.Head)
	if err != nil {
		return nil, err
	}
	targetCommit, err := w.graph.Get(tb.Head)
	if err != nil {
		return nil, err
	}

	// The frozen base gates staleness; the three-way runs against the actual
	// common ancestor of the heads.
	baseTree := map[string]string{}
	mb, err := w.graph.MergeBase(tb.Head, sb.Head)
	if err != nil {
		return nil, err
	}
	if mb != nil {
		baseTree = mb.Tree
	}

	result := merge.Trees(baseTree, targetCommit.Tree, sourceCommit.Tree)
	if err := result.Err(); err != nil {
		return nil, err
	}

	mc, err := w.graph.Create(
		[]string{tb.Head, sb.Head},
		result.Tree,
		actor,
		fmt.Sprintf("Merge %s into %s: %s", pr.Source, pr.Target, pr.Title),
	)
	if err != nil {
		return nil, err
	}

	if err := w.branches.Advance(pr.Target, tb.Head, mc.ID, actor, branch.Merge); err != nil {
		return nil, err
	}

	err = w.mutate(id, func(p *PullRequest) error {
		p.Status = StatusMerged
		p.Stale = false
		p.MergedAs = mc.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mc, nil
}

// AddComment appends a comment to a pull request.
func (w *Workflow) AddComment(prID, author, body, filePath string) (*Comment, error) {
	pr, err := w.Get(prID)
	if err != nil {
		return nil, err
	}
	if pr.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowClosed, pr.Status)
	}

	id := uuid.New()
	prKeyRaw, err := prKey(prID)
	if err != nil {
		return nil, err
	}

	tx, err := w.db.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := w.db.InsertComment(tx, id[:], prKeyRaw, author, body, filePath); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	row, err := w.db.GetComment(id[:])
	if err != nil {
		return nil, err
	}
	return commentFromRow(row), nil
}

// Comments lists a pull request's comments in append order.
func (w *Workflow) Comments(prID string) ([]*Comment, error) {
	raw, err := prKey(prID)
	if err != nil {
		return nil, err
	}
	rows, err := w.db.ListComments(raw)
	if err != nil {
		return nil, err
	}
	out := make([]*Comment, len(rows))
	for i, row := range rows {
		out[i] = commentFromRow(row)
	}
	return out, nil
}

// ResolveComment toggles a comment's resolved flag. Only the comment author,
// the pull request author, or a reviewer may toggle.
func (w *Workflow) ResolveComment(commentID, actor string, resolved bool) error {
	raw, err := uuid.Parse(commentID)
	if err != nil {
		return fmt.Errorf("parsing comment id: %w", err)
	}
	row, err := w.db.GetComment(raw[:])
	if err != nil {
		return err
	}

	prID, err := uuid.FromBytes(row.PRID)
	if err != nil {
		return fmt.Errorf("decoding pull request id: %w", err)
	}
	pr, err := w.Get(prID.String())
	if err != nil {
		return err
	}
	if actor != row.Author && actor != pr.Author && !contains(pr.Reviewers, actor) {
		return fmt.Errorf("%w: %s", ErrNotParticipant, actor)
	}

	return w.db.SetCommentResolved(raw[:], resolved)
}

// BranchAdvanced implements branch.Observer. Open pull requests targeting the
// moved branch turn stale once the head leaves their frozen base.
func (w *Workflow) BranchAdvanced(name, oldHead, newHead string) {
	prs, err := w.List()
	if err != nil {
		return
	}
	for _, pr := range prs {
		if pr.Target != name || pr.Status.Terminal() || pr.Stale {
			continue
		}
		if pr.Base == newHead {
			continue
		}
		id := pr.ID
		_ = w.mutate(id, func(p *PullRequest) error {
			if !p.Status.Terminal() {
				p.Stale = true
			}
			return nil
		})
	}
}

// mutate loads, transforms and rewrites a pull request payload, refusing
// transitions out of terminal states. The rewrite compare-and-swaps on the
// loaded payload: a losing concurrent writer gets ErrConcurrentModification
// and must re-read and retry.
func (w *Workflow) mutate(id string, fn func(*PullRequest) error) error {
	raw, err := prKey(id)
	if err != nil {
		return err
	}
	prior, err := w.db.GetPullRequest(raw)
	if err != nil {
		return err
	}
	var pr PullRequest
	if err := json.Unmarshal(prior, &pr); err != nil {
		return fmt.Errorf("unmarshaling pull request: %w", err)
	}
	if pr.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrWorkflowClosed, pr.Status)
	}
	if err := fn(&pr); err != nil {
		return err
	}

	payload, err := json.Marshal(&pr)
	if err != nil {
		return fmt.Errorf("marshaling pull request: %w", err)
	}

	tx, err := w.db.BeginTx()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := w.db.UpdatePullRequest(tx, raw, prior, payload); err != nil {
		if errors.Is(err, store.ErrPayloadMismatch) {
			return fmt.Errorf("%w: %s", ErrConcurrentModification, id)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (w *Workflow) insert(pr *PullRequest) error {
	raw, err := prKey(pr.ID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(pr)
	if err != nil {
		return fmt.Errorf("marshaling pull request: %w", err)
	}

	tx, err := w.db.BeginTx()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := w.db.InsertPullRequest(tx, raw, payload); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func prKey(id string) ([]byte, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing pull request id: %w", err)
	}
	return u[:], nil
}

func commentFromRow(row *store.CommentRow) *Comment {
	id, _ := uuid.FromBytes(row.ID)
	prID, _ := uuid.FromBytes(row.PRID)
	return &Comment{
		ID:       id.String(),
		PRID:     prID.String(),
		Author:   row.Author,
		Body:     row.Body,
		FilePath: row.FilePath,
		Resolved: row.Resolved,
		Created:  row.CreatedAt,
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
