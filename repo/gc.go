package repo

import (
	"encoding/json"
	"fmt"

	"kodeon-core/cas"
)

// GCPlan describes what garbage collection would remove.
type GCPlan struct {
	CommitsToDelete []string
	BlobsToDelete   []string
	BytesReclaimed  int64
	LiveCommits     int
	LiveBlobs       int
}

// Empty reports whether the plan removes nothing.
func (p *GCPlan) Empty() bool {
	return len(p.CommitsToDelete) == 0 && len(p.BlobsToDelete) == 0
}

// BuildGCPlan runs the mark phase: roots are branch heads and the frozen
// bases of non-terminal pull requests; marking walks parent edges and every
// tree digest. Document version contents and saved project snapshots pin
// their blobs as additional roots. The plan lists everything unmarked.
func (r *Repository) BuildGCPlan() (*GCPlan, error) {
	liveCommits := make(map[string]bool)
	liveBlobs := make(map[string]bool)

	var queue []string
	addRoot := func(id string) {
		if id != "" && !liveCommits[id] {
			liveCommits[id] = true
			queue = append(queue, id)
		}
	}

	branches, err := r.Branches.List()
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	for _, b := range branches {
		addRoot(b.Head)
	}

	prs, err := r.Reviews.List()
	if err != nil {
		return nil, fmt.Errorf("listing pull requests: %w", err)
	}
	for _, pr := range prs {
		if !pr.Status.Terminal() {
			addRoot(pr.Base)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		c, err := r.Commits.Get(id)
		if err != nil {
			continue
		}
		for _, d := range c.Tree {
			liveBlobs[d] = true
		}
		for _, p := range c.Parents {
			addRoot(p)
		}
	}

	if err := r.markDocumentBlobs(liveBlobs); err != nil {
		return nil, err
	}
	if err := r.markSnapshotBlobs(liveBlobs); err != nil {
		return nil, err
	}

	plan := &GCPlan{
		LiveCommits: len(liveCommits),
		LiveBlobs:   len(liveBlobs),
	}

	commitIDs, err := r.DB.ListCommitIDs()
	if err != nil {
		return nil, err
	}
	for _, raw := range commitIDs {
		id := cas.BytesToHex(raw)
		if !liveCommits[id] {
			plan.CommitsToDelete = append(plan.CommitsToDelete, id)
		}
	}

	blobInfos, err := r.DB.ListBlobs()
	if err != nil {
		return nil, err
	}
	for _, info := range blobInfos {
		d := cas.BytesToHex(info.Digest)
		if !liveBlobs[d] {
			plan.BlobsToDelete = append(plan.BlobsToDelete, d)
			plan.BytesReclaimed += info.Size
		}
	}

	return plan, nil
}

// markDocumentBlobs pins every stored document version content.
func (r *Repository) markDocumentBlobs(live map[string]bool) error {
	documents, err := r.Documents.List()
	if err != nil {
		return err
	}
	for _, doc := range documents {
		versions, err := r.Documents.History(doc.ID)
		if err != nil {
			return err
		}
		for _, v := range versions {
			live[v.ContentDigest] = true
		}
	}
	return nil
}

// markSnapshotBlobs pins blobs referenced by saved project snapshots.
func (r *Repository) markSnapshotBlobs(live map[string]bool) error {
	entries, err := r.DB.ListProjectSnapshots()
	if err != nil {
		return err
	}
	for _, row := range entries {
		files := make(map[string]string)
		if err := json.Unmarshal([]byte(row.Files), &files); err != nil {
			return fmt.Errorf("unmarshaling snapshot %s: %w", row.ProjectID, err)
		}
		for _, d := range files {
			live[d] = true
		}
	}
	return nil
}

// ExecuteGC applies a plan: unreachable commits first, then blobs. Returns
// the number of commits and blobs removed.
func (r *Repository) ExecuteGC(plan *GCPlan) (int, int, error) {
	tx, err := r.DB.BeginTx()
	if err != nil {
		return 0, 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	removedCommits := 0
	for _, id := range plan.CommitsToDelete {
		raw, err := cas.HexToBytes(id)
		if err != nil {
			return 0, 0, err
		}
		if err := r.DB.DeleteCommit(tx, raw); err != nil {
			return 0, 0, err
		}
		removedCommits++
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing transaction: %w", err)
	}

	live := make(map[string]bool)
	doomed := make(map[string]bool, len(plan.BlobsToDelete))
	for _, d := range plan.BlobsToDelete {
		doomed[d] = true
	}
	infos, err := r.DB.ListBlobs()
	if err != nil {
		return removedCommits, 0, err
	}
	for _, info := range infos {
		d := cas.BytesToHex(info.Digest)
		if !doomed[d] {
			live[d] = true
		}
	}

	removedBlobs, err := r.Blobs.Sweep(live)
	if err != nil {
		return removedCommits, 0, err
	}
	return removedCommits, removedBlobs, nil
}
