// Package repo wires the version core together over one database.
package repo

import (
	"fmt"

	"kodeon-core/blob"
	"kodeon-core/branch"
	"kodeon-core/commit"
	"kodeon-core/config"
	"kodeon-core/docs"
	"kodeon-core/review"
	"kodeon-core/snapshot"
	"kodeon-core/store"
)

// Repository is the composition root: one database and every component
// operating on it.
type Repository struct {
	Root      string
	Config    *config.Config
	DB        *store.DB
	Blobs     *blob.Store
	Commits   *commit.Graph
	Branches  *branch.Manager
	Reviews   *review.Workflow
	Documents *docs.Store
	Snapshots *snapshot.Service
}

// Open opens the repository rooted at dir. The database must already exist
// (see Init).
func Open(dir string) (*Repository, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	db, err := store.OpenRepoDB(cfg.ResolveDataDir(dir))
	if err != nil {
		return nil, err
	}

	blobs := blob.NewStore(db)
	graph := commit.NewGraph(db, blobs)
	branches := branch.NewManager(db, graph)

	return &Repository{
		Root:      dir,
		Config:    cfg,
		DB:        db,
		Blobs:     blobs,
		Commits:   graph,
		Branches:  branches,
		Reviews:   review.NewWorkflow(db, graph, branches),
		Documents: docs.NewStore(db, blobs),
		Snapshots: snapshot.NewService(db, blobs),
	}, nil
}

// Init creates a repository at dir: writes the config file, opens the
// database and seeds the default branch on an empty root commit.
func Init(dir string) (*Repository, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Save(dir); err != nil {
		return nil, err
	}

	r, err := Open(dir)
	if err != nil {
		return nil, err
	}

	root, err := r.Commits.Create(nil, map[string]string{}, cfg.Author, "repository created")
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("seeding root commit: %w", err)
	}
	if _, err := r.Branches.Create(cfg.DefaultBranch, root.ID); err != nil {
		r.Close()
		return nil, fmt.Errorf("seeding %s: %w", cfg.DefaultBranch, err)
	}
	if cfg.ProtectDefault {
		if err := r.Branches.SetProtected(cfg.DefaultBranch, true); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

// Close releases the underlying database.
func (r *Repository) Close() error {
	return r.DB.Close()
}
