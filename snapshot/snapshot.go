// Package snapshot captures and restores flat project state for offline
// reconciliation.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"kodeon-core/blob"
	"kodeon-core/ignore"
	"kodeon-core/merge"
	"kodeon-core/store"
)

// Service captures project directories into the blob store and persists the
// resulting snapshots.
type Service struct {
	db    *store.DB
	blobs *blob.Store
}

// NewService creates a snapshot service.
func NewService(db *store.DB, blobs *blob.Store) *Service {
	return &Service{db: db, blobs: blobs}
}

// Capture walks a project directory, skips paths the matcher ignores, writes
// every file through the blob store and returns the snapshot. lastModified is
// the maximum file mtime in milliseconds.
func (s *Service) Capture(dir, projectID string, matcher *ignore.Matcher) (*merge.Snapshot, error) {
	snap := &merge.Snapshot{
		ProjectID: projectID,
		Files:     make(map[string]string),
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if matcher != nil && matcher.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		digest, err := s.blobs.Put(content)
		if err != nil {
			return err
		}
		snap.Files[rel] = digest

		info, err := d.Info()
		if err != nil {
			return err
		}
		if ms := info.ModTime().UnixMilli(); ms > snap.LastModified {
			snap.LastModified = ms
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	return snap, nil
}

// Restore writes a snapshot's files under dir. Each file lands atomically via
// a temp file and rename. Files present on disk but absent from the snapshot
// are left alone.
func (s *Service) Restore(snap *merge.Snapshot, dir string) error {
	for rel, digest := range snap.Files {
		content, err := s.blobs.Get(digest)
		if err != nil {
			return fmt.Errorf("restoring %s: %w", rel, err)
		}

		target := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", rel, err)
		}

		tmp, err := os.CreateTemp(filepath.Dir(target), ".kod-restore-*")
		if err != nil {
			return fmt.Errorf("creating temp file for %s: %w", rel, err)
		}
		if _, err := tmp.Write(content); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("writing %s: %w", rel, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("closing %s: %w", rel, err)
		}
		if err := os.Rename(tmp.Name(), target); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("renaming %s: %w", rel, err)
		}
	}
	return nil
}

// Save persists the snapshot row, replacing any previous one for the project.
func (s *Service) Save(snap *merge.Snapshot) error {
	filesJSON, err := json.Marshal(snap.Files)
	if err != nil {
		return fmt.Errorf("marshaling files: %w", err)
	}
	return s.db.UpsertProjectSnapshot(snap.ProjectID, snap.LastModified, string(filesJSON))
}

// Load retrieves the stored snapshot for a project, or
// store.ErrSnapshotNotFound.
func (s *Service) Load(projectID string) (*merge.Snapshot, error) {
	row, err := s.db.GetProjectSnapshot(projectID)
	if err != nil {
		return nil, err
	}

	snap := &merge.Snapshot{
		ProjectID:    row.ProjectID,
		LastModified: row.LastModified,
		Files:        make(map[string]string),
	}
	if err := json.Unmarshal([]byte(row.Files), &snap.Files); err != nil {
		return nil, fmt.Errorf("unmarshaling files: %w", err)
	}
	return snap, nil
}
