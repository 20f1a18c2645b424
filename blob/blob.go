// Package blob provides the content-addressed blob store. Identical contents
// collapse to a single stored blob keyed by their BLAKE3 digest.
package blob

import (
	"fmt"

	"kodeon-core/cas"
	"kodeon-core/store"
)

// Store is the content-addressed blob store over the shared database.
type Store struct {
	db *store.DB
}

// NewStore creates a blob store over the given database.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// Put stores content and returns its hex digest. Idempotent: identical bytes
// always yield the identical digest and are stored once, so unlimited
// concurrent callers are safe without locking.
func (s *Store) Put(content []byte) (string, error) {
	digest := cas.Blake3Hash(content)

	tx, err := s.db.BeginTx()
	if err != nil {
		return "", fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.db.PutBlob(tx, digest, content); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing transaction: %w", err)
	}

	return cas.BytesToHex(digest), nil
}

// Get retrieves content by hex digest. Returns store.ErrBlobNotFound when the
// digest is unknown.
func (s *Store) Get(digest string) ([]byte, error) {
	raw, err := cas.HexToBytes(digest)
	if err != nil {
		return nil, fmt.Errorf("decoding digest: %w", err)
	}
	return s.db.GetBlob(raw)
}

// Contains reports whether a blob with the given hex digest exists.
func (s *Store) Contains(digest string) (bool, error) {
	raw, err := cas.HexToBytes(digest)
	if err != nil {
		return false, fmt.Errorf("decoding digest: %w", err)
	}
	return s.db.HasBlob(raw)
}

// ContainsAll reports which of the given hex digests exist.
func (s *Store) ContainsAll(digests []string) (map[string]bool, error) {
	raws := make([][]byte, 0, len(digests))
	for _, d := range digests {
		raw, err := cas.HexToBytes(d)
		if err != nil {
			return nil, fmt.Errorf("decoding digest %q: %w", d, err)
		}
		raws = append(raws, raw)
	}
	return s.db.HasBlobs(raws)
}

// Sweep deletes every blob whose hex digest is not in the live set and
// returns the number removed. Callers compute the live set by marking the
// transitive closure of reachable objects (see the repo gc planner).
func (s *Store) Sweep(live map[string]bool) (int, error) {
	infos, err := s.db.ListBlobs()
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx()
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	removed := 0
	for _, info := range infos {
		if live[cas.BytesToHex(info.Digest)] {
			continue
		}
		if err := s.db.DeleteBlob(tx, info.Digest); err != nil {
			return 0, err
		}
		removed++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return removed, nil
}
