// Package docs provides a linear version store for knowledge documents.
package docs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"kodeon-core/blob"
	"kodeon-core/cas"
	"kodeon-core/store"
)

var (
	ErrUnknownDocument        = errors.New("unknown document")
	ErrInvalidVersion         = errors.New("invalid version")
	ErrConcurrentModification = errors.New("document version appended concurrently")
)

// Document is the stored metadata of a document.
type Document struct {
	ID      string
	Title   string
	Tags    []string
	Created int64
}

// Version is one entry in a document's linear history.
type Version struct {
	DocID         string
	Number        int64
	ContentDigest string
	Author        string
	Created       int64
}

// Store manages documents and their versions. Version numbers form a
// gap-free ascending sequence per document, starting at 1.
type Store struct {
	db    *store.DB
	blobs *blob.Store
}

// NewStore creates a document store.
func NewStore(db *store.DB, blobs *blob.Store) *Store {
	return &Store{db: db, blobs: blobs}
}

// Create stores a new document and seeds version 1 with the given content.
func (s *Store) Create(title string, tags []string, content []byte, author string) (*Document, error) {
	digest, err := s.blobs.Put(content)
	if err != nil {
		return nil, err
	}
	rawDigest, err := cas.HexToBytes(digest)
	if err != nil {
		return nil, fmt.Errorf("decoding digest: %w", err)
	}

	id := uuid.New()
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshaling tags: %w", err)
	}

	tx, err := s.db.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.db.InsertDocument(tx, id[:], title, string(tagsJSON)); err != nil {
		return nil, err
	}
	inserted, err := s.db.InsertDocVersion(tx, id[:], 1, rawDigest, author)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, fmt.Errorf("%w: version 1", ErrConcurrentModification)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return s.Get(id.String())
}

// Get retrieves document metadata.
func (s *Store) Get(id string) (*Document, error) {
	raw, err := docKey(id)
	if err != nil {
		return nil, err
	}
	row, err := s.db.GetDocument(raw)
	if errors.Is(err, store.ErrDocumentNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, id)
	}
	if err != nil {
		return nil, err
	}

	var tags []string
	if err := json.Unmarshal([]byte(row.Tags), &tags); err != nil {
		return nil, fmt.Errorf("unmarshaling tags: %w", err)
	}
	return &Document{ID: id, Title: row.Title, Tags: tags, Created: row.CreatedAt}, nil
}

// List returns all documents in creation order.
func (s *Store) List() ([]*Document, error) {
	rows, err := s.db.ListDocuments()
	if err != nil {
		return nil, err
	}
	out := make([]*Document, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.FromBytes(row.ID)
		if err != nil {
			return nil, fmt.Errorf("decoding document id: %w", err)
		}
		var tags []string
		if err := json.Unmarshal([]byte(row.Tags), &tags); err != nil {
			return nil, fmt.Errorf("unmarshaling tags: %w", err)
		}
		out = append(out, &Document{ID: id.String(), Title: row.Title, Tags: tags, Created: row.CreatedAt})
	}
	return out, nil
}

// Append stores content as the next version of a document. The number is
// always the current maximum plus one; a losing concurrent append surfaces
// ErrConcurrentModification and must be retried.
func (s *Store) Append(docID string, content []byte, author string) (*Version, error) {
	raw, err := docKey(docID)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.GetDocument(raw); err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, docID)
		}
		return nil, err
	}

	digest, err := s.blobs.Put(content)
	if err != nil {
		return nil, err
	}
	rawDigest, err := cas.HexToBytes(digest)
	if err != nil {
		return nil, fmt.Errorf("decoding digest: %w", err)
	}

	tx, err := s.db.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	max, err := s.db.MaxDocVersion(tx, raw)
	if err != nil {
		return nil, err
	}
	next := max + 1

	inserted, err := s.db.InsertDocVersion(tx, raw, next, rawDigest, author)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, fmt.Errorf("%w: version %d taken", ErrConcurrentModification, next)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return s.Version(docID, next)
}

// Version retrieves a single version record. An absent document surfaces
// ErrUnknownDocument, an absent version of an existing document
// ErrInvalidVersion.
func (s *Store) Version(docID string, number int64) (*Version, error) {
	raw, err := docKey(docID)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.GetDocument(raw); err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, docID)
		}
		return nil, err
	}
	row, err := s.db.GetDocVersion(raw, number)
	if errors.Is(err, store.ErrVersionNotFound) {
		return nil, fmt.Errorf("%w: %s v%d", ErrInvalidVersion, docID, number)
	}
	if err != nil {
		return nil, err
	}
	return versionFromRow(docID, row), nil
}

// Content retrieves the stored content of a version.
func (s *Store) Content(docID string, number int64) ([]byte, error) {
	v, err := s.Version(docID, number)
	if err != nil {
		return nil, err
	}
	return s.blobs.Get(v.ContentDigest)
}

// History returns a document's versions ascending and gap-free.
func (s *Store) History(docID string) ([]*Version, error) {
	raw, err := docKey(docID)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.GetDocument(raw); err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, docID)
		}
		return nil, err
	}

	rows, err := s.db.ListDocVersions(raw)
	if err != nil {
		return nil, err
	}
	out := make([]*Version, len(rows))
	for i, row := range rows {
		out[i] = versionFromRow(docID, row)
	}
	return out, nil
}

func versionFromRow(docID string, row *store.DocVersionRow) *Version {
	return &Version{
		DocID:         docID,
		Number:        row.Version,
		ContentDigest: cas.BytesToHex(row.ContentDigest),
		Author:        row.Author,
		Created:       row.CreatedAt,
	}
}

func docKey(id string) ([]byte, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, id)
	}
	return u[:], nil
}
