// Package store provides SQLite-backed storage for the version core.
package store

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"kodeon-core/cas"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

var (
	ErrBlobNotFound        = errors.New("blob not found")
	ErrCommitNotFound      = errors.New("commit not found")
	ErrBranchNotFound      = errors.New("branch not found")
	ErrDuplicateBranch     = errors.New("branch already exists")
	ErrHeadMismatch        = errors.New("branch head mismatch")
	ErrPullRequestNotFound = errors.New("pull request not found")
	ErrPayloadMismatch     = errors.New("pull request payload mismatch")
	ErrCommentNotFound     = errors.New("comment not found")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrVersionNotFound     = errors.New("document version not found")
	ErrSnapshotNotFound    = errors.New("project snapshot not found")
)

// DB wraps a SQLite connection for the version core.
type DB struct {
	conn *sql.DB
	path string
}

// OpenRepoDB opens or creates the database under a repository directory.
func OpenRepoDB(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}
	return Open(filepath.Join(dir, "core.db"))
}

// Open opens a database at the given path.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	db := &DB{conn: conn, path: dbPath}

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// BeginTx starts a new transaction.
func (db *DB) BeginTx() (*sql.Tx, error) {
	return db.conn.Begin()
}

// BeginTxCtx starts a new transaction with context for cancellation support.
func (db *DB) BeginTxCtx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return db.conn.BeginTx(ctx, opts)
}

// ----- Blobs -----

// BlobInfo describes a stored blob without its content.
type BlobInfo struct {
	Digest    []byte
	Size      int64
	CreatedAt int64
}

// PutBlob stores a blob under its digest. Idempotent: concurrent puts of the
// same bytes collapse to one row.
func (db *DB) PutBlob(tx *sql.Tx, digest, content []byte) error {
	_, err := tx.Exec(
		`INSERT OR IGNORE INTO blobs (digest, content, size, created_at) VALUES (?, ?, ?, ?)`,
		digest, content, len(content), cas.NowMs(),
	)
	if err != nil {
		return fmt.Errorf("inserting blob: %w", err)
	}
	return nil
}

// GetBlob retrieves blob content by digest.
func (db *DB) GetBlob(digest []byte) ([]byte, error) {
	var content []byte
	err := db.conn.QueryRow(`SELECT content FROM blobs WHERE digest = ?`, digest).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying blob: %w", err)
	}
	return content, nil
}

// HasBlob checks whether a blob exists by digest.
func (db *DB) HasBlob(digest []byte) (bool, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM blobs WHERE digest = ?`, digest).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking blob: %w", err)
	}
	return count > 0, nil
}

// HasBlobs checks which digests exist. Returns a set of existing digests
// (hex-encoded), batched to avoid query size limits.
func (db *DB) HasBlobs(digests [][]byte) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(digests) == 0 {
		return result, nil
	}

	batchSize := 500
	for i := 0; i < len(digests); i += batchSize {
		end := i + batchSize
		if end > len(digests) {
			end = len(digests)
		}
		batch := digests[i:end]

		placeholders := make([]string, len(batch))
		args := make([]interface{}, len(batch))
		for j, d := range batch {
			placeholders[j] = "?"
			args[j] = d
		}

		query := fmt.Sprintf(
			`SELECT digest FROM blobs WHERE digest IN (%s)`,
			strings.Join(placeholders, ","),
		)

		rows, err := db.conn.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("querying blobs: %w", err)
		}
		for rows.Next() {
			var digest []byte
			if err := rows.Scan(&digest); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning blob: %w", err)
			}
			result[hex.EncodeToString(digest)] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterating blobs: %w", err)
		}
	}

	return result, nil
}

// ListBlobs returns metadata for every stored blob.
func (db *DB) ListBlobs() ([]*BlobInfo, error) {
	rows, err := db.conn.Query(`SELECT digest, size, created_at FROM blobs`)
	if err != nil {
		return nil, fmt.Errorf("querying blobs: %w", err)
	}
	defer rows.Close()

	var infos []*BlobInfo
	for rows.Next() {
		var info BlobInfo
		if err := rows.Scan(&info.Digest, &info.Size, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning blob: %w", err)
		}
		infos = append(infos, &info)
	}
	return infos, rows.Err()
}

// DeleteBlob removes a blob row. Used only by garbage collection.
func (db *DB) DeleteBlob(tx *sql.Tx, digest []byte) error {
	_, err := tx.Exec(`DELETE FROM blobs WHERE digest = ?`, digest)
	if err != nil {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

// ----- Commits -----

// InsertCommit stores a commit payload under its content-addressed id.
// Structural identity: re-inserting the identical commit is a no-op.
func (db *DB) InsertCommit(tx *sql.Tx, id, payload []byte) error {
	_, err := tx.Exec(
		`INSERT OR IGNORE INTO commits (id, payload, created_at) VALUES (?, ?, ?)`,
		id, string(payload), cas.NowMs(),
	)
	if err != nil {
		return fmt.Errorf("inserting commit: %w", err)
	}
	return nil
}

// GetCommitPayload retrieves the canonical payload of a commit.
func (db *DB) GetCommitPayload(id []byte) ([]byte, error) {
	var payload string
	err := db.conn.QueryRow(`SELECT payload FROM commits WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrCommitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying commit: %w", err)
	}
	return []byte(payload), nil
}

// HasCommit checks whether a commit exists.
func (db *DB) HasCommit(id []byte) (bool, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM commits WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking commit: %w", err)
	}
	return count > 0, nil
}

// ListCommitIDs returns ids of every stored commit.
func (db *DB) ListCommitIDs() ([][]byte, error) {
	rows, err := db.conn.Query(`SELECT id FROM commits`)
	if err != nil {
		return nil, fmt.Errorf("querying commits: %w", err)
	}
	defer rows.Close()

	var ids [][]byte
	for rows.Next() {
		var id []byte
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning commit: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteCommit removes a commit row. Used only by garbage collection.
func (db *DB) DeleteCommit(tx *sql.Tx, id []byte) error {
	_, err := tx.Exec(`DELETE FROM commits WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting commit: %w", err)
	}
	return nil
}

// ----- Branches -----

// BranchRow is the stored form of a branch pointer.
type BranchRow struct {
	Name      string
	Head      []byte
	Protected bool
	CreatedAt int64
	UpdatedAt int64
}

// CreateBranch inserts a new branch pointer.
func (db *DB) CreateBranch(tx *sql.Tx, name string, head []byte) error {
	ts := cas.NowMs()
	result, err := tx.Exec(
		`INSERT OR IGNORE INTO branches (name, head, protected, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
		name, head, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("inserting branch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDuplicateBranch
	}
	return nil
}

// GetBranch retrieves a branch by name.
func (db *DB) GetBranch(name string) (*BranchRow, error) {
	var row BranchRow
	var protected int
	err := db.conn.QueryRow(
		`SELECT name, head, protected, created_at, updated_at FROM branches WHERE name = ?`,
		name,
	).Scan(&row.Name, &row.Head, &protected, &row.CreatedAt, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrBranchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying branch: %w", err)
	}
	row.Protected = protected != 0
	return &row, nil
}

// ListBranches returns all branches ordered by name.
func (db *DB) ListBranches() ([]*BranchRow, error) {
	rows, err := db.conn.Query(
		`SELECT name, head, protected, created_at, updated_at FROM branches ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying branches: %w", err)
	}
	defer rows.Close()

	var branches []*BranchRow
	for rows.Next() {
		var row BranchRow
		var protected int
		if err := rows.Scan(&row.Name, &row.Head, &protected, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning branch: %w", err)
		}
		row.Protected = protected != 0
		branches = append(branches, &row)
	}
	return branches, rows.Err()
}

// SetBranchHead moves a branch pointer with a compare-and-swap on the current
// head. old must match the stored head or ErrHeadMismatch is returned; a
// losing concurrent advance sees the mismatch and must retry against the new
// head. Every successful move appends a hash-chained branch_history entry.
func (db *DB) SetBranchHead(tx *sql.Tx, name string, old, new []byte, actor, mode string) error {
	ts := cas.NowMs()

	var currentHead []byte
	err := tx.QueryRow(`SELECT head FROM branches WHERE name = ?`, name).Scan(&currentHead)
	if err == sql.ErrNoRows {
		return ErrBranchNotFound
	}
	if err != nil {
		return fmt.Errorf("checking current head: %w", err)
	}

	if !bytes.Equal(old, currentHead) {
		return ErrHeadMismatch
	}

	result, err := tx.Exec(
		`UPDATE branches SET head = ?, updated_at = ? WHERE name = ? AND head = ?`,
		new, ts, name, old,
	)
	if err != nil {
		return fmt.Errorf("updating branch head: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrHeadMismatch
	}

	// Chain history on the previous entry for this branch.
	var parentID []byte
	err = tx.QueryRow(
		`SELECT id FROM branch_history WHERE branch = ? ORDER BY seq DESC LIMIT 1`,
		name,
	).Scan(&parentID)
	if err == sql.ErrNoRows {
		parentID = nil
	} else if err != nil {
		return fmt.Errorf("getting parent history: %w", err)
	}

	entry := map[string]interface{}{
		"time":   ts,
		"actor":  actor,
		"branch": name,
		"old":    hex.EncodeToString(old),
		"new":    hex.EncodeToString(new),
		"mode":   mode,
	}
	if parentID != nil {
		entry["parent"] = hex.EncodeToString(parentID)
	}

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling history entry: %w", err)
	}
	entryID := cas.Blake3Hash(entryJSON)

	_, err = tx.Exec(
		`INSERT INTO branch_history (id, parent, time, actor, branch, old, new, mode) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entryID, parentID, ts, actor, name, old, new, mode,
	)
	if err != nil {
		return fmt.Errorf("inserting branch history: %w", err)
	}

	return nil
}

// SetBranchProtected toggles branch protection.
func (db *DB) SetBranchProtected(name string, protected bool) error {
	p := 0
	if protected {
		p = 1
	}
	result, err := db.conn.Exec(
		`UPDATE branches SET protected = ?, updated_at = ? WHERE name = ?`,
		p, cas.NowMs(), name,
	)
	if err != nil {
		return fmt.Errorf("updating branch protection: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrBranchNotFound
	}
	return nil
}

// DeleteBranch removes a branch pointer.
func (db *DB) DeleteBranch(tx *sql.Tx, name string) error {
	result, err := tx.Exec(`DELETE FROM branches WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting branch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrBranchNotFound
	}
	return nil
}

// BranchHistoryEntry records a single branch pointer move.
type BranchHistoryEntry struct {
	Seq    int64
	ID     []byte
	Parent []byte
	Time   int64
	Actor  string
	Branch string
	Old    []byte
	New    []byte
	Mode   string
}

// GetBranchHistory retrieves branch history entries in sequence order.
func (db *DB) GetBranchHistory(branch string, afterSeq int64, limit int) ([]*BranchHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if branch == "" {
		rows, err = db.conn.Query(
			`SELECT seq, id, parent, time, actor, branch, old, new, mode
			 FROM branch_history WHERE seq > ? ORDER BY seq ASC LIMIT ?`,
			afterSeq, limit,
		)
	} else {
		rows, err = db.conn.Query(
			`SELECT seq, id, parent, time, actor, branch, old, new, mode
			 FROM branch_history WHERE branch = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
			branch, afterSeq, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("querying branch history: %w", err)
	}
	defer rows.Close()

	var entries []*BranchHistoryEntry
	for rows.Next() {
		var e BranchHistoryEntry
		if err := rows.Scan(&e.Seq, &e.ID, &e.Parent, &e.Time, &e.Actor, &e.Branch, &e.Old, &e.New, &e.Mode); err != nil {
			return nil, fmt.Errorf("scanning branch history: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ----- Pull requests -----

// InsertPullRequest stores a new pull request payload.
func (db *DB) InsertPullRequest(tx *sql.Tx, id, payload []byte) error {
	ts := cas.NowMs()
	_, err := tx.Exec(
		`INSERT INTO pull_requests (id, payload, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, string(payload), ts, ts,
	)
	if err != nil {
		return fmt.Errorf("inserting pull request: %w", err)
	}
	return nil
}

// GetPullRequest retrieves a pull request payload by id.
func (db *DB) GetPullRequest(id []byte) ([]byte, error) {
	var payload string
	err := db.conn.QueryRow(`SELECT payload FROM pull_requests WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrPullRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying pull request: %w", err)
	}
	return []byte(payload), nil
}

// UpdatePullRequest replaces a pull request payload with a compare-and-swap
// on the prior payload. old must match the stored payload or
// ErrPayloadMismatch is returned; a losing concurrent writer sees the
// mismatch and must re-read and retry.
func (db *DB) UpdatePullRequest(tx *sql.Tx, id, old, payload []byte) error {
	var current string
	err := tx.QueryRow(`SELECT payload FROM pull_requests WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrPullRequestNotFound
	}
	if err != nil {
		return fmt.Errorf("checking current payload: %w", err)
	}
	if current != string(old) {
		return ErrPayloadMismatch
	}

	result, err := tx.Exec(
		`UPDATE pull_requests SET payload = ?, updated_at = ? WHERE id = ? AND payload = ?`,
		string(payload), cas.NowMs(), id, string(old),
	)
	if err != nil {
		return fmt.Errorf("updating pull request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPayloadMismatch
	}
	return nil
}

// ListPullRequests returns all pull request payloads, newest first.
func (db *DB) ListPullRequests() ([][]byte, error) {
	rows, err := db.conn.Query(`SELECT payload FROM pull_requests ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying pull requests: %w", err)
	}
	defer rows.Close()

	var payloads [][]byte
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning pull request: %w", err)
		}
		payloads = append(payloads, []byte(payload))
	}
	return payloads, rows.Err()
}

// CommentRow is the stored form of a review comment.
type CommentRow struct {
	Seq       int64
	ID        []byte
	PRID      []byte
	Author    string
	Body      string
	FilePath  string
	Resolved  bool
	CreatedAt int64
}

// InsertComment appends a review comment. Comments are append-only; only the
// resolved flag is mutable afterwards.
func (db *DB) InsertComment(tx *sql.Tx, id, prID []byte, author, body, filePath string) error {
	_, err := tx.Exec(
		`INSERT INTO pr_comments (id, pr_id, author, body, file_path, resolved, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		id, prID, author, body, filePath, cas.NowMs(),
	)
	if err != nil {
		return fmt.Errorf("inserting comment: %w", err)
	}
	return nil
}

// GetComment retrieves a single comment by id.
func (db *DB) GetComment(id []byte) (*CommentRow, error) {
	var row CommentRow
	var resolved int
	var filePath sql.NullString
	err := db.conn.QueryRow(
		`SELECT seq, id, pr_id, author, body, file_path, resolved, created_at FROM pr_comments WHERE id = ?`,
		id,
	).Scan(&row.Seq, &row.ID, &row.PRID, &row.Author, &row.Body, &filePath, &resolved, &row.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCommentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying comment: %w", err)
	}
	row.FilePath = filePath.String
	row.Resolved = resolved != 0
	return &row, nil
}

// ListComments returns a pull request's comments in append order.
func (db *DB) ListComments(prID []byte) ([]*CommentRow, error) {
	rows, err := db.conn.Query(
		`SELECT seq, id, pr_id, author, body, file_path, resolved, created_at
		 FROM pr_comments WHERE pr_id = ? ORDER BY seq ASC`,
		prID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying comments: %w", err)
	}
	defer rows.Close()

	var comments []*CommentRow
	for rows.Next() {
		var row CommentRow
		var resolved int
		var filePath sql.NullString
		if err := rows.Scan(&row.Seq, &row.ID, &row.PRID, &row.Author, &row.Body, &filePath, &resolved, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning comment: %w", err)
		}
		row.FilePath = filePath.String
		row.Resolved = resolved != 0
		comments = append(comments, &row)
	}
	return comments, rows.Err()
}

// SetCommentResolved toggles the resolved flag on a comment.
func (db *DB) SetCommentResolved(id []byte, resolved bool) error {
	r := 0
	if resolved {
		r = 1
	}
	result, err := db.conn.Exec(`UPDATE pr_comments SET resolved = ? WHERE id = ?`, r, id)
	if err != nil {
		return fmt.Errorf("updating comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCommentNotFound
	}
	return nil
}

// ----- Documents -----

// DocumentRow is the stored metadata of a document.
type DocumentRow struct {
	ID        []byte
	Title     string
	Tags      string // JSON array
	CreatedAt int64
}

// InsertDocument stores a new document.
func (db *DB) InsertDocument(tx *sql.Tx, id []byte, title, tagsJSON string) error {
	_, err := tx.Exec(
		`INSERT INTO documents (id, title, tags, created_at) VALUES (?, ?, ?, ?)`,
		id, title, tagsJSON, cas.NowMs(),
	)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by id.
func (db *DB) GetDocument(id []byte) (*DocumentRow, error) {
	var row DocumentRow
	err := db.conn.QueryRow(
		`SELECT id, title, tags, created_at FROM documents WHERE id = ?`, id,
	).Scan(&row.ID, &row.Title, &row.Tags, &row.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return &row, nil
}

// ListDocuments returns all documents ordered by creation time.
func (db *DB) ListDocuments() ([]*DocumentRow, error) {
	rows, err := db.conn.Query(`SELECT id, title, tags, created_at FROM documents ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []*DocumentRow
	for rows.Next() {
		var row DocumentRow
		if err := rows.Scan(&row.ID, &row.Title, &row.Tags, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, &row)
	}
	return docs, rows.Err()
}

// DocVersionRow is the stored form of a document version.
type DocVersionRow struct {
	DocID         []byte
	Version       int64
	ContentDigest []byte
	Author        string
	CreatedAt     int64
}

// MaxDocVersion returns the highest version number for a document within the
// transaction, or 0 when the document has no versions yet.
func (db *DB) MaxDocVersion(tx *sql.Tx, docID []byte) (int64, error) {
	var max sql.NullInt64
	err := tx.QueryRow(`SELECT MAX(version) FROM doc_versions WHERE doc_id = ?`, docID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("querying max version: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// InsertDocVersion appends a version row. The (doc_id, version) primary key
// acts as the compare-and-swap: a losing concurrent append inserts zero rows.
func (db *DB) InsertDocVersion(tx *sql.Tx, docID []byte, version int64, digest []byte, author string) (bool, error) {
	result, err := tx.Exec(
		`INSERT OR IGNORE INTO doc_versions (doc_id, version, content_digest, author, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		docID, version, digest, author, cas.NowMs(),
	)
	if err != nil {
		return false, fmt.Errorf("inserting doc version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetDocVersion retrieves a single document version.
func (db *DB) GetDocVersion(docID []byte, version int64) (*DocVersionRow, error) {
	var row DocVersionRow
	err := db.conn.QueryRow(
		`SELECT doc_id, version, content_digest, author, created_at
		 FROM doc_versions WHERE doc_id = ? AND version = ?`,
		docID, version,
	).Scan(&row.DocID, &row.Version, &row.ContentDigest, &row.Author, &row.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying doc version: %w", err)
	}
	return &row, nil
}

// ListDocVersions returns a document's versions ordered ascending.
func (db *DB) ListDocVersions(docID []byte) ([]*DocVersionRow, error) {
	rows, err := db.conn.Query(
		`SELECT doc_id, version, content_digest, author, created_at
		 FROM doc_versions WHERE doc_id = ? ORDER BY version ASC`,
		docID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying doc versions: %w", err)
	}
	defer rows.Close()

	var versions []*DocVersionRow
	for rows.Next() {
		var row DocVersionRow
		if err := rows.Scan(&row.DocID, &row.Version, &row.ContentDigest, &row.Author, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning doc version: %w", err)
		}
		versions = append(versions, &row)
	}
	return versions, rows.Err()
}

// ----- Project snapshots -----

// SnapshotRow is the stored form of an offline project snapshot.
type SnapshotRow struct {
	ProjectID    string
	LastModified int64
	Files        string // JSON path -> digest hex
	UpdatedAt    int64
}

// UpsertProjectSnapshot stores or replaces the snapshot for a project.
func (db *DB) UpsertProjectSnapshot(projectID string, lastModified int64, filesJSON string) error {
	_, err := db.conn.Exec(
		`INSERT INTO project_snapshots (project_id, last_modified, files, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(project_id) DO UPDATE SET last_modified=excluded.last_modified, files=excluded.files, updated_at=excluded.updated_at`,
		projectID, lastModified, filesJSON, cas.NowMs(),
	)
	if err != nil {
		return fmt.Errorf("upserting project snapshot: %w", err)
	}
	return nil
}

// GetProjectSnapshot retrieves the stored snapshot for a project.
func (db *DB) GetProjectSnapshot(projectID string) (*SnapshotRow, error) {
	var row SnapshotRow
	err := db.conn.QueryRow(
		`SELECT project_id, last_modified, files, updated_at FROM project_snapshots WHERE project_id = ?`,
		projectID,
	).Scan(&row.ProjectID, &row.LastModified, &row.Files, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project snapshot: %w", err)
	}
	return &row, nil
}

// ListProjectSnapshots returns every stored project snapshot.
func (db *DB) ListProjectSnapshots() ([]*SnapshotRow, error) {
	rows, err := db.conn.Query(
		`SELECT project_id, last_modified, files, updated_at FROM project_snapshots ORDER BY project_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying project snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*SnapshotRow
	for rows.Next() {
		var row SnapshotRow
		if err := rows.Scan(&row.ProjectID, &row.LastModified, &row.Files, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning project snapshot: %w", err)
		}
		snaps = append(snaps, &row)
	}
	return snaps, rows.Err()
}

