package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/kurral/internal/model"
)

// MemoryPath opens an ephemeral database
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    author_id TEXT NOT NULL,
    parent_id TEXT NOT NULL DEFAULT '',
    text TEXT NOT NULL DEFAULT '',
    image_url TEXT NOT NULL DEFAULT '',
    topics TEXT NOT NULL DEFAULT '[]',
    original_id TEXT NOT NULL DEFAULT '',
    quoted_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    deleted INTEGER NOT NULL DEFAULT 0,
    checkpoint TEXT NOT NULL DEFAULT '{}',
    run_id TEXT NOT NULL DEFAULT '',
    lease_until INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS items_parent ON items(parent_id) WHERE parent_id != '';
CREATE INDEX IF NOT EXISTS items_status ON items(status, lease_until);

CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    item_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    doc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS claims_item ON claims(item_id, position);

CREATE TABLE IF NOT EXISTS fact_checks (
    id TEXT PRIMARY KEY,
    item_id TEXT NOT NULL,
    claim_id TEXT NOT NULL,
    doc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS fact_checks_item ON fact_checks(item_id);

CREATE TABLE IF NOT EXISTS value_scores (
    item_id TEXT PRIMARY KEY,
    doc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS contributions (
    item_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    value REAL NOT NULL,
    quality REAL NOT NULL,
    discussion TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS contributions_user ON contributions(user_id, created_at);

CREATE TABLE IF NOT EXISTS violations (
    item_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    status TEXT NOT NULL,
    confident_false INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS violations_user ON violations(user_id, created_at);

CREATE TABLE IF NOT EXISTS value_stats (
    user_id TEXT PRIMARY KEY,
    doc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS kurral_scores (
    user_id TEXT PRIMARY KEY,
    doc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    item_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    next_attempt_at INTEGER NOT NULL,
    lease_until INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS jobs_pending_item ON jobs(item_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS jobs_ready ON jobs(status, next_attempt_at);

CREATE TABLE IF NOT EXISTS review_queue (
    item_id TEXT PRIMARY KEY,
    author_id TEXT NOT NULL,
    status TEXT NOT NULL,
    reasons TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL
);
`

// SQLite implements Store on a single SQLite database
type SQLite struct {
	db *sql.DB

	// Now is the clock used for leases, job scheduling and timestamps
	Now func() time.Time
}

var _ Store = (*SQLite)(nil)

// Open opens (or creates) the database at path and applies the schema
func Open(path string) (*SQLite, error) {
	dsn := path
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db, Now: time.Now}, nil
}

// OpenMemory opens an ephemeral in-memory database
func OpenMemory() (*SQLite, error) {
	return Open(MemoryPath)
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) now() time.Time {
	return s.Now().UTC()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// withTx runs fn in a transaction, committing on success
func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Items ---

const itemColumns = `id, author_id, parent_id, text, image_url, topics, original_id, quoted_id, status, deleted, checkpoint, created_at`

// CreateItem inserts a pending item and its pipeline job in one transaction
func (s *SQLite) CreateItem(ctx context.Context, item *model.ContentItem) error {
	if item.AuthorID == "" {
		return fmt.Errorf("create item: author id is required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := s.now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.Status = model.StatusPending

	topics, err := json.Marshal(nonNil(item.Topics))
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items
			(id, author_id, parent_id, text, image_url, topics, original_id, quoted_id, status, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			item.ID, item.AuthorID, item.ParentID, item.Text, item.ImageURL, string(topics),
			item.OriginalID, item.QuotedID, string(model.StatusPending), toMillis(item.CreatedAt), toMillis(now))
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		if _, err := enqueueJob(ctx, tx, item.ID, now); err != nil {
			return err
		}
		if item.ParentID != "" {
			return reopenDiscussion(ctx, tx, item.ParentID, now)
		}
		return nil
	})
}

// reopenDiscussion drops the parent's discussion outcome and queues the parent, so a thread
// analysed before this comment arrived is analysed again. Resume re-runs value and reputation after it.
func reopenDiscussion(ctx context.Context, tx *sql.Tx, parentID string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE items
		SET checkpoint = json_remove(checkpoint, '$.stages.discussion', '$.discussion'), updated_at = ?
		WHERE id = ? AND deleted = 0 AND original_id = ''`,
		toMillis(now), parentID)
	if err != nil {
		return fmt.Errorf("reopen discussion of %s: %w", parentID, err)
	}
	// Missing, deleted and plain-repost parents have no thread to analyse
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	if _, err := enqueueJob(ctx, tx, parentID, now); err != nil {
		return err
	}
	return nil
}

// GetItem returns the item, including soft-deleted ones
func (s *SQLite) GetItem(ctx context.Context, id string) (*model.ContentItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	return item, nil
}

// DeleteItem soft-deletes the item; pipeline outputs are kept for audit
func (s *SQLite) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE items SET deleted = 1, updated_at = ? WHERE id = ? AND deleted = 0`,
		toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	return expectRow(res)
}

// ListComments returns the live comments of parentID, oldest first
func (s *SQLite) ListComments(ctx context.Context, parentID string) ([]model.ContentItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items
		WHERE parent_id = ? AND deleted = 0 ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ContentItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// ResetItem returns the item to pending, optionally discarding its checkpoint so every stage re-runs
func (s *SQLite) ResetItem(ctx context.Context, id string, clearCheckpoint bool) error {
	query := `UPDATE items SET status = 'pending', updated_at = ? WHERE id = ? AND deleted = 0`
	if clearCheckpoint {
		query = `UPDATE items SET status = 'pending', checkpoint = '{}', updated_at = ? WHERE id = ? AND deleted = 0`
	}
	res, err := s.db.ExecContext(ctx, query, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("reset item %s: %w", id, err)
	}
	return expectRow(res)
}

// ClaimItem marks the item in_progress under runID; re-claiming with the same runID extends the lease
func (s *SQLite) ClaimItem(ctx context.Context, itemID, runID string, lease time.Duration) (*model.ContentItem, error) {
	now := s.now()
	var item *model.ContentItem

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE items
			SET run_id = ?, lease_until = ?, status = 'in_progress', updated_at = ?
			WHERE id = ? AND deleted = 0 AND (run_id = '' OR run_id = ? OR lease_until < ?)`,
			runID, toMillis(now.Add(lease)), toMillis(now), itemID, runID, toMillis(now))
		if err != nil {
			return fmt.Errorf("claim item %s: %w", itemID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var deleted bool
			err := tx.QueryRowContext(ctx, `SELECT deleted FROM items WHERE id = ?`, itemID).Scan(&deleted)
			if errors.Is(err, sql.ErrNoRows) || deleted {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("claim item %s: %w", itemID, err)
			}
			return ErrAlreadyClaimed
		}

		item, err = scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, itemID))
		if err != nil {
			return fmt.Errorf("load claimed item %s: %w", itemID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ReleaseItem drops runID's claim and sets the final status
func (s *SQLite) ReleaseItem(ctx context.Context, itemID, runID string, status model.ItemStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE items
		SET run_id = '', lease_until = 0, status = ?, updated_at = ?
		WHERE id = ? AND run_id = ?`,
		string(status), toMillis(s.now()), itemID, runID)
	if err != nil {
		return fmt.Errorf("release item %s: %w", itemID, err)
	}
	return expectRow(res)
}

// MergeCheckpoint applies patch to the stored checkpoint as a JSON merge patch.
// A patch carrying a RunID only applies while that run holds the item's claim.
func (s *SQLite) MergeCheckpoint(ctx context.Context, itemID string, patch model.Checkpoint) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal checkpoint patch: %w", err)
	}
	query := `UPDATE items
		SET checkpoint = json_patch(checkpoint, ?), updated_at = ?
		WHERE id = ? AND deleted = 0`
	args := []any{string(raw), toMillis(s.now()), itemID}
	if patch.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, patch.RunID)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("merge checkpoint %s: %w", itemID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		if err := requireLive(ctx, tx, itemID); err != nil {
			return err
		}
		return ErrClaimLost
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*model.ContentItem, error) {
	var (
		item       model.ContentItem
		topics     string
		status     string
		checkpoint string
		createdAt  int64
	)
	if err := row.Scan(&item.ID, &item.AuthorID, &item.ParentID, &item.Text, &item.ImageURL, &topics,
		&item.OriginalID, &item.QuotedID, &status, &item.Deleted, &checkpoint, &createdAt); err != nil {
		return nil, err
	}
	item.Status = model.ItemStatus(status)
	item.CreatedAt = fromMillis(createdAt)
	if err := json.Unmarshal([]byte(topics), &item.Topics); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	if err := json.Unmarshal([]byte(checkpoint), &item.Checkpoint); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &item, nil
}

// requireLive fails with ErrNotFound when the item is missing or deleted
func requireLive(ctx context.Context, tx *sql.Tx, itemID string) error {
	var deleted bool
	err := tx.QueryRowContext(ctx, `SELECT deleted FROM items WHERE id = ?`, itemID).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check item %s: %w", itemID, err)
	}
	return nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
