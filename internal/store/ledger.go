package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ppiankov/kurral/internal/model"
)

// AppendContribution records the item's ledger entry. A re-scored item supersedes its earlier
// value, quality and discussion while keeping the original kind and date; it reports whether
// the entry is new.
func (s *SQLite) AppendContribution(ctx context.Context, c model.ValueContribution) (bool, error) {
	var discussion any
	if c.Discussion != nil {
		raw, err := json.Marshal(c.Discussion)
		if err != nil {
			return false, fmt.Errorf("marshal discussion: %w", err)
		}
		discussion = string(raw)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}

	var existed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM contributions WHERE item_id = ?)`, c.ItemID).Scan(&existed)
		if err != nil {
			return fmt.Errorf("check contribution: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO contributions
			(item_id, user_id, kind, value, quality, discussion, created_at) VALUES (?,?,?,?,?,?,?)
			ON CONFLICT(item_id) DO UPDATE SET
				value = excluded.value, quality = excluded.quality, discussion = excluded.discussion`,
			c.ItemID, c.UserID, string(c.Kind), c.Value, c.Quality, discussion, toMillis(c.CreatedAt))
		if err != nil {
			return fmt.Errorf("append contribution: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return !existed, nil
}

// ListContributions returns a user's ledger entries at or after since, newest first; limit <= 0 means all
func (s *SQLite) ListContributions(ctx context.Context, userID string, since time.Time, limit int) ([]model.ValueContribution, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, user_id, kind, value, quality, discussion, created_at
		FROM contributions WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at DESC, item_id LIMIT ?`, userID, toMillis(since), limit)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ValueContribution
	for rows.Next() {
		var (
			c          model.ValueContribution
			kind       string
			discussion *string
			createdAt  int64
		)
		if err := rows.Scan(&c.ItemID, &c.UserID, &kind, &c.Value, &c.Quality, &discussion, &createdAt); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		c.Kind = model.ContributionKind(kind)
		c.CreatedAt = fromMillis(createdAt)
		if discussion != nil {
			var d model.DiscussionQuality
			if err := json.Unmarshal([]byte(*discussion), &d); err != nil {
				return nil, fmt.Errorf("decode discussion: %w", err)
			}
			c.Discussion = &d
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertViolation records or updates the strike for an item, keeping its original date
func (s *SQLite) UpsertViolation(ctx context.Context, v model.Violation) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO violations (item_id, user_id, status, confident_false, created_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(item_id) DO UPDATE SET status = excluded.status, confident_false = excluded.confident_false`,
		v.ItemID, v.UserID, string(v.Status), v.ConfidentFalseCount, toMillis(v.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert violation: %w", err)
	}
	return nil
}

// DeleteViolation removes an item's strike after a re-run clears it
func (s *SQLite) DeleteViolation(ctx context.Context, itemID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM violations WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("delete violation: %w", err)
	}
	return nil
}

// ListViolations returns a user's strikes at or after since, newest first
func (s *SQLite) ListViolations(ctx context.Context, userID string, since time.Time) ([]model.Violation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, user_id, status, confident_false, created_at
		FROM violations WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at DESC, item_id`, userID, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Violation
	for rows.Next() {
		var (
			v         model.Violation
			status    string
			createdAt int64
		)
		if err := rows.Scan(&v.ItemID, &v.UserID, &status, &v.ConfidentFalseCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.Status = model.PolicyStatus(status)
		v.CreatedAt = fromMillis(createdAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListActiveUsers returns users with ledger or violation activity at or after since
func (s *SQLite) ListActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	ms := toMillis(since)
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM contributions WHERE created_at >= ?
		UNION SELECT user_id FROM violations WHERE created_at >= ?
		ORDER BY 1`, ms, ms)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
