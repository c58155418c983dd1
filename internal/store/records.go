package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ppiankov/kurral/internal/model"
)

// ReplaceClaims overwrites the item's claim list
func (s *SQLite) ReplaceClaims(ctx context.Context, itemID string, claims []model.Claim) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireLive(ctx, tx, itemID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM claims WHERE item_id = ?`, itemID); err != nil {
			return fmt.Errorf("clear claims: %w", err)
		}
		for i, c := range claims {
			c.ItemID = itemID
			c.Position = i
			doc, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("marshal claim %s: %w", c.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO claims (id, item_id, position, doc) VALUES (?,?,?,?)`,
				c.ID, itemID, i, string(doc)); err != nil {
				return fmt.Errorf("insert claim %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// GetClaims returns the item's claims in extraction order
func (s *SQLite) GetClaims(ctx context.Context, itemID string) ([]model.Claim, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM claims WHERE item_id = ? ORDER BY position`, itemID)
	if err != nil {
		return nil, fmt.Errorf("get claims: %w", err)
	}
	return scanDocs[model.Claim](rows)
}

// ReplaceFactChecks overwrites the item's fact-checks
func (s *SQLite) ReplaceFactChecks(ctx context.Context, itemID string, checks []model.FactCheck) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireLive(ctx, tx, itemID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM fact_checks WHERE item_id = ?`, itemID); err != nil {
			return fmt.Errorf("clear fact checks: %w", err)
		}
		for _, fc := range checks {
			fc.ItemID = itemID
			doc, err := json.Marshal(fc)
			if err != nil {
				return fmt.Errorf("marshal fact check %s: %w", fc.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO fact_checks (id, item_id, claim_id, doc) VALUES (?,?,?,?)`,
				fc.ID, itemID, fc.ClaimID, string(doc)); err != nil {
				return fmt.Errorf("insert fact check %s: %w", fc.ID, err)
			}
		}
		return nil
	})
}

// GetFactChecks returns the item's fact-checks ordered by their claim's position
func (s *SQLite) GetFactChecks(ctx context.Context, itemID string) ([]model.FactCheck, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT f.doc FROM fact_checks f
		LEFT JOIN claims c ON c.id = f.claim_id
		WHERE f.item_id = ? ORDER BY COALESCE(c.position, 1 << 30), f.id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("get fact checks: %w", err)
	}
	return scanDocs[model.FactCheck](rows)
}

// PutValueScore overwrites the item's value score
func (s *SQLite) PutValueScore(ctx context.Context, score model.ValueScore) error {
	doc, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("marshal value score: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireLive(ctx, tx, score.ItemID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO value_scores (item_id, doc) VALUES (?, ?)
			ON CONFLICT(item_id) DO UPDATE SET doc = excluded.doc`, score.ItemID, string(doc))
		if err != nil {
			return fmt.Errorf("put value score: %w", err)
		}
		return nil
	})
}

// GetValueScore returns the item's value score
func (s *SQLite) GetValueScore(ctx context.Context, itemID string) (*model.ValueScore, error) {
	return getDoc[model.ValueScore](ctx, s.db, `SELECT doc FROM value_scores WHERE item_id = ?`, itemID)
}

// GetValueStats returns a user's value aggregates
func (s *SQLite) GetValueStats(ctx context.Context, userID string) (*model.ValueStats, error) {
	return getDoc[model.ValueStats](ctx, s.db, `SELECT doc FROM value_stats WHERE user_id = ?`, userID)
}

// PutValueStats overwrites a user's value aggregates
func (s *SQLite) PutValueStats(ctx context.Context, stats model.ValueStats) error {
	return putDoc(ctx, s.db, `INSERT INTO value_stats (user_id, doc) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET doc = excluded.doc`, stats.UserID, stats)
}

// GetKurralScore returns a user's reputation aggregate
func (s *SQLite) GetKurralScore(ctx context.Context, userID string) (*model.KurralScore, error) {
	return getDoc[model.KurralScore](ctx, s.db, `SELECT doc FROM kurral_scores WHERE user_id = ?`, userID)
}

// PutKurralScore overwrites a user's reputation aggregate
func (s *SQLite) PutKurralScore(ctx context.Context, score model.KurralScore) error {
	return putDoc(ctx, s.db, `INSERT INTO kurral_scores (user_id, doc) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET doc = excluded.doc`, score.UserID, score)
}

func getDoc[T any](ctx context.Context, db *sql.DB, query string, key string) (*T, error) {
	var doc string
	err := db.QueryRowContext(ctx, query, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	var out T
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &out, nil
}

func putDoc(ctx context.Context, db *sql.DB, query string, key string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if _, err := db.ExecContext(ctx, query, key, string(doc)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func scanDocs[T any](rows *sql.Rows) ([]T, error) {
	defer func() { _ = rows.Close() }()

	out := []T{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(doc), &v); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
