package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/kurral/internal/model"
)

// maxJobBackoff caps the delay between failed job attempts
const maxJobBackoff = 5 * time.Minute

// enqueueJob inserts a pending job for itemID, returning the existing pending job when one is queued
func enqueueJob(ctx context.Context, tx *sql.Tx, itemID string, now time.Time) (string, error) {
	id := uuid.NewString()
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO jobs
		(id, item_id, status, next_attempt_at, created_at, updated_at) VALUES (?,?,'pending',?,?,?)`,
		id, itemID, toMillis(now), toMillis(now), toMillis(now))
	if err != nil {
		return "", fmt.Errorf("enqueue job for %s: %w", itemID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return id, nil
	}

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM jobs WHERE item_id = ? AND status = 'pending'`, itemID).Scan(&existing)
	if err != nil {
		return "", fmt.Errorf("find pending job for %s: %w", itemID, err)
	}
	return existing, nil
}

// EnqueueJob queues a pipeline run for a live item; at most one pending job exists per item
func (s *SQLite) EnqueueJob(ctx context.Context, itemID string) (string, error) {
	var id string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireLive(ctx, tx, itemID); err != nil {
			return err
		}
		var err error
		id, err = enqueueJob(ctx, tx, itemID, s.now())
		return err
	})
	return id, err
}

// LeaseJobs leases up to n ready jobs, including leased jobs whose lease expired
func (s *SQLite) LeaseJobs(ctx context.Context, n int, lease time.Duration) ([]Job, error) {
	if n <= 0 {
		return nil, nil
	}
	now := s.now()
	nowMs := toMillis(now)

	rows, err := s.db.QueryContext(ctx, `UPDATE jobs
		SET status = 'leased', lease_until = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM jobs
			WHERE (status = 'pending' AND next_attempt_at <= ?)
			   OR (status = 'leased' AND lease_until < ?)
			ORDER BY next_attempt_at, created_at
			LIMIT ?)
		RETURNING id, item_id, attempts, last_error, next_attempt_at`,
		toMillis(now.Add(lease)), nowMs, nowMs, nowMs, n)
	if err != nil {
		return nil, fmt.Errorf("lease jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Job
	for rows.Next() {
		var (
			j    Job
			next int64
		)
		if err := rows.Scan(&j.ID, &j.ItemID, &j.Attempts, &j.LastError, &next); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Status = JobLeased
		j.NextAttemptAt = fromMillis(next)
		out = append(out, j)
	}
	return out, rows.Err()
}

// CompleteJob marks a job done
func (s *SQLite) CompleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = 'done', lease_until = 0, updated_at = ? WHERE id = ?`,
		toMillis(s.now()), jobID)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return expectRow(res)
}

// DeferJob returns a job to pending after delay without counting an attempt
func (s *SQLite) DeferJob(ctx context.Context, jobID string, delay time.Duration) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return requeueJob(ctx, tx, jobID, `UPDATE OR IGNORE jobs
			SET status = 'pending', lease_until = 0, next_attempt_at = ?, updated_at = ? WHERE id = ?`,
			toMillis(now.Add(delay)), toMillis(now), jobID)
	})
}

// FailJob records a failed attempt; the job is retried with exponential backoff until
// maxAttempts is reached, after which it is dead. It reports whether the job died.
func (s *SQLite) FailJob(ctx context.Context, jobID string, cause error, maxAttempts int) (bool, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := s.now()
	dead := false

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var attempts int
		err := tx.QueryRowContext(ctx, `SELECT attempts FROM jobs WHERE id = ?`, jobID).Scan(&attempts)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load job %s: %w", jobID, err)
		}
		attempts++

		if maxAttempts > 0 && attempts >= maxAttempts {
			dead = true
			_, err := tx.ExecContext(ctx, `UPDATE jobs
				SET status = 'dead', attempts = ?, last_error = ?, lease_until = 0, updated_at = ? WHERE id = ?`,
				attempts, msg, toMillis(now), jobID)
			if err != nil {
				return fmt.Errorf("bury job %s: %w", jobID, err)
			}
			return nil
		}

		return requeueJob(ctx, tx, jobID, `UPDATE OR IGNORE jobs
			SET status = 'pending', attempts = ?, last_error = ?, lease_until = 0, next_attempt_at = ?, updated_at = ?
			WHERE id = ?`,
			attempts, msg, toMillis(now.Add(JobBackoff(attempts))), toMillis(now), jobID)
	})
	return dead, err
}

// requeueJob runs a status=pending update; when another pending job for the same item
// already exists the update is ignored and this job is marked done as superseded
func requeueJob(ctx context.Context, tx *sql.Tx, jobID, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	res, err = tx.ExecContext(ctx, `UPDATE jobs SET status = 'done', last_error = 'superseded', lease_until = 0 WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("supersede job %s: %w", jobID, err)
	}
	return expectRow(res)
}

// JobBackoff returns the delay before retry number attempts
func JobBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(math.Pow(2, float64(attempts))) * time.Second
	if d > maxJobBackoff || d <= 0 {
		return maxJobBackoff
	}
	return d
}

// RequeueStale enqueues jobs for live items left in_progress by a run whose lease expired
func (s *SQLite) RequeueStale(ctx context.Context) (int, error) {
	now := s.now()
	count := 0

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM items
			WHERE status = 'in_progress' AND deleted = 0 AND lease_until < ?`, toMillis(now))
		if err != nil {
			return fmt.Errorf("find stale items: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			var active int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs
				WHERE item_id = ? AND (status = 'pending' OR (status = 'leased' AND lease_until >= ?))`,
				id, toMillis(now)).Scan(&active)
			if err != nil {
				return fmt.Errorf("check jobs for %s: %w", id, err)
			}
			if active > 0 {
				continue
			}
			if _, err := enqueueJob(ctx, tx, id, now); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// EnqueueReview adds an item to the human review queue once
func (s *SQLite) EnqueueReview(ctx context.Context, ticket model.ReviewTicket) error {
	reasons, err := json.Marshal(nonNil(ticket.Reasons))
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = s.now()
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO review_queue (item_id, author_id, status, reasons, created_at)
		VALUES (?,?,?,?,?)`,
		ticket.ItemID, ticket.AuthorID, string(ticket.Status), string(reasons), toMillis(ticket.CreatedAt))
	if err != nil {
		return fmt.Errorf("enqueue review: %w", err)
	}
	return nil
}

// ListReviews returns queued review tickets, oldest first
func (s *SQLite) ListReviews(ctx context.Context, limit int) ([]model.ReviewTicket, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, author_id, status, reasons, created_at
		FROM review_queue ORDER BY created_at, item_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ReviewTicket
	for rows.Next() {
		var (
			t         model.ReviewTicket
			status    string
			reasons   string
			createdAt int64
		)
		if err := rows.Scan(&t.ItemID, &t.AuthorID, &status, &reasons, &createdAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		t.Status = model.PolicyStatus(status)
		t.CreatedAt = fromMillis(createdAt)
		if err := json.Unmarshal([]byte(reasons), &t.Reasons); err != nil {
			return nil, fmt.Errorf("decode reasons: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
