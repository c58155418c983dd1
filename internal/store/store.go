// Package store persists content items, pipeline outputs, the value ledger and the job queue.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ppiankov/kurral/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist or its item was deleted
	ErrNotFound = errors.New("not found")

	// ErrAlreadyClaimed is returned when another run holds an unexpired claim on the item
	ErrAlreadyClaimed = errors.New("item already claimed")

	// ErrClaimLost is returned when a run writes a checkpoint after another run took over the item
	ErrClaimLost = errors.New("item claim lost")
)

// Job is a durable pipeline job for one item
type Job struct {
	ID            string    `json:"id"`
	ItemID        string    `json:"item_id"`
	Status        JobStatus `json:"status"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobLeased  JobStatus = "leased"
	JobDone    JobStatus = "done"
	JobDead    JobStatus = "dead"
)

// Store is the document store consumed by the pipeline, the queue and the read API
type Store interface {
	// Items
	CreateItem(ctx context.Context, item *model.ContentItem) error
	GetItem(ctx context.Context, id string) (*model.ContentItem, error)
	DeleteItem(ctx context.Context, id string) error
	ListComments(ctx context.Context, parentID string) ([]model.ContentItem, error)
	ResetItem(ctx context.Context, id string, clearCheckpoint bool) error

	// Run claiming and checkpoints
	ClaimItem(ctx context.Context, itemID, runID string, lease time.Duration) (*model.ContentItem, error)
	ReleaseItem(ctx context.Context, itemID, runID string, status model.ItemStatus) error
	MergeCheckpoint(ctx context.Context, itemID string, patch model.Checkpoint) error

	// Stage outputs
	ReplaceClaims(ctx context.Context, itemID string, claims []model.Claim) error
	GetClaims(ctx context.Context, itemID string) ([]model.Claim, error)
	ReplaceFactChecks(ctx context.Context, itemID string, checks []model.FactCheck) error
	GetFactChecks(ctx context.Context, itemID string) ([]model.FactCheck, error)
	PutValueScore(ctx context.Context, score model.ValueScore) error
	GetValueScore(ctx context.Context, itemID string) (*model.ValueScore, error)

	// Reputation ledger
	AppendContribution(ctx context.Context, c model.ValueContribution) (bool, error)
	ListContributions(ctx context.Context, userID string, since time.Time, limit int) ([]model.ValueContribution, error)
	UpsertViolation(ctx context.Context, v model.Violation) error
	DeleteViolation(ctx context.Context, itemID string) error
	ListViolations(ctx context.Context, userID string, since time.Time) ([]model.Violation, error)
	GetValueStats(ctx context.Context, userID string) (*model.ValueStats, error)
	PutValueStats(ctx context.Context, stats model.ValueStats) error
	GetKurralScore(ctx context.Context, userID string) (*model.KurralScore, error)
	PutKurralScore(ctx context.Context, score model.KurralScore) error
	ListActiveUsers(ctx context.Context, since time.Time) ([]string, error)

	// Job queue
	EnqueueJob(ctx context.Context, itemID string) (string, error)
	LeaseJobs(ctx context.Context, n int, lease time.Duration) ([]Job, error)
	CompleteJob(ctx context.Context, jobID string) error
	DeferJob(ctx context.Context, jobID string, delay time.Duration) error
	FailJob(ctx context.Context, jobID string, cause error, maxAttempts int) (bool, error)
	RequeueStale(ctx context.Context) (int, error)

	// Review queue
	EnqueueReview(ctx context.Context, ticket model.ReviewTicket) error
	ListReviews(ctx context.Context, limit int) ([]model.ReviewTicket, error)

	Close() error
}
