package reputation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/store"
)

// Store is the ledger surface the aggregator reads and writes
type Store interface {
	AppendContribution(ctx context.Context, c model.ValueContribution) (bool, error)
	ListContributions(ctx context.Context, userID string, since time.Time, limit int) ([]model.ValueContribution, error)
	UpsertViolation(ctx context.Context, v model.Violation) error
	DeleteViolation(ctx context.Context, itemID string) error
	ListViolations(ctx context.Context, userID string, since time.Time) ([]model.Violation, error)
	GetValueStats(ctx context.Context, userID string) (*model.ValueStats, error)
	PutValueStats(ctx context.Context, stats model.ValueStats) error
	GetKurralScore(ctx context.Context, userID string) (*model.KurralScore, error)
	PutKurralScore(ctx context.Context, score model.KurralScore) error
}

// Aggregator updates ValueStats and KurralScore from the ledger
type Aggregator struct {
	store      Store
	historyCap int
	window     time.Duration
	log        zerolog.Logger

	// Now is the clock used for windows, decay and history dates
	Now func() time.Time
}

// NewAggregator creates a new reputation aggregator
func NewAggregator(s Store, cfg model.ReputationConfig, log zerolog.Logger) *Aggregator {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 20
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * day
	}
	return &Aggregator{
		store:      s,
		historyCap: cfg.HistoryCap,
		window:     cfg.Window,
		log:        log.With().Str("component", "reputation").Logger(),
		Now:        time.Now,
	}
}

// Update records the run's ledger entry and violation, then recomputes the author's score
func (a *Aggregator) Update(ctx context.Context, item model.ContentItem, decision model.PolicyDecision,
	checks []model.FactCheck, value *model.ValueScore, discussion *model.DiscussionQuality) (*model.KurralScore, error) {
	now := a.Now().UTC()

	// 1. Ledger; a plain repost adds no value of its own
	if value != nil && !item.IsRepost() {
		created := item.CreatedAt
		if created.IsZero() {
			created = now
		}
		inserted, err := a.store.AppendContribution(ctx, model.ValueContribution{
			UserID:     item.AuthorID,
			ItemID:     item.ID,
			Kind:       item.Kind(),
			Value:      value.Total,
			Quality:    value.Quality(),
			Discussion: discussion,
			CreatedAt:  created,
		})
		if err != nil {
			return nil, fmt.Errorf("append contribution: %w", err)
		}
		if !inserted {
			a.log.Debug().Str("item_id", item.ID).Float64("value", value.Total).Msg("contribution superseded")
		}
	}

	// 2. Violation record; degraded decisions leave any earlier record untouched
	switch {
	case decision.IsViolation():
		err := a.store.UpsertViolation(ctx, model.Violation{
			UserID:              item.AuthorID,
			ItemID:              item.ID,
			Status:              decision.Status,
			ConfidentFalseCount: model.CountConfidentFalse(checks),
			CreatedAt:           now,
		})
		if err != nil {
			return nil, fmt.Errorf("record violation: %w", err)
		}
	case !decision.Degraded:
		if err := a.store.DeleteViolation(ctx, item.ID); err != nil {
			return nil, fmt.Errorf("clear violation: %w", err)
		}
	}

	return a.Recompute(ctx, item.AuthorID, fmt.Sprintf("item %s: %s", item.ID, decision.Status))
}

// Recompute re-derives ValueStats and KurralScore from stored records without new input
func (a *Aggregator) Recompute(ctx context.Context, userID, reason string) (*model.KurralScore, error) {
	now := a.Now().UTC()

	contribs, err := a.store.ListContributions(ctx, userID, time.Time{}, 0)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	violations, err := a.store.ListViolations(ctx, userID, now.Add(-DecayZeroAge))
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}

	prevStats, err := a.store.GetValueStats(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get value stats: %w", err)
	}
	stats := RollStats(userID, contribs, prevStats, now, a.window)
	if err := a.store.PutValueStats(ctx, stats); err != nil {
		return nil, fmt.Errorf("put value stats: %w", err)
	}

	comps := Derive(Inputs{
		Now:           now,
		Window:        a.window,
		Contributions: contribs,
		Violations:    violations,
		Stats:         stats,
	})
	value := Score(comps)

	prev, err := a.store.GetKurralScore(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return nil, fmt.Errorf("get kurral score: %w", err)
	}

	ks := model.KurralScore{UserID: userID}
	delta := value
	if prev != nil {
		ks.History = prev.History
		delta = value - prev.Score
	}
	ks.Score = value
	ks.Components = comps.Model()
	ks.UpdatedAt = now

	if prev == nil || delta != 0 {
		ks.History = AppendHistory(ks.History, model.HistoryEntry{
			Score:  value,
			Delta:  round2(delta),
			Reason: reason,
			Date:   now,
		}, a.historyCap)
	}

	if err := a.store.PutKurralScore(ctx, ks); err != nil {
		return nil, fmt.Errorf("put kurral score: %w", err)
	}

	a.log.Debug().Str("user_id", userID).Float64("score", value).Float64("delta", delta).Str("reason", reason).Msg("kurral score updated")
	return &ks, nil
}

// RollStats recomputes the rolling sums from the ledger; lifetime totals never decrease
func RollStats(userID string, contribs []model.ValueContribution, prev *model.ValueStats, now time.Time, window time.Duration) model.ValueStats {
	since := now.Add(-window)
	stats := model.ValueStats{UserID: userID, UpdatedAt: now}

	var lifetimePost, lifetimeComment float64
	for _, c := range contribs {
		inWindow := !c.CreatedAt.Before(since)
		switch c.Kind {
		case model.KindComment:
			lifetimeComment += c.Value
			if inWindow {
				stats.CommentValue30d += c.Value
			}
		default:
			lifetimePost += c.Value
			if inWindow {
				stats.PostValue30d += c.Value
			}
		}
	}

	stats.LifetimePostValue = lifetimePost
	stats.LifetimeCommentValue = lifetimeComment
	if prev != nil {
		stats.LifetimePostValue = max(prev.LifetimePostValue, lifetimePost)
		stats.LifetimeCommentValue = max(prev.LifetimeCommentValue, lifetimeComment)
	}
	return stats
}

// AppendHistory appends e and keeps only the newest limit entries
func AppendHistory(history []model.HistoryEntry, e model.HistoryEntry, limit int) []model.HistoryEntry {
	out := append(append([]model.HistoryEntry(nil), history...), e)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
