// Package scheduler runs periodic reputation recompute and stale-run recovery.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/reputation"
)

// ReasonScheduled is the history reason recorded by the periodic recompute
const ReasonScheduled = "scheduled recompute"

// Store is the store surface the maintenance jobs use
type Store interface {
	ListActiveUsers(ctx context.Context, since time.Time) ([]string, error)
	RequeueStale(ctx context.Context) (int, error)
}

// Recomputer re-derives a user's score from stored records
type Recomputer interface {
	Recompute(ctx context.Context, userID, reason string) (*model.KurralScore, error)
}

// Service schedules maintenance jobs
type Service struct {
	cfg        model.SchedulerConfig
	store      Store
	recomputer Recomputer
	cron       *cron.Cron
	log        zerolog.Logger

	// Now is the clock used for the activity window
	Now func() time.Time
}

// NewService creates a new scheduler service
func NewService(cfg model.SchedulerConfig, s Store, recomputer Recomputer, log zerolog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		store:      s,
		recomputer: recomputer,
		cron:       cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		log:        log.With().Str("component", "scheduler").Logger(),
		Now:        time.Now,
	}
}

// Start registers the jobs and starts the cron loop
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.RecomputeSpec, func() {
		s.log.Info().Msg("starting scheduled reputation recompute")
		n, err := s.RecomputeAll(ctx)
		if err != nil {
			s.log.Error().Err(err).Int("users", n).Msg("scheduled recompute failed")
			return
		}
		s.log.Info().Int("users", n).Msg("scheduled recompute finished")
	}); err != nil {
		return fmt.Errorf("recompute schedule %q: %w", s.cfg.RecomputeSpec, err)
	}

	if _, err := s.cron.AddFunc(s.cfg.RequeueSpec, func() {
		n, err := s.store.RequeueStale(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("requeue of stale runs failed")
			return
		}
		if n > 0 {
			s.log.Warn().Int("items", n).Msg("requeued items with expired runs")
		}
	}); err != nil {
		return fmt.Errorf("requeue schedule %q: %w", s.cfg.RequeueSpec, err)
	}

	s.cron.Start()
	s.log.Info().Str("recompute", s.cfg.RecomputeSpec).Str("requeue", s.cfg.RequeueSpec).Msg("scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.log.Info().Msg("scheduler stopped")
	}
}

// RecomputeAll recomputes every user active within the violation decay horizon.
// A failing user is logged and skipped; the last error is returned after all users ran.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	users, err := s.store.ListActiveUsers(ctx, s.Now().Add(-reputation.DecayZeroAge))
	if err != nil {
		return 0, fmt.Errorf("list active users: %w", err)
	}

	var lastErr error
	done := 0
	for _, id := range users {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if _, err := s.recomputer.Recompute(ctx, id, ReasonScheduled); err != nil {
			s.log.Warn().Err(err).Str("user_id", id).Msg("recompute failed")
			lastErr = err
			continue
		}
		done++
	}
	return done, lastErr
}
