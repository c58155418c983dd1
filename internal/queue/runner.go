// Package queue drains the durable pipeline job queue into the orchestrator.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/metrics"
	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/pipeline"
	"github.com/ppiankov/kurral/internal/store"
	"github.com/ppiankov/kurral/internal/worker"
)

// busyDelay is how long a job waits when its item is held by another run
const busyDelay = 5 * time.Second

// JobStore is the queue surface of the store
type JobStore interface {
	LeaseJobs(ctx context.Context, n int, lease time.Duration) ([]store.Job, error)
	CompleteJob(ctx context.Context, jobID string) error
	DeferJob(ctx context.Context, jobID string, delay time.Duration) error
	FailJob(ctx context.Context, jobID string, cause error, maxAttempts int) (bool, error)
}

// Stats counts job outcomes of one drain
type Stats struct {
	Done  int
	Busy  int
	Retry int
	Dead  int
}

// Leased returns how many jobs were handled
func (s Stats) Leased() int {
	return s.Done + s.Busy + s.Retry + s.Dead
}

// Runner leases jobs and runs them on a bounded worker pool
type Runner struct {
	jobs JobStore
	proc worker.Processor
	cfg  model.QueueConfig
	log  zerolog.Logger
}

// NewRunner creates a new queue runner
func NewRunner(jobs JobStore, proc worker.Processor, cfg model.QueueConfig, log zerolog.Logger) *Runner {
	d := model.DefaultConfig().Queue
	if cfg.Workers <= 0 {
		cfg.Workers = d.Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.Lease <= 0 {
		cfg.Lease = d.Lease
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	return &Runner{
		jobs: jobs,
		proc: proc,
		cfg:  cfg,
		log:  log.With().Str("component", "queue").Logger(),
	}
}

// Run polls until ctx is cancelled; a full batch is followed immediately by another drain
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info().Int("workers", r.cfg.Workers).Dur("poll_interval", r.cfg.PollInterval).Msg("queue runner started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("queue runner stopped")
			return nil
		case <-timer.C:
		}

		stats, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Msg("queue drain failed")
		}

		next := r.cfg.PollInterval
		if err == nil && stats.Leased() >= r.cfg.BatchSize {
			next = 0
		}
		timer.Reset(next)
	}
}

// RunOnce leases up to one batch of jobs, processes them and records each outcome
func (r *Runner) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	leased, err := r.jobs.LeaseJobs(ctx, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return stats, err
	}
	if len(leased) == 0 {
		return stats, nil
	}

	jobs := make([]worker.Job, len(leased))
	for i, j := range leased {
		jobs[i] = &queueJob{job: j, proc: r.proc}
	}
	results := worker.RunAll(ctx, r.cfg.Workers, jobs)

	// Bookkeeping must land even when ctx was cancelled mid-batch
	bookCtx := context.WithoutCancel(ctx)
	handled := make(map[string]bool, len(results))
	for _, res := range results {
		jr := res.(*jobResult)
		handled[jr.job.ID] = true
		r.settle(ctx, bookCtx, jr, &stats)
	}
	// Jobs never started because the pool stopped go back without an attempt
	for _, j := range leased {
		if !handled[j.ID] {
			if err := r.jobs.DeferJob(bookCtx, j.ID, 0); err != nil {
				r.log.Warn().Err(err).Str("job_id", j.ID).Msg("return unstarted job failed")
			}
		}
	}
	return stats, nil
}

func (r *Runner) settle(ctx, bookCtx context.Context, jr *jobResult, stats *Stats) {
	log := r.log.With().Str("job_id", jr.job.ID).Str("item_id", jr.job.ItemID).Logger()

	switch {
	case jr.err == nil:
		if err := r.jobs.CompleteJob(bookCtx, jr.job.ID); err != nil {
			log.Warn().Err(err).Msg("complete job failed")
		}
		stats.Done++
		metrics.ObserveJob("done")

	case errors.Is(jr.err, pipeline.ErrBusy), ctx.Err() != nil:
		if err := r.jobs.DeferJob(bookCtx, jr.job.ID, busyDelay); err != nil {
			log.Warn().Err(err).Msg("defer job failed")
		}
		stats.Busy++
		metrics.ObserveJob("busy")
		log.Debug().Err(jr.err).Msg("job deferred")

	default:
		dead, err := r.jobs.FailJob(bookCtx, jr.job.ID, jr.err, r.cfg.MaxAttempts)
		if err != nil {
			log.Warn().Err(err).Msg("fail job failed")
		}
		if dead {
			stats.Dead++
			metrics.ObserveJob("dead")
			log.Error().Err(jr.err).Int("attempts", jr.job.Attempts+1).Msg("job exhausted its attempts")
			return
		}
		stats.Retry++
		metrics.ObserveJob("retry")
		log.Warn().Err(jr.err).Int("attempt", jr.job.Attempts+1).Msg("job will be retried")
	}
}

type queueJob struct {
	job  store.Job
	proc worker.Processor
}

type jobResult struct {
	job store.Job
	err error
}

func (r *jobResult) GetError() error {
	return r.err
}

// Execute runs the pipeline for the job's item
func (j *queueJob) Execute(ctx context.Context) worker.Result {
	return &jobResult{job: j.job, err: j.proc.Process(ctx, j.job.ItemID)}
}
