package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/ppiankov/kurral/internal/model"
)

// Policy controls attempts, backoff and per-call timeouts.
type Policy struct {
	MaxAttempts int           // Total attempts including the first
	BaseBackoff time.Duration // Wait before the second attempt
	MaxBackoff  time.Duration
	CallTimeout time.Duration // Per-attempt timeout; a timed-out attempt counts toward MaxAttempts

	// OnAttempt observes every attempt; err is nil on success.
	OnAttempt func(attempt int, err error)
}

// DefaultPolicy returns 3 attempts, 500ms base backoff doubling to at most 8s, 30s per call.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  8 * time.Second,
		CallTimeout: 30 * time.Second,
	}
}

// PolicyFromConfig builds a policy from pipeline configuration.
func PolicyFromConfig(cfg model.PipelineConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
		CallTimeout: cfg.CallTimeout,
	}.withDefaults()
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = d.BaseBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	return p
}

// WithObserver returns a copy of p reporting attempts to fn.
func (p Policy) WithObserver(fn func(attempt int, err error)) Policy {
	p.OnAttempt = fn
	return p
}

// Do runs op until it succeeds, fails permanently, or the attempt budget is spent.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.2
	exp.MaxInterval = p.MaxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	for attempt := 1; ; attempt++ {
		err := runAttempt(ctx, p.CallTimeout, op)
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, err)
		}
		if err == nil {
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("aborted after %d attempts: %w", attempt, errors.Join(ctxErr, err))
		}
		if IsPermanent(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		wait := exp.NextBackOff()
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("aborted after %d attempts: %w", attempt, errors.Join(ctx.Err(), err))
		}
	}
}

func runAttempt(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	callCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	err := op(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &ClassifiedError{
			Category:   Transient,
			Underlying: fmt.Errorf("call timed out after %s: %w", timeout, err),
		}
	}
	return err
}
