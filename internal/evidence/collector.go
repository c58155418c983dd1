package evidence

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/retry"
	"github.com/ppiankov/kurral/internal/search"
	"github.com/ppiankov/kurral/internal/worker"
)

// Collector turns search results into scored Evidence
type Collector struct {
	scorer    *QualityScorer
	validator *Validator
	fetcher   *Fetcher
	log       zerolog.Logger

	// Now is the clock used for FetchedAt
	Now func() time.Time
}

// NewCollector creates a new collector; validator and fetcher are optional
func NewCollector(scorer *QualityScorer, validator *Validator, fetcher *Fetcher, log zerolog.Logger) *Collector {
	return &Collector{
		scorer:    scorer,
		validator: validator,
		fetcher:   fetcher,
		log:       log.With().Str("component", "evidence").Logger(),
		Now:       time.Now,
	}
}

// NewCollectorFromConfig wires the classifier, probe, fetcher and robots gate from configuration
func NewCollectorFromConfig(cfg model.Config, limiter *worker.Limiter, policy retry.Policy, log zerolog.Logger) *Collector {
	scorer := NewQualityScorer(NewAuthorityClassifier(cfg.Authority))

	var robots *RobotsChecker
	if cfg.Evidence.RespectRobots {
		robots = NewRobotsChecker(cfg.Evidence.UserAgent, cfg.Evidence.Timeout)
	}

	var validator *Validator
	if cfg.Evidence.ProbeURLs {
		validator = NewValidator(cfg.Evidence, robots, limiter, policy)
	}

	var fetcher *Fetcher
	if cfg.Evidence.FetchSnippets {
		fetcher = NewFetcher(cfg.Evidence, robots, limiter, policy)
	}

	return NewCollector(scorer, validator, fetcher, log)
}

// Collect scores each distinct result URL; probe and fetch failures degrade quality, never drop a source
func (c *Collector) Collect(ctx context.Context, results []search.Result) []model.Evidence {
	seen := make(map[string]bool, len(results))
	var unique []search.Result
	for _, r := range results {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		unique = append(unique, r)
	}
	if len(unique) == 0 {
		return nil
	}

	dead := make([]bool, len(unique))
	if c.validator != nil {
		urls := make([]string, len(unique))
		for i, r := range unique {
			urls[i] = r.URL
		}
		for i, vr := range c.validator.ProbeAll(ctx, urls) {
			dead[i] = vr.IsDead
		}
	}

	out := make([]model.Evidence, 0, len(unique))
	for i, r := range unique {
		snippet := r.Snippet
		if snippet == "" && c.fetcher != nil && !dead[i] {
			s, err := c.fetcher.Snippet(ctx, r.URL)
			switch {
			case err == nil:
				snippet = s
			case errors.Is(err, ErrDisallowed):
				c.log.Debug().Str("url", r.URL).Msg("snippet fetch disallowed by robots.txt")
			default:
				c.log.Debug().Err(err).Str("url", r.URL).Msg("snippet fetch failed")
			}
		}

		quality, tier := c.scorer.Score(r.URL, r.QualityHint, dead[i])
		out = append(out, model.Evidence{
			URL:       r.URL,
			Host:      HostOf(r.URL),
			Title:     r.Title,
			Snippet:   snippet,
			Quality:   quality,
			Authority: tier,
			FetchedAt: c.Now().UTC(),
		})
	}
	return out
}
