package pipeline

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/cache"
	"github.com/ppiankov/kurral/internal/discussion"
	"github.com/ppiankov/kurral/internal/evidence"
	"github.com/ppiankov/kurral/internal/extract"
	"github.com/ppiankov/kurral/internal/factcheck"
	"github.com/ppiankov/kurral/internal/llm"
	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/precheck"
	"github.com/ppiankov/kurral/internal/reputation"
	"github.com/ppiankov/kurral/internal/retry"
	"github.com/ppiankov/kurral/internal/search"
	"github.com/ppiankov/kurral/internal/store"
	"github.com/ppiankov/kurral/internal/value"
	"github.com/ppiankov/kurral/internal/worker"
)

// NewFromConfig wires the oracles, evidence collection and stage components from configuration
func NewFromConfig(cfg model.Config, st store.Store, log zerolog.Logger) (*Orchestrator, error) {
	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg))
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
	policy := retry.PolicyFromConfig(cfg.Pipeline)
	oracle := llm.NewOracle(provider, limiter, policy, log)

	var searcher search.Searcher = search.NewHTTPClient(cfg.Search, limiter, policy, log)
	if c := cache.FromConfig(cfg.Cache); c != nil {
		searcher = search.NewCached(searcher, c, cfg.Cache.DiskTTL)
	}
	collector := evidence.NewCollectorFromConfig(cfg, limiter, policy, log)

	return NewFromComponents(cfg, st, oracle, searcher, collector, log), nil
}

// NewFromComponents builds every stage around the given oracles
func NewFromComponents(cfg model.Config, st store.Store, oracle llm.JSONGenerator, searcher search.Searcher,
	collector factcheck.EvidenceCollector, log zerolog.Logger) *Orchestrator {
	return New(Deps{
		Store:      st,
		Gate:       precheck.NewGate(oracle, log),
		Extractor:  extract.NewClaimExtractor(oracle, cfg.Pipeline.MaxClaims, log),
		Checker:    factcheck.NewChecker(searcher, collector, oracle, cfg.Pipeline.FactCheckWorkers, cfg.Search.MaxResults, log),
		Discussion: discussion.NewAnalyzer(oracle, discussion.DefaultMaxComments, log),
		Scorer:     value.NewScorer(oracle, log),
		Reputation: reputation.NewAggregator(st, cfg.Reputation, log),
	}, cfg.Pipeline, log)
}
