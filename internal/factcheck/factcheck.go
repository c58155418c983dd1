// Package factcheck renders a verdict for every extracted claim from searched evidence.
package factcheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/extract"
	"github.com/ppiankov/kurral/internal/llm"
	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/search"
	"github.com/ppiankov/kurral/internal/util"
	"github.com/ppiankov/kurral/internal/worker"
)

// CaveatCheckFailed prefixes the caveat attached to claims whose check could not complete
const CaveatCheckFailed = "fact-check failed"

// CaveatNoEvidence is attached when no source could be found for a claim
const CaveatNoEvidence = "no evidence found"

const systemPrompt = `You are a careful fact-checker. Judge the claim only against the numbered evidence provided.
Prefer primary sources (tier 1) over secondary (tier 2) and tertiary (tier 3) ones.
Verdicts: "true" (supported), "false" (contradicted), "mixed" (partly supported or disputed), "unverifiable" (evidence insufficient).
Answer with a JSON object: {"verdict": string, "confidence": number between 0 and 1, "reasoning": string, "caveats": [string]}.`

// EvidenceCollector turns search hits into scored evidence
type EvidenceCollector interface {
	Collect(ctx context.Context, results []search.Result) []model.Evidence
}

// Checker fact-checks claims concurrently, isolating per-claim failures
type Checker struct {
	searcher   search.Searcher
	collector  EvidenceCollector
	oracle     llm.JSONGenerator
	workers    int
	maxResults int
	log        zerolog.Logger

	// NewID generates fact-check ids
	NewID func() string
	// Now is the clock used for CheckedAt
	Now func() time.Time
}

// NewChecker creates a new fact checker
func NewChecker(searcher search.Searcher, collector EvidenceCollector, oracle llm.JSONGenerator, workers, maxResults int, log zerolog.Logger) *Checker {
	if workers <= 0 {
		workers = 1
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Checker{
		searcher:   searcher,
		collector:  collector,
		oracle:     oracle,
		workers:    workers,
		maxResults: maxResults,
		log:        log.With().Str("component", "factcheck").Logger(),
		NewID:      uuid.NewString,
		Now:        time.Now,
	}
}

// Check returns exactly one FactCheck per claim, in claim order.
// A claim whose check fails is marked unverifiable with a caveat; the stage itself fails only
// when the context ends or every claim failed.
func (c *Checker) Check(ctx context.Context, item model.ContentItem, claims []model.Claim) model.StageResult[[]model.FactCheck] {
	if len(claims) == 0 {
		return model.Skipped[[]model.FactCheck]("no claims to check")
	}

	var cited []search.Result
	for _, link := range extract.Links(item.Text) {
		cited = append(cited, search.Result{URL: link, Title: "Cited by author"})
	}

	jobs := make([]worker.Job, len(claims))
	for i := range claims {
		jobs[i] = &claimJob{checker: c, index: i, claim: claims[i], cited: cited}
	}
	results := worker.RunAll(ctx, c.workers, jobs)

	if err := ctx.Err(); err != nil {
		return model.Failed[[]model.FactCheck](fmt.Errorf("fact-check %s: %w", item.ID, err))
	}

	checks := make([]model.FactCheck, len(claims))
	done := make([]bool, len(claims))
	var errs []error
	for _, r := range results {
		cr := r.(*claimResult)
		done[cr.index] = true
		if cr.err != nil {
			errs = append(errs, cr.err)
			c.log.Warn().Err(cr.err).Str("item_id", item.ID).Str("claim_id", claims[cr.index].ID).Msg("claim check failed")
			checks[cr.index] = c.unverifiable(claims[cr.index], fmt.Sprintf("%s: %v", CaveatCheckFailed, cr.err))
			continue
		}
		checks[cr.index] = cr.check
	}
	for i := range claims {
		if !done[i] {
			err := errors.New("check not run")
			errs = append(errs, err)
			checks[i] = c.unverifiable(claims[i], fmt.Sprintf("%s: %v", CaveatCheckFailed, err))
		}
	}

	if len(errs) == len(claims) {
		return model.Failed[[]model.FactCheck](fmt.Errorf("every claim check failed: %w", errors.Join(errs...)))
	}
	return model.OK(checks)
}

type claimJob struct {
	checker *Checker
	index   int
	claim   model.Claim
	cited   []search.Result
}

type claimResult struct {
	index int
	check model.FactCheck
	err   error
}

func (r *claimResult) GetError() error {
	return r.err
}

// Execute checks a single claim
func (j *claimJob) Execute(ctx context.Context) worker.Result {
	fc, err := j.checker.checkClaim(ctx, j.claim, j.cited)
	return &claimResult{index: j.index, check: fc, err: err}
}

func (c *Checker) checkClaim(ctx context.Context, claim model.Claim, cited []search.Result) (model.FactCheck, error) {
	// 1. Search for sources
	hits, err := c.searcher.Search(ctx, claim.Text, c.maxResults)
	if err != nil {
		return model.FactCheck{}, fmt.Errorf("search: %w", err)
	}

	// 2. Score evidence; search hits first so duplicates keep their snippets
	candidates := make([]search.Result, 0, len(hits)+len(cited))
	candidates = append(append(candidates, hits...), cited...)
	evidence := c.collector.Collect(ctx, candidates)
	if len(evidence) == 0 {
		return c.unverifiable(claim, CaveatNoEvidence), nil
	}

	// 3. Synthesize verdict
	var out verdictOutput
	err = c.oracle.GenerateJSON(ctx, llm.Request{
		Task:   llm.TaskVerdict,
		System: systemPrompt,
		Prompt: buildPrompt(claim, evidence),
	}, &out)
	if err != nil {
		return model.FactCheck{}, err
	}

	return model.FactCheck{
		ID:         c.NewID(),
		ClaimID:    claim.ID,
		ItemID:     claim.ItemID,
		Verdict:    out.Verdict,
		Confidence: out.Confidence,
		Evidence:   evidence,
		Reasoning:  strings.TrimSpace(out.Reasoning),
		Caveats:    nonEmpty(out.Caveats),
		CheckedAt:  c.Now().UTC(),
	}, nil
}

func (c *Checker) unverifiable(claim model.Claim, caveat string) model.FactCheck {
	return model.FactCheck{
		ID:         c.NewID(),
		ClaimID:    claim.ID,
		ItemID:     claim.ItemID,
		Verdict:    model.VerdictUnverifiable,
		Confidence: 0,
		Evidence:   []model.Evidence{},
		Caveats:    []string{caveat},
		CheckedAt:  c.Now().UTC(),
	}
}

func buildPrompt(claim model.Claim, evidence []model.Evidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Claim (%s, %s domain): %s\n\nEvidence:\n", claim.Type, claim.Domain, claim.Text)
	for i, ev := range evidence {
		fmt.Fprintf(&b, "[%d] tier %d, quality %.2f, %s\n", i+1, ev.Authority, ev.Quality, ev.URL)
		if ev.Title != "" {
			fmt.Fprintf(&b, "    %s\n", ev.Title)
		}
		if ev.Snippet != "" {
			fmt.Fprintf(&b, "    %s\n", util.Truncate(ev.Snippet, 500))
		}
	}
	return b.String()
}

type verdictOutput struct {
	Verdict    model.Verdict `json:"verdict"`
	Confidence float64       `json:"confidence"`
	Reasoning  string        `json:"reasoning"`
	Caveats    []string      `json:"caveats"`
}

// Validate rejects unknown verdicts and out-of-range confidence
func (o *verdictOutput) Validate() error {
	if !o.Verdict.Valid() {
		return fmt.Errorf("unknown verdict %q", o.Verdict)
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", o.Confidence)
	}
	return nil
}

func nonEmpty(items []string) []string {
	var out []string
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
