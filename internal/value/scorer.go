// Package value rates content items on five value dimensions.
package value

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/extract"
	"github.com/ppiankov/kurral/internal/llm"
	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/util"
)

const systemPrompt = `You rate the value a social media post adds for its readers.
Rate each dimension from 0 to 1: epistemic (accuracy and sourcing), insight (non-obvious ideas),
practical (actionable usefulness), relational (constructive tone toward others), effort (care and depth).
Answer with a JSON object: {"epistemic": number, "insight": number, "practical": number,
"relational": number, "effort": number, "confidence": number, "drivers": [string]}.`

// Input is everything the scorer knows about an item
type Input struct {
	Item       model.ContentItem
	Claims     []model.Claim
	FactChecks []model.FactCheck
	Discussion *model.DiscussionQuality
}

// Scorer produces ValueScores through the generation oracle
type Scorer struct {
	oracle llm.JSONGenerator
	log    zerolog.Logger

	// Now is the clock used for ScoredAt
	Now func() time.Time
}

// NewScorer creates a new value scorer
func NewScorer(oracle llm.JSONGenerator, log zerolog.Logger) *Scorer {
	return &Scorer{
		oracle: oracle,
		log:    log.With().Str("component", "value").Logger(),
		Now:    time.Now,
	}
}

// Score rates the item and applies the deterministic post-processing
func (s *Scorer) Score(ctx context.Context, in Input) model.StageResult[model.ValueScore] {
	var out output
	err := s.oracle.GenerateJSON(ctx, llm.Request{
		Task:     llm.TaskValue,
		System:   systemPrompt,
		Prompt:   buildPrompt(in),
		ImageURL: in.Item.ImageURL,
	}, &out)
	if err != nil {
		return model.Failed[model.ValueScore](fmt.Errorf("value %s: %w", in.Item.ID, err))
	}

	score := Compute(in, out.dimensions(), out.Confidence, out.Drivers)
	score.ScoredAt = s.Now().UTC()

	s.log.Debug().Str("item_id", in.Item.ID).Str("domain", string(score.Domain)).
		Float64("total", score.Total).Msg("value scored")
	return model.OK(score)
}

// Compute turns raw oracle dimensions into a ValueScore: sanitize, blend the thread into
// relational, apply the fact-check penalty, weight by dominant domain.
func Compute(in Input, raw model.Dimensions, confidence float64, drivers []string) model.ValueScore {
	d := Sanitize(raw)
	d = BlendRelational(d, in.Discussion)
	d = ApplyFactCheckPenalty(d, in.FactChecks)

	domain := DominantDomain(in.Claims, in.Item.DeclaredDomain())
	weights := DomainWeights(domain)

	var notes []string
	for _, dr := range drivers {
		if dr = strings.TrimSpace(dr); dr != "" {
			notes = append(notes, dr)
		}
	}
	if p := Penalty(in.FactChecks); p > 0 {
		notes = append(notes, fmt.Sprintf("fact-check penalty %.0f%%", p*100))
	}

	return model.ValueScore{
		ItemID:     in.Item.ID,
		Dimensions: d,
		Weights:    weights,
		Domain:     domain,
		Total:      Total(d, weights),
		Confidence: sanitize(confidence),
		Drivers:    notes,
	}
}

func buildPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Post:\n%s\n", util.Truncate(extract.PlainText(in.Item.Text), 2000))
	if len(in.Item.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(in.Item.Topics, ", "))
	}

	verdicts := make(map[string]model.FactCheck, len(in.FactChecks))
	for _, fc := range in.FactChecks {
		verdicts[fc.ClaimID] = fc
	}
	if len(in.Claims) > 0 {
		b.WriteString("\nClaims:\n")
		for _, c := range in.Claims {
			if fc, ok := verdicts[c.ID]; ok {
				fmt.Fprintf(&b, "- %s (verdict %s, confidence %.2f)\n", c.Text, fc.Verdict, fc.Confidence)
			} else {
				fmt.Fprintf(&b, "- %s (not checked)\n", c.Text)
			}
		}
	}
	if in.Discussion != nil {
		fmt.Fprintf(&b, "\nDiscussion (%d comments): %s\n", in.Discussion.CommentCount, in.Discussion.Summary)
	}
	return b.String()
}

type output struct {
	Epistemic  *float64 `json:"epistemic"`
	Insight    *float64 `json:"insight"`
	Practical  *float64 `json:"practical"`
	Relational *float64 `json:"relational"`
	Effort     *float64 `json:"effort"`
	Confidence float64  `json:"confidence"`
	Drivers    []string `json:"drivers"`
}

// Validate requires every dimension; out-of-range values are clamped later, not rejected
func (o *output) Validate() error {
	for name, v := range map[string]*float64{
		"epistemic": o.Epistemic, "insight": o.Insight, "practical": o.Practical,
		"relational": o.Relational, "effort": o.Effort,
	} {
		if v == nil {
			return fmt.Errorf("missing %s", name)
		}
	}
	return nil
}

func (o *output) dimensions() model.Dimensions {
	return model.Dimensions{
		Epistemic:  *o.Epistemic,
		Insight:    *o.Insight,
		Practical:  *o.Practical,
		Relational: *o.Relational,
		Effort:     *o.Effort,
	}
}
