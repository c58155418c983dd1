package value

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/llm"
	"github.com/ppiankov/kurral/internal/llm/llmtest"
	"github.com/ppiankov/kurral/internal/model"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func confidentFalse(n int) []model.FactCheck {
	out := make([]model.FactCheck, n)
	for i := range out {
		out[i] = model.FactCheck{Verdict: model.VerdictFalse, Confidence: 0.9}
	}
	return out
}

func TestSanitize(t *testing.T) {
	d := Sanitize(model.Dimensions{
		Epistemic:  math.NaN(),
		Insight:    math.Inf(1),
		Practical:  math.Inf(-1),
		Relational: -0.3,
		Effort:     1.7,
	})
	want := model.Dimensions{Epistemic: 0.5, Insight: 0.5, Practical: 0.5, Relational: 0, Effort: 1}
	if d != want {
		t.Errorf("Sanitize() = %+v, want %+v", d, want)
	}
}

func TestApplyFactCheckPenalty_OneConfidentFalse(t *testing.T) {
	d := model.Dimensions{Epistemic: 0.8, Insight: 0.8, Practical: 0.5, Relational: 0.5, Effort: 0.5}
	got := ApplyFactCheckPenalty(d, confidentFalse(1))

	if !approx(got.Epistemic, 0.8*0.75) {
		t.Errorf("Expected epistemic reduced by 25%%, got %v", got.Epistemic)
	}
	if !approx(got.Insight, 0.8*0.925) {
		t.Errorf("Expected insight reduced by 7.5%%, got %v", got.Insight)
	}
	if got.Practical != 0.5 || got.Relational != 0.5 || got.Effort != 0.5 {
		t.Errorf("Other dimensions must not change: %+v", got)
	}
}

func TestPenalty(t *testing.T) {
	tests := []struct {
		name   string
		checks []model.FactCheck
		want   float64
	}{
		{"none", nil, 0},
		{"low confidence false ignored", []model.FactCheck{{Verdict: model.VerdictFalse, Confidence: 0.7}}, 0},
		{"mixed ignored", []model.FactCheck{{Verdict: model.VerdictMixed, Confidence: 0.99}}, 0},
		{"two", confidentFalse(2), 0.5},
		{"capped", confidentFalse(5), 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Penalty(tt.checks); !approx(got, tt.want) {
				t.Errorf("Penalty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDomainWeights(t *testing.T) {
	for _, d := range []model.Domain{
		model.DomainHealth, model.DomainPolitics, model.DomainTechnology, model.DomainStartups,
		model.DomainProductivity, model.DomainDesign, model.DomainFinance, model.DomainGeneral, "",
	} {
		w := DomainWeights(d)
		sum := w.Epistemic + w.Insight + w.Practical + w.Relational + w.Effort
		if !approx(sum, 1) {
			t.Errorf("%q weights sum to %v", d, sum)
		}
	}

	if DomainWeights(model.DomainHealth).Epistemic != 0.35 {
		t.Errorf("Expected health to favour epistemic")
	}
	if DomainWeights(model.DomainStartups).Insight != 0.35 {
		t.Errorf("Expected startups to favour insight")
	}
	if DomainWeights(model.DomainDesign).Practical != 0.35 {
		t.Errorf("Expected design to favour practical")
	}
	if DomainWeights(model.DomainFinance) != weightsDefault {
		t.Errorf("Expected finance to use default weights")
	}
}

func TestDominantDomain(t *testing.T) {
	c := func(d model.Domain, r model.RiskLevel) model.Claim {
		return model.Claim{Domain: d, RiskLevel: r}
	}

	tests := []struct {
		name     string
		claims   []model.Claim
		declared model.Domain
		want     model.Domain
	}{
		{"no claims uses declared", nil, model.DomainDesign, model.DomainDesign},
		{"no claims no declared", nil, "", ""},
		{"single", []model.Claim{c(model.DomainHealth, model.RiskLow)}, model.DomainDesign, model.DomainHealth},
		{"high risk outweighs count", []model.Claim{
			c(model.DomainTechnology, model.RiskLow), c(model.DomainHealth, model.RiskHigh),
		}, "", model.DomainHealth},
		{"medium beats low", []model.Claim{
			c(model.DomainTechnology, model.RiskMedium), c(model.DomainPolitics, model.RiskLow),
		}, "", model.DomainTechnology},
		{"two low beat one medium", []model.Claim{
			c(model.DomainTechnology, model.RiskLow), c(model.DomainTechnology, model.RiskLow), c(model.DomainPolitics, model.RiskMedium),
		}, "", model.DomainTechnology},
		{"tie resolves to declared among tied", []model.Claim{
			c(model.DomainTechnology, model.RiskHigh), c(model.DomainHealth, model.RiskHigh),
		}, model.DomainHealth, model.DomainHealth},
		{"tie resolves to declared topic", []model.Claim{
			c(model.DomainTechnology, model.RiskLow), c(model.DomainHealth, model.RiskLow),
		}, model.DomainDesign, model.DomainDesign},
		{"tie without declared takes first", []model.Claim{
			c(model.DomainTechnology, model.RiskLow), c(model.DomainHealth, model.RiskLow),
		}, "", model.DomainTechnology},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DominantDomain(tt.claims, tt.declared); got != tt.want {
				t.Errorf("DominantDomain() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTotal_AlwaysInRange(t *testing.T) {
	extremes := []float64{math.NaN(), math.Inf(1), math.Inf(-1), -5, 0, 0.5, 1, 42}
	for _, a := range extremes {
		for _, b := range extremes {
			in := Input{Item: model.ContentItem{ID: "x"}, FactChecks: confidentFalse(1)}
			s := Compute(in, model.Dimensions{Epistemic: a, Insight: b, Practical: a, Relational: b, Effort: a}, a, nil)
			if s.Total < 0 || s.Total > 1 || math.IsNaN(s.Total) {
				t.Errorf("Total out of range for (%v, %v): %v", a, b, s.Total)
			}
			if s.Confidence < 0 || s.Confidence > 1 || math.IsNaN(s.Confidence) {
				t.Errorf("Confidence out of range for %v: %v", a, s.Confidence)
			}
		}
	}
}

func TestCompute_NaNIsNeutral(t *testing.T) {
	nan := math.NaN()
	s := Compute(Input{Item: model.ContentItem{ID: "x"}}, model.Dimensions{Epistemic: nan, Insight: nan, Practical: nan, Relational: nan, Effort: nan}, 0.5, nil)
	if !approx(s.Total, 0.5) {
		t.Errorf("Expected all-neutral total 0.5, got %v", s.Total)
	}
}

func TestBlendRelational(t *testing.T) {
	d := model.Dimensions{Relational: 0.4}
	got := BlendRelational(d, &model.DiscussionQuality{Civility: 1, CrossPerspective: 0.6})
	if !approx(got.Relational, 0.6) {
		t.Errorf("Expected 0.4*0.5 + 0.8*0.5 = 0.6, got %v", got.Relational)
	}
	if BlendRelational(d, nil) != d {
		t.Errorf("Expected no change without discussion")
	}
}

func TestScorer_VaccineScenario(t *testing.T) {
	f := llmtest.New().OnText(llm.TaskValue,
		`{"epistemic": 0.9, "insight": 0.6, "practical": 0.5, "relational": 0.5, "effort": 0.4, "confidence": 0.8, "drivers": ["cites CDC"]}`)
	s := NewScorer(llmtest.NewOracle(f), zerolog.Nop())
	s.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	in := Input{
		Item:       model.ContentItem{ID: "p", Text: "Vaccines reduce hospitalization by 90% (CDC)."},
		Claims:     []model.Claim{{ID: "c1", Text: "Vaccines reduce hospitalization by 90%", Domain: model.DomainHealth, RiskLevel: model.RiskHigh}},
		FactChecks: []model.FactCheck{{ClaimID: "c1", Verdict: model.VerdictTrue, Confidence: 0.9}},
	}
	res := s.Score(context.Background(), in)
	if res.State != model.StageOK {
		t.Fatalf("Expected ok, got %s: %s", res.State, res.Reason)
	}

	v := res.Value
	if v.Domain != model.DomainHealth || v.Weights.Epistemic != 0.35 {
		t.Errorf("Expected health weights, got %s %+v", v.Domain, v.Weights)
	}
	if v.Dimensions.Epistemic != 0.9 {
		t.Errorf("Expected no penalty on a true claim, got %v", v.Dimensions.Epistemic)
	}
	want := 0.9*0.35 + 0.6*0.25 + 0.5*0.20 + 0.5*0.10 + 0.4*0.10
	if !approx(v.Total, want) {
		t.Errorf("Total = %v, want %v", v.Total, want)
	}
	if v.ItemID != "p" || v.ScoredAt.IsZero() || len(v.Drivers) != 1 {
		t.Errorf("Unexpected score metadata: %+v", v)
	}
	if !strings.Contains(f.Requests()[0].Prompt, "verdict true") {
		t.Errorf("Expected verdicts in prompt: %q", f.Requests()[0].Prompt)
	}
}

func TestScorer_PenaltyDriver(t *testing.T) {
	f := llmtest.New().OnText(llm.TaskValue,
		`{"epistemic": 1, "insight": 1, "practical": 1, "relational": 1, "effort": 1, "confidence": 1}`)

	res := NewScorer(llmtest.NewOracle(f), zerolog.Nop()).Score(context.Background(), Input{
		Item:       model.ContentItem{ID: "p"},
		FactChecks: confidentFalse(1),
	})
	if res.State != model.StageOK {
		t.Fatalf("Expected ok, got %s", res.State)
	}
	if !approx(res.Value.Dimensions.Epistemic, 0.75) || !approx(res.Value.Dimensions.Insight, 0.925) {
		t.Errorf("Unexpected penalized dimensions: %+v", res.Value.Dimensions)
	}
	if len(res.Value.Drivers) != 1 || res.Value.Drivers[0] != "fact-check penalty 25%" {
		t.Errorf("Expected penalty driver, got %v", res.Value.Drivers)
	}
}

func TestScorer_MissingDimensionFails(t *testing.T) {
	f := llmtest.New().OnText(llm.TaskValue, `{"epistemic": 1, "insight": 1, "practical": 1, "relational": 1}`)

	res := NewScorer(llmtest.NewOracle(f), zerolog.Nop()).Score(context.Background(), Input{Item: model.ContentItem{ID: "p"}})
	if res.State != model.StageFailed || !errors.Is(res.Err, llm.ErrMalformedOutput) {
		t.Fatalf("Expected malformed failure, got %s %v", res.State, res.Err)
	}
}

func TestScorer_OutOfRangeIsClamped(t *testing.T) {
	f := llmtest.New().OnText(llm.TaskValue,
		`{"epistemic": 3, "insight": -1, "practical": 0.5, "relational": 0.5, "effort": 0.5, "confidence": 9}`)

	res := NewScorer(llmtest.NewOracle(f), zerolog.Nop()).Score(context.Background(), Input{Item: model.ContentItem{ID: "p"}})
	if res.State != model.StageOK {
		t.Fatalf("Expected ok, got %s", res.State)
	}
	if res.Value.Dimensions.Epistemic != 1 || res.Value.Dimensions.Insight != 0 || res.Value.Confidence != 1 {
		t.Errorf("Expected clamped values, got %+v", res.Value)
	}
}
