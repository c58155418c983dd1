package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/llm"
	"github.com/ppiankov/kurral/internal/llm/llmtest"
	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/retry"
)

func newExtractor(f *llmtest.Fake, maxClaims int) *ClaimExtractor {
	e := NewClaimExtractor(llmtest.NewOracle(f), maxClaims, zerolog.Nop())
	n := 0
	e.NewID = func() string {
		n++
		return fmt.Sprintf("claim-%d", n)
	}
	return e
}

func TestClaimExtractor_SingleClaim(t *testing.T) {
	f := llmtest.New().OnText(llm.TaskClaims,
		`{"claims": [{"text": "Vaccines reduce hospitalization by 90%", "type": "causal", "domain": "health", "risk_level": "high", "confidence": 0.95}]}`)

	item := model.ContentItem{ID: "post-1", Text: "Vaccines reduce hospitalization by 90% (CDC)."}
	res := newExtractor(f, 0).Extract(context.Background(), item, nil)

	if res.State != model.StageOK {
		t.Fatalf("Expected ok, got %s: %s", res.State, res.Reason)
	}
	if len(res.Value) != 1 {
		t.Fatalf("Expected 1 claim, got %d", len(res.Value))
	}
	c := res.Value[0]
	if c.ID != "claim-1" || c.ItemID != "post-1" || c.SourceItemID != "post-1" {
		t.Errorf("Unexpected ids: %+v", c)
	}
	if c.Domain != model.DomainHealth || c.Type != model.ClaimTypeCausal || c.RiskLevel != model.RiskHigh {
		t.Errorf("Unexpected classification: %+v", c)
	}
}

func TestClaimExtractor_EmptyIsOK(t *testing.T) {
	f := llmtest.New().OnText(llm.TaskClaims, `{"claims": []}`)

	res := newExtractor(f, 0).Extract(context.Background(), model.ContentItem{ID: "p", Text: "Beautiful sunset today!"}, nil)
	if res.State != model.StageOK {
		t.Fatalf("Expected ok, got %s", res.State)
	}
	if res.Value == nil || len(res.Value) != 0 {
		t.Errorf("Expected empty non-nil claim list, got %#v", res.Value)
	}
}

func TestClaimExtractor_EmptyTextMakesNoCall(t *testing.T) {
	f := llmtest.New()

	res := newExtractor(f, 0).Extract(context.Background(), model.ContentItem{ID: "p", Text: "  "}, nil)
	if res.State != model.StageOK || len(res.Value) != 0 {
		t.Fatalf("Expected ok with no claims, got %s %v", res.State, res.Value)
	}
	if f.Calls() != 0 {
		t.Errorf("Expected no oracle calls, got %d", f.Calls())
	}
}

func TestClaimExtractor_QuoteMergesBothTexts(t *testing.T) {
	f := llmtest.New().On(llm.TaskClaims, func(req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "quoted original") {
			return `{"claims": [
				{"text": "Inflation hit 9% in 2022", "type": "factual", "domain": "finance", "risk_level": "medium", "confidence": 0.9},
				{"text": "The Fed raised rates seven times", "type": "factual", "domain": "finance", "risk_level": "low", "confidence": 0.8}
			]}`, nil
		}
		return `{"claims": [
			{"text": "Inflation hit 9%  in 2022", "type": "factual", "domain": "finance", "risk_level": "medium", "confidence": 0.7},
			{"text": "Rates will fall next year", "type": "predictive", "domain": "finance", "risk_level": "low", "confidence": 0.6}
		]}`, nil
	})

	item := model.ContentItem{ID: "quote-1", Text: "My take on this", QuotedID: "orig-1"}
	quoted := model.ContentItem{ID: "orig-1", Text: "quoted original text"}

	res := newExtractor(f, 0).Extract(context.Background(), item, &quoted)
	if res.State != model.StageOK {
		t.Fatalf("Expected ok, got %s: %s", res.State, res.Reason)
	}
	if f.CallsFor(llm.TaskClaims) != 2 {
		t.Errorf("Expected 2 extraction calls, got %d", f.CallsFor(llm.TaskClaims))
	}
	if len(res.Value) != 3 {
		t.Fatalf("Expected 3 merged claims, got %d: %+v", len(res.Value), res.Value)
	}

	wantSources := []string{"quote-1", "quote-1", "orig-1"}
	for i, c := range res.Value {
		if c.SourceItemID != wantSources[i] {
			t.Errorf("claim %d: expected source %s, got %s", i, wantSources[i], c.SourceItemID)
		}
		if c.ItemID != "quote-1" || c.Position != i {
			t.Errorf("claim %d: unexpected owner/position %s/%d", i, c.ItemID, c.Position)
		}
	}
}

func TestClaimExtractor_MaxClaims(t *testing.T) {
	f := llmtest.New().OnText(llm.TaskClaims, `{"claims": [
		{"text": "a", "type": "factual", "domain": "general", "risk_level": "low", "confidence": 0.5},
		{"text": "b", "type": "factual", "domain": "general", "risk_level": "low", "confidence": 0.5},
		{"text": "c", "type": "factual", "domain": "general", "risk_level": "low", "confidence": 0.5}
	]}`)

	res := newExtractor(f, 2).Extract(context.Background(), model.ContentItem{ID: "p", Text: "abc"}, nil)
	if len(res.Value) != 2 {
		t.Fatalf("Expected 2 claims, got %d", len(res.Value))
	}
}

func TestClaimExtractor_MalformedOutputFails(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"unknown type", `{"claims": [{"text": "x", "type": "opinion", "domain": "health", "risk_level": "low", "confidence": 0.5}]}`},
		{"unknown domain", `{"claims": [{"text": "x", "type": "factual", "domain": "astrology", "risk_level": "low", "confidence": 0.5}]}`},
		{"unknown risk", `{"claims": [{"text": "x", "type": "factual", "domain": "health", "risk_level": "extreme", "confidence": 0.5}]}`},
		{"confidence range", `{"claims": [{"text": "x", "type": "factual", "domain": "health", "risk_level": "low", "confidence": 1.5}]}`},
		{"missing list", `{"items": []}`},
		{"not json", `Here are the claims: none`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := llmtest.New().OnText(llm.TaskClaims, tt.text)
			res := newExtractor(f, 0).Extract(context.Background(), model.ContentItem{ID: "p", Text: "text"}, nil)
			if res.State != model.StageFailed {
				t.Fatalf("Expected failed, got %s", res.State)
			}
			if !errors.Is(res.Err, llm.ErrMalformedOutput) {
				t.Errorf("Expected malformed output error, got %v", res.Err)
			}
			if f.Calls() != 1 {
				t.Errorf("Malformed output must not be retried, got %d calls", f.Calls())
			}
		})
	}
}

func TestClaimExtractor_TransientExhaustionFails(t *testing.T) {
	f := llmtest.New().OnError(llm.TaskClaims, retry.ClassifyHTTPStatus(503, "overloaded", nil))

	res := newExtractor(f, 0).Extract(context.Background(), model.ContentItem{ID: "p", Text: "text"}, nil)
	if res.State != model.StageFailed {
		t.Fatalf("Expected failed, got %s", res.State)
	}
	if f.Calls() != 3 {
		t.Errorf("Expected 3 attempts, got %d", f.Calls())
	}
}

func TestClaimExtractor_QuoteFailureFailsStage(t *testing.T) {
	f := llmtest.New().On(llm.TaskClaims, func(req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "original") {
			return "", retry.ClassifyHTTPStatus(400, "bad", nil)
		}
		return `{"claims": []}`, nil
	})

	quoted := model.ContentItem{ID: "o", Text: "original"}
	res := newExtractor(f, 0).Extract(context.Background(), model.ContentItem{ID: "q", Text: "mine", QuotedID: "o"}, &quoted)
	if res.State != model.StageFailed {
		t.Fatalf("Expected failed, got %s", res.State)
	}
}

func TestClaimExtractor_PromptUsesPlainText(t *testing.T) {
	f := llmtest.New().OnText(llm.TaskClaims, `{"claims": []}`)

	item := model.ContentItem{
		ID:       "p",
		Text:     "<p>The <b>Eiffel Tower</b> is 330m tall</p><script>x()</script>",
		ImageURL: "https://img.example/tower.jpg",
		Topics:   []string{"science"},
	}
	newExtractor(f, 0).Extract(context.Background(), item, nil)

	reqs := f.Requests()
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(reqs))
	}
	if !strings.Contains(reqs[0].Prompt, "The Eiffel Tower is 330m tall") || strings.Contains(reqs[0].Prompt, "x()") {
		t.Errorf("Unexpected prompt: %q", reqs[0].Prompt)
	}
	if reqs[0].ImageURL != item.ImageURL {
		t.Errorf("Expected image to be forwarded")
	}
	if !strings.Contains(reqs[0].Prompt, "Declared topics: science") {
		t.Errorf("Expected topics in prompt: %q", reqs[0].Prompt)
	}
}
