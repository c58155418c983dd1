// Package precheck decides whether an item carries content worth fact-checking.
package precheck

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/extract"
	"github.com/ppiankov/kurral/internal/llm"
	"github.com/ppiankov/kurral/internal/model"
)

const systemPrompt = `You triage social media posts before fact-checking.
Classify the post's content type as one of: opinion, experience, question, humor, factual, news.
Use factual or news only when the post asserts checkable facts about the world.
Answer with a JSON object: {"content_type": string, "confidence": number between 0 and 1, "reasoning": string}.`

// Gate classifies items through the generation oracle
type Gate struct {
	oracle llm.JSONGenerator
	log    zerolog.Logger
}

// NewGate creates a new pre-check gate
func NewGate(oracle llm.JSONGenerator, log zerolog.Logger) *Gate {
	return &Gate{
		oracle: oracle,
		log:    log.With().Str("component", "precheck").Logger(),
	}
}

// Check classifies the item. Oracle failures are returned as a failed result, never as "no check needed".
// Items without text or image are skipped.
func (g *Gate) Check(ctx context.Context, item model.ContentItem) model.StageResult[model.PreCheck] {
	text := extract.PlainText(item.Text)
	if text == "" && item.ImageURL == "" {
		return model.Skipped[model.PreCheck]("item has no text or image")
	}

	prompt := "Post:\n" + text
	if item.ImageURL != "" {
		prompt = "The post includes an image; consider any text or chart it shows.\n" + prompt
	}

	var out output
	err := g.oracle.GenerateJSON(ctx, llm.Request{
		Task:     llm.TaskPreCheck,
		System:   systemPrompt,
		Prompt:   prompt,
		ImageURL: item.ImageURL,
	}, &out)
	if err != nil {
		return model.Failed[model.PreCheck](fmt.Errorf("precheck %s: %w", item.ID, err))
	}

	result := model.PreCheck{
		NeedsFactCheck: out.ContentType.NeedsFactCheck(),
		Confidence:     out.Confidence,
		ContentType:    out.ContentType,
		Reasoning:      strings.TrimSpace(out.Reasoning),
	}
	g.log.Debug().Str("item_id", item.ID).Str("content_type", string(result.ContentType)).
		Bool("needs_fact_check", result.NeedsFactCheck).Msg("precheck classified item")
	return model.OK(result)
}

type output struct {
	ContentType model.ContentType `json:"content_type"`
	Confidence  float64           `json:"confidence"`
	Reasoning   string            `json:"reasoning"`
}

// Validate rejects unknown content types and out-of-range confidence
func (o *output) Validate() error {
	if !o.ContentType.Valid() {
		return fmt.Errorf("unknown content type %q", o.ContentType)
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", o.Confidence)
	}
	return nil
}
