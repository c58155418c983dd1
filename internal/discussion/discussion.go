// Package discussion rates the quality of an item's comment thread.
package discussion

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/extract"
	"github.com/ppiankov/kurral/internal/llm"
	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/util"
)

// DefaultMaxComments bounds how many comments are sent to the oracle
const DefaultMaxComments = 50

const commentChars = 400

const systemPrompt = `You assess the quality of a social media comment thread.
Rate each metric from 0 to 1: informativeness (new facts or sources), civility (respectful tone),
reasoning_depth (arguments backed by reasons), cross_perspective (engagement between differing views).
Answer with a JSON object: {"informativeness": number, "civility": number, "reasoning_depth": number,
"cross_perspective": number, "summary": string}.`

// Analyzer summarizes comment threads through the generation oracle
type Analyzer struct {
	oracle      llm.JSONGenerator
	maxComments int
	log         zerolog.Logger
}

// NewAnalyzer creates a new discussion analyzer
func NewAnalyzer(oracle llm.JSONGenerator, maxComments int, log zerolog.Logger) *Analyzer {
	if maxComments <= 0 {
		maxComments = DefaultMaxComments
	}
	return &Analyzer{
		oracle:      oracle,
		maxComments: maxComments,
		log:         log.With().Str("component", "discussion").Logger(),
	}
}

// Analyze rates the thread under item; an item without comments is skipped
func (a *Analyzer) Analyze(ctx context.Context, item model.ContentItem, comments []model.ContentItem) model.StageResult[model.DiscussionQuality] {
	var b strings.Builder
	fmt.Fprintf(&b, "Original post:\n%s\n\nComments:\n", util.Truncate(extract.PlainText(item.Text), 1000))

	n := 0
	for _, c := range comments {
		text := extract.PlainText(c.Text)
		if text == "" {
			continue
		}
		if n == a.maxComments {
			break
		}
		n++
		fmt.Fprintf(&b, "- [%s] %s\n", c.AuthorID, util.Truncate(text, commentChars))
	}
	if n == 0 {
		return model.Skipped[model.DiscussionQuality]("no comments")
	}

	var out output
	err := a.oracle.GenerateJSON(ctx, llm.Request{
		Task:   llm.TaskDiscussion,
		System: systemPrompt,
		Prompt: b.String(),
	}, &out)
	if err != nil {
		return model.Failed[model.DiscussionQuality](fmt.Errorf("discussion %s: %w", item.ID, err))
	}

	dq := model.DiscussionQuality{
		Informativeness:  *out.Informativeness,
		Civility:         *out.Civility,
		ReasoningDepth:   *out.ReasoningDepth,
		CrossPerspective: *out.CrossPerspective,
		Summary:          strings.TrimSpace(out.Summary),
		CommentCount:     n,
	}
	a.log.Debug().Str("item_id", item.ID).Int("comments", n).Float64("engagement", dq.Engagement()).Msg("discussion rated")
	return model.OK(dq)
}

type output struct {
	Informativeness  *float64 `json:"informativeness"`
	Civility         *float64 `json:"civility"`
	ReasoningDepth   *float64 `json:"reasoning_depth"`
	CrossPerspective *float64 `json:"cross_perspective"`
	Summary          string   `json:"summary"`
}

// Validate requires all four metrics within [0,1]
func (o *output) Validate() error {
	for name, v := range map[string]*float64{
		"informativeness":   o.Informativeness,
		"civility":          o.Civility,
		"reasoning_depth":   o.ReasoningDepth,
		"cross_perspective": o.CrossPerspective,
	} {
		if v == nil {
			return fmt.Errorf("missing %s", name)
		}
		if *v < 0 || *v > 1 {
			return fmt.Errorf("%s %v out of range", name, *v)
		}
	}
	return nil
}
