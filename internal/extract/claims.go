package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/llm"
	"github.com/ppiankov/kurral/internal/model"
)

const systemPrompt = `You extract explicit, independently verifiable claims from social media posts.
Only extract statements that assert something about the world that could be checked against sources.
Ignore opinions, jokes, questions and personal experiences unless they embed a checkable statement.
Answer with a JSON object: {"claims": [{"text": string, "type": "factual"|"causal"|"evaluative"|"predictive",
"domain": "health"|"politics"|"finance"|"technology"|"startups"|"productivity"|"design"|"science"|"sports"|"entertainment"|"general",
"risk_level": "low"|"medium"|"high", "confidence": number between 0 and 1}]}.
Return {"claims": []} when nothing is checkable.`

// ClaimExtractor pulls claims out of item text and images through the generation oracle
type ClaimExtractor struct {
	oracle    llm.JSONGenerator
	maxClaims int
	log       zerolog.Logger

	// NewID generates claim ids
	NewID func() string
}

// NewClaimExtractor creates a new claim extractor; maxClaims <= 0 means unlimited
func NewClaimExtractor(oracle llm.JSONGenerator, maxClaims int, log zerolog.Logger) *ClaimExtractor {
	return &ClaimExtractor{
		oracle:    oracle,
		maxClaims: maxClaims,
		log:       log.With().Str("component", "claims").Logger(),
		NewID:     uuid.NewString,
	}
}

// Extract returns the item's claims; for a quote-repost the quoted item's claims are merged after the item's own.
// An empty list is a valid outcome.
func (e *ClaimExtractor) Extract(ctx context.Context, item model.ContentItem, quoted *model.ContentItem) model.StageResult[[]model.Claim] {
	sources := []model.ContentItem{item}
	if quoted != nil {
		sources = append(sources, *quoted)
	}

	var claims []model.Claim
	for _, src := range sources {
		found, err := e.extractOne(ctx, src)
		if err != nil {
			return model.Failed[[]model.Claim](fmt.Errorf("extract claims from %s: %w", src.ID, err))
		}
		for _, c := range found {
			c.SourceItemID = src.ID
			claims = append(claims, c)
		}
	}

	claims = dedupeClaims(claims)
	if e.maxClaims > 0 && len(claims) > e.maxClaims {
		e.log.Debug().Str("item_id", item.ID).Int("dropped", len(claims)-e.maxClaims).Msg("claim list truncated")
		claims = claims[:e.maxClaims]
	}

	for i := range claims {
		claims[i].ID = e.NewID()
		claims[i].ItemID = item.ID
		claims[i].Position = i
	}

	if claims == nil {
		claims = []model.Claim{}
	}
	return model.OK(claims)
}

func (e *ClaimExtractor) extractOne(ctx context.Context, item model.ContentItem) ([]model.Claim, error) {
	text := PlainText(item.Text)
	if text == "" && item.ImageURL == "" {
		return nil, nil
	}

	var out claimsOutput
	err := e.oracle.GenerateJSON(ctx, llm.Request{
		Task:     llm.TaskClaims,
		System:   systemPrompt,
		Prompt:   buildPrompt(text, item),
		ImageURL: item.ImageURL,
	}, &out)
	if err != nil {
		return nil, err
	}

	claims := make([]model.Claim, 0, len(out.Claims))
	for _, c := range out.Claims {
		claims = append(claims, model.Claim{
			Text:       strings.TrimSpace(c.Text),
			Type:       c.Type,
			Domain:     c.Domain,
			RiskLevel:  c.RiskLevel,
			Confidence: c.Confidence,
		})
	}
	return claims, nil
}

func buildPrompt(text string, item model.ContentItem) string {
	var b strings.Builder
	if len(item.Topics) > 0 {
		fmt.Fprintf(&b, "Declared topics: %s\n", strings.Join(item.Topics, ", "))
	}
	if item.ImageURL != "" {
		b.WriteString("The post includes an image; extract claims made by text visible in the image too.\n")
	}
	fmt.Fprintf(&b, "Post:\n%s", text)
	return b.String()
}

type claimsOutput struct {
	Claims []claimOutput `json:"claims"`
}

type claimOutput struct {
	Text       string          `json:"text"`
	Type       model.ClaimType `json:"type"`
	Domain     model.Domain    `json:"domain"`
	RiskLevel  model.RiskLevel `json:"risk_level"`
	Confidence float64         `json:"confidence"`
}

// Validate rejects missing lists and unknown enum values
func (o *claimsOutput) Validate() error {
	if o.Claims == nil {
		return errors.New("missing claims list")
	}
	for i, c := range o.Claims {
		switch {
		case strings.TrimSpace(c.Text) == "":
			return fmt.Errorf("claim %d: empty text", i)
		case !c.Type.Valid():
			return fmt.Errorf("claim %d: unknown type %q", i, c.Type)
		case !c.Domain.Valid():
			return fmt.Errorf("claim %d: unknown domain %q", i, c.Domain)
		case !c.RiskLevel.Valid():
			return fmt.Errorf("claim %d: unknown risk level %q", i, c.RiskLevel)
		case c.Confidence < 0 || c.Confidence > 1:
			return fmt.Errorf("claim %d: confidence %v out of range", i, c.Confidence)
		}
	}
	return nil
}

// dedupeClaims removes duplicate claims, keeping the first occurrence
func dedupeClaims(claims []model.Claim) []model.Claim {
	seen := make(map[string]bool)
	var unique []model.Claim

	for _, claim := range claims {
		key := strings.ToLower(strings.Join(strings.Fields(claim.Text), " "))
		if !seen[key] {
			seen[key] = true
			unique = append(unique, claim)
		}
	}

	return unique
}
