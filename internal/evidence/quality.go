package evidence

import (
	"math"

	"github.com/ppiankov/kurral/internal/model"
)

// Tier base qualities
const (
	primaryQuality   = 0.9
	secondaryQuality = 0.7
	tertiaryQuality  = 0.4
)

// QualityScorer assigns each evidence source a quality in [0,1]
type QualityScorer struct {
	authority *AuthorityClassifier
}

// NewQualityScorer creates a new quality scorer
func NewQualityScorer(authority *AuthorityClassifier) *QualityScorer {
	return &QualityScorer{authority: authority}
}

// TierQuality returns the base quality of an authority tier
func TierQuality(tier model.AuthorityTier) float64 {
	switch tier {
	case model.TierPrimary:
		return primaryQuality
	case model.TierSecondary:
		return secondaryQuality
	default:
		return tertiaryQuality
	}
}

// Score blends the tier base 50/50 with the search hint when present and halves it for dead links
func (s *QualityScorer) Score(rawURL string, hint *float64, dead bool) (float64, model.AuthorityTier) {
	tier := s.authority.Classify(rawURL)
	q := TierQuality(tier)

	if hint != nil && !math.IsNaN(*hint) && !math.IsInf(*hint, 0) {
		q = 0.5*q + 0.5*clamp01(*hint)
	}
	if dead {
		q /= 2
	}
	return clamp01(q), tier
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
