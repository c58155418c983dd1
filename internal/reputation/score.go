// Package reputation maintains the per-author value statistics and KurralScore.
package reputation

import (
	"math"
	"time"

	"github.com/ppiankov/kurral/internal/model"
)

const (
	day = 24 * time.Hour

	// DecayHalfAge is the age at which a violation counts half
	DecayHalfAge = 30 * day
	// DecayZeroAge is the age at which a violation stops counting
	DecayZeroAge = 365 * day

	recentViolationAge = 7 * day
	qualityFallbackN   = 20
	consistencyTarget  = 5.0
)

// Trust levels
const (
	TrustBlocked         = 0.0
	TrustRecentViolation = 0.3
	TrustNeedsReview     = 0.6
	TrustClean           = 1.0
)

// Components are the five score inputs, each in [0,1]
type Components struct {
	Quality          float64
	ViolationPenalty float64
	Engagement       float64
	Consistency      float64
	Trust            float64
}

// Score maps components to the 0-100 KurralScore
func Score(c Components) float64 {
	positive := c.Quality*0.4 + c.Engagement*0.15 + c.Consistency*0.1 + c.Trust*0.1
	penalty := c.ViolationPenalty * 0.25
	normalized := clamp(positive-penalty, -0.25, 0.75)
	score := clamp((normalized+0.25)/1.0*100, 0, 100)
	return math.Round(score*1e4) / 1e4
}

// Model converts components to their stored 0-100 form
func (c Components) Model() model.KurralComponents {
	return model.KurralComponents{
		Quality:     round2(c.Quality * 100),
		Violations:  round2(c.ViolationPenalty * 100),
		Engagement:  round2(c.Engagement * 100),
		Consistency: round2(c.Consistency * 100),
		Trust:       round2(c.Trust * 100),
	}
}

// Inputs are the stored records a score is derived from
type Inputs struct {
	Now time.Time
	// Window is the rolling window; zero means 30 days
	Window time.Duration
	// Contributions are the author's ledger entries, newest first
	Contributions []model.ValueContribution
	Violations    []model.Violation
	Stats         model.ValueStats
}

// Derive computes the five components from stored records, at the precision they are stored with,
// so a score recomputed from stored components matches the stored score
func Derive(in Inputs) Components {
	window := in.Window
	if window <= 0 {
		window = 30 * day
	}
	since := in.Now.Add(-window)

	return Components{
		Quality:          round4(qualityScore(in.Contributions, since)),
		ViolationPenalty: round4(ViolationPenalty(in.Violations, in.Now)),
		Engagement:       round4(engagementScore(in.Contributions, since)),
		Consistency:      round4(math.Min(1, math.Max(0, in.Stats.Total30d()/consistencyTarget))),
		Trust:            round4(TrustScore(in.Violations, in.Now)),
	}
}

// FromModel converts stored 0-100 components back to score inputs
func FromModel(m model.KurralComponents) Components {
	return Components{
		Quality:          m.Quality / 100,
		ViolationPenalty: m.Violations / 100,
		Engagement:       m.Engagement / 100,
		Consistency:      m.Consistency / 100,
		Trust:            m.Trust / 100,
	}
}

// DecayFactor is the weight of a violation of the given age
func DecayFactor(age time.Duration) float64 {
	switch {
	case age >= DecayZeroAge:
		return 0
	case age >= DecayHalfAge:
		return 0.5
	default:
		return 1
	}
}

// ViolationPenalty sums decayed violation weights: 1.0 per block, 0.4 per review, 0.25 per confidently false claim
func ViolationPenalty(violations []model.Violation, now time.Time) float64 {
	total := 0.0
	for _, v := range violations {
		weight := float64(v.ConfidentFalseCount) * 0.25
		switch v.Status {
		case model.PolicyBlocked:
			weight += 1.0
		case model.PolicyNeedsReview:
			weight += 0.4
		}
		total += weight * DecayFactor(now.Sub(v.CreatedAt))
	}
	return clamp(total, 0, 1)
}

// TrustScore grades recent violations: a block as the latest violation within 30 days is 0,
// any violation within 7 days is 0.3, any undecayed violation is 0.6, otherwise 1
func TrustScore(violations []model.Violation, now time.Time) float64 {
	var latest *model.Violation
	recent, undecayed := false, false

	for i := range violations {
		v := &violations[i]
		age := now.Sub(v.CreatedAt)
		if age < 0 {
			age = 0
		}
		if age >= DecayHalfAge {
			continue
		}
		undecayed = true
		if age < recentViolationAge {
			recent = true
		}
		if latest == nil || v.CreatedAt.After(latest.CreatedAt) {
			latest = v
		}
	}

	switch {
	case latest != nil && latest.Status == model.PolicyBlocked:
		return TrustBlocked
	case recent:
		return TrustRecentViolation
	case undecayed:
		return TrustNeedsReview
	default:
		return TrustClean
	}
}

func qualityScore(contribs []model.ValueContribution, since time.Time) float64 {
	sum, n := 0.0, 0
	for _, c := range contribs {
		if !c.CreatedAt.Before(since) {
			sum += c.Quality
			n++
		}
	}
	if n == 0 {
		for i := 0; i < len(contribs) && i < qualityFallbackN; i++ {
			sum += contribs[i].Quality
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return clamp(sum/float64(n), 0, 1)
}

func engagementScore(contribs []model.ValueContribution, since time.Time) float64 {
	sum, n := 0.0, 0
	for _, c := range contribs {
		if c.Discussion != nil && !c.CreatedAt.Before(since) {
			sum += c.Discussion.Engagement()
			n++
		}
	}
	if n == 0 {
		return 0.5
	}
	return clamp(sum/float64(n), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
