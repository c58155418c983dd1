package value

import (
	"math"

	"github.com/ppiankov/kurral/internal/model"
)

// Domain weight table; each row sums to 1
var (
	weightsHealthPolitics = model.Dimensions{Epistemic: 0.35, Insight: 0.25, Practical: 0.20, Relational: 0.10, Effort: 0.10}
	weightsTechStartups   = model.Dimensions{Epistemic: 0.25, Insight: 0.35, Practical: 0.20, Relational: 0.10, Effort: 0.10}
	weightsProductivity   = model.Dimensions{Epistemic: 0.20, Insight: 0.25, Practical: 0.35, Relational: 0.10, Effort: 0.10}
	weightsDefault        = model.Dimensions{Epistemic: 0.30, Insight: 0.25, Practical: 0.20, Relational: 0.15, Effort: 0.10}
)

// DomainWeights returns the dimension weights for a domain
func DomainWeights(d model.Domain) model.Dimensions {
	switch d {
	case model.DomainHealth, model.DomainPolitics:
		return weightsHealthPolitics
	case model.DomainTechnology, model.DomainStartups:
		return weightsTechStartups
	case model.DomainProductivity, model.DomainDesign:
		return weightsProductivity
	default:
		return weightsDefault
	}
}

// riskWeight is how much a claim counts toward its domain
func riskWeight(r model.RiskLevel) float64 {
	switch r {
	case model.RiskHigh:
		return 2
	case model.RiskMedium:
		return 1.5
	default:
		return 1
	}
}

// DominantDomain returns the domain carrying the most risk-weighted claims.
// Ties resolve to the declared domain when it is among the tied ones, otherwise
// to the declared domain if set, otherwise to the tied domain seen first.
// With no claims the declared domain is returned.
func DominantDomain(claims []model.Claim, declared model.Domain) model.Domain {
	if len(claims) == 0 {
		return declared
	}

	totals := make(map[model.Domain]float64)
	var order []model.Domain
	for _, c := range claims {
		if _, ok := totals[c.Domain]; !ok {
			order = append(order, c.Domain)
		}
		totals[c.Domain] += riskWeight(c.RiskLevel)
	}

	best := math.Inf(-1)
	var tied []model.Domain
	for _, d := range order {
		switch w := totals[d]; {
		case w > best:
			best = w
			tied = []model.Domain{d}
		case w == best:
			tied = append(tied, d)
		}
	}

	if len(tied) == 1 {
		return tied[0]
	}
	for _, d := range tied {
		if d == declared {
			return d
		}
	}
	if declared != "" {
		return declared
	}
	return tied[0]
}

// Sanitize replaces non-finite dimensions with 0.5 and clamps the rest to [0,1]
func Sanitize(d model.Dimensions) model.Dimensions {
	return model.Dimensions{
		Epistemic:  sanitize(d.Epistemic),
		Insight:    sanitize(d.Insight),
		Practical:  sanitize(d.Practical),
		Relational: sanitize(d.Relational),
		Effort:     sanitize(d.Effort),
	}
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0.5
	}
	return clamp01(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Penalty is the fact-check penalty for a set of checks: 0.25 per confidently false claim, capped at 0.8
func Penalty(checks []model.FactCheck) float64 {
	return math.Min(0.8, float64(model.CountConfidentFalse(checks))*0.25)
}

// ApplyFactCheckPenalty reduces epistemic by the penalty and insight by 30% of it
func ApplyFactCheckPenalty(d model.Dimensions, checks []model.FactCheck) model.Dimensions {
	p := Penalty(checks)
	d.Epistemic *= 1 - p
	d.Insight *= 1 - p*0.3
	return d
}

// BlendRelational mixes the relational dimension 50/50 with the thread's civility and cross-perspective mean
func BlendRelational(d model.Dimensions, dq *model.DiscussionQuality) model.Dimensions {
	if dq == nil {
		return d
	}
	thread := clamp01((dq.Civility + dq.CrossPerspective) / 2)
	d.Relational = d.Relational*0.5 + thread*0.5
	return d
}

// Total is the weighted sum of dimensions clamped to [0,1]; non-finite results are neutral
func Total(d, w model.Dimensions) float64 {
	t := d.Epistemic*w.Epistemic + d.Insight*w.Insight + d.Practical*w.Practical +
		d.Relational*w.Relational + d.Effort*w.Effort
	return sanitize(t)
}
