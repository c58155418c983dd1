// Package policy derives the content-policy decision for an item from its claims and verdicts.
package policy

import (
	"fmt"

	"github.com/ppiankov/kurral/internal/model"
)

// ReasonNoClaims is the clean reason for items without extractable claims
const ReasonNoClaims = "no extractable claims"

// Evaluate applies the policy rules per claim and merges them, most severe status winning.
// It has no side effects and never fails.
func Evaluate(claims []model.Claim, checks []model.FactCheck) model.PolicyDecision {
	if len(claims) == 0 {
		return model.PolicyDecision{Status: model.PolicyClean, Reasons: []string{ReasonNoClaims}}
	}

	byClaim := make(map[string]model.FactCheck, len(checks))
	for _, fc := range checks {
		if _, dup := byClaim[fc.ClaimID]; !dup {
			byClaim[fc.ClaimID] = fc
		}
	}

	decision := model.PolicyDecision{Status: model.PolicyClean, Reasons: []string{}}
	for i, claim := range claims {
		status, escalate, reason := evaluateClaim(claim, byClaim)
		if status == model.PolicyClean {
			continue
		}
		decision.Status = model.Worse(decision.Status, status)
		decision.EscalateToHuman = decision.EscalateToHuman || escalate
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("claim %d: %s", i+1, reason))
	}

	return decision
}

// evaluateClaim returns the status a single claim demands
func evaluateClaim(claim model.Claim, checks map[string]model.FactCheck) (model.PolicyStatus, bool, string) {
	fc, ok := checks[claim.ID]
	if !ok {
		if claim.IsHighRisk() {
			return model.PolicyNeedsReview, false, "high-risk claim has no fact-check"
		}
		return model.PolicyClean, false, ""
	}

	switch fc.Verdict {
	case model.VerdictFalse:
		if fc.IsConfidentFalse() {
			return model.PolicyBlocked, true, fmt.Sprintf("false with confidence %.2f", fc.Confidence)
		}
		return model.PolicyNeedsReview, false, fmt.Sprintf("false with low confidence %.2f", fc.Confidence)
	case model.VerdictMixed:
		if claim.IsHighRisk() {
			return model.PolicyNeedsReview, true, fmt.Sprintf("mixed evidence on high-risk %s claim", claim.Domain)
		}
		return model.PolicyClean, false, ""
	case model.VerdictTrue:
		return model.PolicyClean, false, ""
	default:
		return model.PolicyNeedsReview, false, "claim could not be verified"
	}
}

// Degraded is the fail-safe decision used when a verification stage failed
func Degraded(reason string, escalate bool) model.PolicyDecision {
	return model.PolicyDecision{
		Status:          model.PolicyNeedsReview,
		Reasons:         []string{reason},
		EscalateToHuman: escalate,
		Degraded:        true,
	}
}
