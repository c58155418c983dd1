package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/policy"
	"github.com/ppiankov/kurral/internal/store"
)

// Decide derives the policy decision from an item's checkpointed stage states and its stored
// claims and fact-checks. A failed verification stage forces a degraded needs_review decision.
func Decide(cp model.Checkpoint, failureMode string, claims []model.Claim, checks []model.FactCheck) model.PolicyDecision {
	if rec, ok := cp.Stage(model.StageClaims); ok && rec.State == model.StageFailed {
		return policy.Degraded("claims stage failed: "+rec.Reason, false)
	}
	if rec, ok := cp.Stage(model.StageFactCheck); ok && rec.State == model.StageFailed {
		return policy.Degraded("factcheck stage failed: "+rec.Reason, anyHighRisk(claims))
	}
	if rec, ok := cp.Stage(model.StagePreCheck); ok && rec.State == model.StageFailed &&
		failureMode != model.PreCheckFailExtract {
		return policy.Degraded("precheck stage failed: "+rec.Reason, failureMode == model.PreCheckFailReview)
	}

	if len(claims) == 0 && cp.PreCheck != nil && !cp.PreCheck.NeedsFactCheck {
		return model.PolicyDecision{
			Status:  model.PolicyClean,
			Reasons: []string{"fact-check not needed: " + string(cp.PreCheck.ContentType)},
		}
	}
	return policy.Evaluate(claims, checks)
}

func anyHighRisk(claims []model.Claim) bool {
	for _, c := range claims {
		if c.IsHighRisk() {
			return true
		}
	}
	return false
}

// Report assembles the read-only view of an item; the policy decision is recomputed, never read back
func (o *Orchestrator) Report(ctx context.Context, itemID string) (*model.Report, error) {
	return BuildReport(ctx, o.Store, o.cfg.PreCheckFailureMode, itemID)
}

// BuildReport assembles an item's report from the store
func BuildReport(ctx context.Context, s store.Store, failureMode, itemID string) (*model.Report, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	claims, err := s.GetClaims(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load claims: %w", err)
	}
	checks, err := s.GetFactChecks(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load fact-checks: %w", err)
	}
	vs, err := s.GetValueScore(ctx, itemID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load value score: %w", err)
	}

	stages := item.Checkpoint.Stages
	if stages == nil {
		stages = map[model.StageName]model.StageRecord{}
	}
	return &model.Report{
		ItemID:        item.ID,
		AuthorID:      item.AuthorID,
		Status:        item.Status,
		Stages:        stages,
		PreCheck:      item.Checkpoint.PreCheck,
		Claims:        claims,
		FactChecks:    checks,
		Policy:        Decide(item.Checkpoint, failureMode, claims, checks),
		Value:         vs,
		Discussion:    item.Checkpoint.Discussion,
		InheritedFrom: item.Checkpoint.InheritedFrom,
	}, nil
}
