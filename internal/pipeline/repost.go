package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/kurral/internal/metrics"
	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/store"
)

// maxRepostDepth bounds how far a chain of reposts is followed to its original
const maxRepostDepth = 8

// inheritedStages are copied from the original; discussion and reputation are the repost's own
var inheritedStages = []model.StageName{
	model.StagePreCheck, model.StageClaims, model.StageFactCheck, model.StageValue,
}

// repost completes a plain repost from its original's outputs without calling an oracle.
// An original that has not completed is pre-checked first; if it needs verification the
// repost waits for it.
func (r *run) repost(ctx context.Context) error {
	if r.cp.InheritedFrom != "" && r.resumable(model.StageValue) {
		return r.reload(ctx)
	}

	orig, err := r.original(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		r.log.Warn().Str("original_id", r.item.OriginalID).Msg("original not found, processing repost as its own content")
		return r.own(ctx)
	case err != nil:
		return err
	}

	if orig.Status == model.StatusCompleted {
		return r.inherit(ctx, orig)
	}

	// 1. Classify the original
	pre, err := r.precheck(ctx, *orig)
	if err != nil {
		return err
	}
	if verify, _ := r.verificationPlan(pre); verify {
		return fmt.Errorf("%w: original %s not yet verified", ErrBusy, orig.ID)
	}

	// 2. Nothing to verify, finish without the original's outputs
	if err := r.inheritFrom(ctx, orig.ID); err != nil {
		return err
	}
	claims, err := r.claims(ctx, pre)
	if err != nil {
		return err
	}
	checks, err := r.factcheck(ctx, claims)
	if err != nil {
		return err
	}
	if _, err := r.policy(ctx, claims, checks); err != nil {
		return err
	}
	if err := r.skip(ctx, model.StageDiscussion, "repost"); err != nil {
		return err
	}
	if err := r.skip(ctx, model.StageValue, "original not scored yet"); err != nil {
		return err
	}
	return r.skip(ctx, model.StageReputation, "repost")
}

// original follows the repost chain to the first item that is not itself a repost
func (r *run) original(ctx context.Context) (*model.ContentItem, error) {
	id := r.item.OriginalID
	for depth := 0; depth < maxRepostDepth; depth++ {
		if id == r.item.ID {
			return nil, store.ErrNotFound
		}
		orig, err := r.o.Store.GetItem(ctx, id)
		if err != nil {
			return nil, err
		}
		if !orig.IsRepost() {
			return orig, nil
		}
		id = orig.OriginalID
	}
	return nil, fmt.Errorf("repost chain from %s deeper than %d", r.item.ID, maxRepostDepth)
}

// inherit copies the original's claims, fact-checks and value score under new ids
func (r *run) inherit(ctx context.Context, orig *model.ContentItem) error {
	claims, err := r.o.Store.GetClaims(ctx, orig.ID)
	if err != nil {
		return fmt.Errorf("load original claims: %w", err)
	}
	checks, err := r.o.Store.GetFactChecks(ctx, orig.ID)
	if err != nil {
		return fmt.Errorf("load original fact-checks: %w", err)
	}
	vs, err := r.o.Store.GetValueScore(ctx, orig.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load original value score: %w", err)
	}

	ids := make(map[string]string, len(claims))
	copiedClaims := make([]model.Claim, len(claims))
	for i, c := range claims {
		c.InheritedID = c.ID
		c.ID = r.o.NewID()
		ids[c.InheritedID] = c.ID
		copiedClaims[i] = c
	}
	copiedChecks := make([]model.FactCheck, 0, len(checks))
	for _, fc := range checks {
		claimID, ok := ids[fc.ClaimID]
		if !ok {
			continue
		}
		fc.InheritedID = fc.ID
		fc.ID = r.o.NewID()
		fc.ClaimID = claimID
		fc.ItemID = r.item.ID
		copiedChecks = append(copiedChecks, fc)
	}

	if err := r.renew(ctx); err != nil {
		return err
	}
	if err := r.o.Store.ReplaceClaims(ctx, r.item.ID, copiedClaims); err != nil && !r.softSkip(err) {
		return fmt.Errorf("store inherited claims: %w", err)
	}
	if err := r.o.Store.ReplaceFactChecks(ctx, r.item.ID, copiedChecks); err != nil && !r.softSkip(err) {
		return fmt.Errorf("store inherited fact-checks: %w", err)
	}
	if vs != nil {
		inherited := *vs
		inherited.ItemID = r.item.ID
		inherited.InheritedID = orig.ID
		if err := r.o.Store.PutValueScore(ctx, inherited); err != nil && !r.softSkip(err) {
			return fmt.Errorf("store inherited value score: %w", err)
		}
	}

	now := r.now()
	patch := model.Checkpoint{
		RunID:         r.runID,
		Stages:        make(map[model.StageName]model.StageRecord, len(inheritedStages)),
		PreCheck:      orig.Checkpoint.PreCheck,
		InheritedFrom: orig.ID,
	}
	for _, name := range inheritedStages {
		rec, ok := orig.Checkpoint.Stage(name)
		if !ok {
			rec = model.StageRecord{State: model.StageSkipped, Reason: "not run on original"}
		}
		rec.Reason = inheritedReason(orig.ID, rec.Reason)
		rec.UpdatedAt = now
		patch.Stages[name] = rec
		metrics.ObserveStage(string(name), "inherited")
	}
	r.apply(patch)
	if err := r.write(ctx, patch); err != nil {
		return err
	}
	r.log.Debug().Str("original_id", orig.ID).Int("claims", len(copiedClaims)).Msg("inherited original outputs")

	// 1. Policy from the copied records
	if _, err := r.policy(ctx, copiedClaims, copiedChecks); err != nil {
		return err
	}

	// 2. A plain repost has no thread of its own and adds nothing to the reposter's reputation
	if err := r.skip(ctx, model.StageDiscussion, "repost"); err != nil {
		return err
	}
	return r.skip(ctx, model.StageReputation, "repost")
}

// reload finishes a repost whose inheritance completed in an earlier run
func (r *run) reload(ctx context.Context) error {
	claims, err := r.o.Store.GetClaims(ctx, r.item.ID)
	if err != nil {
		return fmt.Errorf("load claims: %w", err)
	}
	checks, err := r.o.Store.GetFactChecks(ctx, r.item.ID)
	if err != nil {
		return fmt.Errorf("load fact-checks: %w", err)
	}
	_, err = r.policy(ctx, claims, checks)
	return err
}

func (r *run) inheritFrom(ctx context.Context, origID string) error {
	patch := model.Checkpoint{RunID: r.runID, InheritedFrom: origID}
	r.apply(patch)
	return r.write(ctx, patch)
}

func inheritedReason(origID, reason string) string {
	if reason == "" {
		return "inherited from " + origID
	}
	return fmt.Sprintf("inherited from %s: %s", origID, reason)
}
