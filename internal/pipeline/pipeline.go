// Package pipeline runs the per-item value and trust pipeline with checkpointed, resumable stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/discussion"
	"github.com/ppiankov/kurral/internal/extract"
	"github.com/ppiankov/kurral/internal/factcheck"
	"github.com/ppiankov/kurral/internal/metrics"
	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/precheck"
	"github.com/ppiankov/kurral/internal/reputation"
	"github.com/ppiankov/kurral/internal/store"
	"github.com/ppiankov/kurral/internal/value"
)

var (
	// ErrBusy is returned when another run holds the item, or a repost waits on its original
	ErrBusy = errors.New("item busy")

	// ErrStageFailed is returned after a run that completed with at least one failed stage
	ErrStageFailed = errors.New("pipeline stage failed")

	// errClaimLost aborts a run whose lease expired and was taken over by another run
	errClaimLost = fmt.Errorf("%w: claim taken over by another run", ErrBusy)
)

// Deps are the stage components an Orchestrator drives
type Deps struct {
	Store      store.Store
	Gate       *precheck.Gate
	Extractor  *extract.ClaimExtractor
	Checker    *factcheck.Checker
	Discussion *discussion.Analyzer
	Scorer     *value.Scorer
	Reputation *reputation.Aggregator
}

// Orchestrator runs items through precheck, claims, factcheck, policy, discussion, value and reputation
type Orchestrator struct {
	Deps
	cfg model.PipelineConfig
	log zerolog.Logger

	// Now is the clock used for stage records
	Now func() time.Time
	// NewID generates run and inherited record ids
	NewID func() string
}

// New creates a new orchestrator
func New(deps Deps, cfg model.PipelineConfig, log zerolog.Logger) *Orchestrator {
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 10 * time.Minute
	}
	if cfg.PreCheckFailureMode == "" {
		cfg.PreCheckFailureMode = model.PreCheckFailExtract
	}
	return &Orchestrator{
		Deps:  deps,
		cfg:   cfg,
		log:   log.With().Str("component", "pipeline").Logger(),
		Now:   time.Now,
		NewID: uuid.NewString,
	}
}

// Process runs the pipeline for one item. Stages already checkpointed as ok or skipped are loaded,
// not re-run. Returns ErrBusy when the item cannot be run now, and ErrStageFailed when the run
// completed with failed stages that a later run should retry.
func (o *Orchestrator) Process(ctx context.Context, itemID string) error {
	start := o.Now()
	runID := o.NewID()

	item, err := o.Store.ClaimItem(ctx, itemID, runID, o.cfg.ClaimLease)
	switch {
	case errors.Is(err, store.ErrAlreadyClaimed):
		return ErrBusy
	case errors.Is(err, store.ErrNotFound):
		o.log.Info().Str("item_id", itemID).Msg("item missing or deleted, nothing to run")
		return nil
	case err != nil:
		return fmt.Errorf("claim item %s: %w", itemID, err)
	}

	r := &run{
		o:     o,
		item:  *item,
		cp:    item.Checkpoint,
		runID: runID,
		log:   o.log.With().Str("item_id", itemID).Str("run_id", runID).Logger(),
	}
	r.log.Debug().Msg("run started")

	if item.IsRepost() {
		err = r.repost(ctx)
	} else {
		err = r.own(ctx)
	}

	// Release with a fresh context so a cancelled run still frees its claim
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if errors.Is(err, errClaimLost) {
		r.log.Warn().Msg("claim lost mid-run, leaving the item to its new run")
		return err
	}
	if err != nil {
		if relErr := o.Store.ReleaseItem(releaseCtx, itemID, runID, model.StatusPending); relErr != nil {
			r.log.Warn().Err(relErr).Msg("release after aborted run failed")
		}
		if errors.Is(err, ErrBusy) {
			return err
		}
		return fmt.Errorf("process %s: %w", itemID, err)
	}

	completed := o.Now().UTC()
	if err := r.write(releaseCtx, model.Checkpoint{CompletedAt: &completed}); err != nil {
		if errors.Is(err, errClaimLost) {
			return err
		}
		return fmt.Errorf("process %s: %w", itemID, err)
	}
	if err := o.Store.ReleaseItem(releaseCtx, itemID, runID, model.StatusCompleted); err != nil {
		return fmt.Errorf("release %s: %w", itemID, err)
	}
	metrics.ObserveRun(o.Now().Sub(start))

	failed := r.failedStages()
	r.log.Info().Bool("deleted", r.gone).Strs("failed_stages", failed).
		Dur("elapsed", o.Now().Sub(start)).Msg("run completed")
	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", ErrStageFailed, strings.Join(failed, ", "))
	}
	return nil
}

// run is the state of one pipeline execution
type run struct {
	o     *Orchestrator
	item  model.ContentItem
	cp    model.Checkpoint // Checkpoint as loaded plus this run's writes
	runID string
	log   zerolog.Logger

	// dirty is set once a stage produced new output, so every later stage re-runs
	dirty bool
	// gone is set once the item was deleted mid-run; remaining writes are skipped
	gone bool
}

// resumable reports whether a stage can be loaded from the checkpoint instead of re-run
func (r *run) resumable(stage model.StageName) bool {
	return !r.dirty && r.cp.StageDone(stage)
}

// own runs the full stage sequence for a post, comment or quote-repost
func (r *run) own(ctx context.Context) error {
	// 1. Pre-check
	pre, err := r.precheck(ctx, r.item)
	if err != nil {
		return err
	}

	// 2. Claims
	claims, err := r.claims(ctx, pre)
	if err != nil {
		return err
	}

	// 3. Fact-check
	checks, err := r.factcheck(ctx, claims)
	if err != nil {
		return err
	}

	// 4. Policy
	decision, err := r.policy(ctx, claims, checks)
	if err != nil {
		return err
	}

	// 5. Discussion
	dq, err := r.discussion(ctx)
	if err != nil {
		return err
	}

	// 6. Value
	vs, err := r.value(ctx, claims, checks, dq)
	if err != nil {
		return err
	}

	// 7. Reputation
	return r.reputation(ctx, decision, checks, vs, dq)
}

func (r *run) precheck(ctx context.Context, item model.ContentItem) (model.StageResult[model.PreCheck], error) {
	if r.resumable(model.StagePreCheck) {
		rec, _ := r.cp.Stage(model.StagePreCheck)
		if rec.State == model.StageOK && r.cp.PreCheck != nil {
			return model.OK(*r.cp.PreCheck), nil
		}
		return model.Skipped[model.PreCheck](rec.Reason), nil
	}

	res := r.o.Gate.Check(ctx, item)
	patch := model.Checkpoint{}
	if res.State == model.StageOK {
		patch.PreCheck = &res.Value
	}
	if err := r.record(ctx, model.StagePreCheck, res.Record(r.now()), patch); err != nil {
		return res, err
	}
	return res, nil
}

// verificationPlan reports whether claims should be extracted, and why not
func (r *run) verificationPlan(pre model.StageResult[model.PreCheck]) (bool, string) {
	switch pre.State {
	case model.StageOK:
		if !pre.Value.NeedsFactCheck {
			return false, "fact-check not needed: " + string(pre.Value.ContentType)
		}
		return true, ""
	case model.StageSkipped:
		return false, "precheck skipped: " + pre.Reason
	default:
		if r.o.cfg.PreCheckFailureMode == model.PreCheckFailExtract {
			r.log.Warn().Str("reason", pre.Reason).Msg("precheck failed, extracting claims anyway")
			return true, ""
		}
		return false, "precheck failed"
	}
}

func (r *run) claims(ctx context.Context, pre model.StageResult[model.PreCheck]) ([]model.Claim, error) {
	if r.resumable(model.StageClaims) {
		claims, err := r.o.Store.GetClaims(ctx, r.item.ID)
		if err != nil {
			return nil, fmt.Errorf("load claims: %w", err)
		}
		metrics.ObserveStage(string(model.StageClaims), "resumed")
		return claims, nil
	}

	verify, why := r.verificationPlan(pre)
	if !verify {
		if err := r.renew(ctx); err != nil {
			return nil, err
		}
		if err := r.o.Store.ReplaceClaims(ctx, r.item.ID, nil); err != nil && !r.softSkip(err) {
			return nil, fmt.Errorf("clear claims: %w", err)
		}
		res := model.Skipped[[]model.Claim](why)
		return nil, r.record(ctx, model.StageClaims, res.Record(r.now()), model.Checkpoint{})
	}

	var quoted *model.ContentItem
	if r.item.IsQuote() {
		q, err := r.o.Store.GetItem(ctx, r.item.QuotedID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			r.log.Warn().Str("quoted_id", r.item.QuotedID).Msg("quoted item not found, extracting own claims only")
		case err != nil:
			return nil, fmt.Errorf("load quoted item: %w", err)
		default:
			quoted = q
		}
	}

	res := r.o.Extractor.Extract(ctx, r.item, quoted)
	if res.State == model.StageOK {
		if err := r.renew(ctx); err != nil {
			return nil, err
		}
		if err := r.o.Store.ReplaceClaims(ctx, r.item.ID, res.Value); err != nil && !r.softSkip(err) {
			return nil, fmt.Errorf("store claims: %w", err)
		}
	}
	if err := r.record(ctx, model.StageClaims, res.Record(r.now()), model.Checkpoint{}); err != nil {
		return nil, err
	}
	return res.Value, nil
}

func (r *run) factcheck(ctx context.Context, claims []model.Claim) ([]model.FactCheck, error) {
	if r.resumable(model.StageFactCheck) {
		checks, err := r.o.Store.GetFactChecks(ctx, r.item.ID)
		if err != nil {
			return nil, fmt.Errorf("load fact-checks: %w", err)
		}
		metrics.ObserveStage(string(model.StageFactCheck), "resumed")
		return checks, nil
	}

	var res model.StageResult[[]model.FactCheck]
	switch rec, _ := r.cp.Stage(model.StageClaims); {
	case rec.State == model.StageFailed:
		res = model.Skipped[[]model.FactCheck]("claims stage failed")
	case len(claims) == 0:
		res = model.Skipped[[]model.FactCheck]("no claims to check")
	default:
		res = r.o.Checker.Check(ctx, r.item, claims)
	}

	if res.State != model.StageFailed {
		if err := r.renew(ctx); err != nil {
			return nil, err
		}
		if err := r.o.Store.ReplaceFactChecks(ctx, r.item.ID, res.Value); err != nil && !r.softSkip(err) {
			return nil, fmt.Errorf("store fact-checks: %w", err)
		}
	}
	if err := r.record(ctx, model.StageFactCheck, res.Record(r.now()), model.Checkpoint{}); err != nil {
		return nil, err
	}
	return res.Value, nil
}

// policy is always re-evaluated; it only snapshots the decision for display
func (r *run) policy(ctx context.Context, claims []model.Claim, checks []model.FactCheck) (model.PolicyDecision, error) {
	decision := Decide(r.cp, r.o.cfg.PreCheckFailureMode, claims, checks)

	res := model.OK(decision)
	if err := r.record(ctx, model.StagePolicy, res.Record(r.now()), model.Checkpoint{Policy: &decision}); err != nil {
		return decision, err
	}

	if decision.EscalateToHuman && !r.gone {
		err := r.o.Store.EnqueueReview(ctx, model.ReviewTicket{
			ItemID:    r.item.ID,
			AuthorID:  r.item.AuthorID,
			Status:    decision.Status,
			Reasons:   decision.Reasons,
			CreatedAt: r.now(),
		})
		if err != nil && !r.softSkip(err) {
			return decision, fmt.Errorf("enqueue review: %w", err)
		}
	}

	r.log.Debug().Str("status", string(decision.Status)).Bool("escalate", decision.EscalateToHuman).
		Bool("degraded", decision.Degraded).Msg("policy decided")
	return decision, nil
}

func (r *run) discussion(ctx context.Context) (*model.DiscussionQuality, error) {
	if r.resumable(model.StageDiscussion) {
		metrics.ObserveStage(string(model.StageDiscussion), "resumed")
		return r.cp.Discussion, nil
	}

	comments, err := r.o.Store.ListComments(ctx, r.item.ID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}

	res := r.o.Discussion.Analyze(ctx, r.item, comments)
	patch := model.Checkpoint{}
	if res.State == model.StageOK {
		patch.Discussion = &res.Value
	}
	if err := r.record(ctx, model.StageDiscussion, res.Record(r.now()), patch); err != nil {
		return nil, err
	}
	return patch.Discussion, nil
}

func (r *run) value(ctx context.Context, claims []model.Claim, checks []model.FactCheck, dq *model.DiscussionQuality) (*model.ValueScore, error) {
	if r.resumable(model.StageValue) {
		metrics.ObserveStage(string(model.StageValue), "resumed")
		vs, err := r.o.Store.GetValueScore(ctx, r.item.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load value score: %w", err)
		}
		return vs, nil
	}

	res := r.o.Scorer.Score(ctx, value.Input{
		Item:       r.item,
		Claims:     claims,
		FactChecks: checks,
		Discussion: dq,
	})
	var vs *model.ValueScore
	if res.State == model.StageOK {
		res.Value.ItemID = r.item.ID
		vs = &res.Value
		if err := r.renew(ctx); err != nil {
			return nil, err
		}
		if err := r.o.Store.PutValueScore(ctx, res.Value); err != nil && !r.softSkip(err) {
			return nil, fmt.Errorf("store value score: %w", err)
		}
	}
	if err := r.record(ctx, model.StageValue, res.Record(r.now()), model.Checkpoint{}); err != nil {
		return nil, err
	}
	return vs, nil
}

func (r *run) reputation(ctx context.Context, decision model.PolicyDecision, checks []model.FactCheck,
	vs *model.ValueScore, dq *model.DiscussionQuality) error {
	if r.gone {
		return nil
	}
	if r.resumable(model.StageReputation) {
		metrics.ObserveStage(string(model.StageReputation), "resumed")
		return nil
	}

	if err := r.renew(ctx); err != nil {
		return err
	}
	var res model.StageResult[*model.KurralScore]
	ks, err := r.o.Reputation.Update(ctx, r.item, decision, checks, vs, dq)
	if err != nil {
		res = model.Failed[*model.KurralScore](err)
	} else {
		res = model.OK(ks)
		r.log.Debug().Str("author_id", r.item.AuthorID).Float64("kurral_score", ks.Score).Msg("reputation updated")
	}
	return r.record(ctx, model.StageReputation, res.Record(r.now()), model.Checkpoint{})
}

// record checkpoints a stage outcome together with any extra fields in patch
func (r *run) record(ctx context.Context, stage model.StageName, rec model.StageRecord, patch model.Checkpoint) error {
	metrics.ObserveStage(string(stage), string(rec.State))
	switch rec.State {
	case model.StageFailed:
		r.log.Warn().Str("stage", string(stage)).Str("reason", rec.Reason).Msg("stage failed")
	default:
		r.log.Debug().Str("stage", string(stage)).Str("state", string(rec.State)).Msg("stage finished")
	}

	if rec.State.Done() && stage != model.StagePolicy {
		r.dirty = true
	}

	if err := r.renew(ctx); err != nil {
		return err
	}
	patch.Stages = map[model.StageName]model.StageRecord{stage: rec}
	r.apply(patch)
	return r.write(ctx, patch)
}

// renew extends this run's claim for another lease period before it writes
func (r *run) renew(ctx context.Context) error {
	if r.gone {
		return nil
	}
	_, err := r.o.Store.ClaimItem(ctx, r.item.ID, r.runID, r.o.cfg.ClaimLease)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrAlreadyClaimed):
		return errClaimLost
	case r.softSkip(err):
		return nil
	default:
		return fmt.Errorf("renew claim: %w", err)
	}
}

// apply mirrors a checkpoint patch into the run's in-memory view
func (r *run) apply(patch model.Checkpoint) {
	if r.cp.Stages == nil {
		r.cp.Stages = make(map[model.StageName]model.StageRecord)
	}
	for name, rec := range patch.Stages {
		r.cp.Stages[name] = rec
	}
	if patch.PreCheck != nil {
		r.cp.PreCheck = patch.PreCheck
	}
	if patch.Discussion != nil {
		r.cp.Discussion = patch.Discussion
	}
	if patch.Policy != nil {
		r.cp.Policy = patch.Policy
	}
	if patch.InheritedFrom != "" {
		r.cp.InheritedFrom = patch.InheritedFrom
	}
}

// write merges patch into the stored checkpoint under this run's claim; a deleted item turns it into a no-op
func (r *run) write(ctx context.Context, patch model.Checkpoint) error {
	if r.gone {
		return nil
	}
	patch.RunID = r.runID
	err := r.o.Store.MergeCheckpoint(ctx, r.item.ID, patch)
	switch {
	case err == nil, r.softSkip(err):
		return nil
	case errors.Is(err, store.ErrClaimLost):
		return errClaimLost
	default:
		return fmt.Errorf("checkpoint: %w", err)
	}
}

// softSkip reports whether err means the item was deleted, and marks the run as gone
func (r *run) softSkip(err error) bool {
	if !errors.Is(err, store.ErrNotFound) {
		return false
	}
	if !r.gone {
		r.log.Info().Msg("item deleted during run, skipping remaining writes")
	}
	r.gone = true
	return true
}

// skip records a stage that has nothing to do for this item
func (r *run) skip(ctx context.Context, stage model.StageName, reason string) error {
	return r.record(ctx, stage, model.Skipped[struct{}](reason).Record(r.now()), model.Checkpoint{})
}

func (r *run) failedStages() []string {
	var failed []string
	for _, name := range model.Stages {
		if rec, ok := r.cp.Stage(name); ok && rec.State == model.StageFailed {
			failed = append(failed, string(name))
		}
	}
	return failed
}

func (r *run) now() time.Time {
	return r.o.Now().UTC()
}
