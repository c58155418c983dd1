package reputation

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestScore_Bounds(t *testing.T) {
	best := Components{Quality: 1, Engagement: 1, Consistency: 1, Trust: 1}
	assert.Equal(t, 100.0, Score(best))

	worst := Components{ViolationPenalty: 1}
	assert.Equal(t, 0.0, Score(worst))

	neutral := Components{Quality: 0.5, Engagement: 0.5, Consistency: 0.5, Trust: 1}
	// 0.2 + 0.075 + 0.05 + 0.1 = 0.425
	assert.InDelta(t, 67.5, Score(neutral), 1e-9)
}

func TestScore_Monotonic(t *testing.T) {
	base := Components{Quality: 0.6, Engagement: 0.5, Consistency: 0.4, Trust: 1, ViolationPenalty: 0.2}
	s0 := Score(base)

	higher := base
	higher.Quality = 0.9
	assert.Greater(t, Score(higher), s0)

	penalized := base
	penalized.ViolationPenalty = 0.8
	assert.Less(t, Score(penalized), s0)

	for _, c := range []Components{
		{Quality: math.NaN()},
		{Quality: 5, Engagement: 5, Consistency: 5, Trust: 5},
		{ViolationPenalty: 9},
	} {
		s := Score(c)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 100.0)
	}
}

func TestDecayFactor(t *testing.T) {
	assert.Equal(t, 1.0, DecayFactor(0))
	assert.Equal(t, 1.0, DecayFactor(29*day))
	assert.Equal(t, 0.5, DecayFactor(30*day))
	assert.Equal(t, 0.5, DecayFactor(364*day))
	assert.Equal(t, 0.0, DecayFactor(365*day))
}

func TestViolationPenalty_Decay(t *testing.T) {
	block := func(age time.Duration) model.Violation {
		return model.Violation{Status: model.PolicyBlocked, CreatedAt: testNow.Add(-age)}
	}

	assert.Equal(t, 1.0, ViolationPenalty([]model.Violation{block(time.Hour)}, testNow))
	assert.Equal(t, 0.5, ViolationPenalty([]model.Violation{block(31 * day)}, testNow))
	assert.Equal(t, 0.0, ViolationPenalty([]model.Violation{block(400 * day)}, testNow))

	review := model.Violation{Status: model.PolicyNeedsReview, ConfidentFalseCount: 1, CreatedAt: testNow.Add(-day)}
	assert.InDelta(t, 0.65, ViolationPenalty([]model.Violation{review}, testNow), 1e-9)

	// Clamped at 1
	many := []model.Violation{block(day), block(2 * day), review}
	assert.Equal(t, 1.0, ViolationPenalty(many, testNow))
}

func TestTrustScore(t *testing.T) {
	v := func(status model.PolicyStatus, age time.Duration) model.Violation {
		return model.Violation{Status: status, CreatedAt: testNow.Add(-age)}
	}

	tests := []struct {
		name       string
		violations []model.Violation
		want       float64
	}{
		{"none", nil, TrustClean},
		{"latest is block", []model.Violation{v(model.PolicyNeedsReview, 20*day), v(model.PolicyBlocked, 10*day)}, TrustBlocked},
		{"block then newer review", []model.Violation{v(model.PolicyBlocked, 20*day), v(model.PolicyNeedsReview, 2*day)}, TrustRecentViolation},
		{"review this week", []model.Violation{v(model.PolicyNeedsReview, 3*day)}, TrustRecentViolation},
		{"review this month", []model.Violation{v(model.PolicyNeedsReview, 10*day)}, TrustNeedsReview},
		{"only decayed", []model.Violation{v(model.PolicyBlocked, 40*day)}, TrustClean},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrustScore(tt.violations, testNow))
		})
	}
}

func TestDerive_QualityFallback(t *testing.T) {
	var contribs []model.ValueContribution
	for i := 0; i < 25; i++ {
		q := 0.8
		if i >= 20 {
			q = 0
		}
		contribs = append(contribs, model.ValueContribution{
			Quality:   q,
			CreatedAt: testNow.Add(-time.Duration(60+i) * day),
		})
	}

	c := Derive(Inputs{Now: testNow, Contributions: contribs})
	assert.InDelta(t, 0.8, c.Quality, 1e-9)
	assert.Equal(t, 0.5, c.Engagement)
	assert.Equal(t, 0.0, c.Consistency)
	assert.Equal(t, TrustClean, c.Trust)

	assert.Equal(t, 0.0, Derive(Inputs{Now: testNow}).Quality)
}

func TestDerive_WindowAndEngagement(t *testing.T) {
	contribs := []model.ValueContribution{
		{Quality: 0.9, CreatedAt: testNow.Add(-day), Discussion: &model.DiscussionQuality{
			Informativeness: 1, Civility: 1, ReasoningDepth: 0.6, CrossPerspective: 0.6,
		}},
		{Quality: 0.5, CreatedAt: testNow.Add(-2 * day)},
		{Quality: 0.1, CreatedAt: testNow.Add(-45 * day)},
	}
	c := Derive(Inputs{
		Now:           testNow,
		Contributions: contribs,
		Stats:         model.ValueStats{PostValue30d: 2, CommentValue30d: 0.5},
	})
	assert.InDelta(t, 0.7, c.Quality, 1e-9)
	assert.InDelta(t, 0.8, c.Engagement, 1e-9)
	assert.InDelta(t, 0.5, c.Consistency, 1e-9)

	c = Derive(Inputs{Now: testNow, Stats: model.ValueStats{PostValue30d: 12}})
	assert.Equal(t, 1.0, c.Consistency)
}

func TestRollStats_LifetimeNeverDecreases(t *testing.T) {
	contribs := []model.ValueContribution{
		{Kind: model.KindPost, Value: 0.6, CreatedAt: testNow.Add(-day)},
		{Kind: model.KindComment, Value: 0.3, CreatedAt: testNow.Add(-2 * day)},
		{Kind: model.KindPost, Value: 0.4, CreatedAt: testNow.Add(-40 * day)},
	}

	stats := RollStats("alice", contribs, nil, testNow, 30*day)
	assert.InDelta(t, 0.6, stats.PostValue30d, 1e-9)
	assert.InDelta(t, 0.3, stats.CommentValue30d, 1e-9)
	assert.InDelta(t, 1.0, stats.LifetimePostValue, 1e-9)
	assert.InDelta(t, 0.3, stats.LifetimeCommentValue, 1e-9)

	prev := &model.ValueStats{LifetimePostValue: 5, LifetimeCommentValue: 0.1}
	stats = RollStats("alice", contribs, prev, testNow, 30*day)
	assert.Equal(t, 5.0, stats.LifetimePostValue)
	assert.InDelta(t, 0.3, stats.LifetimeCommentValue, 1e-9)
}

func TestAppendHistory_Cap(t *testing.T) {
	var h []model.HistoryEntry
	for i := 1; i <= 5; i++ {
		h = AppendHistory(h, model.HistoryEntry{Score: float64(i)}, 3)
	}
	require.Len(t, h, 3)
	assert.Equal(t, 3.0, h[0].Score)
	assert.Equal(t, 5.0, h[2].Score)
}

func newTestAggregator(t *testing.T, historyCap int) (*Aggregator, *store.SQLite) {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	s.Now = func() time.Time { return testNow }

	a := NewAggregator(s, model.ReputationConfig{HistoryCap: historyCap, Window: 30 * day}, zerolog.Nop())
	a.Now = func() time.Time { return testNow }
	return a, s
}

func halfValue(itemID string) *model.ValueScore {
	return &model.ValueScore{
		ItemID:     itemID,
		Dimensions: model.Dimensions{Epistemic: 0.5, Insight: 0.5, Practical: 0.5, Relational: 0.5, Effort: 0.5},
		Total:      4,
	}
}

func TestAggregator_UpdateCleanItem(t *testing.T) {
	a, s := newTestAggregator(t, 20)
	ctx := context.Background()
	item := model.ContentItem{ID: "p1", AuthorID: "alice", CreatedAt: testNow.Add(-time.Hour)}
	clean := model.PolicyDecision{Status: model.PolicyClean}

	ks, err := a.Update(ctx, item, clean, nil, halfValue("p1"), nil)
	require.NoError(t, err)

	// quality 0.5, engagement 0.5, consistency 4/5, trust 1
	assert.InDelta(t, 70.5, ks.Score, 1e-9)
	assert.Equal(t, 50.0, ks.Components.Quality)
	assert.Equal(t, 80.0, ks.Components.Consistency)
	require.Len(t, ks.History, 1)
	assert.InDelta(t, ks.Score, ks.History[0].Delta, 0.01)

	stats, err := s.GetValueStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4.0, stats.PostValue30d)
	assert.Equal(t, 4.0, stats.LifetimePostValue)

	// Replaying the same run changes nothing and adds no history
	ks, err = a.Update(ctx, item, clean, nil, halfValue("p1"), nil)
	require.NoError(t, err)
	assert.InDelta(t, 70.5, ks.Score, 1e-9)
	assert.Len(t, ks.History, 1)

	stats, err = s.GetValueStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4.0, stats.LifetimePostValue)
}

func TestAggregator_ViolationLifecycle(t *testing.T) {
	a, s := newTestAggregator(t, 20)
	ctx := context.Background()
	item := model.ContentItem{ID: "p1", AuthorID: "bob"}
	checks := []model.FactCheck{{ClaimID: "c1", Verdict: model.VerdictFalse, Confidence: 0.9}}

	blocked := model.PolicyDecision{Status: model.PolicyBlocked, EscalateToHuman: true}
	ks, err := a.Update(ctx, item, blocked, checks, halfValue("p1"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, ks.Components.Trust)
	assert.Equal(t, 100.0, ks.Components.Violations)

	vs, err := s.ListViolations(ctx, "bob", time.Time{})
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, 1, vs[0].ConfidentFalseCount)
	blockedScore := ks.Score

	// A degraded decision leaves the strike in place
	degraded := model.PolicyDecision{Status: model.PolicyNeedsReview, Degraded: true}
	_, err = a.Update(ctx, item, degraded, nil, halfValue("p1"), nil)
	require.NoError(t, err)
	vs, err = s.ListViolations(ctx, "bob", time.Time{})
	require.NoError(t, err)
	assert.Len(t, vs, 1)

	// A clean re-run clears it
	ks, err = a.Update(ctx, item, model.PolicyDecision{Status: model.PolicyClean}, nil, halfValue("p1"), nil)
	require.NoError(t, err)
	vs, err = s.ListViolations(ctx, "bob", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, vs)
	assert.Greater(t, ks.Score, blockedScore)
	assert.Len(t, ks.History, 2)
}

func TestAggregator_DegradedIsNotViolation(t *testing.T) {
	a, s := newTestAggregator(t, 20)
	ctx := context.Background()

	degraded := model.PolicyDecision{Status: model.PolicyNeedsReview, Degraded: true, EscalateToHuman: true}
	ks, err := a.Update(ctx, model.ContentItem{ID: "p1", AuthorID: "carol"}, degraded, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, ks.Components.Trust)
	assert.Equal(t, 0.0, ks.Components.Violations)

	vs, err := s.ListViolations(ctx, "carol", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func TestAggregator_RepostAddsNoContribution(t *testing.T) {
	a, s := newTestAggregator(t, 20)
	ctx := context.Background()

	repost := model.ContentItem{ID: "r1", AuthorID: "dave", OriginalID: "p1"}
	_, err := a.Update(ctx, repost, model.PolicyDecision{Status: model.PolicyClean}, nil, halfValue("r1"), nil)
	require.NoError(t, err)

	contribs, err := s.ListContributions(ctx, "dave", time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, contribs)
}

func TestAggregator_HistoryCap(t *testing.T) {
	a, _ := newTestAggregator(t, 3)
	ctx := context.Background()
	clean := model.PolicyDecision{Status: model.PolicyClean}

	var last *model.KurralScore
	for i, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
		item := model.ContentItem{ID: id, AuthorID: "erin", CreatedAt: testNow.Add(-time.Duration(i+1) * time.Hour)}
		v := halfValue(id)
		v.Total = 0.5
		ks, err := a.Update(ctx, item, clean, nil, v, nil)
		require.NoError(t, err)
		last = ks
	}
	require.Len(t, last.History, 3)
	assert.Equal(t, last.Score, last.History[2].Score)
}

func TestAggregator_RecomputeAppliesDecay(t *testing.T) {
	a, s := newTestAggregator(t, 20)
	ctx := context.Background()

	require.NoError(t, s.UpsertViolation(ctx, model.Violation{
		UserID: "frank", ItemID: "p1", Status: model.PolicyBlocked, CreatedAt: testNow.Add(-day),
	}))
	fresh, err := a.Recompute(ctx, "frank", "initial")
	require.NoError(t, err)

	a.Now = func() time.Time { return testNow.Add(45 * day) }
	aged, err := a.Recompute(ctx, "frank", "scheduled recompute")
	require.NoError(t, err)
	assert.Greater(t, aged.Score, fresh.Score)
	assert.Equal(t, 50.0, aged.Components.Violations)
	assert.Equal(t, 100.0, aged.Components.Trust)

	a.Now = func() time.Time { return testNow.Add(400 * day) }
	gone, err := a.Recompute(ctx, "frank", "scheduled recompute")
	require.NoError(t, err)
	assert.Equal(t, 0.0, gone.Components.Violations)
	require.Len(t, gone.History, 3)
	assert.Equal(t, "scheduled recompute", gone.History[2].Reason)
}

func TestAggregator_StoredComponentsReproduceScore(t *testing.T) {
	a, _ := newTestAggregator(t, 20)
	ctx := context.Background()
	item := model.ContentItem{ID: "p1", AuthorID: "alice", CreatedAt: testNow.Add(-time.Hour)}
	vs := &model.ValueScore{
		ItemID:     "p1",
		Dimensions: model.Dimensions{Epistemic: 0.731, Insight: 0.417, Practical: 0.377, Relational: 0.213, Effort: 0.903},
		Total:      1.337,
	}
	dq := &model.DiscussionQuality{Informativeness: 0.333, Civility: 0.917, ReasoningDepth: 0.611, CrossPerspective: 0.473}

	ks, err := a.Update(ctx, item, model.PolicyDecision{Status: model.PolicyClean}, nil, vs, dq)
	require.NoError(t, err)
	assert.InDelta(t, ks.Score, Score(FromModel(ks.Components)), 1e-9)
}

func TestAggregator_RescoredItemSupersedesContribution(t *testing.T) {
	a, s := newTestAggregator(t, 20)
	ctx := context.Background()
	item := model.ContentItem{ID: "p1", AuthorID: "alice", CreatedAt: testNow.Add(-time.Hour)}
	clean := model.PolicyDecision{Status: model.PolicyClean}

	_, err := a.Update(ctx, item, clean, nil, halfValue("p1"), nil)
	require.NoError(t, err)

	rescored := halfValue("p1")
	rescored.Total = 2
	dq := &model.DiscussionQuality{Informativeness: 0.8, Civility: 0.9, ReasoningDepth: 0.6, CrossPerspective: 0.5, CommentCount: 2}
	ks, err := a.Update(ctx, item, clean, nil, rescored, dq)
	require.NoError(t, err)
	assert.InDelta(t, 70.0, ks.Components.Engagement, 1e-9)

	stats, err := s.GetValueStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2.0, stats.PostValue30d)
	// Lifetime keeps its high-water mark
	assert.Equal(t, 4.0, stats.LifetimePostValue)

	contribs, err := s.ListContributions(ctx, "alice", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.Equal(t, 2.0, contribs[0].Value)
}
