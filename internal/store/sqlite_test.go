package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/kurral/internal/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*SQLite, *fakeClock) {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.Now = clock.Now
	return s, clock
}

func createItem(t *testing.T, s *SQLite, item *model.ContentItem) *model.ContentItem {
	t.Helper()
	if item.AuthorID == "" {
		item.AuthorID = "alice"
	}
	require.NoError(t, s.CreateItem(context.Background(), item))
	return item
}

func TestCreateItem_EnqueuesJob(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	item := createItem(t, s, &model.ContentItem{Text: "hello", Topics: []string{"science"}})
	require.NotEmpty(t, item.ID)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, []string{"science"}, got.Topics)
	assert.Equal(t, "hello", got.Text)

	jobs, err := s.LeaseJobs(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, item.ID, jobs[0].ItemID)
}

func TestCreateItem_RequiresAuthor(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.CreateItem(context.Background(), &model.ContentItem{Text: "x"})
	assert.Error(t, err)
}

func TestGetItem_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetItem(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimItem_Exclusive(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	item := createItem(t, s, &model.ContentItem{Text: "x"})

	claimed, err := s.ClaimItem(ctx, item.ID, "run-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, claimed.Status)

	_, err = s.ClaimItem(ctx, item.ID, "run-2", time.Minute)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	// Same run re-claims
	_, err = s.ClaimItem(ctx, item.ID, "run-1", time.Minute)
	assert.NoError(t, err)

	// Expired lease can be taken over
	clock.Advance(2 * time.Minute)
	_, err = s.ClaimItem(ctx, item.ID, "run-2", time.Minute)
	assert.NoError(t, err)

	// The old run can no longer release
	assert.ErrorIs(t, s.ReleaseItem(ctx, item.ID, "run-1", model.StatusCompleted), ErrNotFound)
	require.NoError(t, s.ReleaseItem(ctx, item.ID, "run-2", model.StatusCompleted))

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
}

func TestClaimItem_DeletedItem(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	item := createItem(t, s, &model.ContentItem{Text: "x"})
	require.NoError(t, s.DeleteItem(ctx, item.ID))

	_, err := s.ClaimItem(ctx, item.ID, "run-1", time.Minute)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleted items stay readable for audit
	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	assert.ErrorIs(t, s.DeleteItem(ctx, item.ID), ErrNotFound)
}

func TestMergeCheckpoint_MergesFields(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	item := createItem(t, s, &model.ContentItem{Text: "x"})

	_, err := s.ClaimItem(ctx, item.ID, "run-1", time.Minute)
	require.NoError(t, err)

	at := clock.Now()
	require.NoError(t, s.MergeCheckpoint(ctx, item.ID, model.Checkpoint{
		RunID: "run-1",
		Stages: map[model.StageName]model.StageRecord{
			model.StagePreCheck: {State: model.StageOK, UpdatedAt: at},
		},
		PreCheck: &model.PreCheck{NeedsFactCheck: true, Confidence: 0.9, ContentType: model.ContentFactual},
	}))
	require.NoError(t, s.MergeCheckpoint(ctx, item.ID, model.Checkpoint{
		Stages: map[model.StageName]model.StageRecord{
			model.StageClaims: {State: model.StageFailed, Reason: "oracle down", UpdatedAt: at},
		},
	}))
	// A later success clears the earlier failure reason
	require.NoError(t, s.MergeCheckpoint(ctx, item.ID, model.Checkpoint{
		Stages: map[model.StageName]model.StageRecord{
			model.StageClaims: {State: model.StageOK, UpdatedAt: at},
		},
	}))

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	cp := got.Checkpoint
	assert.Equal(t, "run-1", cp.RunID)
	assert.True(t, cp.StageDone(model.StagePreCheck))
	assert.True(t, cp.StageDone(model.StageClaims))
	rec, _ := cp.Stage(model.StageClaims)
	assert.Empty(t, rec.Reason)
	require.NotNil(t, cp.PreCheck)
	assert.Equal(t, 0.9, cp.PreCheck.Confidence)

	require.NoError(t, s.ResetItem(ctx, item.ID, true))
	got, err = s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, got.Checkpoint.StageDone(model.StagePreCheck))
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestMergeCheckpoint_DeletedItem(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	item := createItem(t, s, &model.ContentItem{Text: "x"})
	require.NoError(t, s.DeleteItem(ctx, item.ID))

	err := s.MergeCheckpoint(ctx, item.ID, model.Checkpoint{RunID: "r"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.ReplaceClaims(ctx, item.ID, []model.Claim{{ID: "c1", Text: "t"}})
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.PutValueScore(ctx, model.ValueScore{ItemID: item.ID})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMergeCheckpoint_RejectsStaleRun(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	item := createItem(t, s, &model.ContentItem{Text: "x"})

	_, err := s.ClaimItem(ctx, item.ID, "run-1", time.Minute)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = s.ClaimItem(ctx, item.ID, "run-2", time.Minute)
	require.NoError(t, err)

	stage := map[model.StageName]model.StageRecord{
		model.StageClaims: {State: model.StageOK, UpdatedAt: clock.Now()},
	}
	err = s.MergeCheckpoint(ctx, item.ID, model.Checkpoint{RunID: "run-1", Stages: stage})
	assert.ErrorIs(t, err, ErrClaimLost)

	// The expired run cannot renew either
	_, err = s.ClaimItem(ctx, item.ID, "run-1", time.Minute)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	require.NoError(t, s.MergeCheckpoint(ctx, item.ID, model.Checkpoint{RunID: "run-2", Stages: stage}))
	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.Checkpoint.RunID)
}

func TestCreateItem_CommentReopensParentDiscussion(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	post := createItem(t, s, &model.ContentItem{Text: "post"})

	// Drain the post's own job and record a finished run without comments
	jobs, err := s.LeaseJobs(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, s.CompleteJob(ctx, jobs[0].ID))
	require.NoError(t, s.MergeCheckpoint(ctx, post.ID, model.Checkpoint{
		Stages: map[model.StageName]model.StageRecord{
			model.StageClaims:     {State: model.StageOK, UpdatedAt: clock.Now()},
			model.StageDiscussion: {State: model.StageSkipped, Reason: "no comments", UpdatedAt: clock.Now()},
			model.StageValue:      {State: model.StageOK, UpdatedAt: clock.Now()},
		},
	}))

	createItem(t, s, &model.ContentItem{AuthorID: "bob", ParentID: post.ID, Text: "reply"})

	got, err := s.GetItem(ctx, post.ID)
	require.NoError(t, err)
	assert.False(t, got.Checkpoint.StageDone(model.StageDiscussion))
	assert.True(t, got.Checkpoint.StageDone(model.StageClaims))
	assert.True(t, got.Checkpoint.StageDone(model.StageValue))

	jobs, err = s.LeaseJobs(ctx, 10, time.Minute)
	require.NoError(t, err)
	var items []string
	for _, j := range jobs {
		items = append(items, j.ItemID)
	}
	assert.Contains(t, items, post.ID)
	assert.Len(t, jobs, 2)
}

func TestCreateItem_CommentOnRepostLeavesParent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	post := createItem(t, s, &model.ContentItem{Text: "post"})
	repost := createItem(t, s, &model.ContentItem{AuthorID: "bob", OriginalID: post.ID})

	jobs, err := s.LeaseJobs(ctx, 10, time.Minute)
	require.NoError(t, err)
	for _, j := range jobs {
		require.NoError(t, s.CompleteJob(ctx, j.ID))
	}

	createItem(t, s, &model.ContentItem{AuthorID: "carol", ParentID: repost.ID, Text: "reply"})

	jobs, err = s.LeaseJobs(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.NotEqual(t, repost.ID, jobs[0].ItemID)
}

func TestClaimsAndFactChecks_Replace(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	item := createItem(t, s, &model.ContentItem{Text: "x"})

	require.NoError(t, s.ReplaceClaims(ctx, item.ID, []model.Claim{
		{ID: "c1", Text: "first"}, {ID: "c2", Text: "second"},
	}))
	require.NoError(t, s.ReplaceClaims(ctx, item.ID, []model.Claim{
		{ID: "c3", Text: "third"}, {ID: "c4", Text: "fourth"},
	}))

	claims, err := s.GetClaims(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, "c3", claims[0].ID)
	assert.Equal(t, 1, claims[1].Position)
	assert.Equal(t, item.ID, claims[1].ItemID)

	require.NoError(t, s.ReplaceFactChecks(ctx, item.ID, []model.FactCheck{
		{ID: "f4", ClaimID: "c4", Verdict: model.VerdictTrue},
		{ID: "f3", ClaimID: "c3", Verdict: model.VerdictFalse},
	}))
	checks, err := s.GetFactChecks(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, checks, 2)
	assert.Equal(t, "c3", checks[0].ClaimID)

	empty, err := s.GetClaims(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestValueScore_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	item := createItem(t, s, &model.ContentItem{Text: "x"})

	_, err := s.GetValueScore(ctx, item.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutValueScore(ctx, model.ValueScore{ItemID: item.ID, Total: 0.4}))
	require.NoError(t, s.PutValueScore(ctx, model.ValueScore{ItemID: item.ID, Total: 0.7}))

	got, err := s.GetValueScore(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.7, got.Total)
}

func TestAppendContribution_Supersedes(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	created := clock.Now()
	c := model.ValueContribution{
		UserID: "alice", ItemID: "i1", Kind: model.KindPost, Value: 0.6, Quality: 0.5,
		CreatedAt: created,
	}
	inserted, err := s.AppendContribution(ctx, c)
	require.NoError(t, err)
	assert.True(t, inserted)

	// A re-scored item replaces its value but keeps its place in the window
	clock.Advance(48 * time.Hour)
	c.Value = 0.9
	c.Quality = 0.7
	c.Discussion = &model.DiscussionQuality{Civility: 0.8, CommentCount: 2}
	c.CreatedAt = clock.Now()
	inserted, err = s.AppendContribution(ctx, c)
	require.NoError(t, err)
	assert.False(t, inserted)

	list, err := s.ListContributions(ctx, "alice", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 0.9, list[0].Value)
	assert.Equal(t, 0.7, list[0].Quality)
	assert.True(t, list[0].CreatedAt.Equal(created))
	require.NotNil(t, list[0].Discussion)
	assert.Equal(t, 0.8, list[0].Discussion.Civility)
}

func TestListContributions_WindowAndLimit(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	now := clock.Now()

	for i, age := range []time.Duration{0, 24 * time.Hour, 40 * 24 * time.Hour} {
		_, err := s.AppendContribution(ctx, model.ValueContribution{
			UserID: "bob", ItemID: string(rune('a' + i)), Kind: model.KindComment,
			CreatedAt: now.Add(-age),
		})
		require.NoError(t, err)
	}

	window, err := s.ListContributions(ctx, "bob", now.Add(-30*24*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, window, 2)
	assert.Equal(t, "a", window[0].ItemID)

	last, err := s.ListContributions(ctx, "bob", time.Time{}, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "a", last[0].ItemID)
}

func TestViolations_UpsertKeepsDate(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	first := clock.Now()

	require.NoError(t, s.UpsertViolation(ctx, model.Violation{
		UserID: "alice", ItemID: "i1", Status: model.PolicyNeedsReview, CreatedAt: first,
	}))
	require.NoError(t, s.UpsertViolation(ctx, model.Violation{
		UserID: "alice", ItemID: "i1", Status: model.PolicyBlocked, ConfidentFalseCount: 2,
		CreatedAt: first.Add(time.Hour),
	}))

	list, err := s.ListViolations(ctx, "alice", time.Time{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.PolicyBlocked, list[0].Status)
	assert.Equal(t, 2, list[0].ConfidentFalseCount)
	assert.True(t, first.Equal(list[0].CreatedAt))

	users, err := s.ListActiveUsers(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	require.NoError(t, s.DeleteViolation(ctx, "i1"))
	list, err = s.ListViolations(ctx, "alice", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestKurralScore_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetKurralScore(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutKurralScore(ctx, model.KurralScore{
		UserID: "alice", Score: 72.5,
		History: []model.HistoryEntry{{Score: 72.5, Delta: 2.5, Reason: "item i1"}},
	}))
	got, err := s.GetKurralScore(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 72.5, got.Score)
	assert.Len(t, got.History, 1)

	require.NoError(t, s.PutValueStats(ctx, model.ValueStats{UserID: "alice", PostValue30d: 1.5}))
	stats, err := s.GetValueStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1.5, stats.Total30d())
}

func TestJobs_OnePendingPerItem(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	item := createItem(t, s, &model.ContentItem{Text: "x"})

	first, err := s.EnqueueJob(ctx, item.ID)
	require.NoError(t, err)
	second, err := s.EnqueueJob(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = s.EnqueueJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobs_FailBackoffAndDie(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	item := createItem(t, s, &model.ContentItem{Text: "x"})

	jobs, err := s.LeaseJobs(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	id := jobs[0].ID

	// Leased jobs are not handed out twice
	again, err := s.LeaseJobs(ctx, 1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	dead, err := s.FailJob(ctx, id, errors.New("boom"), 2)
	require.NoError(t, err)
	assert.False(t, dead)

	// Not ready until the backoff elapses
	jobs, err = s.LeaseJobs(ctx, 1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	clock.Advance(JobBackoff(1))
	jobs, err = s.LeaseJobs(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Attempts)
	assert.Equal(t, "boom", jobs[0].LastError)

	dead, err = s.FailJob(ctx, id, errors.New("boom"), 2)
	require.NoError(t, err)
	assert.True(t, dead)

	clock.Advance(time.Hour)
	jobs, err = s.LeaseJobs(ctx, 1, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	// A fresh enqueue is allowed once the old job is dead
	_, err = s.EnqueueJob(ctx, item.ID)
	assert.NoError(t, err)
}

func TestJobs_DeferDoesNotCountAttempt(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	createItem(t, s, &model.ContentItem{Text: "x"})

	jobs, err := s.LeaseJobs(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, s.DeferJob(ctx, jobs[0].ID, 10*time.Second))
	clock.Advance(10 * time.Second)

	jobs, err = s.LeaseJobs(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 0, jobs[0].Attempts)
	require.NoError(t, s.CompleteJob(ctx, jobs[0].ID))
}

func TestJobs_DeferSupersededByPending(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	item := createItem(t, s, &model.ContentItem{Text: "x"})

	jobs, err := s.LeaseJobs(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	// A reprocess request queued while the first job is leased
	pending, err := s.EnqueueJob(ctx, item.ID)
	require.NoError(t, err)
	require.NotEqual(t, jobs[0].ID, pending)

	require.NoError(t, s.DeferJob(ctx, jobs[0].ID, 0))

	next, err := s.LeaseJobs(ctx, 5, time.Minute)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, pending, next[0].ID)
}

func TestJobs_ExpiredLeaseIsReleased(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	createItem(t, s, &model.ContentItem{Text: "x"})

	jobs, err := s.LeaseJobs(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	clock.Advance(2 * time.Minute)
	again, err := s.LeaseJobs(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, jobs[0].ID, again[0].ID)
}

func TestRequeueStale(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	item := createItem(t, s, &model.ContentItem{Text: "x"})

	jobs, err := s.LeaseJobs(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, jobs[0].ID))

	_, err = s.ClaimItem(ctx, item.ID, "crashed-run", time.Minute)
	require.NoError(t, err)

	n, err := s.RequeueStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "lease still valid")

	clock.Advance(5 * time.Minute)
	n, err = s.RequeueStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.RequeueStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already queued")
}

func TestReviews_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ticket := model.ReviewTicket{ItemID: "i1", AuthorID: "alice", Status: model.PolicyBlocked, Reasons: []string{"confident false claim"}}
	require.NoError(t, s.EnqueueReview(ctx, ticket))
	require.NoError(t, s.EnqueueReview(ctx, ticket))

	list, err := s.ListReviews(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"confident false claim"}, list[0].Reasons)
}

func TestJobBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, JobBackoff(1))
	assert.Equal(t, 8*time.Second, JobBackoff(3))
	assert.Equal(t, maxJobBackoff, JobBackoff(20))
}
