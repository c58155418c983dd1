package model

import "time"

// StageName identifies a pipeline stage
type StageName string

const (
	StagePreCheck   StageName = "precheck"
	StageClaims     StageName = "claims"
	StageFactCheck  StageName = "factcheck"
	StagePolicy     StageName = "policy"
	StageDiscussion StageName = "discussion"
	StageValue      StageName = "value"
	StageReputation StageName = "reputation"
)

// Stages lists every stage in execution order
var Stages = []StageName{
	StagePreCheck, StageClaims, StageFactCheck, StagePolicy,
	StageDiscussion, StageValue, StageReputation,
}

// StageState is the tag of a stage outcome
type StageState string

const (
	StageOK      StageState = "ok"
	StageSkipped StageState = "skipped"
	StageFailed  StageState = "failed"
)

// Done reports whether the stage needs no further work on resume
func (s StageState) Done() bool {
	return s == StageOK || s == StageSkipped
}

// StageResult is the tagged outcome of running a stage: ok(value), skipped(reason) or failed(reason)
type StageResult[T any] struct {
	State  StageState
	Value  T
	Reason string
	Err    error
}

// OK wraps a successful stage value
func OK[T any](v T) StageResult[T] {
	return StageResult[T]{State: StageOK, Value: v}
}

// Skipped records a stage that legitimately had nothing to do
func Skipped[T any](reason string) StageResult[T] {
	return StageResult[T]{State: StageSkipped, Reason: reason}
}

// Failed records a stage that could not produce a result
func Failed[T any](err error) StageResult[T] {
	r := StageResult[T]{State: StageFailed, Err: err}
	if err != nil {
		r.Reason = err.Error()
	}
	return r
}

// Record converts the result into its checkpoint form
func (r StageResult[T]) Record(at time.Time) StageRecord {
	return StageRecord{State: r.State, Reason: r.Reason, UpdatedAt: at}
}

// StageRecord is the checkpointed state of a stage
type StageRecord struct {
	State     StageState `json:"state"`
	Reason    string     `json:"reason"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Checkpoint is the pipeline progress persisted on the item record; fields merge independently
type Checkpoint struct {
	RunID         string                    `json:"run_id,omitempty"`
	Stages        map[StageName]StageRecord `json:"stages,omitempty"`
	PreCheck      *PreCheck                 `json:"precheck,omitempty"`
	Discussion    *DiscussionQuality        `json:"discussion,omitempty"`
	Policy        *PolicyDecision           `json:"policy,omitempty"`
	InheritedFrom string                    `json:"inherited_from,omitempty"`
	CompletedAt   *time.Time                `json:"completed_at,omitempty"`
}

// Stage returns the checkpointed record for a stage, if any
func (c Checkpoint) Stage(name StageName) (StageRecord, bool) {
	rec, ok := c.Stages[name]
	return rec, ok
}

// StageDone reports whether a stage finished ok or skipped in an earlier run
func (c Checkpoint) StageDone(name StageName) bool {
	rec, ok := c.Stages[name]
	return ok && rec.State.Done()
}

// ContentType is the PreCheckGate classification of an item
type ContentType string

const (
	ContentOpinion    ContentType = "opinion"
	ContentExperience ContentType = "experience"
	ContentQuestion   ContentType = "question"
	ContentHumor      ContentType = "humor"
	ContentFactual    ContentType = "factual"
	ContentNews       ContentType = "news"
)

// Valid reports whether t is a known content type
func (t ContentType) Valid() bool {
	switch t {
	case ContentOpinion, ContentExperience, ContentQuestion, ContentHumor, ContentFactual, ContentNews:
		return true
	}
	return false
}

// NeedsFactCheck reports whether items of this type carry checkable claims
func (t ContentType) NeedsFactCheck() bool {
	return t == ContentFactual || t == ContentNews
}

// PreCheck is the PreCheckGate output
type PreCheck struct {
	NeedsFactCheck bool        `json:"needs_fact_check"`
	Confidence     float64     `json:"confidence"`
	ContentType    ContentType `json:"content_type"`
	Reasoning      string      `json:"reasoning"`
}
