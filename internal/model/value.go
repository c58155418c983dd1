package model

import "time"

// Dimensions is the five-dimension value vector; every field is in [0,1]
type Dimensions struct {
	Epistemic  float64 `json:"epistemic"`
	Insight    float64 `json:"insight"`
	Practical  float64 `json:"practical"`
	Relational float64 `json:"relational"`
	Effort     float64 `json:"effort"`
}

// ValueScore is the value rating of a single content item
type ValueScore struct {
	ItemID      string     `json:"item_id"`
	Dimensions  Dimensions `json:"dimensions"`
	Weights     Dimensions `json:"weights"` // Domain weights used for Total
	Domain      Domain     `json:"domain,omitempty"`
	Total       float64    `json:"total"`
	Confidence  float64    `json:"confidence"`
	Drivers     []string   `json:"drivers,omitempty"`
	ScoredAt    time.Time  `json:"scored_at"`
	InheritedID string     `json:"inherited_id,omitempty"`
}

// Quality is the per-item quality used by the reputation aggregate
func (v ValueScore) Quality() float64 {
	d := v.Dimensions
	return d.Epistemic*0.3 + d.Insight*0.2 + d.Practical*0.2 + d.Relational*0.2 + d.Effort*0.1
}

// DiscussionQuality summarizes a comment thread
type DiscussionQuality struct {
	Informativeness  float64 `json:"informativeness"`
	Civility         float64 `json:"civility"`
	ReasoningDepth   float64 `json:"reasoning_depth"`
	CrossPerspective float64 `json:"cross_perspective"`
	Summary          string  `json:"summary"`
	CommentCount     int     `json:"comment_count"`
}

// Engagement is the mean of the four thread metrics
func (d DiscussionQuality) Engagement() float64 {
	return (d.Informativeness + d.ReasoningDepth + d.CrossPerspective + d.Civility) / 4
}

// ValueStats are the per-user value aggregates
type ValueStats struct {
	UserID               string    `json:"user_id"`
	PostValue30d         float64   `json:"post_value_30d"`
	CommentValue30d      float64   `json:"comment_value_30d"`
	LifetimePostValue    float64   `json:"lifetime_post_value"`
	LifetimeCommentValue float64   `json:"lifetime_comment_value"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Total30d is the combined rolling-window value
func (s ValueStats) Total30d() float64 {
	return s.PostValue30d + s.CommentValue30d
}

// ValueContribution is an append-only ledger entry
type ValueContribution struct {
	UserID     string             `json:"user_id"`
	ItemID     string             `json:"item_id"`
	Kind       ContributionKind   `json:"kind"`
	Value      float64            `json:"value"`   // ValueScore.Total
	Quality    float64            `json:"quality"` // ValueScore.Quality()
	Discussion *DiscussionQuality `json:"discussion,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}
