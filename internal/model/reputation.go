package model

import "time"

// KurralScore is the author-level reputation aggregate
type KurralScore struct {
	UserID     string           `json:"user_id"`
	Score      float64          `json:"score"` // [0,100]
	Components KurralComponents `json:"components"`
	History    []HistoryEntry   `json:"history"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// KurralComponents are the five named components, each in [0,100]
type KurralComponents struct {
	Quality     float64 `json:"quality"`
	Violations  float64 `json:"violations"` // Penalty magnitude: 100 means maximal penalty
	Engagement  float64 `json:"engagement"`
	Consistency float64 `json:"consistency"`
	Trust       float64 `json:"trust"`
}

// HistoryEntry records one score change
type HistoryEntry struct {
	Score  float64   `json:"score"`
	Delta  float64   `json:"delta"`
	Reason string    `json:"reason"`
	Date   time.Time `json:"date"`
}

// Violation is a per-item policy strike against an author
type Violation struct {
	UserID              string       `json:"user_id"`
	ItemID              string       `json:"item_id"`
	Status              PolicyStatus `json:"status"`
	ConfidentFalseCount int          `json:"confident_false_count"`
	CreatedAt           time.Time    `json:"created_at"`
}
