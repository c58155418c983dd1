package model

// PolicyDecision is the deterministic visibility/review status derived from claims and verdicts
type PolicyDecision struct {
	Status          PolicyStatus `json:"status"`
	Reasons         []string     `json:"reasons"`
	EscalateToHuman bool         `json:"escalate_to_human"`
	Degraded        bool         `json:"degraded"` // Status was forced by a stage failure, not by verdicts
}

// PolicyStatus classifies an item for annotation in feeds
type PolicyStatus string

const (
	PolicyClean       PolicyStatus = "clean"
	PolicyNeedsReview PolicyStatus = "needs_review"
	PolicyBlocked     PolicyStatus = "blocked"
)

// Severity orders statuses for merging: blocked > needs_review > clean
func (s PolicyStatus) Severity() int {
	switch s {
	case PolicyBlocked:
		return 2
	case PolicyNeedsReview:
		return 1
	default:
		return 0
	}
}

// Worse returns the more severe of two statuses
func Worse(a, b PolicyStatus) PolicyStatus {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// IsViolation reports whether the decision should count against the author
func (d PolicyDecision) IsViolation() bool {
	return !d.Degraded && d.Status != PolicyClean
}
