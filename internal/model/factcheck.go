package model

import "time"

// FactCheck is the verdict for a single claim
type FactCheck struct {
	ID          string     `json:"id"`
	ClaimID     string     `json:"claim_id"`
	ItemID      string     `json:"item_id"`
	Verdict     Verdict    `json:"verdict"`
	Confidence  float64    `json:"confidence"` // [0,1]
	Evidence    []Evidence `json:"evidence"`
	Reasoning   string     `json:"reasoning"`
	Caveats     []string   `json:"caveats,omitempty"`
	CheckedAt   time.Time  `json:"checked_at"`
	InheritedID string     `json:"inherited_id,omitempty"`
}

// Verdict is the FactChecker's determination for a claim
type Verdict string

const (
	VerdictTrue         Verdict = "true"
	VerdictFalse        Verdict = "false"
	VerdictMixed        Verdict = "mixed"
	VerdictUnverifiable Verdict = "unverifiable"
)

// Valid reports whether v is a known verdict
func (v Verdict) Valid() bool {
	switch v {
	case VerdictTrue, VerdictFalse, VerdictMixed, VerdictUnverifiable:
		return true
	}
	return false
}

// ConfidentFalseThreshold is the confidence above which a false verdict blocks content
const ConfidentFalseThreshold = 0.7

// IsConfidentFalse reports whether the check is a false verdict above the blocking threshold
func (f FactCheck) IsConfidentFalse() bool {
	return f.Verdict == VerdictFalse && f.Confidence > ConfidentFalseThreshold
}

// CountConfidentFalse counts checks that are confidently false
func CountConfidentFalse(checks []FactCheck) int {
	n := 0
	for _, fc := range checks {
		if fc.IsConfidentFalse() {
			n++
		}
	}
	return n
}
