package model

// Report is the read-only view of an item's pipeline outputs served to the feed layer
// Policy is always recomputed from the stored claims and fact-checks, never read back
type Report struct {
	ItemID        string                    `json:"item_id"`
	AuthorID      string                    `json:"author_id"`
	Status        ItemStatus                `json:"status"`
	Stages        map[StageName]StageRecord `json:"stages"`
	PreCheck      *PreCheck                 `json:"precheck,omitempty"`
	Claims        []Claim                   `json:"claims"`
	FactChecks    []FactCheck               `json:"fact_checks"`
	Policy        PolicyDecision            `json:"policy"`
	Value         *ValueScore               `json:"value,omitempty"`
	Discussion    *DiscussionQuality        `json:"discussion,omitempty"`
	InheritedFrom string                    `json:"inherited_from,omitempty"`
}

// FailedStages lists stages whose last recorded outcome was a failure
func (r Report) FailedStages() []StageName {
	var failed []StageName
	for _, name := range Stages {
		if rec, ok := r.Stages[name]; ok && rec.State == StageFailed {
			failed = append(failed, name)
		}
	}
	return failed
}
