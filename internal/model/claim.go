package model

// Claim represents an explicit, independently verifiable statement extracted from a content item
type Claim struct {
	ID           string    `json:"id"`
	ItemID       string    `json:"item_id"`                  // Item whose pipeline owns the claim
	SourceItemID string    `json:"source_item_id"`           // Item whose text the claim was taken from (differs for quote-reposts)
	Text         string    `json:"text"`                     // The claim text itself
	Type         ClaimType `json:"type"`                     // factual, causal, evaluative, predictive
	Domain       Domain    `json:"domain"`                   // Topical domain (health, politics, ...)
	RiskLevel    RiskLevel `json:"risk_level"`               // low, medium, high
	Confidence   float64   `json:"confidence"`               // Extraction confidence [0,1]
	Position     int       `json:"position"`                 // Order within the merged extraction list
	InheritedID  string    `json:"inherited_id,omitempty"`   // Original claim id when copied from a reposted item
}

// ClaimType categorizes the nature of the claim
type ClaimType string

const (
	ClaimTypeFactual    ClaimType = "factual"    // Checkable statement of fact
	ClaimTypeCausal     ClaimType = "causal"     // X causes / reduces / increases Y
	ClaimTypeEvaluative ClaimType = "evaluative" // Judgement presented as fact
	ClaimTypePredictive ClaimType = "predictive" // Statement about the future
)

// Valid reports whether t is a known claim type
func (t ClaimType) Valid() bool {
	switch t {
	case ClaimTypeFactual, ClaimTypeCausal, ClaimTypeEvaluative, ClaimTypePredictive:
		return true
	}
	return false
}

// Domain is the topical area a claim or item belongs to
type Domain string

const (
	DomainHealth       Domain = "health"
	DomainPolitics     Domain = "politics"
	DomainFinance      Domain = "finance"
	DomainTechnology   Domain = "technology"
	DomainStartups     Domain = "startups"
	DomainProductivity Domain = "productivity"
	DomainDesign       Domain = "design"
	DomainScience      Domain = "science"
	DomainSports       Domain = "sports"
	DomainEntertain    Domain = "entertainment"
	DomainGeneral      Domain = "general"
)

var knownDomains = map[Domain]bool{
	DomainHealth: true, DomainPolitics: true, DomainFinance: true,
	DomainTechnology: true, DomainStartups: true, DomainProductivity: true,
	DomainDesign: true, DomainScience: true, DomainSports: true,
	DomainEntertain: true, DomainGeneral: true,
}

// Valid reports whether d is a known domain
func (d Domain) Valid() bool {
	return knownDomains[d]
}

// IsHighRisk reports whether claims in this domain are always treated as high risk
func (d Domain) IsHighRisk() bool {
	return d == DomainHealth || d == DomainFinance || d == DomainPolitics
}

// RiskLevel is the harm potential of a claim being wrong
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether r is a known risk level
func (r RiskLevel) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// IsHighRisk reports whether the claim must be handled under the high-risk policy rules
func (c Claim) IsHighRisk() bool {
	return c.Domain.IsHighRisk() || c.RiskLevel == RiskHigh
}
