package model

import "time"

// Evidence represents a source gathered while checking a claim
type Evidence struct {
	URL       string        `json:"url"`                 // Full URL
	Host      string        `json:"host,omitempty"`      // Domain name
	Title     string        `json:"title,omitempty"`     // Result title
	Snippet   string        `json:"snippet"`             // Text excerpt used for the verdict
	Quality   float64       `json:"quality"`             // Source quality [0,1]
	Authority AuthorityTier `json:"authority,omitempty"` // Source authority classification
	FetchedAt time.Time     `json:"fetched_at"`
}

// AuthorityTier represents the classification of source authority
type AuthorityTier int

const (
	TierUnknown   AuthorityTier = 0 // Not yet classified
	TierPrimary   AuthorityTier = 1 // Official bodies, journals, statistics agencies
	TierSecondary AuthorityTier = 2 // Encyclopedias, major publishers, reputable media
	TierTertiary  AuthorityTier = 3 // Blogs, personal websites, forums
)

func (t AuthorityTier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierSecondary:
		return "secondary"
	case TierTertiary:
		return "tertiary"
	default:
		return "unknown"
	}
}

// ValidationResult contains the result of probing an evidence URL
type ValidationResult struct {
	URL          string        `json:"url"`
	IsAccessible bool          `json:"is_accessible"`
	StatusCode   int           `json:"status_code,omitempty"`
	LastModified *time.Time    `json:"last_modified,omitempty"`
	IsDead       bool          `json:"is_dead"`                // 404, 410, or unreachable
	Skipped      bool          `json:"skipped,omitempty"`      // Disallowed by robots.txt
	RedirectURL  string        `json:"redirect_url,omitempty"` // If redirected
	Authority    AuthorityTier `json:"authority"`
	Error        string        `json:"error,omitempty"`
}
