package model

import "time"

// ContentItem is a post or comment moving through the value and trust pipeline
type ContentItem struct {
	ID         string     `json:"id"`
	AuthorID   string     `json:"author_id"`
	ParentID   string     `json:"parent_id,omitempty"`   // Set for comments
	Text       string     `json:"text"`
	ImageURL   string     `json:"image_url,omitempty"`
	Topics     []string   `json:"topics,omitempty"`      // Declared topic/domain hints
	OriginalID string     `json:"original_id,omitempty"` // Plain repost of another item
	QuotedID   string     `json:"quoted_id,omitempty"`   // Quote-repost of another item
	Status     ItemStatus `json:"status"`
	Deleted    bool       `json:"deleted,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Checkpoint Checkpoint `json:"checkpoint"`
}

// ItemStatus is the pipeline processing status of an item
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusInProgress ItemStatus = "in_progress"
	StatusCompleted  ItemStatus = "completed"
)

// ContributionKind distinguishes posts from comments in the value ledger
type ContributionKind string

const (
	KindPost    ContributionKind = "post"
	KindComment ContributionKind = "comment"
)

// Kind returns whether the item is a post or a comment
func (c ContentItem) Kind() ContributionKind {
	if c.ParentID != "" {
		return KindComment
	}
	return KindPost
}

// IsRepost reports whether the item is a plain repost carrying no authored text
func (c ContentItem) IsRepost() bool {
	return c.OriginalID != ""
}

// IsQuote reports whether the item quotes another item alongside its own text
func (c ContentItem) IsQuote() bool {
	return c.QuotedID != ""
}

// DeclaredDomain returns the first topic hint as a domain, or "" when none is known
func (c ContentItem) DeclaredDomain() Domain {
	for _, t := range c.Topics {
		if d := Domain(t); d.Valid() {
			return d
		}
	}
	return ""
}
