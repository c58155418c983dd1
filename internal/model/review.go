package model

import "time"

// ReviewTicket is an escalation handed to external human review
type ReviewTicket struct {
	ItemID    string       `json:"item_id"`
	AuthorID  string       `json:"author_id"`
	Status    PolicyStatus `json:"status"`
	Reasons   []string     `json:"reasons"`
	CreatedAt time.Time    `json:"created_at"`
}
