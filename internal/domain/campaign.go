package domain

import "time"

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// RoutingRules configures how a campaign distributes leads across its
// assigned mailboxes.
type RoutingRules struct {
	Strategy      string `json:"strategy"` // "round_robin", "weighted", "least_loaded"
	MaxPerMailbox int    `json:"max_per_mailbox"`
}

// Campaign is a sending program that assigns leads to mailboxes. The
// Mailbox association is many-to-many and non-owning.
type Campaign struct {
	ID             string         `json:"id" db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	Name           string         `json:"name" db:"name"`
	Status         CampaignStatus `json:"status" db:"status"`
	RoutingRules   RoutingRules   `json:"routing_rules" db:"-"`

	MailboxIDs []string `json:"mailbox_ids" db:"-"`

	SentCount       int `json:"sent_count" db:"sent_count"`
	BounceCount     int `json:"bounce_count" db:"bounce_count"`
	ReplyCount      int `json:"reply_count" db:"reply_count"`
	ComplaintCount  int `json:"complaint_count" db:"complaint_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Capacity returns the ideal and max lead assignment capacity for a
// campaign given its mailbox count.
func (c *Campaign) Capacity() (ideal, max int) {
	n := len(c.MailboxIDs)
	return n * 75, n * 150
}

// IsActive reports whether the campaign may currently receive assignments.
func (c *Campaign) IsActive() bool {
	return c.Status == CampaignActive
}
