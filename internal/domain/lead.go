package domain

import "time"

// LeadState is the lifecycle of a recipient candidate within an organization.
type LeadState string

const (
	LeadHeld      LeadState = "held"
	LeadActive    LeadState = "active"
	LeadPaused    LeadState = "paused"
	LeadCompleted LeadState = "completed"
)

// Lead is a recipient candidate, scoped to an organization and optionally
// assigned to a campaign.
type Lead struct {
	ID                 string    `json:"id" db:"id"`
	OrganizationID     string    `json:"organization_id" db:"organization_id"`
	Email              string    `json:"email" db:"email"`
	Persona            string    `json:"persona" db:"persona"`
	LeadScore          int       `json:"lead_score" db:"lead_score"`
	Status             LeadState `json:"status" db:"status"`
	AssignedCampaignID *string   `json:"assigned_campaign_id,omitempty" db:"assigned_campaign_id"`
	AssignedMailboxID  *string   `json:"assigned_mailbox_id,omitempty" db:"assigned_mailbox_id"`

	SendCount   int `json:"send_count" db:"send_count"`
	OpenCount   int `json:"open_count" db:"open_count"`
	ReplyCount  int `json:"reply_count" db:"reply_count"`
	BounceCount int `json:"bounce_count" db:"bounce_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the lead is in its final state.
func (l *Lead) IsTerminal() bool {
	return l.Status == LeadCompleted
}
