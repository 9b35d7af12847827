package domain

import (
	"context"
	"time"
)

// PlatformType identifies the external sending platform an adapter talks to.
type PlatformType string

const (
	PlatformSparkPost PlatformType = "sparkpost"
	PlatformMailgun   PlatformType = "mailgun"
	PlatformSES       PlatformType = "ses"
	PlatformPMTA      PlatformType = "pmta"
	PlatformCustom    PlatformType = "custom"
)

// EmailMessage is a fully-resolved message ready for a PlatformAdapter to
// hand to its wire-level sender.
type EmailMessage struct {
	ID           string            `json:"id"`
	CampaignID   string            `json:"campaign_id"`
	LeadID       string            `json:"lead_id"`
	Email        string            `json:"email"`
	FromName     string            `json:"from_name"`
	FromEmail    string            `json:"from_email"`
	Subject      string            `json:"subject"`
	HTMLContent  string            `json:"html_content"`
	TextContent  string            `json:"text_content"`
	Headers      map[string]string `json:"headers,omitempty"`
	PlatformType PlatformType      `json:"platform_type"`
}

// SendResult is returned by a PlatformAdapter after attempting delivery.
type SendResult struct {
	Success      bool         `json:"success"`
	MessageID    string       `json:"message_id"`
	PlatformType PlatformType `json:"platform_type"`
	SentAt       time.Time    `json:"sent_at"`
	Error        string       `json:"error,omitempty"`
}

// PlatformAdapter is the pluggable contract every external sending platform
// implements. The core never speaks a platform's wire protocol directly;
// it only calls through this interface.
//
// Implementations live outside this module's core concern (the concrete
// SparkPost/Mailgun/SES/PMTA wire formats are deliberately not reproduced
// here) — callers register a concrete adapter satisfying this interface.
type PlatformAdapter interface {
	// Name identifies the adapter for logging and per-adapter locking.
	Name() PlatformType

	// Send dispatches a single message.
	Send(ctx context.Context, msg EmailMessage) (SendResult, error)

	// RemoveFromCampaign removes a mailbox from a campaign on the external
	// platform. Best-effort: failures are logged but never block the local
	// pause.
	RemoveFromCampaign(ctx context.Context, campaignID, mailboxEmail string) error

	// Sync reconciles local cached platform state for an organization.
	Sync(ctx context.Context, organizationID string) error
}
