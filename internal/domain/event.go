package domain

import "time"

// EventType enumerates the inbound engagement events the work queue
// dispatches on.
type EventType string

const (
	EventHardBounce     EventType = "HARD_BOUNCE"
	EventBounce         EventType = "BOUNCE"
	EventEmailSent      EventType = "EMAIL_SENT"
	EventSpamComplaint  EventType = "SPAM_COMPLAINT"
	EventReply          EventType = "REPLY"
	EventUnsubscribe    EventType = "UNSUBSCRIBE"
	EventOpen           EventType = "OPEN"
	EventClick          EventType = "CLICK"
)

// EntityType identifies what RawEvent.EntityID refers to.
type EntityType string

const (
	EntityMailbox  EntityType = "mailbox"
	EntityDomain   EntityType = "domain"
	EntityLead     EntityType = "lead"
	EntityCampaign EntityType = "campaign"
)

// RawEvent is the immutable, append-only record of an inbound engagement
// event. It is the system of record: all downstream state is derivable
// from replaying RawEvents.
type RawEvent struct {
	ID             string                 `json:"id" db:"id"`
	OrganizationID string                 `json:"organization_id" db:"organization_id"`
	EventType      EventType              `json:"event_type" db:"event_type"`
	EntityType     EntityType             `json:"entity_type" db:"entity_type"`
	EntityID       string                 `json:"entity_id" db:"entity_id"`
	Payload        map[string]interface{} `json:"payload" db:"-"`
	IdempotencyKey *string                `json:"idempotency_key,omitempty" db:"idempotency_key"`

	Processed    bool       `json:"processed" db:"processed"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	RetryCount   int        `json:"retry_count" db:"retry_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MaxEventRetries bounds how many times the Work Queue will retry a job
// before it is mailed to the dead-letter partition.
const MaxEventRetries = 3

// Retryable reports whether the event is still eligible for the
// unprocessed(org, limit) scan.
func (e *RawEvent) Retryable() bool {
	return !e.Processed && e.RetryCount < MaxEventRetries
}
