package domain

import "time"

// StateTransition is the immutable audit row written on every state change.
// The entity update and this insert are issued as separate writes; no
// database transaction spans them.
type StateTransition struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	EntityType     EntityType `json:"entity_type" db:"entity_type"`
	EntityID       string     `json:"entity_id" db:"entity_id"`
	FromState      string     `json:"from_state" db:"from_state"`
	ToState        string     `json:"to_state" db:"to_state"`
	Reason         string     `json:"reason" db:"reason"`
	TriggeredBy    string     `json:"triggered_by" db:"triggered_by"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// NotificationSeverity classifies a user-visible notification.
type NotificationSeverity string

const (
	SeverityError   NotificationSeverity = "ERROR"
	SeverityWarning NotificationSeverity = "WARNING"
	SeverityCritical NotificationSeverity = "CRITICAL"
	SeveritySuccess NotificationSeverity = "SUCCESS"
)

// Notification is an append-only, user-visible record surfacing a failure
// or significant event. Deduplicated per 24h per campaign.
type Notification struct {
	ID             string               `json:"id" db:"id"`
	OrganizationID string               `json:"organization_id" db:"organization_id"`
	Severity       NotificationSeverity `json:"severity" db:"severity"`
	CampaignID     *string              `json:"campaign_id,omitempty" db:"campaign_id"`
	Title          string               `json:"title" db:"title"`
	Message        string               `json:"message" db:"message"`
	DedupeKey      string               `json:"dedupe_key" db:"dedupe_key"`
	CreatedAt      time.Time            `json:"created_at" db:"created_at"`
}

// AuditLog is an append-only record keyed by (entity, entityId, action),
// surfacing any decision or mutation worth a durable trail.
type AuditLog struct {
	ID             string                 `json:"id" db:"id"`
	OrganizationID string                 `json:"organization_id" db:"organization_id"`
	EntityType     EntityType             `json:"entity_type" db:"entity_type"`
	EntityID       string                 `json:"entity_id" db:"entity_id"`
	Action         string                 `json:"action" db:"action"`
	Details        map[string]interface{} `json:"details" db:"-"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
}
