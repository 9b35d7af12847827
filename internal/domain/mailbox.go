package domain

import "time"

// Mailbox is an individual sending address owned by a Domain. It carries
// both the shared health/recovery fields (mirrored on Domain, see
// DomainEntity) and mailbox-specific rolling counters.
type Mailbox struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	DomainID       string `json:"domain_id" db:"domain_id"`
	Email          string `json:"email" db:"email"`

	Status       HealthState   `json:"status" db:"status"`
	RecoveryPhase RecoveryPhase `json:"recovery_phase" db:"recovery_phase"`
	PauseOrigin  PauseOrigin   `json:"pause_origin" db:"pause_origin"`

	ConsecutivePauses     int        `json:"consecutive_pauses" db:"consecutive_pauses"`
	ResilienceScore       int        `json:"resilience_score" db:"resilience_score"`
	CooldownUntil         *time.Time `json:"cooldown_until,omitempty" db:"cooldown_until"`
	LastPauseAt           *time.Time `json:"last_pause_at,omitempty" db:"last_pause_at"`
	PhaseEnteredAt        *time.Time `json:"phase_entered_at,omitempty" db:"phase_entered_at"`
	CleanSendsSincePhase  int        `json:"clean_sends_since_phase" db:"clean_sends_since_phase"`
	WarningCount          int        `json:"warning_count" db:"warning_count"`

	// Rolling-window counters (denormalized view of MailboxMetrics' current
	// window, kept here for cheap threshold checks without a join).
	WindowSentCount   int        `json:"window_sent_count" db:"window_sent_count"`
	WindowBounceCount int        `json:"window_bounce_count" db:"window_bounce_count"`
	WindowStartAt     time.Time  `json:"window_start_at" db:"window_start_at"`
	HardBounceCount   int        `json:"hard_bounce_count" db:"hard_bounce_count"`

	// Lifetime aggregates.
	TotalSentCount int        `json:"total_sent_count" db:"total_sent_count"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty" db:"last_activity_at"`

	ProviderRestrictions []EmailProvider `json:"provider_restrictions" db:"-"`

	SMTPStatus bool `json:"smtp_status" db:"smtp_status"`
	IMAPStatus bool `json:"imap_status" db:"imap_status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RollingWindowSize is the sent-count at which recordSent slides the window,
// keeping 50% of both counters.
const RollingWindowSize = 100

// HasProviderRestriction reports whether sends to the given provider are
// currently restricted for this mailbox (set by correlation's
// restrict_provider branch).
func (m *Mailbox) HasProviderRestriction(p EmailProvider) bool {
	for _, r := range m.ProviderRestrictions {
		if r == p {
			return true
		}
	}
	return false
}

// IsAvailableForExecution reports whether the mailbox currently satisfies
// the Execution Gate's per-mailbox eligibility check:
// healthy status and no active cooldown.
func (m *Mailbox) IsAvailableForExecution(now time.Time) bool {
	if m.Status != StateHealthy {
		return false
	}
	if m.CooldownUntil != nil && m.CooldownUntil.After(now) {
		return false
	}
	return true
}

// BounceRate returns the current window's bounce rate, or 0 if no sends.
func (m *Mailbox) BounceRate() float64 {
	if m.WindowSentCount == 0 {
		return 0
	}
	return float64(m.WindowBounceCount) / float64(m.WindowSentCount)
}
