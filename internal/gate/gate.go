// Package gate implements the Execution Gate: the
// synchronous pre-dispatch decision for a lead, consulted from the send
// path. It reads current state but never mutates it except to log a
// decision.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/healing"
	"github.com/ignite/deliverability-engine/internal/metrics"
	"github.com/ignite/deliverability-engine/internal/repository"
)

// FailureType is the taxonomy the gate reports on a blocked/degraded
// decision.
type FailureType string

const (
	FailureHealthIssue FailureType = "HEALTH_ISSUE"
	FailureInfraIssue  FailureType = "INFRA_ISSUE"
	FailureSyncIssue   FailureType = "SYNC_ISSUE"
	FailureSoftWarning FailureType = "SOFT_WARNING"
)

// Checks is the named set of boolean gate checks.
type Checks struct {
	AssessmentCompleted bool
	HealingResilienceOK bool
	CampaignActive      bool
	LeadEligible        bool
	HealthyMailboxFound bool
	BelowCapacity       bool
	RiskAcceptable      bool
}

// Result is the gate's decision payload.
type Result struct {
	Allowed         bool
	Checks          Checks
	Reason          string
	RiskScore       float64
	Recommendations []string
	FailureType     FailureType
	Retryable       bool
	Deferrable      bool
}

// Resilience thresholds for the healing transition gate.
const (
	ResilienceHardBlock  = 25
	ResilienceSoftAckMin = 25
	ResilienceAutoAllow  = 60
)

// Aggregate throttle thresholds reused from healing.
const (
	DomainDailyCap = healing.DomainRecoveryDailyCap
	OrgDailyCap    = healing.OrgRecoveryDailyCap
)

// DailySendCounter is supplied by the caller to answer "how many sends has
// this scope made today" without the gate owning a sends-by-day table of
// its own.
type DailySendCounter interface {
	SentToday(ctx context.Context, orgID, scopeID, scope string) (int, error)
}

// Gate evaluates canExecuteLead.
type Gate struct {
	Organizations repository.OrganizationRepository
	Campaigns     repository.CampaignRepository
	Mailboxes     repository.MailboxRepository
	MailboxMetrics repository.MailboxMetricsRepository
	Domains       repository.DomainEntityRepository
	AuditLogs     repository.AuditLogRepository
	Notifications repository.NotificationRepository
	SendCounts    DailySendCounter

	// Leads resolves leadID to its persisted record for the lead-eligibility
	// check. Optional: when nil, that check is skipped (treated as passing),
	// which lets callers that only care about campaign/mailbox/risk checks
	// construct a Gate without a lead store.
	Leads repository.LeadRepository

	// OverallInfraResilience reports the org-wide resilience score consulted
	// by step 2; a real deployment derives this from an aggregate over
	// domain/mailbox resilience scores. Injected so tests can control it
	// directly.
	OverallInfraResilience func(ctx context.Context, orgID string) (int, error)

	Now func() time.Time
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// CanExecuteLead implements the gate decision.
func (g *Gate) CanExecuteLead(ctx context.Context, orgID, campaignID, leadID string) (Result, error) {
	res := Result{Recommendations: []string{}}

	org, err := g.Organizations.Get(ctx, orgID)
	if err != nil {
		return Result{}, fmt.Errorf("gate: load organization: %w", err)
	}

	// Step 1: assessment gate.
	res.Checks.AssessmentCompleted = !org.GateLocked()
	if !res.Checks.AssessmentCompleted {
		return g.finalize(org, res, "organization has not completed assessment", FailureSyncIssue, false, true)
	}

	// Step 2: healing transition gate.
	resilience := ResilienceAutoAllow
	if g.OverallInfraResilience != nil {
		resilience, err = g.OverallInfraResilience(ctx, orgID)
		if err != nil {
			return Result{}, fmt.Errorf("gate: load infra resilience: %w", err)
		}
	}
	switch {
	case resilience < ResilienceHardBlock:
		res.Checks.HealingResilienceOK = false
		return g.finalize(org, res, "infra resilience below hard-block threshold", FailureInfraIssue, true, true)
	case resilience < ResilienceAutoAllow:
		res.Checks.HealingResilienceOK = false
		res.Recommendations = append(res.Recommendations, "operator acknowledgment required: infra resilience degraded")
	default:
		res.Checks.HealingResilienceOK = true
	}

	// Step 3: campaign must exist and be active.
	campaign, err := g.Campaigns.Get(ctx, orgID, campaignID)
	if err != nil {
		res.Checks.CampaignActive = false
		return g.finalize(org, res, "campaign not found", FailureSyncIssue, false, true)
	}
	res.Checks.CampaignActive = campaign.IsActive()
	if !res.Checks.CampaignActive {
		return g.finalize(org, res, "campaign is not active", FailureSyncIssue, false, true)
	}

	// Step 3b: the lead itself must still be eligible to receive sends.
	if g.Leads == nil {
		res.Checks.LeadEligible = true
	} else {
		lead, lerr := g.Leads.Get(ctx, orgID, leadID)
		if lerr == repository.ErrNotFound {
			res.Checks.LeadEligible = false
			return g.finalize(org, res, "lead not found", FailureSyncIssue, false, true)
		}
		if lerr != nil {
			return Result{}, fmt.Errorf("gate: load lead: %w", lerr)
		}
		res.Checks.LeadEligible = lead.Status == domain.LeadActive
		if !res.Checks.LeadEligible {
			return g.finalize(org, res, fmt.Sprintf("lead is %s, not active", lead.Status), FailureSyncIssue, false, true)
		}
	}

	// Step 4: at least one healthy, available mailbox on a healthy domain.
	healthyMailboxes, err := g.healthyMailboxesForCampaign(ctx, orgID, campaign)
	if err != nil {
		return Result{}, fmt.Errorf("gate: evaluate mailbox health: %w", err)
	}
	res.Checks.HealthyMailboxFound = len(healthyMailboxes) > 0
	if !res.Checks.HealthyMailboxFound {
		all, lerr := g.Mailboxes.ListByOrg(ctx, orgID, 1, 0)
		if lerr == nil && len(all) == 0 {
			return g.finalize(org, res, "organization has no mailboxes", FailureSyncIssue, false, true)
		}
		g.emitCriticalNotification(ctx, org, campaign.ID, "no healthy mailbox available for campaign")
		return g.finalize(org, res, "no healthy mailbox available", FailureHealthIssue, false, true)
	}

	// Step 5: aggregate throttles.
	if g.SendCounts != nil {
		for _, mb := range healthyMailboxes {
			domSent, derr := g.SendCounts.SentToday(ctx, orgID, mb.DomainID, "domain")
			if derr == nil && domSent >= DomainDailyCap {
				res.Checks.BelowCapacity = false
				return g.finalize(org, res, "domain daily send cap reached", FailureHealthIssue, false, true)
			}
			orgSent, oerr := g.SendCounts.SentToday(ctx, orgID, orgID, "org")
			if oerr == nil && orgSent >= OrgDailyCap {
				res.Checks.BelowCapacity = false
				return g.finalize(org, res, "organization daily send cap reached", FailureHealthIssue, false, true)
			}
		}
	}
	res.Checks.BelowCapacity = true

	// Step 6: average hard score across healthy mailboxes.
	avgHard, avgSoft, err := g.averageRisk(ctx, orgID, healthyMailboxes)
	if err != nil {
		return Result{}, fmt.Errorf("gate: compute risk: %w", err)
	}
	res.RiskScore = avgHard
	res.Checks.RiskAcceptable = avgHard < domain.HardRiskCritical
	if avgSoft > 0 {
		res.Recommendations = append(res.Recommendations, "soft risk signal present; monitor only")
	}
	if !res.Checks.RiskAcceptable {
		return g.finalize(org, res, "average hard risk score at or above critical threshold", FailureHealthIssue, false, true)
	}

	return g.finalize(org, res, "all checks passed", FailureSoftWarning, false, false)
}

func (g *Gate) healthyMailboxesForCampaign(ctx context.Context, orgID string, campaign *domain.Campaign) ([]domain.Mailbox, error) {
	var out []domain.Mailbox
	now := g.now()
	for _, id := range campaign.MailboxIDs {
		mb, err := g.Mailboxes.Get(ctx, orgID, id)
		if err == repository.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !mb.IsAvailableForExecution(now) {
			continue
		}
		d, err := g.Domains.Get(ctx, orgID, mb.DomainID)
		if err != nil {
			continue
		}
		if d.Status != domain.StateHealthy {
			continue
		}
		out = append(out, *mb)
	}
	return out, nil
}

func (g *Gate) averageRisk(ctx context.Context, orgID string, mailboxes []domain.Mailbox) (hard, soft float64, err error) {
	if len(mailboxes) == 0 {
		return 0, 0, nil
	}
	var sumHard, sumSoft float64
	for _, mb := range mailboxes {
		mm, gerr := g.MailboxMetrics.Get(ctx, orgID, mb.ID)
		if gerr == repository.ErrNotFound {
			continue
		}
		if gerr != nil {
			return 0, 0, gerr
		}
		hs := metrics.HardSoft(mm, mb.WarningCount)
		sumHard += hs.Hard
		sumSoft += hs.Soft
	}
	n := float64(len(mailboxes))
	return sumHard / n, sumSoft / n, nil
}

func (g *Gate) emitCriticalNotification(ctx context.Context, org *domain.Organization, campaignID, message string) {
	if g.Notifications == nil {
		return
	}
	cid := campaignID
	_, _ = g.Notifications.Create(ctx, &domain.Notification{
		OrganizationID: org.ID,
		Severity:       domain.SeverityCritical,
		CampaignID:     &cid,
		Title:          "No healthy mailbox available",
		Message:        message,
		DedupeKey:      "gate_health_issue:" + campaignID,
	})
}

// finalize applies the organization's mode-based final disposition
// (observe/suggest/enforce) and records the audit trail entry.
func (g *Gate) finalize(org *domain.Organization, res Result, reason string, ft FailureType, retryable, deferrable bool) (Result, error) {
	res.Reason = reason
	res.FailureType = ft
	res.Retryable = retryable
	res.Deferrable = deferrable

	allChecksPassed := res.Checks.AssessmentCompleted && res.Checks.CampaignActive &&
		res.Checks.LeadEligible && res.Checks.HealthyMailboxFound &&
		res.Checks.BelowCapacity && res.Checks.RiskAcceptable

	var action string
	switch org.SystemMode {
	case domain.ModeObserve:
		res.Allowed = true
		if allChecksPassed {
			action = "gate_passed_observe"
		} else {
			action = "gate_would_fail_observe"
		}
		res.Reason = fmt.Sprintf("observe mode: %s (would-be reason: %s)", action, reason)
	case domain.ModeSuggest:
		res.Allowed = true
		if !allChecksPassed {
			res.Recommendations = append(res.Recommendations, "suggest mode: "+reason)
		}
		action = "gate_evaluated_suggest"
	default: // enforce
		res.Allowed = allChecksPassed
		if allChecksPassed {
			action = "gate_passed_enforce"
		} else {
			action = "gate_blocked_enforce"
		}
	}

	if g.AuditLogs != nil {
		_ = g.AuditLogs.Record(context.Background(), &domain.AuditLog{
			OrganizationID: org.ID,
			EntityType:     domain.EntityCampaign,
			EntityID:       org.ID,
			Action:         action,
			Details:        map[string]interface{}{"reason": reason, "risk_score": res.RiskScore},
		})
	}

	return res, nil
}
