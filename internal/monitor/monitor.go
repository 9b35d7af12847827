// Package monitor implements the Monitor: the entry
// point from the Work Queue for send/bounce events. It wires together the
// Bounce Classifier, Metrics Engine, Correlation Service, State Machine, and
// Healing Service behind the system mode gate (observe/suggest/enforce).
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/deliverability-engine/internal/classifier"
	"github.com/ignite/deliverability-engine/internal/correlation"
	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/metrics"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
	"github.com/ignite/deliverability-engine/internal/repository"
	"github.com/ignite/deliverability-engine/internal/statemachine"
)

// Tiered bounce thresholds.
const (
	MailboxPauseBounces   = 5
	MailboxWarningBounces = 3
	MailboxWarningWindow  = 60
)

// Monitor owns the send/bounce entry points. All repository access goes
// through the typed interfaces in internal/repository so tests can supply
// sqlmock- or fake-backed doubles.
type Monitor struct {
	Mailboxes     repository.MailboxRepository
	MailboxMetrics repository.MailboxMetricsRepository
	Domains       repository.DomainEntityRepository
	Transitions   repository.TransitionRepository
	Notifications repository.NotificationRepository
	AuditLogs     repository.AuditLogRepository
	Campaigns     repository.CampaignRepository

	// EventStore supplies the trailing 24h bounce history consulted by the
	// pre-pause correlation check. Optional: when nil, correlation runs with
	// an empty recent-bounce view, which can only fall through to its
	// sibling-domain-failure branch or its pause_mailbox default — the
	// campaign- and provider-concentration branches never fire.
	EventStore repository.EventStore

	// Adapters removes a mailbox from its external campaigns on pause
	// (best-effort, run on actual mailbox pause). May be nil in
	// tests or when no platform is configured.
	Adapters map[domain.PlatformType]domain.PlatformAdapter

	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time

	// OnRelapse is invoked on a health-degrading bounce while a mailbox is
	// in a recovery phase. cmd/worker
	// wires this to healing.Service.Relapse; left nil it is a no-op so
	// Monitor stays usable in tests that don't exercise recovery.
	OnRelapse RelapseHandler
}

func (m *Monitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// RecordSent records a successful send against a mailbox, rolling its
// windows forward and recomputing risk.
func (m *Monitor) RecordSent(ctx context.Context, org *domain.Organization, mailboxID, campaignID string) error {
	now := m.now()
	mb, err := m.Mailboxes.Get(ctx, org.ID, mailboxID)
	if err != nil {
		return fmt.Errorf("record sent: %w", err)
	}

	mm, err := m.MailboxMetrics.Get(ctx, org.ID, mailboxID)
	if err == repository.ErrNotFound {
		mm = &domain.MailboxMetrics{MailboxID: mailboxID, Window1h: domain.Window{Start: now}, Window24h: domain.Window{Start: now}, Window7d: domain.Window{Start: now}}
	} else if err != nil {
		return fmt.Errorf("record sent: load metrics: %w", err)
	}
	metrics.RecordSent(mm, now)

	mb.WindowSentCount++
	mb.TotalSentCount++
	mb.LastActivityAt = &now
	mb.CleanSendsSincePhase++

	if mb.WindowSentCount >= domain.RollingWindowSize {
		mb.WindowSentCount /= 2
		mb.WindowBounceCount /= 2
		mb.WindowStartAt = now
	}

	if mb.Status == domain.StateRecovering && mb.BounceRate() < 0.03 {
		if err := m.transitionMailbox(ctx, org, mb, domain.StateHealthy, "post-slide bounce rate below 3%", "monitor"); err != nil {
			return fmt.Errorf("record sent: %w", err)
		}
	}

	if err := m.MailboxMetrics.Upsert(ctx, org.ID, mailboxID, mm); err != nil {
		return fmt.Errorf("record sent: save metrics: %w", err)
	}
	if err := m.Mailboxes.Update(ctx, mb); err != nil {
		return fmt.Errorf("record sent: save mailbox: %w", err)
	}
	return nil
}

// RecordBounce records a bounce against a mailbox, reclassifies it, and
// applies the tiered pause thresholds.
func (m *Monitor) RecordBounce(ctx context.Context, org *domain.Organization, mailboxID, campaignID, smtpResponse, recipient string) error {
	now := m.now()
	result := classifier.Classify(smtpResponse, recipient)

	if !result.DegradesHealth {
		logger.Info("transient bounce, not degrading health", "mailbox_id", mailboxID, "failure_type", string(result.FailureType))
		m.recordAudit(ctx, org.ID, mailboxID, "transient_bounce", map[string]interface{}{"failure_type": result.FailureType})
		return nil
	}

	mb, err := m.Mailboxes.Get(ctx, org.ID, mailboxID)
	if err != nil {
		return fmt.Errorf("record bounce: %w", err)
	}

	mm, err := m.MailboxMetrics.Get(ctx, org.ID, mailboxID)
	if err == repository.ErrNotFound {
		mm = &domain.MailboxMetrics{MailboxID: mailboxID, Window1h: domain.Window{Start: now}, Window24h: domain.Window{Start: now}, Window7d: domain.Window{Start: now}}
	} else if err != nil {
		return fmt.Errorf("record bounce: load metrics: %w", err)
	}
	metrics.RecordBounce(mm, now, true)

	mb.WindowBounceCount++
	mb.HardBounceCount++
	mb.LastActivityAt = &now

	inRecoveryPhase := mb.Status == domain.StateQuarantine || mb.Status == domain.StateRestricted || mb.Status == domain.StateWarming
	if inRecoveryPhase {
		mb.CleanSendsSincePhase = 0
		if err := m.relapse(ctx, org, mb); err != nil {
			return fmt.Errorf("record bounce: relapse: %w", err)
		}
	} else {
		switch {
		case mb.WindowBounceCount >= MailboxPauseBounces:
			if err := m.pauseMailbox(ctx, org, mb, campaignID); err != nil {
				return fmt.Errorf("record bounce: pause: %w", err)
			}
		case mb.WindowBounceCount >= MailboxWarningBounces && mb.WindowSentCount <= MailboxWarningWindow && mb.Status == domain.StateHealthy:
			if err := m.warnMailbox(ctx, org, mb); err != nil {
				return fmt.Errorf("record bounce: warn: %w", err)
			}
		}
	}

	if err := m.MailboxMetrics.Upsert(ctx, org.ID, mailboxID, mm); err != nil {
		return fmt.Errorf("record bounce: save metrics: %w", err)
	}
	if err := m.Mailboxes.Update(ctx, mb); err != nil {
		return fmt.Errorf("record bounce: save mailbox: %w", err)
	}
	return nil
}

// RelapseHandler demotes a mailbox one recovery phase and recomputes its
// cooldown; the real implementation lives in internal/healing.
type RelapseHandler func(ctx context.Context, org *domain.Organization, mb *domain.Mailbox) error

func (m *Monitor) relapse(ctx context.Context, org *domain.Organization, mb *domain.Mailbox) error {
	if m.OnRelapse == nil {
		return nil
	}
	return m.OnRelapse(ctx, org, mb)
}

func (m *Monitor) applyPolicy(org *domain.Organization, fn func() error, notify func() (*domain.Notification, error)) error {
	switch org.SystemMode {
	case domain.ModeObserve:
		logger.Info("observe mode: would apply action", "org_id", org.ID)
		return nil
	case domain.ModeSuggest:
		if notify != nil {
			if n, err := notify(); err == nil && n != nil {
				_, _ = m.Notifications.Create(context.Background(), n)
			}
		}
		return nil
	case domain.ModeEnforce:
		return fn()
	default:
		return fn()
	}
}

func (m *Monitor) pauseMailbox(ctx context.Context, org *domain.Organization, mb *domain.Mailbox, campaignID string) error {
	siblings, recent := m.gatherCorrelationInputs(ctx, org.ID, mb)
	corr := correlation.Evaluate(recent, siblings)

	return m.applyPolicy(org, func() error {
		switch corr.Action {
		case correlation.ActionPauseDomain:
			return m.pauseDomain(ctx, org, mb.DomainID, corr.Reason)
		case correlation.ActionPauseCampaign:
			return m.pauseCampaign(ctx, org, campaignID, corr.Reason)
		case correlation.ActionRestrictProvider:
			if !mb.HasProviderRestriction(corr.Provider) {
				mb.ProviderRestrictions = append(mb.ProviderRestrictions, corr.Provider)
			}
			m.recordAudit(ctx, org.ID, mb.ID, "provider_restricted", map[string]interface{}{"provider": corr.Provider, "reason": corr.Reason})
			return nil
		default:
			return m.doPauseMailbox(ctx, org, mb, corr.Reason)
		}
	}, func() (*domain.Notification, error) {
		return &domain.Notification{
			OrganizationID: org.ID,
			Severity:       domain.SeverityWarning,
			Title:          "Mailbox would be paused",
			Message:        fmt.Sprintf("mailbox %s crossed the pause threshold: %s", mb.Email, corr.Reason),
			DedupeKey:      "mailbox_pause_suggest:" + mb.ID,
		}, nil
	})
}

func (m *Monitor) doPauseMailbox(ctx context.Context, org *domain.Organization, mb *domain.Mailbox, reason string) error {
	if err := m.transitionMailbox(ctx, org, mb, domain.StatePaused, reason, "monitor"); err != nil {
		return err
	}
	m.removeFromCampaigns(ctx, org, mb)
	return m.checkDomainHealth(ctx, org, mb.DomainID)
}

func (m *Monitor) warnMailbox(ctx context.Context, org *domain.Organization, mb *domain.Mailbox) error {
	return m.applyPolicy(org, func() error {
		return m.transitionMailbox(ctx, org, mb, domain.StateWarning, "bounce threshold reached within warning window", "monitor")
	}, func() (*domain.Notification, error) {
		return &domain.Notification{
			OrganizationID: org.ID,
			Severity:       domain.SeverityWarning,
			Title:          "Mailbox approaching bounce threshold",
			Message:        fmt.Sprintf("mailbox %s has %d bounces in its current window", mb.Email, mb.WindowBounceCount),
			DedupeKey:      "mailbox_warn_suggest:" + mb.ID,
		}, nil
	})
}

func (m *Monitor) pauseCampaign(ctx context.Context, org *domain.Organization, campaignID, reason string) error {
	c, err := m.Campaigns.Get(ctx, org.ID, campaignID)
	if err != nil {
		return fmt.Errorf("pause campaign: %w", err)
	}
	c.Status = domain.CampaignPaused
	if err := m.Campaigns.Update(ctx, c); err != nil {
		return fmt.Errorf("pause campaign: %w", err)
	}
	m.recordAudit(ctx, org.ID, campaignID, "campaign_paused", map[string]interface{}{"reason": reason})
	return nil
}

func (m *Monitor) pauseDomain(ctx context.Context, org *domain.Organization, domainID, reason string) error {
	d, err := m.Domains.Get(ctx, org.ID, domainID)
	if err != nil {
		return fmt.Errorf("pause domain: %w", err)
	}
	if d.Status == domain.StatePaused {
		return nil // idempotent: already paused
	}
	if err := m.transitionDomain(ctx, org, d, domain.StatePaused, reason); err != nil {
		return fmt.Errorf("pause domain: %w", err)
	}
	return m.cascadePauseChildren(ctx, org, domainID)
}

func (m *Monitor) cascadePauseChildren(ctx context.Context, org *domain.Organization, domainID string) error {
	children, err := m.Mailboxes.ListByDomain(ctx, org.ID, domainID)
	if err != nil {
		return fmt.Errorf("cascade pause: list mailboxes: %w", err)
	}
	for i := range children {
		child := &children[i]
		if child.Status == domain.StatePaused {
			continue
		}
		if statemachine.CanTransitionHealth(child.Status, domain.StatePaused) {
			if err := m.transitionMailbox(ctx, org, child, domain.StatePaused, "cascaded from domain pause", "monitor"); err != nil {
				logger.Error("cascade pause failed", "mailbox_id", child.ID, "error", err.Error())
				continue
			}
		}
	}
	return nil
}

// checkDomainHealth implements the domain-wide unhealthy-mailbox ratio
// aggregation.
func (m *Monitor) checkDomainHealth(ctx context.Context, org *domain.Organization, domainID string) error {
	d, err := m.Domains.Get(ctx, org.ID, domainID)
	if err != nil {
		return fmt.Errorf("check domain health: %w", err)
	}
	children, err := m.Mailboxes.ListByDomain(ctx, org.ID, domainID)
	if err != nil {
		return fmt.Errorf("check domain health: %w", err)
	}

	unhealthy := 0
	for _, c := range children {
		if c.Status != domain.StateHealthy {
			unhealthy++
		}
	}
	d.MailboxCount = len(children)
	d.UnhealthyMailboxN = unhealthy

	var shouldPause, shouldWarn bool
	if d.IsLarge() {
		ratio := float64(unhealthy) / float64(len(children))
		shouldPause = ratio >= 0.5
		shouldWarn = !shouldPause && ratio >= 0.3
	} else {
		shouldPause = unhealthy >= 2
		shouldWarn = !shouldPause && unhealthy >= 1 && len(children) <= 2
	}

	if err := m.Domains.Update(ctx, d); err != nil {
		return fmt.Errorf("check domain health: save aggregates: %w", err)
	}

	switch {
	case shouldPause && d.Status != domain.StatePaused:
		return m.applyPolicy(org, func() error {
			return m.pauseDomain(ctx, org, domainID, "unhealthy mailbox ratio crossed pause threshold")
		}, func() (*domain.Notification, error) {
			return &domain.Notification{
				OrganizationID: org.ID,
				Severity:       domain.SeverityWarning,
				Title:          "Domain would be paused",
				Message:        fmt.Sprintf("domain %s crossed the unhealthy-mailbox pause threshold (%d/%d unhealthy)", domainID, unhealthy, len(children)),
				DedupeKey:      "domain_pause_suggest:" + domainID,
			}, nil
		})
	case shouldWarn && d.Status == domain.StateHealthy:
		return m.applyPolicy(org, func() error {
			return m.transitionDomain(ctx, org, d, domain.StateWarning, "unhealthy mailbox ratio crossed warning threshold")
		}, func() (*domain.Notification, error) {
			return &domain.Notification{
				OrganizationID: org.ID,
				Severity:       domain.SeverityWarning,
				Title:          "Domain approaching unhealthy threshold",
				Message:        fmt.Sprintf("domain %s has %d/%d unhealthy mailboxes", domainID, unhealthy, len(children)),
				DedupeKey:      "domain_warn_suggest:" + domainID,
			}, nil
		})
	}
	return nil
}

// RefreshRisk recomputes mb's risk score from its persisted metrics window
// and re-applies the tiered bounce thresholds without a new inbound event
// It is the periodic counterpart to RecordBounce, covering
// drift a window rotation can introduce between events.
func (m *Monitor) RefreshRisk(ctx context.Context, org *domain.Organization, mailboxID string) error {
	now := m.now()
	mb, err := m.Mailboxes.Get(ctx, org.ID, mailboxID)
	if err != nil {
		return fmt.Errorf("refresh risk: %w", err)
	}
	if !mb.SMTPStatus || !mb.IMAPStatus {
		return nil
	}
	if mb.Status != domain.StateHealthy && mb.Status != domain.StateWarning && mb.Status != domain.StateRecovering {
		return nil
	}

	mm, err := m.MailboxMetrics.Get(ctx, org.ID, mailboxID)
	if err == repository.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("refresh risk: load metrics: %w", err)
	}
	metrics.RotateAll(mm, now)
	metrics.RiskScore(mm, mb.ConsecutivePauses)

	mb.WindowSentCount = mm.Window1h.Sent
	mb.WindowBounceCount = mm.Window1h.Bounces
	mb.WindowStartAt = mm.Window1h.Start

	var actionErr error
	switch {
	case mb.WindowBounceCount >= MailboxPauseBounces && mb.Status != domain.StatePaused:
		actionErr = m.pauseMailbox(ctx, org, mb, "")
	case mb.WindowBounceCount >= MailboxWarningBounces && mb.WindowSentCount <= MailboxWarningWindow && mb.Status == domain.StateHealthy:
		actionErr = m.warnMailbox(ctx, org, mb)
	}
	if actionErr != nil {
		return fmt.Errorf("refresh risk: %w", actionErr)
	}

	if err := m.MailboxMetrics.Upsert(ctx, org.ID, mailboxID, mm); err != nil {
		return fmt.Errorf("refresh risk: save metrics: %w", err)
	}
	if err := m.Mailboxes.Update(ctx, mb); err != nil {
		return fmt.Errorf("refresh risk: save mailbox: %w", err)
	}
	return nil
}

// RefreshDomainAggregates recomputes a domain's unhealthy-mailbox ratio and
// applies the warning/pause thresholds.
func (m *Monitor) RefreshDomainAggregates(ctx context.Context, org *domain.Organization, domainID string) error {
	return m.checkDomainHealth(ctx, org, domainID)
}

func (m *Monitor) gatherCorrelationInputs(ctx context.Context, orgID string, mb *domain.Mailbox) ([]correlation.SiblingState, []correlation.BounceRecord) {
	var siblings []correlation.SiblingState
	children, err := m.Mailboxes.ListByDomain(ctx, orgID, mb.DomainID)
	if err == nil {
		for _, c := range children {
			if c.ID == mb.ID {
				continue
			}
			siblings = append(siblings, correlation.SiblingState{Status: c.Status, BounceRate: c.BounceRate()})
		}
	}

	var recent []correlation.BounceRecord
	if m.EventStore != nil {
		since := m.now().Add(-24 * time.Hour)
		events, eerr := m.EventStore.ForReplay(ctx, orgID, domain.EntityMailbox, mb.ID, &since)
		if eerr != nil {
			logger.Warn("gather correlation inputs: load recent bounces failed", "mailbox_id", mb.ID, "error", eerr.Error())
		} else {
			for _, ev := range events {
				if ev.EventType != domain.EventHardBounce && ev.EventType != domain.EventBounce {
					continue
				}
				campaignID, _ := ev.Payload["campaign_id"].(string)
				smtpResponse, _ := ev.Payload["smtp_response"].(string)
				recipient, _ := ev.Payload["recipient_email"].(string)
				recent = append(recent, correlation.BounceRecord{
					CampaignID: campaignID,
					Provider:   classifier.Classify(smtpResponse, recipient).Provider,
				})
			}
		}
	}
	return siblings, recent
}

func (m *Monitor) removeFromCampaigns(ctx context.Context, org *domain.Organization, mb *domain.Mailbox) {
	campaigns, err := m.Campaigns.ListByMailbox(ctx, org.ID, mb.ID)
	if err != nil {
		logger.Error("remove from campaigns: list failed", "mailbox_id", mb.ID, "error", err.Error())
		return
	}
	for _, c := range campaigns {
		adapter, ok := m.Adapters[domain.PlatformCustom]
		if !ok || adapter == nil {
			continue
		}
		if err := adapter.RemoveFromCampaign(ctx, c.ID, mb.Email); err != nil {
			logger.Warn("remove from campaign failed (best-effort)", "campaign_id", c.ID, "mailbox", mb.Email, "error", err.Error())
		}
	}
}

func (m *Monitor) transitionMailbox(ctx context.Context, org *domain.Organization, mb *domain.Mailbox, to domain.HealthState, reason, triggeredBy string) error {
	from := mb.Status
	eff, err := statemachine.ApplyHealthTransition(from, to, m.now(), mb.ConsecutivePauses, mb.ResilienceScore)
	if err != nil {
		return err
	}
	mb.Status = eff.NewStatus
	mb.CooldownUntil = eff.CooldownUntil
	mb.ConsecutivePauses = eff.ConsecutivePauses
	mb.ResilienceScore += eff.ResilienceScoreDelta
	if eff.LastPauseAt != nil {
		mb.LastPauseAt = eff.LastPauseAt
		mb.CleanSendsSincePhase = eff.CleanSendsSincePhase
		mb.PhaseEnteredAt = eff.PhaseEnteredAt
	}
	return m.recordTransition(ctx, org.ID, domain.EntityMailbox, mb.ID, string(from), string(to), reason, triggeredBy)
}

func (m *Monitor) transitionDomain(ctx context.Context, org *domain.Organization, d *domain.DomainEntity, to domain.HealthState, reason string) error {
	from := d.Status
	eff, err := statemachine.ApplyHealthTransition(from, to, m.now(), d.ConsecutivePauses, d.ResilienceScore)
	if err != nil {
		return err
	}
	d.Status = eff.NewStatus
	d.CooldownUntil = eff.CooldownUntil
	d.ConsecutivePauses = eff.ConsecutivePauses
	d.ResilienceScore += eff.ResilienceScoreDelta
	if eff.LastPauseAt != nil {
		d.LastPauseAt = eff.LastPauseAt
		d.CleanSendsSincePhase = eff.CleanSendsSincePhase
		d.PhaseEnteredAt = eff.PhaseEnteredAt
	}
	if err := m.Domains.Update(ctx, d); err != nil {
		return fmt.Errorf("save domain: %w", err)
	}
	return m.recordTransition(ctx, org.ID, domain.EntityDomain, d.ID, string(from), string(to), reason, "monitor")
}

func (m *Monitor) recordTransition(ctx context.Context, orgID string, entityType domain.EntityType, entityID, from, to, reason, triggeredBy string) error {
	if err := m.Transitions.Record(ctx, &domain.StateTransition{
		OrganizationID: orgID,
		EntityType:     entityType,
		EntityID:       entityID,
		FromState:      from,
		ToState:        to,
		Reason:         reason,
		TriggeredBy:    triggeredBy,
	}); err != nil {
		return fmt.Errorf("record state transition: %w", err)
	}
	m.recordAudit(ctx, orgID, entityID, "state_transition", map[string]interface{}{"from": from, "to": to, "reason": reason})
	return nil
}

func (m *Monitor) recordAudit(ctx context.Context, orgID, entityID, action string, details map[string]interface{}) {
	if m.AuditLogs == nil {
		return
	}
	if err := m.AuditLogs.Record(ctx, &domain.AuditLog{
		OrganizationID: orgID,
		EntityType:     domain.EntityMailbox,
		EntityID:       entityID,
		Action:         action,
		Details:        details,
	}); err != nil {
		logger.Error("record audit log failed", "entity_id", entityID, "action", action, "error", err.Error())
	}
}
