// Package worker implements the Work Queue: bounded,
// rate-limited dispatch of RawEvents to the Monitor, with idempotent
// enqueue, retry of failed events on the next drain until
// domain.MaxEventRetries is reached, and a dead-letter partition for
// events that exhaust their retries. Retries are not delayed by a backoff
// schedule: BackoffDelay computes one, but dispatch does not consult it.
package worker

import (
	"context"
	"fmt"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/monitor"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
	"github.com/ignite/deliverability-engine/internal/repository"
)

// Handler dispatches a single RawEvent to the Monitor, matching the
// event_type switch in the data-flow contract.
type Handler struct {
	Monitor       *monitor.Monitor
	Organizations repository.OrganizationRepository
	AuditLogs     repository.AuditLogRepository
}

// Handle routes ev to the Monitor entry point for its event type. Unknown
// event types are logged and skipped, never treated as an error — the
// work queue must not retry a job it can never successfully process.
func (h *Handler) Handle(ctx context.Context, ev *domain.RawEvent) error {
	org, err := h.Organizations.Get(ctx, ev.OrganizationID)
	if err != nil {
		return fmt.Errorf("handler: load organization %s: %w", ev.OrganizationID, err)
	}

	switch ev.EventType {
	case domain.EventHardBounce, domain.EventBounce:
		return h.handleBounce(ctx, org, ev)
	case domain.EventEmailSent:
		return h.handleSent(ctx, org, ev)
	case domain.EventSpamComplaint:
		return h.handleSpamComplaint(ctx, org, ev)
	default:
		logger.Info("worker: skipping unrouted event type", "event_id", ev.ID, "event_type", string(ev.EventType))
		return nil
	}
}

func (h *Handler) handleBounce(ctx context.Context, org *domain.Organization, ev *domain.RawEvent) error {
	if ev.EntityType != domain.EntityMailbox {
		logger.Warn("worker: bounce event missing mailbox entity", "event_id", ev.ID)
		return nil
	}
	smtpResponse, _ := ev.Payload["smtp_response"].(string)
	recipient, _ := ev.Payload["recipient_email"].(string)
	campaignID, _ := ev.Payload["campaign_id"].(string)
	return h.Monitor.RecordBounce(ctx, org, ev.EntityID, campaignID, smtpResponse, recipient)
}

func (h *Handler) handleSent(ctx context.Context, org *domain.Organization, ev *domain.RawEvent) error {
	if ev.EntityType != domain.EntityMailbox {
		logger.Warn("worker: sent event missing mailbox entity", "event_id", ev.ID)
		return nil
	}
	campaignID, _ := ev.Payload["campaign_id"].(string)
	return h.Monitor.RecordSent(ctx, org, ev.EntityID, campaignID)
}

func (h *Handler) handleSpamComplaint(ctx context.Context, org *domain.Organization, ev *domain.RawEvent) error {
	if h.AuditLogs == nil {
		return nil
	}
	return h.AuditLogs.Record(ctx, &domain.AuditLog{
		OrganizationID: org.ID,
		EntityType:     ev.EntityType,
		EntityID:       ev.EntityID,
		Action:         "spam_complaint_recorded",
		Details:        ev.Payload,
	})
}
