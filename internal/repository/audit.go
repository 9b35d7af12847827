package repository

import (
	"context"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// TransitionRepository records state-machine transitions.
// Record is a standalone write; it does not share a transaction with the
// entity update it accompanies.
type TransitionRepository interface {
	Record(ctx context.Context, t *domain.StateTransition) error
	ListByEntity(ctx context.Context, orgID string, entityType domain.EntityType, entityID string, limit int) ([]domain.StateTransition, error)
}

// NotificationRepository persists user-visible notifications, deduplicated
// one per dedupe_key per 24h.
type NotificationRepository interface {
	// Create inserts n unless an undeduped row with the same DedupeKey was
	// created within the last 24h, in which case it is a no-op and created
	// reports false.
	Create(ctx context.Context, n *domain.Notification) (created bool, err error)
	ListByOrg(ctx context.Context, orgID string, limit, offset int) ([]domain.Notification, error)
}

// AuditLogRepository persists the append-only decision/mutation trail
// consulted when reconstructing why a gate or monitor decision was made.
type AuditLogRepository interface {
	Record(ctx context.Context, a *domain.AuditLog) error
	ListByEntity(ctx context.Context, orgID string, entityType domain.EntityType, entityID string, limit int) ([]domain.AuditLog, error)
}
