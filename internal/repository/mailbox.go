package repository

import (
	"context"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// MailboxRepository persists and queries Mailbox rows.
type MailboxRepository interface {
	Get(ctx context.Context, orgID, id string) (*domain.Mailbox, error)
	GetByEmail(ctx context.Context, orgID, email string) (*domain.Mailbox, error)
	Create(ctx context.Context, m *domain.Mailbox) error
	Update(ctx context.Context, m *domain.Mailbox) error

	// ListByDomain returns every mailbox belonging to a domain, used by
	// checkDomainHealth's ratio computation.
	ListByDomain(ctx context.Context, orgID, domainID string) ([]domain.Mailbox, error)

	// ListByOrg paginates all mailboxes for an organization.
	ListByOrg(ctx context.Context, orgID string, limit, offset int) ([]domain.Mailbox, error)

	// ListPausedBefore returns mailboxes whose CooldownUntil has elapsed,
	// used by the healing scheduler to find graduation candidates.
	ListPausedBefore(ctx context.Context, orgID string, cutoffUnixSeconds int64) ([]domain.Mailbox, error)

	// ListForMetricsRefresh returns mailboxes due for a rolling-window
	// recompute, batched for the metrics worker.
	ListForMetricsRefresh(ctx context.Context, orgID string, batchSize int) ([]domain.Mailbox, error)
}

// MailboxMetricsRepository persists the per-mailbox rolling windows and
// derived risk score.
type MailboxMetricsRepository interface {
	Get(ctx context.Context, orgID, mailboxID string) (*domain.MailboxMetrics, error)
	Upsert(ctx context.Context, orgID, mailboxID string, m *domain.MailboxMetrics) error
}
