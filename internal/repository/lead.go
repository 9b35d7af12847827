package repository

import (
	"context"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// LeadRepository persists and queries Lead rows.
type LeadRepository interface {
	Get(ctx context.Context, orgID, id string) (*domain.Lead, error)
	Create(ctx context.Context, l *domain.Lead) error
	Update(ctx context.Context, l *domain.Lead) error

	// ListActiveByMailbox supports sibling-mailbox correlation checks.
	ListActiveByMailbox(ctx context.Context, orgID, mailboxID string) ([]domain.Lead, error)

	// ListByCampaign supports campaign concentration correlation checks
	// and capacity accounting.
	ListByCampaign(ctx context.Context, orgID, campaignID string, limit, offset int) ([]domain.Lead, error)

	CountByState(ctx context.Context, orgID, campaignID string, state domain.LeadState) (int, error)
}
