package repository

import (
	"context"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// OrganizationRepository persists tenant root records.
type OrganizationRepository interface {
	Get(ctx context.Context, id string) (*domain.Organization, error)
	GetByWebhookSecret(ctx context.Context, secret string) (*domain.Organization, error)
	Update(ctx context.Context, org *domain.Organization) error

	// ListAll returns every organization, used by the periodic workers to
	// sweep all tenants.
	ListAll(ctx context.Context) ([]domain.Organization, error)
}
