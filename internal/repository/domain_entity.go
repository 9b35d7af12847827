package repository

import (
	"context"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// DomainEntityRepository persists and queries sending-domain rows.
type DomainEntityRepository interface {
	Get(ctx context.Context, orgID, id string) (*domain.DomainEntity, error)
	GetByName(ctx context.Context, orgID, name string) (*domain.DomainEntity, error)
	Create(ctx context.Context, d *domain.DomainEntity) error
	Update(ctx context.Context, d *domain.DomainEntity) error
	ListByOrg(ctx context.Context, orgID string) ([]domain.DomainEntity, error)
}
