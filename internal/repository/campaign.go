package repository

import (
	"context"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// CampaignRepository persists and queries Campaign rows.
type CampaignRepository interface {
	Get(ctx context.Context, orgID, id string) (*domain.Campaign, error)
	Create(ctx context.Context, c *domain.Campaign) error
	Update(ctx context.Context, c *domain.Campaign) error
	ListActiveByOrg(ctx context.Context, orgID string) ([]domain.Campaign, error)

	// ListByMailbox returns the campaigns a mailbox is assigned to, used by
	// the platform adapter's RemoveFromCampaign fan-out on pause.
	ListByMailbox(ctx context.Context, orgID, mailboxID string) ([]domain.Campaign, error)
}
