package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/repository"
)

// OrganizationRepo implements repository.OrganizationRepository against
// PostgreSQL.
type OrganizationRepo struct{ db *sql.DB }

// NewOrganizationRepo creates a Postgres-backed organization repository.
func NewOrganizationRepo(db *sql.DB) *OrganizationRepo { return &OrganizationRepo{db: db} }

func (r *OrganizationRepo) Get(ctx context.Context, id string) (*domain.Organization, error) {
	o := &domain.Organization{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, system_mode, assessment_completed, webhook_secret, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`, id).Scan(&o.ID, &o.Name, &o.SystemMode, &o.AssessmentCompleted, &o.WebhookSecret, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return o, nil
}

func (r *OrganizationRepo) GetByWebhookSecret(ctx context.Context, secret string) (*domain.Organization, error) {
	o := &domain.Organization{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, system_mode, assessment_completed, webhook_secret, created_at, updated_at
		FROM organizations
		WHERE webhook_secret = $1
	`, secret).Scan(&o.ID, &o.Name, &o.SystemMode, &o.AssessmentCompleted, &o.WebhookSecret, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization by webhook secret: %w", err)
	}
	return o, nil
}

func (r *OrganizationRepo) ListAll(ctx context.Context) ([]domain.Organization, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, system_mode, assessment_completed, webhook_secret, created_at, updated_at
		FROM organizations
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var out []domain.Organization
	for rows.Next() {
		var o domain.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.SystemMode, &o.AssessmentCompleted, &o.WebhookSecret, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *OrganizationRepo) Update(ctx context.Context, org *domain.Organization) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE organizations
		SET name = $1, system_mode = $2, assessment_completed = $3, updated_at = NOW()
		WHERE id = $4
	`, org.Name, org.SystemMode, org.AssessmentCompleted, org.ID)
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
