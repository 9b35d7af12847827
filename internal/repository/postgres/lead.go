package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/repository"
)

// LeadRepo implements repository.LeadRepository against PostgreSQL.
type LeadRepo struct{ db *sql.DB }

// NewLeadRepo creates a Postgres-backed lead repository.
func NewLeadRepo(db *sql.DB) *LeadRepo { return &LeadRepo{db: db} }

const leadColumns = `
	id, organization_id, email, persona, lead_score, status,
	assigned_campaign_id, assigned_mailbox_id,
	send_count, open_count, reply_count, bounce_count, created_at, updated_at`

func scanLead(row interface{ Scan(...interface{}) error }) (*domain.Lead, error) {
	l := &domain.Lead{}
	err := row.Scan(
		&l.ID, &l.OrganizationID, &l.Email, &l.Persona, &l.LeadScore, &l.Status,
		&l.AssignedCampaignID, &l.AssignedMailboxID,
		&l.SendCount, &l.OpenCount, &l.ReplyCount, &l.BounceCount, &l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}

func (r *LeadRepo) Get(ctx context.Context, orgID, id string) (*domain.Lead, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+leadColumns+`
		FROM leads WHERE id = $1 AND organization_id = $2`, id, orgID)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

func (r *LeadRepo) Create(ctx context.Context, l *domain.Lead) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO leads
			(id, organization_id, email, persona, lead_score, status,
			 assigned_campaign_id, assigned_mailbox_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, l.ID, l.OrganizationID, l.Email, l.Persona, l.LeadScore, l.Status,
		l.AssignedCampaignID, l.AssignedMailboxID)
	if err != nil {
		return fmt.Errorf("create lead: %w", err)
	}
	return nil
}

func (r *LeadRepo) Update(ctx context.Context, l *domain.Lead) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE leads SET
			status = $1, assigned_campaign_id = $2, assigned_mailbox_id = $3,
			send_count = $4, open_count = $5, reply_count = $6, bounce_count = $7,
			updated_at = NOW()
		WHERE id = $8 AND organization_id = $9
	`, l.Status, l.AssignedCampaignID, l.AssignedMailboxID,
		l.SendCount, l.OpenCount, l.ReplyCount, l.BounceCount, l.ID, l.OrganizationID)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *LeadRepo) ListActiveByMailbox(ctx context.Context, orgID, mailboxID string) ([]domain.Lead, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+leadColumns+`
		FROM leads
		WHERE organization_id = $1 AND assigned_mailbox_id = $2 AND status = $3`,
		orgID, mailboxID, domain.LeadActive)
	if err != nil {
		return nil, fmt.Errorf("list active leads by mailbox: %w", err)
	}
	defer rows.Close()
	return scanLeadRows(rows)
}

func (r *LeadRepo) ListByCampaign(ctx context.Context, orgID, campaignID string, limit, offset int) ([]domain.Lead, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+leadColumns+`
		FROM leads
		WHERE organization_id = $1 AND assigned_campaign_id = $2
		ORDER BY created_at ASC LIMIT $3 OFFSET $4`, orgID, campaignID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list leads by campaign: %w", err)
	}
	defer rows.Close()
	return scanLeadRows(rows)
}

func (r *LeadRepo) CountByState(ctx context.Context, orgID, campaignID string, state domain.LeadState) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM leads
		WHERE organization_id = $1 AND assigned_campaign_id = $2 AND status = $3
	`, orgID, campaignID, state).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count leads by state: %w", err)
	}
	return n, nil
}

func scanLeadRows(rows *sql.Rows) ([]domain.Lead, error) {
	var out []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}
