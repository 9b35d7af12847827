package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/repository"
)

// DomainEntityRepo implements repository.DomainEntityRepository against
// PostgreSQL. Named to match domain.DomainEntity, table is "domains".
type DomainEntityRepo struct{ db *sql.DB }

// NewDomainEntityRepo creates a Postgres-backed domain repository.
func NewDomainEntityRepo(db *sql.DB) *DomainEntityRepo { return &DomainEntityRepo{db: db} }

const domainColumns = `
	id, organization_id, name, status, recovery_phase, pause_origin,
	consecutive_pauses, resilience_score, cooldown_until, last_pause_at,
	phase_entered_at, clean_sends_since_phase, warning_count,
	total_sent_count, total_bounce_count, total_open_count,
	mailbox_count, unhealthy_mailbox_count, created_at, updated_at`

func scanDomainEntity(row interface{ Scan(...interface{}) error }) (*domain.DomainEntity, error) {
	d := &domain.DomainEntity{}
	err := row.Scan(
		&d.ID, &d.OrganizationID, &d.Name, &d.Status, &d.RecoveryPhase, &d.PauseOrigin,
		&d.ConsecutivePauses, &d.ResilienceScore, &d.CooldownUntil, &d.LastPauseAt,
		&d.PhaseEnteredAt, &d.CleanSendsSincePhase, &d.WarningCount,
		&d.TotalSentCount, &d.TotalBounceCount, &d.TotalOpenCount,
		&d.MailboxCount, &d.UnhealthyMailboxN, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

func (r *DomainEntityRepo) Get(ctx context.Context, orgID, id string) (*domain.DomainEntity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+domainColumns+`
		FROM domains WHERE id = $1 AND organization_id = $2`, id, orgID)
	d, err := scanDomainEntity(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain: %w", err)
	}
	return d, nil
}

func (r *DomainEntityRepo) GetByName(ctx context.Context, orgID, name string) (*domain.DomainEntity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+domainColumns+`
		FROM domains WHERE name = $1 AND organization_id = $2`, name, orgID)
	d, err := scanDomainEntity(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain by name: %w", err)
	}
	return d, nil
}

func (r *DomainEntityRepo) Create(ctx context.Context, d *domain.DomainEntity) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO domains
			(id, organization_id, name, status, recovery_phase, pause_origin,
			 resilience_score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, d.ID, d.OrganizationID, d.Name, d.Status, d.RecoveryPhase, d.PauseOrigin, d.ResilienceScore)
	if err != nil {
		return fmt.Errorf("create domain: %w", err)
	}
	return nil
}

func (r *DomainEntityRepo) Update(ctx context.Context, d *domain.DomainEntity) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE domains SET
			status = $1, recovery_phase = $2, pause_origin = $3,
			consecutive_pauses = $4, resilience_score = $5, cooldown_until = $6,
			last_pause_at = $7, phase_entered_at = $8, clean_sends_since_phase = $9,
			warning_count = $10, total_sent_count = $11, total_bounce_count = $12,
			total_open_count = $13, mailbox_count = $14, unhealthy_mailbox_count = $15,
			updated_at = NOW()
		WHERE id = $16 AND organization_id = $17
	`, d.Status, d.RecoveryPhase, d.PauseOrigin,
		d.ConsecutivePauses, d.ResilienceScore, d.CooldownUntil,
		d.LastPauseAt, d.PhaseEnteredAt, d.CleanSendsSincePhase,
		d.WarningCount, d.TotalSentCount, d.TotalBounceCount,
		d.TotalOpenCount, d.MailboxCount, d.UnhealthyMailboxN, d.ID, d.OrganizationID)
	if err != nil {
		return fmt.Errorf("update domain: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *DomainEntityRepo) ListByOrg(ctx context.Context, orgID string) ([]domain.DomainEntity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+domainColumns+`
		FROM domains WHERE organization_id = $1 ORDER BY name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []domain.DomainEntity
	for rows.Next() {
		d, err := scanDomainEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
