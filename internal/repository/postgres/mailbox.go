package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/repository"
)

// MailboxRepo implements repository.MailboxRepository against PostgreSQL.
type MailboxRepo struct{ db *sql.DB }

// NewMailboxRepo creates a Postgres-backed mailbox repository.
func NewMailboxRepo(db *sql.DB) *MailboxRepo { return &MailboxRepo{db: db} }

const mailboxColumns = `
	id, organization_id, domain_id, email, status, recovery_phase, pause_origin,
	consecutive_pauses, resilience_score, cooldown_until, last_pause_at,
	phase_entered_at, clean_sends_since_phase, warning_count,
	window_sent_count, window_bounce_count, window_start_at, hard_bounce_count,
	total_sent_count, last_activity_at, smtp_status, imap_status,
	created_at, updated_at`

func scanMailbox(row interface{ Scan(...interface{}) error }) (*domain.Mailbox, error) {
	m := &domain.Mailbox{}
	err := row.Scan(
		&m.ID, &m.OrganizationID, &m.DomainID, &m.Email, &m.Status, &m.RecoveryPhase, &m.PauseOrigin,
		&m.ConsecutivePauses, &m.ResilienceScore, &m.CooldownUntil, &m.LastPauseAt,
		&m.PhaseEnteredAt, &m.CleanSendsSincePhase, &m.WarningCount,
		&m.WindowSentCount, &m.WindowBounceCount, &m.WindowStartAt, &m.HardBounceCount,
		&m.TotalSentCount, &m.LastActivityAt, &m.SMTPStatus, &m.IMAPStatus,
		&m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

func (r *MailboxRepo) loadRestrictions(ctx context.Context, m *domain.Mailbox) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT provider FROM mailbox_provider_restrictions WHERE mailbox_id = $1
	`, m.ID)
	if err != nil {
		return fmt.Errorf("load provider restrictions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.EmailProvider
		if err := rows.Scan(&p); err != nil {
			return fmt.Errorf("scan provider restriction: %w", err)
		}
		m.ProviderRestrictions = append(m.ProviderRestrictions, p)
	}
	return rows.Err()
}

func (r *MailboxRepo) Get(ctx context.Context, orgID, id string) (*domain.Mailbox, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mailboxColumns+`
		FROM mailboxes WHERE id = $1 AND organization_id = $2`, id, orgID)
	m, err := scanMailbox(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mailbox: %w", err)
	}
	if err := r.loadRestrictions(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MailboxRepo) GetByEmail(ctx context.Context, orgID, email string) (*domain.Mailbox, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mailboxColumns+`
		FROM mailboxes WHERE email = $1 AND organization_id = $2`, email, orgID)
	m, err := scanMailbox(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mailbox by email: %w", err)
	}
	if err := r.loadRestrictions(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MailboxRepo) Create(ctx context.Context, m *domain.Mailbox) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mailboxes
			(id, organization_id, domain_id, email, status, recovery_phase, pause_origin,
			 resilience_score, window_start_at, smtp_status, imap_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`, m.ID, m.OrganizationID, m.DomainID, m.Email, m.Status, m.RecoveryPhase, m.PauseOrigin,
		m.ResilienceScore, m.WindowStartAt, m.SMTPStatus, m.IMAPStatus)
	if err != nil {
		return fmt.Errorf("create mailbox: %w", err)
	}
	return nil
}

func (r *MailboxRepo) Update(ctx context.Context, m *domain.Mailbox) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mailboxes SET
			status = $1, recovery_phase = $2, pause_origin = $3,
			consecutive_pauses = $4, resilience_score = $5, cooldown_until = $6,
			last_pause_at = $7, phase_entered_at = $8, clean_sends_since_phase = $9,
			warning_count = $10, window_sent_count = $11, window_bounce_count = $12,
			window_start_at = $13, hard_bounce_count = $14, total_sent_count = $15,
			last_activity_at = $16, smtp_status = $17, imap_status = $18, updated_at = NOW()
		WHERE id = $19 AND organization_id = $20
	`, m.Status, m.RecoveryPhase, m.PauseOrigin,
		m.ConsecutivePauses, m.ResilienceScore, m.CooldownUntil,
		m.LastPauseAt, m.PhaseEnteredAt, m.CleanSendsSincePhase,
		m.WarningCount, m.WindowSentCount, m.WindowBounceCount,
		m.WindowStartAt, m.HardBounceCount, m.TotalSentCount,
		m.LastActivityAt, m.SMTPStatus, m.IMAPStatus, m.ID, m.OrganizationID)
	if err != nil {
		return fmt.Errorf("update mailbox: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *MailboxRepo) ListByDomain(ctx context.Context, orgID, domainID string) ([]domain.Mailbox, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+mailboxColumns+`
		FROM mailboxes WHERE domain_id = $1 AND organization_id = $2`, domainID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes by domain: %w", err)
	}
	defer rows.Close()
	return scanMailboxRows(rows)
}

func (r *MailboxRepo) ListByOrg(ctx context.Context, orgID string, limit, offset int) ([]domain.Mailbox, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+mailboxColumns+`
		FROM mailboxes WHERE organization_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	defer rows.Close()
	return scanMailboxRows(rows)
}

func (r *MailboxRepo) ListPausedBefore(ctx context.Context, orgID string, cutoffUnixSeconds int64) ([]domain.Mailbox, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+mailboxColumns+`
		FROM mailboxes
		WHERE organization_id = $1 AND status != 'healthy'
		  AND cooldown_until IS NOT NULL AND cooldown_until <= to_timestamp($2)`,
		orgID, cutoffUnixSeconds)
	if err != nil {
		return nil, fmt.Errorf("list paused mailboxes: %w", err)
	}
	defer rows.Close()
	return scanMailboxRows(rows)
}

func (r *MailboxRepo) ListForMetricsRefresh(ctx context.Context, orgID string, batchSize int) ([]domain.Mailbox, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+mailboxColumns+`
		FROM mailboxes
		WHERE organization_id = $1 AND last_activity_at IS NOT NULL
		ORDER BY last_activity_at ASC LIMIT $2`, orgID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes for metrics refresh: %w", err)
	}
	defer rows.Close()
	return scanMailboxRows(rows)
}

func scanMailboxRows(rows *sql.Rows) ([]domain.Mailbox, error) {
	var out []domain.Mailbox
	for rows.Next() {
		m, err := scanMailbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mailbox: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MailboxMetricsRepo implements repository.MailboxMetricsRepository.
type MailboxMetricsRepo struct{ db *sql.DB }

// NewMailboxMetricsRepo creates a Postgres-backed mailbox metrics repository.
func NewMailboxMetricsRepo(db *sql.DB) *MailboxMetricsRepo { return &MailboxMetricsRepo{db: db} }

func (r *MailboxMetricsRepo) Get(ctx context.Context, orgID, mailboxID string) (*domain.MailboxMetrics, error) {
	m := &domain.MailboxMetrics{}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			window_1h_sent, window_1h_bounces, window_1h_failures, window_1h_start,
			window_24h_sent, window_24h_bounces, window_24h_failures, window_24h_start,
			window_7d_sent, window_7d_bounces, window_7d_failures, window_7d_start,
			risk_score, velocity, prev_bounce_rate, prev_failure_rate, updated_at
		FROM mailbox_metrics
		WHERE organization_id = $1 AND mailbox_id = $2
	`, orgID, mailboxID).Scan(
		&m.Window1h.Sent, &m.Window1h.Bounces, &m.Window1h.Failures, &m.Window1h.Start,
		&m.Window24h.Sent, &m.Window24h.Bounces, &m.Window24h.Failures, &m.Window24h.Start,
		&m.Window7d.Sent, &m.Window7d.Bounces, &m.Window7d.Failures, &m.Window7d.Start,
		&m.RiskScore, &m.Velocity, &m.PrevBounceRate, &m.PrevFailureRate, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mailbox metrics: %w", err)
	}
	return m, nil
}

func (r *MailboxMetricsRepo) Upsert(ctx context.Context, orgID, mailboxID string, m *domain.MailboxMetrics) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mailbox_metrics (
			organization_id, mailbox_id,
			window_1h_sent, window_1h_bounces, window_1h_failures, window_1h_start,
			window_24h_sent, window_24h_bounces, window_24h_failures, window_24h_start,
			window_7d_sent, window_7d_bounces, window_7d_failures, window_7d_start,
			risk_score, velocity, prev_bounce_rate, prev_failure_rate, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW())
		ON CONFLICT (organization_id, mailbox_id) DO UPDATE SET
			window_1h_sent = EXCLUDED.window_1h_sent,
			window_1h_bounces = EXCLUDED.window_1h_bounces,
			window_1h_failures = EXCLUDED.window_1h_failures,
			window_1h_start = EXCLUDED.window_1h_start,
			window_24h_sent = EXCLUDED.window_24h_sent,
			window_24h_bounces = EXCLUDED.window_24h_bounces,
			window_24h_failures = EXCLUDED.window_24h_failures,
			window_24h_start = EXCLUDED.window_24h_start,
			window_7d_sent = EXCLUDED.window_7d_sent,
			window_7d_bounces = EXCLUDED.window_7d_bounces,
			window_7d_failures = EXCLUDED.window_7d_failures,
			window_7d_start = EXCLUDED.window_7d_start,
			risk_score = EXCLUDED.risk_score,
			velocity = EXCLUDED.velocity,
			prev_bounce_rate = EXCLUDED.prev_bounce_rate,
			prev_failure_rate = EXCLUDED.prev_failure_rate,
			updated_at = NOW()
	`, orgID, mailboxID,
		m.Window1h.Sent, m.Window1h.Bounces, m.Window1h.Failures, m.Window1h.Start,
		m.Window24h.Sent, m.Window24h.Bounces, m.Window24h.Failures, m.Window24h.Start,
		m.Window7d.Sent, m.Window7d.Bounces, m.Window7d.Failures, m.Window7d.Start,
		m.RiskScore, m.Velocity, m.PrevBounceRate, m.PrevFailureRate)
	if err != nil {
		return fmt.Errorf("upsert mailbox metrics: %w", err)
	}
	return nil
}
