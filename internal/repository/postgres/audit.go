package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// TransitionRepo implements repository.TransitionRepository against
// PostgreSQL.
type TransitionRepo struct{ db *sql.DB }

// NewTransitionRepo creates a Postgres-backed state transition repository.
func NewTransitionRepo(db *sql.DB) *TransitionRepo { return &TransitionRepo{db: db} }

func (r *TransitionRepo) Record(ctx context.Context, t *domain.StateTransition) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO state_transitions
			(id, organization_id, entity_type, entity_id, from_state, to_state,
			 reason, triggered_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, t.ID, t.OrganizationID, t.EntityType, t.EntityID, t.FromState, t.ToState, t.Reason, t.TriggeredBy)
	if err != nil {
		return fmt.Errorf("record state transition: %w", err)
	}
	return nil
}

func (r *TransitionRepo) ListByEntity(ctx context.Context, orgID string, entityType domain.EntityType, entityID string, limit int) ([]domain.StateTransition, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, entity_type, entity_id, from_state, to_state,
		       reason, triggered_by, created_at
		FROM state_transitions
		WHERE organization_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY created_at DESC LIMIT $4
	`, orgID, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list state transitions: %w", err)
	}
	defer rows.Close()

	var out []domain.StateTransition
	for rows.Next() {
		var t domain.StateTransition
		if err := rows.Scan(&t.ID, &t.OrganizationID, &t.EntityType, &t.EntityID,
			&t.FromState, &t.ToState, &t.Reason, &t.TriggeredBy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan state transition: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// NotificationRepo implements repository.NotificationRepository against
// PostgreSQL.
type NotificationRepo struct{ db *sql.DB }

// NewNotificationRepo creates a Postgres-backed notification repository.
func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

func (r *NotificationRepo) Create(ctx context.Context, n *domain.Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, organization_id, severity, campaign_id, title, message, dedupe_key, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM notifications
			WHERE organization_id = $2 AND dedupe_key = $7 AND created_at > NOW() - INTERVAL '24 hours'
		)
	`, n.ID, n.OrganizationID, n.Severity, n.CampaignID, n.Title, n.Message, n.DedupeKey)
	if err != nil {
		return false, fmt.Errorf("create notification: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *NotificationRepo) ListByOrg(ctx context.Context, orgID string, limit, offset int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, severity, campaign_id, title, message, dedupe_key, created_at
		FROM notifications
		WHERE organization_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.OrganizationID, &n.Severity, &n.CampaignID,
			&n.Title, &n.Message, &n.DedupeKey, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// AuditLogRepo implements repository.AuditLogRepository against PostgreSQL.
type AuditLogRepo struct{ db *sql.DB }

// NewAuditLogRepo creates a Postgres-backed audit log repository.
func NewAuditLogRepo(db *sql.DB) *AuditLogRepo { return &AuditLogRepo{db: db} }

func (r *AuditLogRepo) Record(ctx context.Context, a *domain.AuditLog) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, organization_id, entity_type, entity_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, a.ID, a.OrganizationID, a.EntityType, a.EntityID, a.Action, details)
	if err != nil {
		return fmt.Errorf("record audit log: %w", err)
	}
	return nil
}

func (r *AuditLogRepo) ListByEntity(ctx context.Context, orgID string, entityType domain.EntityType, entityID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, entity_type, entity_id, action, details, created_at
		FROM audit_logs
		WHERE organization_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY created_at DESC LIMIT $4
	`, orgID, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		var details []byte
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.EntityType, &a.EntityID, &a.Action, &details, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if len(details) > 0 {
			if jerr := json.Unmarshal(details, &a.Details); jerr != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", jerr)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
