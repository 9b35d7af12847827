package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/repository"
)

// EventStore implements repository.EventStore against PostgreSQL. Raw events
// are the system of record; every other table is a projection
// derivable by replaying this one.
type EventStore struct{ db *sql.DB }

// NewEventStore creates a Postgres-backed event store.
func NewEventStore(db *sql.DB) *EventStore { return &EventStore{db: db} }

func (s *EventStore) Store(ctx context.Context, e *domain.RawEvent) (string, bool, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return "", false, fmt.Errorf("marshal event payload: %w", err)
	}

	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO raw_events
			(id, organization_id, event_type, entity_type, entity_id, payload, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING id
	`, e.ID, e.OrganizationID, e.EventType, e.EntityType, e.EntityID, payload, e.IdempotencyKey).Scan(&id)

	if err == sql.ErrNoRows {
		// Conflict hit: an event with this idempotency key already exists.
		existing, gerr := s.getByIdempotencyKey(ctx, e.OrganizationID, *e.IdempotencyKey)
		if gerr != nil {
			return "", false, gerr
		}
		return existing.ID, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store event: %w", err)
	}
	return id, true, nil
}

func (s *EventStore) getByIdempotencyKey(ctx context.Context, orgID, key string) (*domain.RawEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+rawEventColumns+`
		FROM raw_events WHERE organization_id = $1 AND idempotency_key = $2
	`, orgID, key)
	return scanRawEvent(row)
}

const rawEventColumns = `
	id, organization_id, event_type, entity_type, entity_id, payload,
	idempotency_key, processed, processed_at, error_message, retry_count, created_at`

func scanRawEvent(row interface{ Scan(...interface{}) error }) (*domain.RawEvent, error) {
	e := &domain.RawEvent{}
	var payload []byte
	err := row.Scan(
		&e.ID, &e.OrganizationID, &e.EventType, &e.EntityType, &e.EntityID, &payload,
		&e.IdempotencyKey, &e.Processed, &e.ProcessedAt, &e.ErrorMessage, &e.RetryCount, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if jerr := json.Unmarshal(payload, &e.Payload); jerr != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", jerr)
		}
	}
	return e, nil
}

func (s *EventStore) MarkProcessed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE raw_events SET processed = true, processed_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func (s *EventStore) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := cause.Error()
	_, err := s.db.ExecContext(ctx, `
		UPDATE raw_events SET retry_count = retry_count + 1, error_message = $1 WHERE id = $2
	`, msg, id)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return nil
}

func (s *EventStore) Unprocessed(ctx context.Context, orgID string, limit int) ([]domain.RawEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rawEventColumns+`
		FROM raw_events
		WHERE organization_id = $1 AND processed = false AND retry_count < $2
		ORDER BY created_at ASC LIMIT $3
	`, orgID, domain.MaxEventRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed events: %w", err)
	}
	defer rows.Close()

	var out []domain.RawEvent
	for rows.Next() {
		e, err := scanRawEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *EventStore) ForReplay(ctx context.Context, orgID string, entityType domain.EntityType, entityID string, from *time.Time) ([]domain.RawEvent, error) {
	q := `
		SELECT ` + rawEventColumns + `
		FROM raw_events
		WHERE organization_id = $1 AND entity_type = $2 AND entity_id = $3 AND processed = true`
	args := []interface{}{orgID, entityType, entityID}
	if from != nil {
		q += " AND created_at >= $4"
		args = append(args, *from)
	}
	q += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events for replay: %w", err)
	}
	defer rows.Close()

	var out []domain.RawEvent
	for rows.Next() {
		e, err := scanRawEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *EventStore) Get(ctx context.Context, id string) (*domain.RawEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rawEventColumns+` FROM raw_events WHERE id = $1`, id)
	e, err := scanRawEvent(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (s *EventStore) DeadLettered(ctx context.Context, orgID string, limit int) ([]domain.RawEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rawEventColumns+`
		FROM raw_events
		WHERE organization_id = $1 AND processed = false AND retry_count >= $2
		ORDER BY created_at ASC LIMIT $3
	`, orgID, domain.MaxEventRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead-lettered events: %w", err)
	}
	defer rows.Close()

	var out []domain.RawEvent
	for rows.Next() {
		e, err := scanRawEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *EventStore) ResetRetry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE raw_events SET retry_count = 0, error_message = NULL WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("reset event retry count: %w", err)
	}
	return nil
}
