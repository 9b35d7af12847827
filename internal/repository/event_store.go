package repository

import (
	"context"
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// EventStore is the append-only log of inbound events.
// It is the system of record: all downstream state is derivable from it.
type EventStore interface {
	// Store appends e, or — if e.IdempotencyKey is already present — returns
	// the existing row's id with isNew=false. The check-and-insert is atomic
	// via a unique constraint on idempotency_key.
	Store(ctx context.Context, e *domain.RawEvent) (id string, isNew bool, err error)

	// MarkProcessed marks an event as successfully handled.
	MarkProcessed(ctx context.Context, id string) error

	// MarkFailed increments retry_count and records the error message.
	MarkFailed(ctx context.Context, id string, cause error) error

	// Unprocessed returns up to limit unprocessed events for org, FIFO by
	// created_at, excluding events that have exhausted domain.MaxEventRetries.
	Unprocessed(ctx context.Context, orgID string, limit int) ([]domain.RawEvent, error)

	// ForReplay returns processed events for (orgID, entityType, entityID) in
	// chronological order, optionally starting from a given time.
	ForReplay(ctx context.Context, orgID string, entityType domain.EntityType, entityID string, from *time.Time) ([]domain.RawEvent, error)

	// Get fetches a single event by id.
	Get(ctx context.Context, id string) (*domain.RawEvent, error)

	// DeadLettered returns unprocessed events that have exhausted
	// domain.MaxEventRetries, for the dlq.list admin operation.
	DeadLettered(ctx context.Context, orgID string, limit int) ([]domain.RawEvent, error)

	// ResetRetry zeroes an event's retry count and clears its error message
	// so it becomes eligible for Unprocessed again, for dlq.retry.
	ResetRetry(ctx context.Context, id string) error
}
