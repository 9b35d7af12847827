package worker

import (
	"context"
	"fmt"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
)

// DLQ exposes the dead-letter admin operations named below
// (dlq.list, dlq.retry, dlq.retryAll), backing the /admin RPC surface.
type DLQ struct {
	Queue *Queue
}

// List returns up to limit dead-lettered (retries-exhausted) events for org.
func (d *DLQ) List(ctx context.Context, orgID string, limit int) ([]domain.RawEvent, error) {
	events, err := d.Queue.Store.DeadLettered(ctx, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("dlq: list: %w", err)
	}
	return events, nil
}

// Retry resets the named event's retry count and redispatches it
// synchronously, returning the handler's outcome.
func (d *DLQ) Retry(ctx context.Context, eventID string) error {
	ev, err := d.Queue.Store.Get(ctx, eventID)
	if err != nil {
		return fmt.Errorf("dlq: retry: load event: %w", err)
	}
	if err := d.Queue.Store.ResetRetry(ctx, eventID); err != nil {
		return fmt.Errorf("dlq: retry: reset retry count: %w", err)
	}
	ev.RetryCount = 0
	return d.Queue.process(ctx, ev)
}

// RetryAll retries every dead-lettered event for org, batched to avoid an
// unbounded scan, and returns how many were retried along with the first
// error encountered (processing continues past individual failures).
func (d *DLQ) RetryAll(ctx context.Context, orgID string) (retried int, firstErr error) {
	const batchSize = 500
	events, err := d.List(ctx, orgID, batchSize)
	if err != nil {
		return 0, err
	}

	for i := range events {
		if err := d.Retry(ctx, events[i].ID); err != nil {
			logger.Error("dlq: retryAll: event failed again", "event_id", events[i].ID, "error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		retried++
	}
	return retried, firstErr
}
