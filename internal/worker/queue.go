package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
	"github.com/ignite/deliverability-engine/internal/repository"
)

// Retry/backoff and concurrency parameters.
const (
	DefaultConcurrency = 5
	GlobalRateCapPerSec = 50

	RetryBaseDelay = 5 * time.Second
	RetryMaxDelay  = 120 * time.Second
)

// BackoffDelay returns the exponential backoff delay for the given attempt
// (1-indexed): RetryBaseDelay × 6^(attempt-1), capped at RetryMaxDelay,
// which gives 5s/30s/120s.
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(RetryBaseDelay) * math.Pow(6, float64(attempt-1)))
	if d > RetryMaxDelay {
		return RetryMaxDelay
	}
	return d
}

// Queue pulls unprocessed events from the EventStore and dispatches them to
// a Handler with bounded concurrency and a global rate cap. EnqueueSync runs
// the handler inline in the caller's goroutine, but Queue never switches to
// it by itself: Enqueue dispatches asynchronously whether or not a
// RateLimiter (and so Redis) is configured.
type Queue struct {
	Store       repository.EventStore
	Handler     *Handler
	RateLimiter *RateLimiter // optional; nil disables the global rate cap
	Concurrency int

	sem chan struct{}
}

func (q *Queue) concurrency() int {
	if q.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return q.Concurrency
}

func (q *Queue) semaphore() chan struct{} {
	if q.sem == nil {
		q.sem = make(chan struct{}, q.concurrency())
	}
	return q.sem
}

// Enqueue stores ev idempotently and, if it is newly inserted, dispatches
// it for asynchronous processing. A duplicate idempotency key is a no-op —
// the caller already got the original event's processing guarantee.
func (q *Queue) Enqueue(ctx context.Context, ev *domain.RawEvent) (accepted bool, err error) {
	id, isNew, err := q.Store.Store(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("queue: store event: %w", err)
	}
	ev.ID = id
	if !isNew {
		return false, nil
	}

	go q.dispatch(context.Background(), ev)
	return true, nil
}

// EnqueueSync stores ev and runs the handler inline, blocking until it
// completes. No caller in this module selects it when Redis is
// unavailable; it runs inline only when called directly.
func (q *Queue) EnqueueSync(ctx context.Context, ev *domain.RawEvent) error {
	id, isNew, err := q.Store.Store(ctx, ev)
	if err != nil {
		return fmt.Errorf("queue: store event: %w", err)
	}
	ev.ID = id
	if !isNew {
		return nil
	}
	return q.process(ctx, ev)
}

func (q *Queue) dispatch(ctx context.Context, ev *domain.RawEvent) {
	sem := q.semaphore()
	sem <- struct{}{}
	defer func() { <-sem }()

	if q.RateLimiter != nil {
		if err := q.RateLimiter.WaitGlobal(ctx); err != nil {
			logger.Error("queue: rate limiter wait failed", "event_id", ev.ID, "error", err.Error())
		}
	}

	if err := q.process(ctx, ev); err != nil {
		logger.Error("queue: event processing failed", "event_id", ev.ID, "event_type", string(ev.EventType), "error", err.Error())
	}
}

func (q *Queue) process(ctx context.Context, ev *domain.RawEvent) error {
	err := q.Handler.Handle(ctx, ev)
	if err == nil {
		if merr := q.Store.MarkProcessed(ctx, ev.ID); merr != nil {
			logger.Error("queue: mark processed failed", "event_id", ev.ID, "error", merr.Error())
		}
		return nil
	}

	if ferr := q.Store.MarkFailed(ctx, ev.ID, err); ferr != nil {
		logger.Error("queue: mark failed failed", "event_id", ev.ID, "error", ferr.Error())
	}
	return err
}

// DrainUnprocessed polls the EventStore once for up to batchSize unprocessed
// events for org and dispatches each, used by cmd/worker's periodic drain
// loop, which runs whether or not Redis is configured.
func (q *Queue) DrainUnprocessed(ctx context.Context, orgID string, batchSize int) (int, error) {
	events, err := q.Store.Unprocessed(ctx, orgID, batchSize)
	if err != nil {
		return 0, fmt.Errorf("queue: list unprocessed: %w", err)
	}

	var wg sync.WaitGroup
	for i := range events {
		ev := &events[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.dispatch(ctx, ev)
		}()
	}
	wg.Wait()
	return len(events), nil
}

// ErrExhausted names the condition of an event reaching
// domain.MaxEventRetries. No function in this package returns it; exhausted
// events are left out of EventStore.Unprocessed and surface via DLQ.List.
var ErrExhausted = errors.New("queue: retries exhausted")
