// Package circuitbreaker wraps outbound platform-adapter calls with a
// per-service breaker. A tripped breaker degrades health checks and
// logging only; it never feeds the execution-gate decision directly.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Thresholds for the shared circuit-breaker policy applied to every
// platform adapter.
const (
	FailureThreshold   = 5
	OpenDuration       = 30 * time.Second
	HalfOpenTrialCalls = 2
)

// Registry hands out one breaker per named external service, creating it
// lazily on first use.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{breakers: map[string]*gobreaker.CircuitBreaker{}}
}

func (r *Registry) breaker(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: HalfOpenTrialCalls,
		Timeout:     OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= FailureThreshold
		},
	})
	r.breakers[name] = b
	return b
}

// Do executes fn through the named breaker. A rejected call (breaker open)
// surfaces as gobreaker.ErrOpenState so callers can map it to INFRA_ISSUE.
func (r *Registry) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	b := r.breaker(name)
	_, err := b.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("circuitbreaker %s: %w", name, err)
	}
	return nil
}

// State reports the breaker's current state for health reporting.
func (r *Registry) State(name string) gobreaker.State {
	return r.breaker(name).State()
}
