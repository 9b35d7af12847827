// Package workers implements the two periodic sweeps:
// the metrics worker (risk recompute + cooldown graduation, 60s) and the
// platform sync driver (external state reconciliation, 20min). Both honor
// the organization's system mode and tolerate per-entity failure without
// aborting the cycle.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/healing"
	"github.com/ignite/deliverability-engine/internal/monitor"
	"github.com/ignite/deliverability-engine/internal/pkg/circuitbreaker"
	"github.com/ignite/deliverability-engine/internal/pkg/distlock"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
	"github.com/ignite/deliverability-engine/internal/repository"
)

// Timing and batching parameters.
const (
	MetricsWorkerInterval = 60 * time.Second
	MetricsBatchSize      = 50

	PlatformSyncInterval       = 20 * time.Minute
	PlatformSyncClusterLockTTL = 20 * time.Minute
	PlatformSyncAdapterLockTTL = 10 * time.Minute
	PlatformSyncMinDelay       = 2 * time.Second
	PlatformSyncFailureAlert   = 3

	clusterSyncLockKey = "worker:lock:platform_sync"
)

// Status is the last-cycle outcome of a periodic worker, surfaced for
// operator visibility via the admin RPC surface.
type Status struct {
	LastRunAt time.Time
	LastError error
	RunCount  int64
}

// LockFactory mints a DistLock for the given key/TTL; wired to
// distlock.NewLock by the caller so workers stay storage-agnostic in tests.
type LockFactory func(key string, ttl time.Duration) distlock.DistLock

// MetricsWorker implements the 60s sweep: recompute risk, check cooldown
// expiry, and refresh domain aggregates, batched per organization.
type MetricsWorker struct {
	Organizations repository.OrganizationRepository
	Mailboxes     repository.MailboxRepository
	Domains       repository.DomainEntityRepository
	Monitor       *monitor.Monitor
	Healing       *healing.Service
	NewLock       LockFactory
	Now           func() time.Time

	mu            sync.Mutex
	isCycleActive bool
	status        Status
}

func (w *MetricsWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Status returns a copy of the worker's last-cycle outcome.
func (w *MetricsWorker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Tick runs one sweep cycle. It is safe to call concurrently with itself;
// an overlapping call is a no-op.
func (w *MetricsWorker) Tick(ctx context.Context) {
	w.mu.Lock()
	if w.isCycleActive {
		w.mu.Unlock()
		return
	}
	w.isCycleActive = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.isCycleActive = false
		w.mu.Unlock()
	}()

	var lock distlock.DistLock
	if w.NewLock != nil {
		lock = w.NewLock("worker:lock:metrics_cycle", MetricsWorkerInterval)
		acquired, err := lock.Acquire(ctx)
		if err != nil || !acquired {
			return
		}
		defer lock.Release(ctx)
	}

	err := w.runCycle(ctx)

	w.mu.Lock()
	w.status = Status{LastRunAt: w.now(), LastError: err, RunCount: w.status.RunCount + 1}
	w.mu.Unlock()
}

func (w *MetricsWorker) runCycle(ctx context.Context) error {
	orgs, err := w.Organizations.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("metrics worker: list organizations: %w", err)
	}

	for i := range orgs {
		org := &orgs[i]
		w.sweepOrg(ctx, org)
	}
	return nil
}

func (w *MetricsWorker) sweepOrg(ctx context.Context, org *domain.Organization) {
	mailboxes, err := w.Mailboxes.ListForMetricsRefresh(ctx, org.ID, MetricsBatchSize)
	if err != nil {
		logger.Error("metrics worker: list for refresh failed", "org_id", org.ID, "error", err.Error())
		return
	}
	for _, mb := range mailboxes {
		if err := w.Monitor.RefreshRisk(ctx, org, mb.ID); err != nil {
			logger.Error("metrics worker: refresh risk failed", "org_id", org.ID, "mailbox_id", mb.ID, "error", err.Error())
		}
	}

	cutoff := w.now().Unix()
	paused, err := w.Mailboxes.ListPausedBefore(ctx, org.ID, cutoff)
	if err != nil {
		logger.Error("metrics worker: list paused failed", "org_id", org.ID, "error", err.Error())
		return
	}
	for i := range paused {
		mb := &paused[i]
		if w.Healing == nil {
			continue
		}
		isRepeat := mb.ConsecutivePauses > 1
		nextPhase, ok := w.Healing.GraduationCandidate(mb, true, true, isRepeat)
		if !ok {
			continue
		}
		if err := w.graduate(ctx, org, mb, nextPhase); err != nil {
			logger.Error("metrics worker: graduation failed", "org_id", org.ID, "mailbox_id", mb.ID, "error", err.Error())
		}
	}

	domains, err := w.Domains.ListByOrg(ctx, org.ID)
	if err != nil {
		logger.Error("metrics worker: list domains failed", "org_id", org.ID, "error", err.Error())
		return
	}
	for _, d := range domains {
		if err := w.Monitor.RefreshDomainAggregates(ctx, org, d.ID); err != nil {
			logger.Error("metrics worker: refresh domain aggregates failed", "org_id", org.ID, "domain_id", d.ID, "error", err.Error())
		}
	}
}

func (w *MetricsWorker) graduate(ctx context.Context, org *domain.Organization, mb *domain.Mailbox, nextPhase domain.RecoveryPhase) error {
	if org.SystemMode != domain.ModeEnforce {
		logger.Info("metrics worker: would graduate (non-enforce mode)", "org_id", org.ID, "mailbox_id", mb.ID, "next_phase", string(nextPhase))
		return nil
	}
	return w.Healing.Graduate(ctx, org, mb, nextPhase)
}

// PlatformSyncWorker implements the 20min sweep: reconcile cached platform
// state per adapter per organization.
type PlatformSyncWorker struct {
	Organizations repository.OrganizationRepository
	Notifications repository.NotificationRepository
	Adapters      map[domain.PlatformType]domain.PlatformAdapter
	Breakers      *circuitbreaker.Registry
	NewLock       LockFactory
	Now           func() time.Time
	Sleep         func(time.Duration)

	mu                sync.Mutex
	status            Status
	consecutiveFailed map[string]int
}

func (w *PlatformSyncWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *PlatformSyncWorker) sleep(d time.Duration) {
	if w.Sleep != nil {
		w.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Status returns a copy of the worker's last-cycle outcome.
func (w *PlatformSyncWorker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Tick runs one sync cycle across every organization/adapter pair, gated by
// a cluster-wide lock so only one replica drives sync at a time.
func (w *PlatformSyncWorker) Tick(ctx context.Context) {
	var lock distlock.DistLock
	if w.NewLock != nil {
		lock = w.NewLock(clusterSyncLockKey, PlatformSyncClusterLockTTL)
		acquired, err := lock.Acquire(ctx)
		if err != nil || !acquired {
			return
		}
		defer lock.Release(ctx)
	}

	err := w.runCycle(ctx)

	w.mu.Lock()
	w.status = Status{LastRunAt: w.now(), LastError: err, RunCount: w.status.RunCount + 1}
	w.mu.Unlock()
}

func (w *PlatformSyncWorker) runCycle(ctx context.Context) error {
	if len(w.Adapters) == 0 {
		return nil
	}
	orgs, err := w.Organizations.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("platform sync worker: list organizations: %w", err)
	}

	first := true
	for i := range orgs {
		org := &orgs[i]
		for _, adapter := range w.Adapters {
			if org.SystemMode != domain.ModeEnforce {
				continue
			}
			if !first {
				w.sleep(PlatformSyncMinDelay)
			}
			first = false
			w.syncOne(ctx, org, adapter)
		}
	}
	return nil
}

func (w *PlatformSyncWorker) syncOne(ctx context.Context, org *domain.Organization, adapter domain.PlatformAdapter) {
	key := fmt.Sprintf("worker:lock:sync:%s:%s", org.ID, adapter.Name())
	if w.NewLock != nil {
		lock := w.NewLock(key, PlatformSyncAdapterLockTTL)
		acquired, err := lock.Acquire(ctx)
		if err != nil || !acquired {
			return
		}
		defer lock.Release(ctx)
	}

	var err error
	if w.Breakers != nil {
		err = w.Breakers.Do(ctx, string(adapter.Name()), func(ctx context.Context) error {
			return adapter.Sync(ctx, org.ID)
		})
	} else {
		err = adapter.Sync(ctx, org.ID)
	}
	failKey := org.ID + ":" + string(adapter.Name())

	w.mu.Lock()
	if w.consecutiveFailed == nil {
		w.consecutiveFailed = map[string]int{}
	}
	if err != nil {
		w.consecutiveFailed[failKey]++
		n := w.consecutiveFailed[failKey]
		w.mu.Unlock()
		logger.Error("platform sync failed", "org_id", org.ID, "platform", string(adapter.Name()), "consecutive_failures", n, "error", err.Error())
		if n >= PlatformSyncFailureAlert {
			w.alertSyncFailures(ctx, org, adapter, n)
		}
		return
	}
	w.consecutiveFailed[failKey] = 0
	w.mu.Unlock()
}

func (w *PlatformSyncWorker) alertSyncFailures(ctx context.Context, org *domain.Organization, adapter domain.PlatformAdapter, n int) {
	if w.Notifications == nil {
		return
	}
	_, _ = w.Notifications.Create(ctx, &domain.Notification{
		OrganizationID: org.ID,
		Severity:       domain.SeverityCritical,
		Title:          "Platform sync repeatedly failing",
		Message:        fmt.Sprintf("%s sync has failed %d consecutive times for this organization", adapter.Name(), n),
		DedupeKey:      fmt.Sprintf("platform_sync_failing:%s:%s", org.ID, adapter.Name()),
	})
}

// Scheduler wires both workers to a cron dispatcher.
type Scheduler struct {
	Metrics      *MetricsWorker
	PlatformSync *PlatformSyncWorker

	cron *cron.Cron
}

// Start registers both sweeps on their intervals and begins the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()

	if s.Metrics != nil {
		if _, err := s.cron.AddFunc("@every 1m", func() { s.Metrics.Tick(ctx) }); err != nil {
			return fmt.Errorf("scheduler: register metrics worker: %w", err)
		}
	}
	if s.PlatformSync != nil {
		if _, err := s.cron.AddFunc("@every 20m", func() { s.PlatformSync.Tick(ctx) }); err != nil {
			return fmt.Errorf("scheduler: register platform sync worker: %w", err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}
