package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/deliverability-engine/internal/config"
	"github.com/ignite/deliverability-engine/internal/healing"
	"github.com/ignite/deliverability-engine/internal/monitor"
	"github.com/ignite/deliverability-engine/internal/pkg/circuitbreaker"
	"github.com/ignite/deliverability-engine/internal/pkg/distlock"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
	"github.com/ignite/deliverability-engine/internal/repository/postgres"
	"github.com/ignite/deliverability-engine/internal/worker"
	"github.com/ignite/deliverability-engine/internal/workers"
)

func main() {
	logger.Info("worker: starting")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		logger.Error("worker: load config failed", "error", err.Error())
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("worker: open database failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetimeDuration())

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Error("worker: ping database failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("worker: connected to database")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("worker: parse redis url failed", "error", err.Error())
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("worker: redis ping failed, continuing without distributed locks", "error", err.Error())
			redisClient = nil
		} else {
			logger.Info("worker: connected to redis")
		}
	}

	organizations := postgres.NewOrganizationRepo(db)
	eventStore := postgres.NewEventStore(db)
	mailboxes := postgres.NewMailboxRepo(db)
	mailboxMetrics := postgres.NewMailboxMetricsRepo(db)
	domains := postgres.NewDomainEntityRepo(db)
	transitions := postgres.NewTransitionRepo(db)
	notifications := postgres.NewNotificationRepo(db)
	auditLogs := postgres.NewAuditLogRepo(db)
	campaigns := postgres.NewCampaignRepo(db)

	healingSvc := &healing.Service{
		Mailboxes:   mailboxes,
		Domains:     domains,
		Transitions: transitions,
		AuditLogs:   auditLogs,
	}

	mon := &monitor.Monitor{
		Mailboxes:      mailboxes,
		MailboxMetrics: mailboxMetrics,
		Domains:        domains,
		Transitions:    transitions,
		Notifications:  notifications,
		AuditLogs:      auditLogs,
		Campaigns:      campaigns,
		EventStore:     eventStore,
		OnRelapse:      healingSvc.Relapse,
	}

	handler := &worker.Handler{Monitor: mon, Organizations: organizations, AuditLogs: auditLogs}

	var rateLimiter *worker.RateLimiter
	if redisClient != nil {
		rateLimiter = worker.NewRateLimiter(redisClient)
	}
	queue := &worker.Queue{
		Store:       eventStore,
		Handler:     handler,
		RateLimiter: rateLimiter,
		Concurrency: cfg.Queue.Concurrency,
	}

	newLock := func(key string, ttl time.Duration) distlock.DistLock {
		return distlock.NewLock(redisClient, db, key, ttl)
	}

	scheduler := &workers.Scheduler{
		Metrics: &workers.MetricsWorker{
			Organizations: organizations,
			Mailboxes:     mailboxes,
			Domains:       domains,
			Monitor:       mon,
			Healing:       healingSvc,
			NewLock:       newLock,
		},
		PlatformSync: &workers.PlatformSyncWorker{
			Organizations: organizations,
			Notifications: notifications,
			// No platform adapters are wired: this module implements no
			// outbound sending-platform API client (Non-goal). The sweep
			// runs as a no-op until an adapter is registered here.
			Adapters: nil,
			Breakers: circuitbreaker.NewRegistry(),
			NewLock:  newLock,
		},
	}

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("worker: scheduler start failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("worker: periodic scheduler started", "metrics_interval", "1m", "platform_sync_interval", "20m")

	// Unprocessed-event drain loop: the Work Queue dispatches new events as
	// they're enqueued, but events left unprocessed after a
	// failed attempt need a sweep to pick them back up.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				orgs, err := organizations.ListAll(ctx)
				if err != nil {
					logger.Error("worker: drain: list organizations failed", "error", err.Error())
					continue
				}
				for _, org := range orgs {
					if n, err := queue.DrainUnprocessed(ctx, org.ID, 100); err != nil {
						logger.Error("worker: drain failed", "org_id", org.ID, "error", err.Error())
					} else if n > 0 {
						logger.Info("worker: drained unprocessed events", "org_id", org.ID, "count", n)
					}
				}
			}
		}
	}()

	logger.Info("worker: running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("worker: shutting down")
	cancelRun()
	scheduler.Stop()
	if redisClient != nil {
		redisClient.Close()
	}
	time.Sleep(1 * time.Second)
	logger.Info("worker: stopped")
}
