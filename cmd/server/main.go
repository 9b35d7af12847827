package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/deliverability-engine/internal/api"
	"github.com/ignite/deliverability-engine/internal/config"
	"github.com/ignite/deliverability-engine/internal/gate"
	"github.com/ignite/deliverability-engine/internal/monitor"
	"github.com/ignite/deliverability-engine/internal/pkg/logger"
	"github.com/ignite/deliverability-engine/internal/repository/postgres"
	"github.com/ignite/deliverability-engine/internal/worker"
)

func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %w", port, addr, err)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	logger.Info("server: starting")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		logger.Error("server: load config failed", "error", err.Error())
		os.Exit(1)
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		logger.Error("server: preflight check failed", "error", err.Error())
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("server: open database failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetimeDuration())

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Error("server: ping database failed", "host", extractHost(cfg.Database.URL), "error", err.Error())
		os.Exit(1)
	}
	logger.Info("server: connected to database", "host", extractHost(cfg.Database.URL))

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("server: parse redis url failed", "error", err.Error())
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("server: redis ping failed, continuing without rate limiting", "error", err.Error())
			redisClient = nil
		} else {
			logger.Info("server: connected to redis")
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
	leads := postgres.NewLeadRepo(db)

	mon := &monitor.Monitor{
		Mailboxes:      mailboxes,
		MailboxMetrics: mailboxMetrics,
		Domains:        domains,
		Transitions:    transitions,
		Notifications:  notifications,
		AuditLogs:      auditLogs,
		Campaigns:      campaigns,
		EventStore:     eventStore,
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

	dlq := &worker.DLQ{Queue: queue}

	backlog := &worker.BacklogMonitor{Store: eventStore, Organizations: organizations}
	backlogCtx, cancelBacklog := context.WithCancel(context.Background())
	defer cancelBacklog()
	go backlog.Start(backlogCtx)

	g := &gate.Gate{
		Organizations:  organizations,
		Campaigns:      campaigns,
		Mailboxes:      mailboxes,
		MailboxMetrics: mailboxMetrics,
		Domains:        domains,
		AuditLogs:      auditLogs,
		Notifications:  notifications,
		Leads:          leads,
	}

	server := api.NewServer(cfg.Server, api.Dependencies{
		DB:            db,
		RedisClient:   redisClient,
		Organizations: organizations,
		EventStore:    eventStore,
		Queue:         queue,
		Handler:       handler,
		DLQ:           dlq,
		Backlog:       backlog,
		Monitor:       mon,
		Gate:          g,
	})

	addr := fmt.Sprintf("%s:%d", host, port)
	go func() {
		logger.Info("server: listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("server: listen failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server: shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server: shutdown error", "error", err.Error())
	}
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("server: stopped")
}
