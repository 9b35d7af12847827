package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/deliverability-engine/internal/config"
	"github.com/ignite/deliverability-engine/internal/gate"
	"github.com/ignite/deliverability-engine/internal/monitor"
	"github.com/ignite/deliverability-engine/internal/repository"
	"github.com/ignite/deliverability-engine/internal/worker"
)

// Dependencies bundles everything the HTTP surface needs, built by
// cmd/server/main.go and handed to NewServer. Grouping these avoids an
// ever-growing constructor argument list as the admin RPC surface grows.
type Dependencies struct {
	DB            *sql.DB
	RedisClient   *redis.Client
	Organizations repository.OrganizationRepository
	EventStore    repository.EventStore
	Queue         *worker.Queue
	Handler       *worker.Handler
	DLQ           *worker.DLQ
	Backlog       *worker.BacklogMonitor
	Monitor       *monitor.Monitor
	Gate          *gate.Gate
	SyncHub       *SyncProgressHub
}

// Server is the HTTP surface for the control plane: webhook
// ingestion, SSE sync progress, admin RPCs, and health probes.
type Server struct {
	config config.ServerConfig
	router *chi.Mux
	server *http.Server
}

// NewServer wires every handler and mounts routes.
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	orgResolver := &OrgResolver{Organizations: deps.Organizations}

	webhookHandler := &WebhookHandler{
		Organizations: deps.Organizations,
		Queue:         deps.Queue,
		Ingestor:      worker.Ingestor{},
	}

	adminHandler := &AdminHandler{
		Organizations: deps.Organizations,
		EventStore:    deps.EventStore,
		DLQ:           deps.DLQ,
		Handler:       deps.Handler,
		Monitor:       deps.Monitor,
		Gate:          deps.Gate,
	}

	health := NewHealthChecker(deps.DB, deps.RedisClient, deps.Backlog)

	sseHub := deps.SyncHub
	if sseHub == nil {
		sseHub = NewSyncProgressHub()
	}

	router := SetupRoutes(routeHandlers{
		Org:     orgResolver,
		Webhook: webhookHandler,
		Admin:   adminHandler,
		Health:  health,
		SSE:     sseHub,
	})

	return &Server{config: cfg, router: router}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // SSE streams hold the connection open indefinitely
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}
