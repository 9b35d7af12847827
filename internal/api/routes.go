package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// routeHandlers bundles the handlers SetupRoutes mounts. Kept separate from
// Dependencies (server.go) so routes.go has no construction logic of its
// own — it only wires already-built handlers to paths.
type routeHandlers struct {
	Org     *OrgResolver
	Webhook *WebhookHandler
	Admin   *AdminHandler
	Health  *HealthChecker
	SSE     *SyncProgressHub
}

// SetupRoutes configures every route named below: webhook ingestion,
// SSE sync progress, the admin RPC surface, and health probes.
func SetupRoutes(h routeHandlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Organization-ID", "X-Webhook-Signature"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health checks — no tenant scoping.
	r.Get("/health", h.Health.HandleHealth)
	r.Get("/health/live", h.Health.HandleLiveness)
	r.Get("/health/ready", h.Health.HandleReadiness)
	r.Get("/health/db-stats", h.Health.HandleDBStats)

	// Webhook ingestion. The handler itself resolves the tenant
	// from X-Organization-ID since a missing/unknown org must still return
	// 200 OK rather than fail the platform's retry policy.
	r.Post("/webhooks/events", h.Webhook.Handle)

	// Sync progress stream.
	r.Get("/sync-progress/{sessionId}", h.SSE.HandleSyncProgress)

	// Admin RPC surface: dlq.list/retry/retryAll,
	// replay.dryRun/live, assessment.run. Every operation is tenant-scoped
	// via OrgResolver even though this module implements no authentication.
	r.Route("/admin", func(r chi.Router) {
		r.Use(h.Org.Middleware)

		r.Get("/dlq", h.Admin.HandleDLQList)
		r.Post("/dlq/{jobId}/retry", h.Admin.HandleDLQRetry)
		r.Post("/dlq/retry-all", h.Admin.HandleDLQRetryAll)

		r.Post("/replay/dry-run", h.Admin.HandleReplayDryRun)
		r.Post("/replay/live", h.Admin.HandleReplayLive)

		r.Post("/assessment/run", h.Admin.HandleAssessmentRun)
		r.Post("/gate/check", h.Admin.HandleGateCheck)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})

	return r
}
