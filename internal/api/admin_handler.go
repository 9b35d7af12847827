package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/gate"
	"github.com/ignite/deliverability-engine/internal/monitor"
	"github.com/ignite/deliverability-engine/internal/repository"
	"github.com/ignite/deliverability-engine/internal/worker"
)

// AdminHandler exposes the operational RPC surface named below:
// dlq.list, dlq.retry, dlq.retryAll, replay.dryRun, replay.live,
// assessment.run. These are REST endpoints under /admin, gated by the
// same OrgResolver tenant middleware as the rest of the API — this module
// does not implement authentication (non-goal) but does scope every
// operation to a tenant.
type AdminHandler struct {
	Organizations repository.OrganizationRepository
	EventStore    repository.EventStore
	DLQ           *worker.DLQ
	Handler       *worker.Handler
	Monitor       *monitor.Monitor
	Gate          *gate.Gate
}

// HandleDLQList serves GET /admin/dlq?limit=N.
func (h *AdminHandler) HandleDLQList(w http.ResponseWriter, r *http.Request) {
	org, err := RequireOrg(r.Context())
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	params := ParsePagination(r, 50, 500)
	events, err := h.DLQ.List(r.Context(), org.ID, params.Limit)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to list dead-lettered events")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// HandleDLQRetry serves POST /admin/dlq/{jobId}/retry.
func (h *AdminHandler) HandleDLQRetry(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if err := h.DLQ.Retry(r.Context(), jobID); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "retry failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleDLQRetryAll serves POST /admin/dlq/retry-all.
func (h *AdminHandler) HandleDLQRetryAll(w http.ResponseWriter, r *http.Request) {
	org, err := RequireOrg(r.Context())
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	retried, firstErr := h.DLQ.RetryAll(r.Context(), org.ID)
	resp := map[string]interface{}{"retried": retried}
	if firstErr != nil {
		resp["first_error"] = firstErr.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// replayRequest is the shared body shape for replay.dryRun and replay.live.
type replayRequest struct {
	EntityType domain.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	From       *time.Time        `json:"from,omitempty"`
}

// HandleReplayDryRun serves POST /admin/replay/dry-run. It reports which
// events would be replayed without re-dispatching them.
func (h *AdminHandler) HandleReplayDryRun(w http.ResponseWriter, r *http.Request) {
	org, req, ok := h.decodeReplay(w, r)
	if !ok {
		return
	}
	events, err := h.EventStore.ForReplay(r.Context(), org.ID, req.EntityType, req.EntityID, req.From)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "replay lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"would_replay": len(events), "events": events})
}

// HandleReplayLive serves POST /admin/replay/live. It re-dispatches every
// matching processed event through the Handler, in original order, so
// downstream state can be rebuilt from the event log.
func (h *AdminHandler) HandleReplayLive(w http.ResponseWriter, r *http.Request) {
	org, req, ok := h.decodeReplay(w, r)
	if !ok {
		return
	}
	events, err := h.EventStore.ForReplay(r.Context(), org.ID, req.EntityType, req.EntityID, req.From)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "replay lookup failed")
		return
	}

	replayed := 0
	for i := range events {
		if err := h.Handler.Handle(r.Context(), &events[i]); err != nil {
			respondSafeError(w, http.StatusInternalServerError, err, "replay aborted")
			return
		}
		replayed++
	}
	respondJSON(w, http.StatusOK, map[string]int{"replayed": replayed})
}

func (h *AdminHandler) decodeReplay(w http.ResponseWriter, r *http.Request) (*domain.Organization, replayRequest, bool) {
	org, err := RequireOrg(r.Context())
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return nil, replayRequest{}, false
	}
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return nil, replayRequest{}, false
	}
	return org, req, true
}

// HandleAssessmentRun serves POST /admin/assessment/run. Completing the
// onboarding assessment unlocks the execution gate. This module doesn't implement the SMTP/
// DNS assessment itself (non-goal) — the endpoint marks completion once an
// external assessment process reports success.
func (h *AdminHandler) HandleAssessmentRun(w http.ResponseWriter, r *http.Request) {
	org, err := RequireOrg(r.Context())
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	org.AssessmentCompleted = true
	if err := h.Organizations.Update(r.Context(), org); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to persist assessment completion")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"assessment_completed": true})
}

// gateCheckRequest is the body for POST /admin/gate/check.
type gateCheckRequest struct {
	CampaignID string `json:"campaign_id"`
	LeadID     string `json:"lead_id"`
}

// HandleGateCheck serves POST /admin/gate/check, exposing
// Gate.CanExecuteLead as an operational dry-run so callers can
// ask "would this lead be allowed to send right now" without actually
// dispatching anything.
func (h *AdminHandler) HandleGateCheck(w http.ResponseWriter, r *http.Request) {
	org, err := RequireOrg(r.Context())
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var req gateCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	result, err := h.Gate.CanExecuteLead(r.Context(), org.ID, req.CampaignID, req.LeadID)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "gate check failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}
