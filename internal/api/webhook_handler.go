package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/ignite/deliverability-engine/internal/pkg/logger"
	"github.com/ignite/deliverability-engine/internal/repository"
	"github.com/ignite/deliverability-engine/internal/worker"
)

// WebhookHandler ingests sending-platform engagement events.
// It responds 200 OK — a platform retrying on non-200 would only
// duplicate work the idempotency key already dedupes — except when the
// organization has a webhook secret and the X-Webhook-Signature header does
// not match it, which gets 401 Unauthorized.
type WebhookHandler struct {
	Organizations repository.OrganizationRepository
	Queue         *worker.Queue
	Ingestor      worker.Ingestor
}

// Handle processes POST /webhooks/events.
//
//	POST /webhooks/events
//	X-Organization-ID: <org id>            (tenant selector)
//	X-Webhook-Signature: <hex hmac-sha256> (required only if the org has a
//	                                         webhook_secret configured)
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	orgID := r.Header.Get("X-Organization-ID")
	if orgID == "" {
		respondJSON(w, http.StatusOK, map[string]interface{}{"success": false, "processed": 0})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"success": false, "processed": 0})
		return
	}

	org, err := h.Organizations.Get(r.Context(), orgID)
	if err != nil {
		logger.Warn("webhook: unknown organization", "org_id", orgID)
		respondJSON(w, http.StatusOK, map[string]interface{}{"success": false, "processed": 0})
		return
	}

	if org.WebhookSecret != "" {
		sig := r.Header.Get("X-Webhook-Signature")
		if !verifySignature(org.WebhookSecret, body, sig) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	events, err := h.Ingestor.Parse(org.ID, body)
	if err != nil {
		logger.Warn("webhook: unrecognized envelope", "org_id", org.ID, "error", err.Error())
		respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "processed": 0})
		return
	}

	processed := 0
	for i := range events {
		accepted, err := h.Queue.Enqueue(r.Context(), &events[i])
		if err != nil {
			logger.Error("webhook: enqueue failed", "org_id", org.ID, "error", err.Error())
			continue
		}
		if accepted {
			processed++
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "processed": processed})
}

// verifySignature checks an HMAC-SHA256 hex digest of body against secret,
// using constant-time comparison to avoid a timing side channel.
func verifySignature(secret string, body []byte, sigHex string) bool {
	if sigHex == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sigHex))
}
