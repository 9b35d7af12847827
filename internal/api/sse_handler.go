package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/deliverability-engine/internal/pkg/logger"
)

// SyncProgressHub broadcasts per-session platform-sync progress events to
// SSE subscribers, adapted from the teacher's pg_notify-backed WebSocketHub
// (websocket_hub.go) to a programmatic Publish call since sync progress
// originates from internal/workers, not a database trigger.
type SyncProgressHub struct {
	mu       sync.RWMutex
	sessions map[string]map[chan []byte]bool
}

// NewSyncProgressHub creates an empty hub.
func NewSyncProgressHub() *SyncProgressHub {
	return &SyncProgressHub{sessions: make(map[string]map[chan []byte]bool)}
}

// Publish sends a progress event to every subscriber of sessionID. Slow
// subscribers that can't keep up have the message dropped, matching the
// teacher hub's non-blocking broadcast.
func (h *SyncProgressHub) Publish(sessionID string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("sse: marshal event failed", "session_id", sessionID, "error", err.Error())
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.sessions[sessionID] {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (h *SyncProgressHub) subscribe(sessionID string) chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[chan []byte]bool)
	}
	h.sessions[sessionID][ch] = true
	h.mu.Unlock()
	return ch
}

func (h *SyncProgressHub) unsubscribe(sessionID string, ch chan []byte) {
	h.mu.Lock()
	delete(h.sessions[sessionID], ch)
	if len(h.sessions[sessionID]) == 0 {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()
	close(ch)
}

const sseHeartbeatInterval = 15 * time.Second

// HandleSyncProgress serves GET /sync-progress/{sessionId} as a
// Server-Sent Events stream: event-stream content type, no
// caching, a 15s comment heartbeat, and one "data: {json}\n\n" frame per
// published event.
func (h *SyncProgressHub) HandleSyncProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sessionID := chi.URLParam(r, "sessionId")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.subscribe(sessionID)
	defer h.unsubscribe(sessionID, ch)

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: "))
			w.Write(msg)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()
		}
	}
}
