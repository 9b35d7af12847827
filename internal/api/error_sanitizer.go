package api

import (
	"net/http"

	"github.com/ignite/deliverability-engine/internal/pkg/logger"
)

// Ensures internal errors (database details, file paths, stack traces) are
// never leaked to API consumers: 5xx responses carry a generic public
// message while the real error is logged server-side.

// respondSafeError logs the internal error and sends a sanitized JSON error
// response to the client.
func respondSafeError(w http.ResponseWriter, code int, internalErr error, publicMsg string) {
	if internalErr != nil {
		logger.Error("api: request failed", "status", code, "public_message", publicMsg, "error", internalErr.Error())
	}
	respondJSON(w, code, map[string]string{"error": publicMsg})
}
