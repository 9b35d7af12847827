package api

import (
	"net/http"

	"github.com/ignite/deliverability-engine/internal/pkg/httputil"
)

// respondJSON writes v as a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	httputil.JSON(w, status, v)
}
