// Package httputil holds JSON response helpers for the debug handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/banshee-data/roomview/internal/monitoring"
)

type errorBody struct {
	Error string `json:"error"`
}

// WriteJSON encodes data as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("[Admin] encode response: %v", err)
	}
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, errorBody{Error: msg})
}

func BadRequest(w http.ResponseWriter, msg string) { WriteError(w, http.StatusBadRequest, msg) }

func NotFound(w http.ResponseWriter, msg string) { WriteError(w, http.StatusNotFound, msg) }

func InternalServerError(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusInternalServerError, msg)
}

// RequireGet rejects anything but GET and HEAD with 405. It reports whether
// the handler should continue.
func RequireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}
