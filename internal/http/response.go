package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"saldo/internal/api"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, e api.Error) {
	writeJSON(w, status, e)
}

// writeDomainError maps a domain error to the wire envelope and logs
// server-side failures.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, envelope := api.ErrorFromDomain(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed",
			"path", r.URL.Path,
			"error", err)
	}
	writeJSON(w, status, envelope)
}
