// Package http provides the HTTP surface over the agent and billing core.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/billing"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", "error", err)
	}
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeBillingError maps billing sentinel errors to stable error codes.
func writeBillingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrInsufficientTokens):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "insufficient_tokens"})
	case errors.Is(err, billing.ErrOrgNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "org_not_found"})
	case errors.Is(err, billing.ErrSeatLimitExceeded):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "seat_limit_exceeded"})
	case errors.Is(err, billing.ErrDailyQuotaExceeded):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "daily_quota_exceeded"})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		slog.Error("billing request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
