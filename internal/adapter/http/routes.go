package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Agent catalog
		r.Get("/agents", h.listAgents)

		// Task submission (inline and queued)
		r.Post("/agents/{agent}/tasks", h.runTask)
		r.Post("/agents/{agent}/queue", h.enqueueTask)

		// Billing
		r.Post("/billing/charge", h.charge)
		r.Get("/billing/wallets/{orgID}", h.getWallet)
		r.Get("/billing/wallets/{orgID}/ledger", h.listLedger)
		r.Get("/billing/quota/{orgID}/{toolKey}", h.checkQuota)
		r.Get("/billing/seats/{orgID}", h.checkSeats)
	})
}
