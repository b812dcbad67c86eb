package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/agent"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/billing"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/task"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/middleware"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/service"
)

// Handlers bundles the services the HTTP surface exposes.
type Handlers struct {
	Submit   *service.SubmitService
	Wallet   *service.WalletService
	Quota    *service.QuotaService
	Registry *agent.Registry
}

// taskBody is the submission payload for both the inline and queued routes.
type taskBody struct {
	Input     string             `json:"input,omitempty"`
	Claims    []json.RawMessage  `json:"claims,omitempty"`
	Leads     []json.RawMessage  `json:"leads,omitempty"`
	Documents []json.RawMessage  `json:"documents,omitempty"`
	Memories  []json.RawMessage  `json:"memories,omitempty"`
	Format    *task.OutputFormat `json:"format,omitempty"`
	RequestID string             `json:"request_id,omitempty"`
	Cost      int64              `json:"cost"`
	ToolKey   string             `json:"tool_key,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}

func (b taskBody) submission(id agent.ID, tenant task.TenantContext) service.Submission {
	return service.Submission{
		Agent: id,
		Request: task.Request{
			Tenant:    tenant,
			Input:     b.Input,
			Claims:    b.Claims,
			Leads:     b.Leads,
			Documents: b.Documents,
			Memories:  b.Memories,
			Format:    b.Format,
			RequestID: b.RequestID,
		},
		Cost:    b.Cost,
		ToolKey: b.ToolKey,
		Reason:  b.Reason,
	}
}

// runTask executes an AllowSync agent inline. The response is always a
// task result; failed attempts are data, not transport errors.
func (h *Handlers) runTask(w http.ResponseWriter, r *http.Request) {
	id := agent.ID(urlParam(r, "agent"))
	if !h.Registry.Known(id) {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}

	body, ok := readJSON[taskBody](w, r)
	if !ok {
		return
	}

	res := h.Submit.Run(r.Context(), body.submission(id, middleware.TenantFromContext(r.Context())))
	writeJSON(w, http.StatusOK, res)
}

// enqueueTask publishes a task to the agent's queue and acknowledges
// with the request ID.
func (h *Handlers) enqueueTask(w http.ResponseWriter, r *http.Request) {
	id := agent.ID(urlParam(r, "agent"))
	if !h.Registry.Known(id) {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}

	body, ok := readJSON[taskBody](w, r)
	if !ok {
		return
	}

	requestID, err := h.Submit.Enqueue(r.Context(), body.submission(id, middleware.TenantFromContext(r.Context())))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTenantContext):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, service.ErrUnknownAgent):
			writeError(w, http.StatusNotFound, "unknown agent")
		default:
			writeBillingError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID})
}

// listAgents returns the registry catalog.
func (h *Handlers) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.All())
}

// charge applies one wallet charge.
func (h *Handlers) charge(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[billing.ChargeRequest](w, r)
	if !ok {
		return
	}
	if req.OrgID == "" {
		writeError(w, http.StatusBadRequest, "org_id is required")
		return
	}

	receipt, err := h.Wallet.Charge(r.Context(), req)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// getWallet returns the wallet snapshot for an organization.
func (h *Handlers) getWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.Wallet.Wallet(r.Context(), urlParam(r, "orgID"))
	if err != nil {
		writeBillingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// listLedger returns the newest ledger entries for an organization.
func (h *Handlers) listLedger(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.Wallet.Ledger(r.Context(), urlParam(r, "orgID"), limit)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// checkQuota returns the advisory daily-quota read for a tool key.
func (h *Handlers) checkQuota(w http.ResponseWriter, r *http.Request) {
	q, err := h.Quota.CheckDailyQuota(r.Context(), urlParam(r, "orgID"), urlParam(r, "toolKey"))
	if err != nil {
		writeBillingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// checkSeats returns the advisory seat-limit read.
func (h *Handlers) checkSeats(w http.ResponseWriter, r *http.Request) {
	seats, err := h.Quota.CheckSeatLimit(r.Context(), urlParam(r, "orgID"))
	if err != nil {
		writeBillingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seats)
}
