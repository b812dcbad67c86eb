// Package billing defines the token wallet, append-only ledger, tool
// usage records, and plan limits that gate billable agent work.
package billing

import (
	"errors"
	"time"
)

// Charge denial outcomes. The wallet service returns these as sentinel
// errors; the HTTP layer maps them to stable error codes.
var (
	ErrInsufficientTokens = errors.New("insufficient_tokens")
	ErrOrgNotFound        = errors.New("org_not_found")
	ErrSeatLimitExceeded  = errors.New("seat_limit_exceeded")
	ErrDailyQuotaExceeded = errors.New("daily_quota_exceeded")
)

// Wallet is the per-organization balance record. Rows are created lazily
// at zero balance on the first charge attempt. No counter may go
// negative; every decrement pairs with a ledger entry in the same
// transaction.
type Wallet struct {
	OrgID string `json:"org_id"`
	// Balance is the general task allowance in tokens.
	Balance int64 `json:"balance"`
	// ToolBalances holds per-tool-category allowances. Read-only with
	// respect to Charge, which spends the general balance.
	ToolBalances map[string]int64 `json:"tool_balances,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// LedgerEntry is one append-only balance change. Entries are never
// updated or deleted; replaying an organization's deltas in commit order
// from zero must reproduce the wallet balance exactly.
type LedgerEntry struct {
	ID    string `json:"id"`
	OrgID string `json:"org_id"`
	// Delta is signed: negative for charges, positive for grants.
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
	// Ref identifies the task or route that caused the entry.
	Ref string `json:"ref"`
	// RequestKey is the charge idempotency key, if the caller sent one.
	RequestKey   string         `json:"request_key,omitempty"`
	BalanceAfter int64          `json:"balance_after"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ToolUsageRecord is one billable tool invocation, used solely to
// compute daily quota consumption.
type ToolUsageRecord struct {
	ID      string    `json:"id"`
	OrgID   string    `json:"org_id"`
	UserID  string    `json:"user_id,omitempty"`
	ToolKey string    `json:"tool_key"`
	UsedAt  time.Time `json:"used_at"`
}

// PlanLimits are the plan-defined ceilings for an organization. Owned by
// the billing/plan subsystem; read-only here.
type PlanLimits struct {
	PlanTier string `json:"plan_tier"`
	// UserSeats is the max concurrent organization members.
	UserSeats int `json:"user_seats"`
	// Daily maps tool key to its daily invocation ceiling.
	Daily map[string]int `json:"daily"`
}

// DailyLimit returns the ceiling for toolKey, with ok false when the
// plan does not restrict it.
func (p PlanLimits) DailyLimit(toolKey string) (int, bool) {
	n, ok := p.Daily[toolKey]
	return n, ok
}

// ChargeRequest is one atomic charge attempt against a wallet.
type ChargeRequest struct {
	OrgID  string `json:"org_id"`
	Cost   int64  `json:"cost"`
	Route  string `json:"route"`
	Reason string `json:"reason"`
	// ToolKey, when set, subjects the charge to the daily quota and
	// records a ToolUsageRecord on success.
	ToolKey string `json:"tool_key,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	// RequestKey makes the charge idempotent: replaying a key that
	// already produced a ledger entry is a no-op.
	RequestKey string `json:"request_key,omitempty"`
}

// Receipt is the outcome of a successful (or bypassed, or replayed)
// charge.
type Receipt struct {
	Balance int64 `json:"balance"`
	// Bypassed is true when the billing-bypass flag swallowed the charge.
	Bypassed bool `json:"bypassed,omitempty"`
	// Replayed is true when RequestKey matched a prior ledger entry and
	// nothing was mutated.
	Replayed bool `json:"replayed,omitempty"`
}

// SeatCheck is the advisory seat-limit read.
type SeatCheck struct {
	Allowed      bool `json:"allowed"`
	CurrentSeats int  `json:"current_seats"`
	MaxSeats     int  `json:"max_seats"`
	// Available is false when no membership directory is wired; the
	// check then reports Allowed without a live count.
	Available bool `json:"available"`
}

// QuotaCheck is the advisory daily-quota read for one tool key.
type QuotaCheck struct {
	Allowed bool `json:"allowed"`
	Used    int  `json:"used"`
	Limit   int  `json:"limit"`
}
