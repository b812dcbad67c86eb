// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/billing"
)

// Store is the port interface for the relational store. The wallet and
// ledger rows behind it are the only mutable shared state in this core.
type Store interface {
	// Charge executes one atomic charge: lazily create the wallet,
	// lock the row, check the balance, decrement it, append the ledger
	// entry, and (when req.ToolKey is set) record the tool usage, all
	// in one transaction. Balance check and decrement are indivisible
	// under concurrent access via the row lock.
	//
	// A req.RequestKey that already produced a ledger entry returns the
	// recorded receipt with Replayed set and mutates nothing.
	// balance < cost returns billing.ErrInsufficientTokens and mutates
	// nothing.
	Charge(ctx context.Context, req billing.ChargeRequest) (*billing.Receipt, error)

	// Credit appends a positive grant to the wallet and ledger,
	// creating the wallet if needed.
	Credit(ctx context.Context, orgID string, amount int64, reason, ref string) (*billing.Receipt, error)

	// GetWallet returns the wallet for orgID, or billing.ErrOrgNotFound
	// when no wallet row exists yet.
	GetWallet(ctx context.Context, orgID string) (*billing.Wallet, error)

	// ListLedger returns the newest ledger entries for orgID.
	ListLedger(ctx context.Context, orgID string, limit int) ([]billing.LedgerEntry, error)

	// GetPlanLimits returns the plan ceilings for orgID, or
	// domain.ErrNotFound when the organization has no plan row.
	GetPlanLimits(ctx context.Context, orgID string) (*billing.PlanLimits, error)

	// CountToolUsage counts usage rows for orgID and toolKey at or
	// after since.
	CountToolUsage(ctx context.Context, orgID, toolKey string, since time.Time) (int, error)

	// IsMember reports whether userID is an active member of orgID.
	IsMember(ctx context.Context, orgID, userID string) (bool, error)
}
