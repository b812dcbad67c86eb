package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/billing"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetWallet returns the wallet for orgID.
func (s *Store) GetWallet(ctx context.Context, orgID string) (*billing.Wallet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT org_id, balance, tool_balances, updated_at
		 FROM token_wallets WHERE org_id = $1`, orgID)

	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get wallet %s: %w", orgID, billing.ErrOrgNotFound)
		}
		return nil, fmt.Errorf("get wallet %s: %w", orgID, err)
	}
	return &w, nil
}

// ListLedger returns the newest ledger entries for orgID.
func (s *Store) ListLedger(ctx context.Context, orgID string, limit int) ([]billing.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, org_id, delta, reason, ref, COALESCE(request_key, ''), balance_after, metadata, created_at
		 FROM token_ledger WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var entries []billing.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetPlanLimits returns the plan ceilings for orgID.
func (s *Store) GetPlanLimits(ctx context.Context, orgID string) (*billing.PlanLimits, error) {
	var p billing.PlanLimits
	var dailyJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT plan_tier, user_seats, daily FROM plan_limits WHERE org_id = $1`, orgID,
	).Scan(&p.PlanTier, &p.UserSeats, &dailyJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get plan limits %s: %w", orgID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get plan limits %s: %w", orgID, err)
	}
	if dailyJSON != nil {
		if err := json.Unmarshal(dailyJSON, &p.Daily); err != nil {
			return nil, fmt.Errorf("unmarshal plan daily limits: %w", err)
		}
	}
	return &p, nil
}

// CountToolUsage counts usage rows for orgID and toolKey at or after since.
func (s *Store) CountToolUsage(ctx context.Context, orgID, toolKey string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM tool_usage WHERE org_id = $1 AND tool_key = $2 AND used_at >= $3`,
		orgID, toolKey, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tool usage: %w", err)
	}
	return n, nil
}

// IsMember reports whether userID is an active member of orgID.
func (s *Store) IsMember(ctx context.Context, orgID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM org_members WHERE org_id = $1 AND user_id = $2 AND status = 'active')`,
		orgID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("is member: %w", err)
	}
	return exists, nil
}

// Directory implements the membership directory capability over the
// same schema. Deployments without a local org_members table leave it
// unwired and the quota enforcer degrades to an unavailable seat check.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory creates a membership directory backed by org_members.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// CountActive returns the live count of active members for orgID.
func (d *Directory) CountActive(ctx context.Context, orgID string) (int, error) {
	var n int
	err := d.pool.QueryRow(ctx,
		`SELECT count(*) FROM org_members WHERE org_id = $1 AND status = 'active'`, orgID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

// --- Scanners ---

type scannable interface {
	Scan(dest ...any) error
}

func scanWallet(row scannable) (billing.Wallet, error) {
	var w billing.Wallet
	var toolJSON []byte
	err := row.Scan(&w.OrgID, &w.Balance, &toolJSON, &w.UpdatedAt)
	if err != nil {
		return w, err
	}
	if toolJSON != nil {
		if err := json.Unmarshal(toolJSON, &w.ToolBalances); err != nil {
			return w, fmt.Errorf("unmarshal tool balances: %w", err)
		}
	}
	return w, nil
}

func scanLedgerEntry(row scannable) (billing.LedgerEntry, error) {
	var e billing.LedgerEntry
	var metaJSON []byte
	err := row.Scan(&e.ID, &e.OrgID, &e.Delta, &e.Reason, &e.Ref, &e.RequestKey, &e.BalanceAfter, &metaJSON, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	if metaJSON != nil {
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			return e, fmt.Errorf("unmarshal ledger metadata: %w", err)
		}
	}
	return e, nil
}
