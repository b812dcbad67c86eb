package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/billing"
)

const pgUniqueViolation = "23505"

// Charge executes one atomic charge. The wallet row is locked with
// SELECT ... FOR UPDATE so the balance check and decrement are one
// indivisible operation under concurrent access; the ledger insert and
// optional usage insert commit in the same transaction or not at all.
func (s *Store) Charge(ctx context.Context, req billing.ChargeRequest) (*billing.Receipt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin charge tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// Replayed request key: return the recorded receipt, mutate nothing.
	if req.RequestKey != "" {
		var balanceAfter int64
		err := tx.QueryRow(ctx,
			`SELECT balance_after FROM token_ledger WHERE org_id = $1 AND request_key = $2`,
			req.OrgID, req.RequestKey,
		).Scan(&balanceAfter)
		switch {
		case err == nil:
			return &billing.Receipt{Balance: balanceAfter, Replayed: true}, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return nil, fmt.Errorf("lookup request key: %w", err)
		}
	}

	// Wallets are created lazily at zero balance on first charge attempt.
	if _, err := tx.Exec(ctx,
		`INSERT INTO token_wallets (org_id) VALUES ($1) ON CONFLICT (org_id) DO NOTHING`, req.OrgID,
	); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	var balance int64
	if err := tx.QueryRow(ctx,
		`SELECT balance FROM token_wallets WHERE org_id = $1 FOR UPDATE`, req.OrgID,
	).Scan(&balance); err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}

	if balance < req.Cost {
		return nil, fmt.Errorf("charge %s cost %d balance %d: %w",
			req.OrgID, req.Cost, balance, billing.ErrInsufficientTokens)
	}

	newBalance := balance - req.Cost
	if _, err := tx.Exec(ctx,
		`UPDATE token_wallets SET balance = $2, updated_at = now() WHERE org_id = $1`,
		req.OrgID, newBalance,
	); err != nil {
		return nil, fmt.Errorf("decrement wallet: %w", err)
	}

	meta, err := json.Marshal(map[string]any{"tool_key": req.ToolKey, "user_id": req.UserID})
	if err != nil {
		return nil, fmt.Errorf("marshal ledger metadata: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO token_ledger (org_id, delta, reason, ref, request_key, balance_after, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		req.OrgID, -req.Cost, req.Reason, req.Route, nullIfEmpty(req.RequestKey), newBalance, meta,
	); err != nil {
		// A concurrent charge with the same request key won the race;
		// this attempt must become a no-op replay.
		if req.RequestKey != "" && isUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			return s.replayReceipt(ctx, req.OrgID, req.RequestKey)
		}
		return nil, fmt.Errorf("append ledger: %w", err)
	}

	if req.ToolKey != "" {
		if _, err := tx.Exec(ctx,
			`INSERT INTO tool_usage (org_id, user_id, tool_key) VALUES ($1, $2, $3)`,
			req.OrgID, req.UserID, req.ToolKey,
		); err != nil {
			return nil, fmt.Errorf("record tool usage: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit charge: %w", err)
	}
	return &billing.Receipt{Balance: newBalance}, nil
}

// Credit appends a positive grant to the wallet and ledger.
func (s *Store) Credit(ctx context.Context, orgID string, amount int64, reason, ref string) (*billing.Receipt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin credit tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx,
		`INSERT INTO token_wallets (org_id) VALUES ($1) ON CONFLICT (org_id) DO NOTHING`, orgID,
	); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	var newBalance int64
	if err := tx.QueryRow(ctx,
		`UPDATE token_wallets SET balance = balance + $2, updated_at = now()
		 WHERE org_id = $1 RETURNING balance`, orgID, amount,
	).Scan(&newBalance); err != nil {
		return nil, fmt.Errorf("credit wallet: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO token_ledger (org_id, delta, reason, ref, balance_after)
		 VALUES ($1, $2, $3, $4, $5)`,
		orgID, amount, reason, ref, newBalance,
	); err != nil {
		return nil, fmt.Errorf("append ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit credit: %w", err)
	}
	return &billing.Receipt{Balance: newBalance}, nil
}

func (s *Store) replayReceipt(ctx context.Context, orgID, requestKey string) (*billing.Receipt, error) {
	var balanceAfter int64
	err := s.pool.QueryRow(ctx,
		`SELECT balance_after FROM token_ledger WHERE org_id = $1 AND request_key = $2`,
		orgID, requestKey,
	).Scan(&balanceAfter)
	if err != nil {
		return nil, fmt.Errorf("replay receipt: %w", err)
	}
	return &billing.Receipt{Balance: balanceAfter, Replayed: true}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// nullIfEmpty returns nil for empty strings (for nullable columns).
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
