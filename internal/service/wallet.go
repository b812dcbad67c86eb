package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	otelad "github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/adapter/otel"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/config"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/billing"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/port/database"
)

// WalletService gates and charges billable work. It is the only
// component that mutates wallet or quota state, and the billing-bypass
// flag injected here is the only bypass point in the system.
type WalletService struct {
	store         database.Store
	quota         *QuotaService
	bypass        bool
	bypassBalance int64
	metrics       *otelad.Metrics
}

// NewWalletService creates a wallet service from the billing config.
func NewWalletService(store database.Store, quota *QuotaService, cfg config.Billing) *WalletService {
	return &WalletService{
		store:         store,
		quota:         quota,
		bypass:        cfg.Bypass,
		bypassBalance: cfg.BypassBalance,
	}
}

// SetMetrics attaches metric instruments to the wallet service.
func (s *WalletService) SetMetrics(m *otelad.Metrics) {
	s.metrics = m
}

// Charge gates and applies one charge. Denials are the sentinel errors
// in the billing package; quota and seat checks run before the wallet is
// touched so a denied request never appears in the ledger.
func (s *WalletService) Charge(ctx context.Context, req billing.ChargeRequest) (*billing.Receipt, error) {
	if req.OrgID == "" {
		return nil, billing.ErrOrgNotFound
	}
	if req.Cost < 0 {
		return nil, fmt.Errorf("charge cost must be non-negative, got %d", req.Cost)
	}

	if s.bypass {
		return &billing.Receipt{Balance: s.bypassBalance, Bypassed: true}, nil
	}

	ctx, span := otelad.StartChargeSpan(ctx, req.OrgID, req.Route)
	defer span.End()

	seat, err := s.quota.CheckSeatLimit(ctx, req.OrgID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("seat check: %w", err)
	}
	if !seat.Allowed {
		s.countDenial(ctx, billing.ErrSeatLimitExceeded)
		span.SetStatus(codes.Error, billing.ErrSeatLimitExceeded.Error())
		return nil, fmt.Errorf("org %s seats %d/%d: %w",
			req.OrgID, seat.CurrentSeats, seat.MaxSeats, billing.ErrSeatLimitExceeded)
	}

	if req.ToolKey != "" {
		q, err := s.quota.CheckDailyQuota(ctx, req.OrgID, req.ToolKey)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("daily quota check: %w", err)
		}
		if !q.Allowed {
			s.countDenial(ctx, billing.ErrDailyQuotaExceeded)
			span.SetStatus(codes.Error, billing.ErrDailyQuotaExceeded.Error())
			return nil, fmt.Errorf("org %s tool %s used %d of %d today: %w",
				req.OrgID, req.ToolKey, q.Used, q.Limit, billing.ErrDailyQuotaExceeded)
		}
	}

	receipt, err := s.store.Charge(ctx, req)
	if err != nil {
		if errors.Is(err, billing.ErrInsufficientTokens) {
			s.countDenial(ctx, billing.ErrInsufficientTokens)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("replayed", receipt.Replayed))

	if s.metrics != nil && !receipt.Replayed {
		s.metrics.ChargesApplied.Add(ctx, 1)
		s.metrics.ChargeCost.Record(ctx, req.Cost)
	}
	slog.Debug("charge applied",
		"org_id", req.OrgID, "cost", req.Cost, "route", req.Route, "replayed", receipt.Replayed)
	return receipt, nil
}

// Credit grants tokens to an organization's wallet.
func (s *WalletService) Credit(ctx context.Context, orgID string, amount int64, reason, ref string) (*billing.Receipt, error) {
	if orgID == "" {
		return nil, billing.ErrOrgNotFound
	}
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	return s.store.Credit(ctx, orgID, amount, reason, ref)
}

// Wallet returns the wallet snapshot for orgID.
func (s *WalletService) Wallet(ctx context.Context, orgID string) (*billing.Wallet, error) {
	return s.store.GetWallet(ctx, orgID)
}

// Ledger returns the newest ledger entries for orgID.
func (s *WalletService) Ledger(ctx context.Context, orgID string, limit int) ([]billing.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListLedger(ctx, orgID, limit)
}

func (s *WalletService) countDenial(ctx context.Context, cause error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ChargesDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", cause.Error())))
}
