package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/config"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/billing"
)

func newTestWallet(store *mockStore, cfg config.Billing) *WalletService {
	return NewWalletService(store, NewQuotaService(store, nil, nil, 0), cfg)
}

func TestChargeDecrementsBalanceUntilInsufficient(t *testing.T) {
	store := newMockStore()
	store.wallets["org-1"] = 30
	w := newTestWallet(store, config.Billing{})

	receipt, err := w.Charge(context.Background(), billing.ChargeRequest{
		OrgID: "org-1", Cost: 25, Route: "agents/claims_analysis", Reason: "claim review",
	})
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Balance != 5 {
		t.Errorf("balance after charge = %d, want 5", receipt.Balance)
	}

	_, err = w.Charge(context.Background(), billing.ChargeRequest{
		OrgID: "org-1", Cost: 25, Route: "agents/claims_analysis", Reason: "claim review",
	})
	if !errors.Is(err, billing.ErrInsufficientTokens) {
		t.Fatalf("second charge error = %v, want insufficient_tokens", err)
	}

	// The denied charge must leave no trace.
	entries := store.ledgerFor("org-1")
	if len(entries) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(entries))
	}
	if entries[0].Delta != -25 || entries[0].BalanceAfter != 5 {
		t.Errorf("ledger entry = %+v", entries[0])
	}
}

func TestChargeLazilyCreatesWalletAtZero(t *testing.T) {
	store := newMockStore()
	w := newTestWallet(store, config.Billing{})

	_, err := w.Charge(context.Background(), billing.ChargeRequest{OrgID: "org-new", Cost: 10})
	if !errors.Is(err, billing.ErrInsufficientTokens) {
		t.Fatalf("charge against fresh wallet = %v, want insufficient_tokens", err)
	}

	// Zero-cost charges clear against a zero balance.
	receipt, err := w.Charge(context.Background(), billing.ChargeRequest{OrgID: "org-new", Cost: 0})
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Balance != 0 {
		t.Errorf("balance = %d, want 0", receipt.Balance)
	}
}

func TestChargeRejectsEmptyOrgAndNegativeCost(t *testing.T) {
	w := newTestWallet(newMockStore(), config.Billing{})

	if _, err := w.Charge(context.Background(), billing.ChargeRequest{Cost: 5}); !errors.Is(err, billing.ErrOrgNotFound) {
		t.Errorf("empty org error = %v, want org_not_found", err)
	}
	if _, err := w.Charge(context.Background(), billing.ChargeRequest{OrgID: "org-1", Cost: -1}); err == nil {
		t.Error("negative cost accepted")
	}
}

func TestChargeBypass(t *testing.T) {
	store := newMockStore()
	w := newTestWallet(store, config.Billing{Bypass: true, BypassBalance: 999})

	receipt, err := w.Charge(context.Background(), billing.ChargeRequest{OrgID: "org-1", Cost: 1 << 40})
	if err != nil {
		t.Fatal(err)
	}
	if !receipt.Bypassed {
		t.Error("receipt not marked bypassed")
	}
	if receipt.Balance != 999 {
		t.Errorf("bypass balance = %d, want 999", receipt.Balance)
	}
	if len(store.ledgerFor("org-1")) != 0 {
		t.Error("bypassed charge wrote a ledger entry")
	}
}

func TestChargeDeniedBySeatLimitBeforeWalletTouch(t *testing.T) {
	store := newMockStore()
	store.wallets["org-1"] = 1000
	store.plans["org-1"] = billing.PlanLimits{UserSeats: 1}

	quota := NewQuotaService(store, &mockMembers{counts: map[string]int{"org-1": 3}}, nil, 0)
	w := NewWalletService(store, quota, config.Billing{})

	_, err := w.Charge(context.Background(), billing.ChargeRequest{OrgID: "org-1", Cost: 10})
	if !errors.Is(err, billing.ErrSeatLimitExceeded) {
		t.Fatalf("error = %v, want seat_limit_exceeded", err)
	}

	if store.wallets["org-1"] != 1000 {
		t.Error("denied charge mutated the balance")
	}
	if len(store.ledgerFor("org-1")) != 0 {
		t.Error("denied charge wrote a ledger entry")
	}
}

func TestChargeDeniedByDailyQuotaBeforeWalletTouch(t *testing.T) {
	store := newMockStore()
	store.wallets["org-1"] = 1000
	store.plans["org-1"] = billing.PlanLimits{Daily: map[string]int{"doc_parse": 5}}
	store.usage["org-1/doc_parse"] = 5
	w := newTestWallet(store, config.Billing{})

	_, err := w.Charge(context.Background(), billing.ChargeRequest{
		OrgID: "org-1", Cost: 10, ToolKey: "doc_parse",
	})
	if !errors.Is(err, billing.ErrDailyQuotaExceeded) {
		t.Fatalf("error = %v, want daily_quota_exceeded", err)
	}

	if store.wallets["org-1"] != 1000 {
		t.Error("denied charge mutated the balance")
	}
	if len(store.ledgerFor("org-1")) != 0 {
		t.Error("denied charge wrote a ledger entry")
	}
}

func TestChargeRecordsToolUsage(t *testing.T) {
	store := newMockStore()
	store.wallets["org-1"] = 100
	store.plans["org-1"] = billing.PlanLimits{Daily: map[string]int{"doc_parse": 2}}
	w := newTestWallet(store, config.Billing{})

	for i := range 2 {
		if _, err := w.Charge(context.Background(), billing.ChargeRequest{
			OrgID: "org-1", Cost: 10, ToolKey: "doc_parse", RequestKey: fmt.Sprintf("req-%d", i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	// Third invocation hits the ceiling counted from the first two.
	_, err := w.Charge(context.Background(), billing.ChargeRequest{
		OrgID: "org-1", Cost: 10, ToolKey: "doc_parse", RequestKey: "req-2",
	})
	if !errors.Is(err, billing.ErrDailyQuotaExceeded) {
		t.Fatalf("error = %v, want daily_quota_exceeded", err)
	}
}

func TestChargeReplaysRequestKey(t *testing.T) {
	store := newMockStore()
	store.wallets["org-1"] = 100
	w := newTestWallet(store, config.Billing{})

	first, err := w.Charge(context.Background(), billing.ChargeRequest{
		OrgID: "org-1", Cost: 40, RequestKey: "task-abc",
	})
	if err != nil {
		t.Fatal(err)
	}

	second, err := w.Charge(context.Background(), billing.ChargeRequest{
		OrgID: "org-1", Cost: 40, RequestKey: "task-abc",
	})
	if err != nil {
		t.Fatal(err)
	}

	if !second.Replayed {
		t.Error("replayed charge not marked")
	}
	if second.Balance != first.Balance {
		t.Errorf("replay balance = %d, want %d", second.Balance, first.Balance)
	}
	if store.wallets["org-1"] != 60 {
		t.Errorf("balance = %d, charged twice for one request key", store.wallets["org-1"])
	}
	if len(store.ledgerFor("org-1")) != 1 {
		t.Error("replayed charge appended a ledger entry")
	}
}

func TestConcurrentChargesNeverOverspend(t *testing.T) {
	const (
		balance = 100
		cost    = 7
		workers = 50
	)
	store := newMockStore()
	store.wallets["org-1"] = balance
	w := newTestWallet(store, config.Billing{})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := range workers {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := w.Charge(context.Background(), billing.ChargeRequest{
				OrgID: "org-1", Cost: cost, RequestKey: fmt.Sprintf("req-%d", n),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, billing.ErrInsufficientTokens) {
				t.Errorf("unexpected charge error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if want := balance / cost; succeeded != want {
		t.Errorf("%d charges succeeded, want exactly %d", succeeded, want)
	}

	// Replaying every ledger delta from zero must land on the balance.
	var sum int64 = balance
	for _, e := range store.ledgerFor("org-1") {
		sum += e.Delta
	}
	if sum != store.wallets["org-1"] {
		t.Errorf("ledger replay = %d, balance = %d", sum, store.wallets["org-1"])
	}
	if store.wallets["org-1"] != balance%cost {
		t.Errorf("final balance = %d, want %d", store.wallets["org-1"], balance%cost)
	}
}

func TestCredit(t *testing.T) {
	store := newMockStore()
	w := newTestWallet(store, config.Billing{})

	receipt, err := w.Credit(context.Background(), "org-1", 500, "plan top-up", "invoice-77")
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Balance != 500 {
		t.Errorf("balance = %d, want 500", receipt.Balance)
	}

	if _, err := w.Credit(context.Background(), "org-1", 0, "", ""); err == nil {
		t.Error("zero credit accepted")
	}
	if _, err := w.Credit(context.Background(), "", 10, "", ""); !errors.Is(err, billing.ErrOrgNotFound) {
		t.Errorf("empty org error = %v", err)
	}
}
