package service

import (
	"context"
	"sync"
	"time"

	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/billing"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/port/cache"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/port/database"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/port/directory"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/port/messagequeue"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/port/modelcall"
)

// Ensure mock types implement their interfaces at compile time.
var (
	_ database.Store       = (*mockStore)(nil)
	_ messagequeue.Queue   = (*mockQueue)(nil)
	_ modelcall.Client     = (*mockModel)(nil)
	_ directory.Membership = (*mockMembers)(nil)
	_ cache.Cache          = (*mapCache)(nil)
)

// mockStore is an in-memory Store with the same transactional semantics
// as the real one: balance check and decrement happen under one lock,
// replayed request keys mutate nothing.
type mockStore struct {
	mu        sync.Mutex
	wallets   map[string]int64
	ledger    []billing.LedgerEntry
	usage     map[string]int // orgID + "/" + toolKey
	plans     map[string]billing.PlanLimits
	members   map[string]bool // orgID + "/" + userID
	planReads int

	chargeErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		wallets: make(map[string]int64),
		usage:   make(map[string]int),
		plans:   make(map[string]billing.PlanLimits),
		members: make(map[string]bool),
	}
}

func (m *mockStore) Charge(_ context.Context, req billing.ChargeRequest) (*billing.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.chargeErr != nil {
		return nil, m.chargeErr
	}

	if req.RequestKey != "" {
		for _, e := range m.ledger {
			if e.OrgID == req.OrgID && e.RequestKey == req.RequestKey {
				return &billing.Receipt{Balance: e.BalanceAfter, Replayed: true}, nil
			}
		}
	}

	balance := m.wallets[req.OrgID] // lazy create at zero
	if balance < req.Cost {
		return nil, billing.ErrInsufficientTokens
	}

	balance -= req.Cost
	m.wallets[req.OrgID] = balance
	m.ledger = append(m.ledger, billing.LedgerEntry{
		OrgID:        req.OrgID,
		Delta:        -req.Cost,
		Reason:       req.Reason,
		Ref:          req.Route,
		RequestKey:   req.RequestKey,
		BalanceAfter: balance,
		CreatedAt:    time.Now(),
	})
	if req.ToolKey != "" {
		m.usage[req.OrgID+"/"+req.ToolKey]++
	}
	return &billing.Receipt{Balance: balance}, nil
}

func (m *mockStore) Credit(_ context.Context, orgID string, amount int64, reason, ref string) (*billing.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance := m.wallets[orgID] + amount
	m.wallets[orgID] = balance
	m.ledger = append(m.ledger, billing.LedgerEntry{
		OrgID:        orgID,
		Delta:        amount,
		Reason:       reason,
		Ref:          ref,
		BalanceAfter: balance,
		CreatedAt:    time.Now(),
	})
	return &billing.Receipt{Balance: balance}, nil
}

func (m *mockStore) GetWallet(_ context.Context, orgID string) (*billing.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.wallets[orgID]
	if !ok {
		return nil, billing.ErrOrgNotFound
	}
	return &billing.Wallet{OrgID: orgID, Balance: balance}, nil
}

func (m *mockStore) ListLedger(_ context.Context, orgID string, limit int) ([]billing.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []billing.LedgerEntry
	for i := len(m.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if m.ledger[i].OrgID == orgID {
			out = append(out, m.ledger[i])
		}
	}
	return out, nil
}

func (m *mockStore) GetPlanLimits(_ context.Context, orgID string) (*billing.PlanLimits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.planReads++
	p, ok := m.plans[orgID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *mockStore) CountToolUsage(_ context.Context, orgID, toolKey string, _ time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[orgID+"/"+toolKey], nil
}

func (m *mockStore) IsMember(_ context.Context, orgID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[orgID+"/"+userID], nil
}

// ledgerFor returns the org's ledger entries in append order.
func (m *mockStore) ledgerFor(orgID string) []billing.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []billing.LedgerEntry
	for _, e := range m.ledger {
		if e.OrgID == orgID {
			out = append(out, e)
		}
	}
	return out
}

// mockQueue records publishes for inspection.
type mockQueue struct {
	mu        sync.Mutex
	published []publishedMsg
	pubErr    error
}

type publishedMsg struct {
	subject string
	data    []byte
}

func (m *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pubErr != nil {
		return m.pubErr
	}
	m.published = append(m.published, publishedMsg{subject: subject, data: data})
	return nil
}

func (m *mockQueue) Subscribe(_ context.Context, _, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }

func (m *mockQueue) messages() []publishedMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMsg(nil), m.published...)
}

// mockModel returns a canned completion or error and counts calls.
type mockModel struct {
	mu         sync.Mutex
	calls      int
	lastPrompt modelcall.Prompt
	completion *modelcall.Completion
	err        error
}

func (m *mockModel) Complete(_ context.Context, p modelcall.Prompt) (*modelcall.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastPrompt = p
	if m.err != nil {
		return nil, m.err
	}
	if m.completion != nil {
		return m.completion, nil
	}
	return &modelcall.Completion{Text: "ok", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
}

func (m *mockModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockMembers is a fixed membership directory.
type mockMembers struct {
	counts map[string]int
	err    error
}

func (m *mockMembers) CountActive(_ context.Context, orgID string) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.counts[orgID], nil
}

// mapCache is a TTL-less map cache for plan-limit caching tests.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
