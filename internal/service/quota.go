package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/billing"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/port/cache"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/port/database"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/port/directory"
)

// QuotaService performs the advisory seat and daily-quota reads. Both
// checks are side-effect-free and run before any wallet mutation, so a
// denied request never appears in the ledger.
type QuotaService struct {
	store   database.Store
	members directory.Membership // optional; nil means seat checks are unavailable
	cache   cache.Cache          // optional plan-limit cache
	ttl     time.Duration

	now func() time.Time // injectable for tests
}

// NewQuotaService creates a quota enforcer. members and planCache may be
// nil; absence degrades the respective check rather than failing it.
func NewQuotaService(store database.Store, members directory.Membership, planCache cache.Cache, cacheTTL time.Duration) *QuotaService {
	return &QuotaService{
		store:   store,
		members: members,
		cache:   planCache,
		ttl:     cacheTTL,
		now:     time.Now,
	}
}

// CheckSeatLimit compares the live membership count against the plan's
// seat ceiling. Without a membership directory the check reports
// Available=false and allows, by design: the read is advisory and a
// missing collaborator must not block charging.
func (s *QuotaService) CheckSeatLimit(ctx context.Context, orgID string) (*billing.SeatCheck, error) {
	if s.members == nil {
		return &billing.SeatCheck{Allowed: true, Available: false}, nil
	}

	limits, err := s.planLimits(ctx, orgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// No plan row means no ceiling to enforce.
			return &billing.SeatCheck{Allowed: true, Available: true}, nil
		}
		return nil, err
	}

	seats, err := s.members.CountActive(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("count seats %s: %w", orgID, err)
	}

	return &billing.SeatCheck{
		Allowed:      seats <= limits.UserSeats,
		CurrentSeats: seats,
		MaxSeats:     limits.UserSeats,
		Available:    true,
	}, nil
}

// CheckDailyQuota counts usage rows for the tool key since local
// midnight and compares against the plan's daily ceiling. Tools the plan
// does not restrict are always allowed.
func (s *QuotaService) CheckDailyQuota(ctx context.Context, orgID, toolKey string) (*billing.QuotaCheck, error) {
	limits, err := s.planLimits(ctx, orgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &billing.QuotaCheck{Allowed: true}, nil
		}
		return nil, err
	}

	limit, restricted := limits.DailyLimit(toolKey)
	if !restricted {
		return &billing.QuotaCheck{Allowed: true}, nil
	}

	used, err := s.store.CountToolUsage(ctx, orgID, toolKey, s.localMidnight())
	if err != nil {
		return nil, fmt.Errorf("daily quota %s/%s: %w", orgID, toolKey, err)
	}

	return &billing.QuotaCheck{
		Allowed: used < limit,
		Used:    used,
		Limit:   limit,
	}, nil
}

// planLimits reads the plan ceilings, going through the cache when one
// is wired. Plan rows are read-mostly; point-in-time staleness up to the
// TTL is acceptable for advisory checks.
func (s *QuotaService) planLimits(ctx context.Context, orgID string) (*billing.PlanLimits, error) {
	key := "plan:" + orgID

	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var p billing.PlanLimits
			if err := json.Unmarshal(data, &p); err == nil {
				return &p, nil
			}
		}
	}

	p, err := s.store.GetPlanLimits(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(p); err == nil {
			_ = s.cache.Set(ctx, key, data, s.ttl)
		}
	}
	return p, nil
}

func (s *QuotaService) localMidnight() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
