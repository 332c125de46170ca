package service

import (
	"context"
	"fmt"
	"time"

	"github.com/roomstay/coupon-issuer/internal/fastpath"
	"github.com/roomstay/coupon-issuer/internal/telemetry"
)

// ResetService runs the daily resynchronization: restore durable quotas,
// then overwrite the fast-path counters and clear the membership sets.
// This is the only point where the fast path is trusted to equal the
// durable value.
type ResetService struct {
	inventory InventoryStore
	counter   fastpath.AtomicCounterStore
	members   fastpath.MembershipStore
}

func NewResetService(inventory InventoryStore, counter fastpath.AtomicCounterStore, members fastpath.MembershipStore) *ResetService {
	return &ResetService{inventory: inventory, counter: counter, members: members}
}

// ResetDaily is fired once per day boundary by an external scheduler, and
// exposed as an operator control. Idempotent within a day.
func (s *ResetService) ResetDaily(ctx context.Context, today time.Time) (int64, error) {
	reset, err := s.inventory.BulkReset(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("bulk reset: %w", err)
	}

	records, err := s.inventory.ListLimited(ctx)
	if err != nil {
		return reset, fmt.Errorf("list limited coupons: %w", err)
	}

	for _, rec := range records {
		if err := s.counter.Set(ctx, rec.CouponID, int64(rec.AvailableToday)); err != nil {
			return reset, fmt.Errorf("resync counter for coupon %d: %w", rec.CouponID, err)
		}
		if err := s.members.Clear(ctx, rec.CouponID); err != nil {
			return reset, fmt.Errorf("clear membership for coupon %d: %w", rec.CouponID, err)
		}
	}

	telemetry.L().Info("daily inventory reset complete",
		"rows_reset", reset, "coupons_resynced", len(records))
	return reset, nil
}
