package service

import (
	"context"
	"fmt"
	"time"

	"github.com/roomstay/coupon-issuer/internal/models"
)

// GrantCache is the read-through cache for "my coupons" listings.
type GrantCache interface {
	CacheEvictor
	Get(userID string, status models.GrantStatus) ([]models.UserCouponGrant, bool)
	Set(userID string, status models.GrantStatus, grants []models.UserCouponGrant)
}

// GrantService covers the grant lifecycle after issuance: redemption,
// restore on reservation cancellation, expiry sweep, and the cached
// "my coupons" read path.
type GrantService struct {
	grants GrantStore
	cache  GrantCache
	now    func() time.Time
}

func NewGrantService(grants GrantStore, cache GrantCache) *GrantService {
	return &GrantService{grants: grants, cache: cache, now: time.Now}
}

// UseCoupon redeems an unexpired issued grant. False when the user holds
// no such grant.
func (s *GrantService) UseCoupon(ctx context.Context, userID string, couponID int64) (bool, error) {
	used, err := s.grants.MarkUsed(ctx, userID, couponID, s.now())
	if err != nil {
		return false, fmt.Errorf("use coupon: %w", err)
	}
	if used {
		s.cache.Evict(userID, models.GrantIssued)
		s.cache.Evict(userID, models.GrantUsed)
	}
	return used, nil
}

// RestoreCoupon returns a used grant to ISSUED when the reservation that
// consumed it is cancelled before the grant's expiry.
func (s *GrantService) RestoreCoupon(ctx context.Context, userID string, couponID int64) (bool, error) {
	restored, err := s.grants.Restore(ctx, userID, couponID, s.now())
	if err != nil {
		return false, fmt.Errorf("restore coupon: %w", err)
	}
	if restored {
		s.cache.Evict(userID, models.GrantIssued)
		s.cache.Evict(userID, models.GrantUsed)
	}
	return restored, nil
}

// ExpireSweep marks overdue issued grants EXPIRED. Bulk operation; stale
// cache entries repopulate on the next read.
func (s *GrantService) ExpireSweep(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.grants.ExpireBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expire sweep: %w", err)
	}
	return n, nil
}

// ListGrants reads a user's grants by status through the cache.
func (s *GrantService) ListGrants(ctx context.Context, userID string, status models.GrantStatus) ([]models.UserCouponGrant, error) {
	if grants, ok := s.cache.Get(userID, status); ok {
		return grants, nil
	}
	grants, err := s.grants.ListByUserAndStatus(ctx, userID, status)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	s.cache.Set(userID, status, grants)
	return grants, nil
}
