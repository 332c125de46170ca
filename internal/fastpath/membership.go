package fastpath

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// MembershipStore records which users already claimed a quota-limited
// coupon. The durable (user, coupon) uniqueness constraint remains the
// final backstop; this set only short-circuits the common case.
type MembershipStore interface {
	// Claim adds the user to the coupon's set and reports whether the
	// user was newly added. False means the user was already a member.
	Claim(ctx context.Context, couponID int64, userID string) (bool, error)
	// Release removes the user, unwinding a claim that did not complete.
	Release(ctx context.Context, couponID int64, userID string) error
	Contains(ctx context.Context, couponID int64, userID string) (bool, error)
	// Clear drops the whole set. Used by the daily reset.
	Clear(ctx context.Context, couponID int64) error
}

// RedisMembershipStore backs membership with a Redis set per coupon.
type RedisMembershipStore struct {
	client *redis.Client
}

func NewRedisMembershipStore(client *redis.Client) *RedisMembershipStore {
	return &RedisMembershipStore{client: client}
}

func membershipKey(couponID int64) string {
	return fmt.Sprintf("coupon:claimed:%d", couponID)
}

func (s *RedisMembershipStore) Claim(ctx context.Context, couponID int64, userID string) (bool, error) {
	added, err := s.client.SAdd(ctx, membershipKey(couponID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("membership sadd: %w", err)
	}
	return added == 1, nil
}

func (s *RedisMembershipStore) Release(ctx context.Context, couponID int64, userID string) error {
	if err := s.client.SRem(ctx, membershipKey(couponID), userID).Err(); err != nil {
		return fmt.Errorf("membership srem: %w", err)
	}
	return nil
}

func (s *RedisMembershipStore) Contains(ctx context.Context, couponID int64, userID string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, membershipKey(couponID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("membership sismember: %w", err)
	}
	return ok, nil
}

func (s *RedisMembershipStore) Clear(ctx context.Context, couponID int64) error {
	if err := s.client.Del(ctx, membershipKey(couponID)).Err(); err != nil {
		return fmt.Errorf("membership del: %w", err)
	}
	return nil
}
