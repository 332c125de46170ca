package fastpath

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// AtomicCounterStore is the shared pre-admission counter, one entry per
// quota-limited coupon per day. It is a latency optimization only: the
// durable inventory row stays the authority, and callers must tolerate
// this store being stale, reset mid-flight, or unreachable.
type AtomicCounterStore interface {
	// TryClaim atomically decrements the counter and returns the
	// post-decrement value. A negative result means the claim must be
	// rejected and compensated with Release.
	TryClaim(ctx context.Context, couponID int64) (int64, error)
	// Release atomically increments the counter by one, undoing a claim.
	Release(ctx context.Context, couponID int64) error
	// Set overwrites the counter. Used by the daily reset, never the hot path.
	Set(ctx context.Context, couponID int64, value int64) error
}

// RedisCounterStore backs the counter with Redis INCR/DECR.
type RedisCounterStore struct {
	client *redis.Client
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func counterKey(couponID int64) string {
	return fmt.Sprintf("coupon:stock:%d", couponID)
}

func (s *RedisCounterStore) TryClaim(ctx context.Context, couponID int64) (int64, error) {
	n, err := s.client.Decr(ctx, counterKey(couponID)).Result()
	if err != nil {
		return 0, fmt.Errorf("counter decr: %w", err)
	}
	return n, nil
}

func (s *RedisCounterStore) Release(ctx context.Context, couponID int64) error {
	if err := s.client.Incr(ctx, counterKey(couponID)).Err(); err != nil {
		return fmt.Errorf("counter incr: %w", err)
	}
	return nil
}

func (s *RedisCounterStore) Set(ctx context.Context, couponID int64, value int64) error {
	if err := s.client.Set(ctx, counterKey(couponID), value, 0).Err(); err != nil {
		return fmt.Errorf("counter set: %w", err)
	}
	return nil
}
