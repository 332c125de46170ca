package cache

import (
	"fmt"
	"sync"

	"github.com/roomstay/coupon-issuer/internal/models"
)

// UserCouponCache caches "my coupons" reads keyed by (user, status).
// Evict is the freshness contract: every issuance, redemption, and
// restoration evicts the affected keys.
type UserCouponCache struct {
	mu    sync.RWMutex
	store map[string][]models.UserCouponGrant
}

func NewUserCouponCache() *UserCouponCache {
	return &UserCouponCache{
		store: make(map[string][]models.UserCouponGrant),
	}
}

func cacheKey(userID string, status models.GrantStatus) string {
	return fmt.Sprintf("%s:%s", userID, status)
}

func (c *UserCouponCache) Get(userID string, status models.GrantStatus) ([]models.UserCouponGrant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	val, ok := c.store[cacheKey(userID, status)]
	return val, ok
}

func (c *UserCouponCache) Set(userID string, status models.GrantStatus, grants []models.UserCouponGrant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[cacheKey(userID, status)] = grants
}

func (c *UserCouponCache) Evict(userID string, status models.GrantStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, cacheKey(userID, status))
}
