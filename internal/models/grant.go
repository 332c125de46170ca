package models

import "time"

// GrantStatus is the lifecycle state of one issued coupon.
type GrantStatus string

const (
	GrantIssued  GrantStatus = "ISSUED"
	GrantUsed    GrantStatus = "USED"
	GrantExpired GrantStatus = "EXPIRED"
)

// UserCouponGrant is the durable record of one issuance. The unique
// constraint on (user_id, coupon_id) is the final duplicate guard.
type UserCouponGrant struct {
	ID        string
	UserID    string
	CouponID  int64
	Status    GrantStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
