package service

import (
	"context"
	"fmt"

	"github.com/roomstay/coupon-issuer/internal/fastpath"
	"github.com/roomstay/coupon-issuer/internal/telemetry"
)

// GrantChecker is the durable side of the duplicate guard.
type GrantChecker interface {
	Exists(ctx context.Context, userID string, couponID int64) (bool, error)
}

// IssuanceGuard detects duplicate claims on quota-limited coupons. The
// membership set answers the common case; the durable uniqueness
// constraint stays the final backstop either way.
type IssuanceGuard struct {
	members fastpath.MembershipStore
	grants  GrantChecker
	// strict enables the secondary durable existence check. Off when the
	// deployment skips duplicate checks or runs fully asynchronously.
	strict bool
}

func NewIssuanceGuard(members fastpath.MembershipStore, grants GrantChecker, strict bool) *IssuanceGuard {
	return &IssuanceGuard{members: members, grants: grants, strict: strict}
}

// Claim reserves the (coupon, user) pair. False means duplicate. An error
// means the membership store is unreachable and the caller should fall
// back to the durable path.
func (g *IssuanceGuard) Claim(ctx context.Context, couponID int64, userID string) (bool, error) {
	added, err := g.members.Claim(ctx, couponID, userID)
	if err != nil {
		return false, fmt.Errorf("membership claim: %w", err)
	}
	if !added {
		return false, nil
	}

	if g.strict {
		exists, err := g.grants.Exists(ctx, userID, couponID)
		if err != nil {
			_ = g.members.Release(ctx, couponID, userID)
			return false, fmt.Errorf("durable duplicate check: %w", err)
		}
		if exists {
			// set lost an entry the durable store still has
			telemetry.L().Warn("membership set missing a durable grant",
				"coupon_id", couponID, "user_id", userID)
			_ = g.members.Release(ctx, couponID, userID)
			return false, nil
		}
	}

	return true, nil
}

// Release unwinds a claim whose issuance did not complete (sold out after
// the membership add, enqueue failure).
func (g *IssuanceGuard) Release(ctx context.Context, couponID int64, userID string) error {
	return g.members.Release(ctx, couponID, userID)
}
