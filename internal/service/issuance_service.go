package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roomstay/coupon-issuer/internal/config"
	"github.com/roomstay/coupon-issuer/internal/fastpath"
	"github.com/roomstay/coupon-issuer/internal/models"
	"github.com/roomstay/coupon-issuer/internal/queue"
	"github.com/roomstay/coupon-issuer/internal/repository"
	"github.com/roomstay/coupon-issuer/internal/telemetry"
)

// Repos required by the service (interfaces to allow fakes in tests).

type CatalogRepo interface {
	FindCoupon(ctx context.Context, couponID int64) (*models.Coupon, error)
	FindActiveByTrigger(ctx context.Context, trigger models.TriggerType) (*models.Coupon, error)
}

type InventoryStore interface {
	HasRecord(ctx context.Context, couponID int64) (bool, error)
	DecrementIfAvailable(ctx context.Context, couponID int64) (bool, error)
	BulkReset(ctx context.Context, today time.Time) (int64, error)
	ListLimited(ctx context.Context) ([]models.InventoryRecord, error)
}

type GrantStore interface {
	GrantChecker
	Insert(ctx context.Context, g *models.UserCouponGrant) error
	MarkUsed(ctx context.Context, userID string, couponID int64, now time.Time) (bool, error)
	Restore(ctx context.Context, userID string, couponID int64, now time.Time) (bool, error)
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
	ListByUserAndStatus(ctx context.Context, userID string, status models.GrantStatus) ([]models.UserCouponGrant, error)
}

// CacheEvictor is the read-cache invalidation hook for "my coupons" reads.
type CacheEvictor interface {
	Evict(userID string, status models.GrantStatus)
}

// IssuanceService is the public entry point of the issuance engine. It
// runs the admission protocol: duplicate guard, fast-path claim, then
// either a synchronous durable write or an enqueue for the drainer.
type IssuanceService struct {
	catalog   CatalogRepo
	inventory InventoryStore
	grants    GrantStore
	counter   fastpath.AtomicCounterStore
	guard     *IssuanceGuard
	queue     queue.IssueQueue
	cache     CacheEvictor
	cfg       *config.Config
	now       func() time.Time
}

func NewIssuanceService(
	catalog CatalogRepo,
	inventory InventoryStore,
	grants GrantStore,
	counter fastpath.AtomicCounterStore,
	guard *IssuanceGuard,
	q queue.IssueQueue,
	cache CacheEvictor,
	cfg *config.Config,
) *IssuanceService {
	return &IssuanceService{
		catalog:   catalog,
		inventory: inventory,
		grants:    grants,
		counter:   counter,
		guard:     guard,
		queue:     q,
		cache:     cache,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Issue handles a user-requested download of a specific coupon.
func (s *IssuanceService) Issue(ctx context.Context, userID string, couponID int64) (models.IssueStatus, error) {
	coupon, err := s.catalog.FindCoupon(ctx, couponID)
	if err != nil {
		return models.IssueFailed, fmt.Errorf("catalog lookup: %w", err)
	}
	if coupon == nil {
		return models.IssueNotFound, nil
	}
	if !coupon.Active {
		return models.IssueInactive, nil
	}
	if coupon.TriggerType != models.TriggerManualDownload {
		return models.IssueWrongTrigger, nil
	}
	return s.issue(ctx, userID, coupon)
}

// IssueByTrigger grants the coupon configured for an event trigger
// (first reservation, review milestone). Callers fire it from the booking
// and review flows.
func (s *IssuanceService) IssueByTrigger(ctx context.Context, userID string, trigger models.TriggerType) (models.IssueStatus, error) {
	coupon, err := s.catalog.FindActiveByTrigger(ctx, trigger)
	if err != nil {
		return models.IssueFailed, fmt.Errorf("catalog lookup: %w", err)
	}
	if coupon == nil {
		return models.IssueNotFound, nil
	}
	return s.issue(ctx, userID, coupon)
}

func (s *IssuanceService) issue(ctx context.Context, userID string, coupon *models.Coupon) (models.IssueStatus, error) {
	limited, err := s.inventory.HasRecord(ctx, coupon.ID)
	if err != nil {
		return models.IssueFailed, fmt.Errorf("inventory lookup: %w", err)
	}
	if !limited {
		return s.issueUnlimited(ctx, userID, coupon)
	}
	return s.issueLimited(ctx, userID, coupon)
}

// issueUnlimited relies on the durable uniqueness constraint alone.
func (s *IssuanceService) issueUnlimited(ctx context.Context, userID string, coupon *models.Coupon) (models.IssueStatus, error) {
	exists, err := s.grants.Exists(ctx, userID, coupon.ID)
	if err != nil {
		return models.IssueFailed, fmt.Errorf("duplicate check: %w", err)
	}
	if exists {
		return models.IssueDuplicated, nil
	}

	grant := &models.UserCouponGrant{
		UserID:    userID,
		CouponID:  coupon.ID,
		Status:    models.GrantIssued,
		ExpiresAt: coupon.ExpiryFrom(s.now()),
	}
	if err := s.grants.Insert(ctx, grant); err != nil {
		if errors.Is(err, repository.ErrDuplicateGrant) {
			return models.IssueDuplicated, nil
		}
		return models.IssueFailed, fmt.Errorf("persist grant: %w", err)
	}

	s.cache.Evict(userID, models.GrantIssued)
	return models.IssueSuccess, nil
}

// issueLimited runs the fast-path admission protocol.
func (s *IssuanceService) issueLimited(ctx context.Context, userID string, coupon *models.Coupon) (models.IssueStatus, error) {
	claimed, err := s.guard.Claim(ctx, coupon.ID, userID)
	if err != nil {
		// fast-path store unreachable: trade latency for correctness
		telemetry.L().Warn("duplicate guard unreachable, falling back to durable path",
			"coupon_id", coupon.ID, "err", err)
		return s.issueDurable(ctx, userID, coupon)
	}
	if !claimed {
		return models.IssueDuplicated, nil
	}

	remaining, err := s.counter.TryClaim(ctx, coupon.ID)
	if err != nil {
		_ = s.guard.Release(ctx, coupon.ID, userID)
		telemetry.L().Warn("fast-path counter unreachable, falling back to durable path",
			"coupon_id", coupon.ID, "err", err)
		return s.issueDurable(ctx, userID, coupon)
	}
	if remaining < 0 {
		// compensate the over-claim so rejections never drift the counter
		_ = s.counter.Release(ctx, coupon.ID)
		_ = s.guard.Release(ctx, coupon.ID, userID)
		return models.IssueSoldOut, nil
	}

	// Opt-in trust mode: the fast-path claim alone is the admission, the
	// durable side reconciles at the next reset window.
	if s.cfg.SkipDBFinalize {
		return models.IssueSuccess, nil
	}

	expiresAt := coupon.ExpiryFrom(s.now())

	if s.cfg.AsyncEnabled {
		req := models.IssueRequest{UserID: userID, CouponID: coupon.ID, ExpiresAt: expiresAt}
		if err := s.queue.EnqueuePrimary(ctx, req); err != nil {
			_ = s.counter.Release(ctx, coupon.ID)
			_ = s.guard.Release(ctx, coupon.ID, userID)
			return models.IssueFailed, fmt.Errorf("enqueue issue request: %w", err)
		}
		return models.IssueSuccess, nil
	}

	return s.finalizeSync(ctx, userID, coupon.ID, expiresAt)
}

// finalizeSync reconciles the fast-path admission with the durable store
// before returning to the caller.
func (s *IssuanceService) finalizeSync(ctx context.Context, userID string, couponID int64, expiresAt time.Time) (models.IssueStatus, error) {
	ok, err := s.inventory.DecrementIfAvailable(ctx, couponID)
	if err != nil {
		_ = s.counter.Release(ctx, couponID)
		_ = s.guard.Release(ctx, couponID, userID)
		return models.IssueFailed, fmt.Errorf("durable decrement: %w", err)
	}
	if !ok {
		// fast path said available, durable store says exhausted
		telemetry.L().Warn("fast-path counter diverged from durable inventory, forcing to zero",
			"coupon_id", couponID)
		_ = s.counter.Set(ctx, couponID, 0)
		_ = s.guard.Release(ctx, couponID, userID)
		return models.IssueSoldOut, nil
	}

	grant := &models.UserCouponGrant{
		UserID:    userID,
		CouponID:  couponID,
		Status:    models.GrantIssued,
		ExpiresAt: expiresAt,
	}
	if err := s.grants.Insert(ctx, grant); err != nil {
		if errors.Is(err, repository.ErrDuplicateGrant) {
			_ = s.counter.Release(ctx, couponID)
			return models.IssueDuplicated, nil
		}
		_ = s.counter.Release(ctx, couponID)
		_ = s.guard.Release(ctx, couponID, userID)
		return models.IssueFailed, fmt.Errorf("persist grant: %w", err)
	}

	s.cache.Evict(userID, models.GrantIssued)
	return models.IssueSuccess, nil
}

// issueDurable enforces the quota through the durable store alone,
// bypassing the fast path entirely. Slower, always correct.
func (s *IssuanceService) issueDurable(ctx context.Context, userID string, coupon *models.Coupon) (models.IssueStatus, error) {
	exists, err := s.grants.Exists(ctx, userID, coupon.ID)
	if err != nil {
		return models.IssueFailed, fmt.Errorf("duplicate check: %w", err)
	}
	if exists {
		return models.IssueDuplicated, nil
	}

	ok, err := s.inventory.DecrementIfAvailable(ctx, coupon.ID)
	if err != nil {
		return models.IssueFailed, fmt.Errorf("durable decrement: %w", err)
	}
	if !ok {
		return models.IssueSoldOut, nil
	}

	grant := &models.UserCouponGrant{
		UserID:    userID,
		CouponID:  coupon.ID,
		Status:    models.GrantIssued,
		ExpiresAt: coupon.ExpiryFrom(s.now()),
	}
	if err := s.grants.Insert(ctx, grant); err != nil {
		if errors.Is(err, repository.ErrDuplicateGrant) {
			return models.IssueDuplicated, nil
		}
		return models.IssueFailed, fmt.Errorf("persist grant: %w", err)
	}

	s.cache.Evict(userID, models.GrantIssued)
	return models.IssueSuccess, nil
}
