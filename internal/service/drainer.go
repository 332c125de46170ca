package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roomstay/coupon-issuer/internal/fastpath"
	"github.com/roomstay/coupon-issuer/internal/models"
	"github.com/roomstay/coupon-issuer/internal/queue"
	"github.com/roomstay/coupon-issuer/internal/repository"
	"github.com/roomstay/coupon-issuer/internal/telemetry"
)

const (
	drainerIdle int32 = iota
	drainerDraining
)

// Drainer moves queued issue requests into durable storage on a fixed
// cadence. Delivery is at-least-once: a failed request's payload goes to
// the retry lane, and replays are idempotent because the duplicate-key
// signal on insert is treated as success.
type Drainer struct {
	queue     queue.IssueQueue
	grants    GrantStore
	inventory InventoryStore
	counter   fastpath.AtomicCounterStore
	cache     CacheEvictor
	batchSize int
	delay     time.Duration

	state  atomic.Int32
	cancel context.CancelFunc
	done   sync.WaitGroup
}

func NewDrainer(
	q queue.IssueQueue,
	grants GrantStore,
	inventory InventoryStore,
	counter fastpath.AtomicCounterStore,
	cache CacheEvictor,
	batchSize int,
	delay time.Duration,
) *Drainer {
	return &Drainer{
		queue:     q,
		grants:    grants,
		inventory: inventory,
		counter:   counter,
		cache:     cache,
		batchSize: batchSize,
		delay:     delay,
	}
}

// Start launches the drain loop. Stop (or cancelling the parent context)
// ends it.
func (d *Drainer) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.done.Add(1)
	go func() {
		defer d.done.Done()
		ticker := time.NewTicker(d.delay)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.DrainOnce(ctx)
			}
		}
	}()
}

func (d *Drainer) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.done.Wait()
}

// DrainOnce processes one batch. Overlapping ticks are skipped: the
// drainer is IDLE or DRAINING, never both.
func (d *Drainer) DrainOnce(ctx context.Context) int {
	if !d.state.CompareAndSwap(drainerIdle, drainerDraining) {
		return 0
	}
	defer d.state.Store(drainerIdle)

	// Failures requeued during this pass must wait for the next cycle, so
	// the retry lane is only polled up to its depth at the start.
	retryBudget, err := d.queue.DepthRetry(ctx)
	if err != nil {
		telemetry.L().Error("read retry lane depth", "err", err)
		retryBudget = 0
	}

	processed := 0
	for processed < d.batchSize {
		req, err := d.queue.PollPrimary(ctx)
		if err != nil {
			telemetry.L().Error("poll primary lane", "err", err)
			break
		}
		if req == nil && retryBudget > 0 {
			retryBudget--
			req, err = d.queue.PollRetry(ctx)
			if err != nil {
				telemetry.L().Error("poll retry lane", "err", err)
				break
			}
		}
		if req == nil {
			break
		}

		d.persist(ctx, req)
		processed++
	}
	return processed
}

func (d *Drainer) persist(ctx context.Context, req *models.IssueRequest) {
	grant := &models.UserCouponGrant{
		UserID:    req.UserID,
		CouponID:  req.CouponID,
		Status:    models.GrantIssued,
		ExpiresAt: req.ExpiresAt,
	}

	if err := d.grants.Insert(ctx, grant); err != nil {
		if errors.Is(err, repository.ErrDuplicateGrant) {
			// replayed payload; the original delivery owns the decrement
			d.cache.Evict(req.UserID, models.GrantIssued)
			return
		}
		telemetry.L().Error("drain persist failed, moving to retry lane",
			"coupon_id", req.CouponID, "user_id", req.UserID, "err", err)
		d.toRetry(ctx, req)
		return
	}

	ok, err := d.inventory.DecrementIfAvailable(ctx, req.CouponID)
	if err != nil {
		telemetry.L().Error("drain decrement failed, moving to retry lane",
			"coupon_id", req.CouponID, "user_id", req.UserID, "err", err)
		d.toRetry(ctx, req)
		return
	}
	if !ok {
		// the grant is already durable; the counter lied earlier
		telemetry.L().Warn("durable inventory exhausted during drain, forcing counter to zero",
			"coupon_id", req.CouponID)
		_ = d.counter.Set(ctx, req.CouponID, 0)
	}

	d.cache.Evict(req.UserID, models.GrantIssued)
}

func (d *Drainer) toRetry(ctx context.Context, req *models.IssueRequest) {
	if err := d.queue.EnqueueRetry(ctx, queue.Encode(*req)); err != nil {
		telemetry.L().Error("issue request lost: retry enqueue failed",
			"coupon_id", req.CouponID, "user_id", req.UserID, "err", err)
	}
}
