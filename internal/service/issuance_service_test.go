package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/roomstay/coupon-issuer/internal/config"
	"github.com/roomstay/coupon-issuer/internal/fastpath"
	"github.com/roomstay/coupon-issuer/internal/models"
	"github.com/roomstay/coupon-issuer/internal/queue"
	"github.com/roomstay/coupon-issuer/internal/repository"
)

// --- fakes ---

type fakeCatalog struct {
	coupons map[int64]*models.Coupon
}

func (f *fakeCatalog) FindCoupon(_ context.Context, id int64) (*models.Coupon, error) {
	return f.coupons[id], nil
}

func (f *fakeCatalog) FindActiveByTrigger(_ context.Context, trigger models.TriggerType) (*models.Coupon, error) {
	for _, c := range f.coupons {
		if c.TriggerType == trigger && c.Active {
			return c, nil
		}
	}
	return nil, nil
}

type fakeInventory struct {
	mu      sync.Mutex
	records map[int64]*models.InventoryRecord
	decErr  error
}

func (f *fakeInventory) HasRecord(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[id]
	return ok, nil
}

func (f *fakeInventory) DecrementIfAvailable(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decErr != nil {
		return false, f.decErr
	}
	rec, ok := f.records[id]
	if !ok {
		return false, fmt.Errorf("inventory row missing for coupon %d", id)
	}
	if rec.AvailableToday == 0 {
		return false, nil
	}
	rec.AvailableToday--
	return true, nil
}

func (f *fakeInventory) BulkReset(_ context.Context, today time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, rec := range f.records {
		if rec.LastResetDate.Before(today) {
			rec.AvailableToday = rec.DailyQuota
			rec.LastResetDate = today
			n++
		}
	}
	return n, nil
}

func (f *fakeInventory) ListLimited(_ context.Context) ([]models.InventoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.InventoryRecord
	for _, rec := range f.records {
		out = append(out, *rec)
	}
	return out, nil
}

type fakeGrants struct {
	mu     sync.Mutex
	rows   map[string]*models.UserCouponGrant
	failOn func(g *models.UserCouponGrant) error
}

func newFakeGrants() *fakeGrants {
	return &fakeGrants{rows: make(map[string]*models.UserCouponGrant)}
}

func grantKey(userID string, couponID int64) string {
	return fmt.Sprintf("%s/%d", userID, couponID)
}

func (f *fakeGrants) Exists(_ context.Context, userID string, couponID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[grantKey(userID, couponID)]
	return ok, nil
}

func (f *fakeGrants) Insert(_ context.Context, g *models.UserCouponGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != nil {
		if err := f.failOn(g); err != nil {
			return err
		}
	}
	key := grantKey(g.UserID, g.CouponID)
	if _, ok := f.rows[key]; ok {
		return repository.ErrDuplicateGrant
	}
	cp := *g
	f.rows[key] = &cp
	return nil
}

func (f *fakeGrants) MarkUsed(_ context.Context, userID string, couponID int64, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.rows[grantKey(userID, couponID)]
	if !ok || g.Status != models.GrantIssued || !g.ExpiresAt.After(now) {
		return false, nil
	}
	g.Status = models.GrantUsed
	return true, nil
}

func (f *fakeGrants) Restore(_ context.Context, userID string, couponID int64, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.rows[grantKey(userID, couponID)]
	if !ok || g.Status != models.GrantUsed || !g.ExpiresAt.After(now) {
		return false, nil
	}
	g.Status = models.GrantIssued
	return true, nil
}

func (f *fakeGrants) ExpireBefore(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, g := range f.rows {
		if g.Status == models.GrantIssued && !g.ExpiresAt.After(now) {
			g.Status = models.GrantExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeGrants) ListByUserAndStatus(_ context.Context, userID string, status models.GrantStatus) ([]models.UserCouponGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.UserCouponGrant
	for _, g := range f.rows {
		if g.UserID == userID && g.Status == status {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (f *fakeGrants) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeCache struct {
	mu        sync.Mutex
	store     map[string][]models.UserCouponGrant
	evictions int
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: make(map[string][]models.UserCouponGrant)}
}

func (f *fakeCache) Evict(userID string, status models.GrantStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, grantKey(userID, 0)+string(status))
	f.evictions++
}

func (f *fakeCache) Get(userID string, status models.GrantStatus) ([]models.UserCouponGrant, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.store[grantKey(userID, 0)+string(status)]
	return v, ok
}

func (f *fakeCache) Set(userID string, status models.GrantStatus, grants []models.UserCouponGrant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[grantKey(userID, 0)+string(status)] = grants
}

// downCounter simulates an unreachable fast-path counter store.
type downCounter struct{}

func (downCounter) TryClaim(context.Context, int64) (int64, error) {
	return 0, errors.New("counter store unreachable")
}
func (downCounter) Release(context.Context, int64) error { return errors.New("counter store unreachable") }
func (downCounter) Set(context.Context, int64, int64) error {
	return errors.New("counter store unreachable")
}

// failQueue rejects every enqueue.
type failQueue struct {
	*queue.MemoryIssueQueue
}

func (failQueue) EnqueuePrimary(context.Context, models.IssueRequest) error {
	return errors.New("queue unavailable")
}

// --- harness ---

type fixture struct {
	svc       *IssuanceService
	catalog   *fakeCatalog
	inventory *fakeInventory
	grants    *fakeGrants
	counter   *fastpath.MemoryCounterStore
	members   *fastpath.MemoryMembershipStore
	queue     *queue.MemoryIssueQueue
	cache     *fakeCache
	cfg       *config.Config
}

const limitedCouponID = int64(101)

func newFixture(t *testing.T, quota int, cfg *config.Config) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{AsyncEnabled: true, DrainBatchSize: 200}
	}

	f := &fixture{
		catalog: &fakeCatalog{coupons: map[int64]*models.Coupon{
			limitedCouponID: {
				ID:          limitedCouponID,
				Name:        "flash-weekend",
				TriggerType: models.TriggerManualDownload,
				Active:      true,
				ValidDays:   3,
			},
		}},
		inventory: &fakeInventory{records: map[int64]*models.InventoryRecord{}},
		grants:    newFakeGrants(),
		counter:   fastpath.NewMemoryCounterStore(),
		members:   fastpath.NewMemoryMembershipStore(),
		queue:     queue.NewMemoryIssueQueue(),
		cache:     newFakeCache(),
		cfg:       cfg,
	}
	if quota > 0 {
		f.inventory.records[limitedCouponID] = &models.InventoryRecord{
			CouponID:       limitedCouponID,
			DailyQuota:     quota,
			AvailableToday: quota,
			LastResetDate:  repository.TruncateToDay(time.Now()),
		}
		if err := f.counter.Set(context.Background(), limitedCouponID, int64(quota)); err != nil {
			t.Fatalf("seed counter: %v", err)
		}
	}

	strict := !cfg.SkipDuplicateCheck && !cfg.AsyncEnabled
	guard := NewIssuanceGuard(f.members, f.grants, strict)
	f.svc = NewIssuanceService(f.catalog, f.inventory, f.grants, f.counter, guard, f.queue, f.cache, cfg)
	return f
}

// --- tests ---

func TestIssuePolicyViolations(t *testing.T) {
	f := newFixture(t, 3, nil)
	f.catalog.coupons[200] = &models.Coupon{ID: 200, TriggerType: models.TriggerManualDownload, Active: false}
	f.catalog.coupons[300] = &models.Coupon{ID: 300, TriggerType: models.TriggerFirstReservation, Active: true}

	cases := []struct {
		name     string
		couponID int64
		want     models.IssueStatus
	}{
		{"missing coupon", 999, models.IssueNotFound},
		{"inactive coupon", 200, models.IssueInactive},
		{"wrong trigger for download path", 300, models.IssueWrongTrigger},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.svc.Issue(context.Background(), "u1", tc.couponID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestIssueLimitedDuplicate(t *testing.T) {
	f := newFixture(t, 3, nil)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, "u1", limitedCouponID)
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	if first != models.IssueSuccess {
		t.Fatalf("first issue = %s, want SUCCESS", first)
	}

	second, err := f.svc.Issue(ctx, "u1", limitedCouponID)
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if second != models.IssueDuplicated {
		t.Fatalf("second issue = %s, want DUPLICATED", second)
	}
}

func TestIssueLimitedConcurrentQuota(t *testing.T) {
	const quota, claimers = 3, 10
	f := newFixture(t, quota, nil)
	ctx := context.Background()

	results := make(chan models.IssueStatus, claimers)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			status, _ := f.svc.Issue(ctx, fmt.Sprintf("user-%d", n), limitedCouponID)
			results <- status
		}(i)
	}
	wg.Wait()
	close(results)

	var success, soldOut int
	for status := range results {
		switch status {
		case models.IssueSuccess:
			success++
		case models.IssueSoldOut:
			soldOut++
		default:
			t.Fatalf("unexpected status %s", status)
		}
	}
	if success != quota {
		t.Fatalf("successes = %d, want %d", success, quota)
	}
	if soldOut != claimers-quota {
		t.Fatalf("sold out = %d, want %d", soldOut, claimers-quota)
	}

	// rejected claims were all compensated
	if v := f.counter.Value(limitedCouponID); v != 0 {
		t.Fatalf("counter drifted to %d after rejections, want 0", v)
	}

	// drain the queue: durable grants must not exceed the quota
	drainer := NewDrainer(f.queue, f.grants, f.inventory, f.counter, f.cache, 200, time.Millisecond)
	drainer.DrainOnce(ctx)
	if got := f.grants.count(); got != quota {
		t.Fatalf("durable grants = %d, want %d", got, quota)
	}
}

func TestIssueSoldOutThenResetRestoresQuota(t *testing.T) {
	f := newFixture(t, 1, nil)
	ctx := context.Background()

	if status, _ := f.svc.Issue(ctx, "u1", limitedCouponID); status != models.IssueSuccess {
		t.Fatalf("expected first claim to succeed, got %s", status)
	}
	if status, _ := f.svc.Issue(ctx, "u2", limitedCouponID); status != models.IssueSoldOut {
		t.Fatalf("expected second claim sold out, got %s", status)
	}

	drainer := NewDrainer(f.queue, f.grants, f.inventory, f.counter, f.cache, 200, time.Millisecond)
	drainer.DrainOnce(ctx)

	reset := NewResetService(f.inventory, f.counter, f.members)
	tomorrow := repository.TruncateToDay(time.Now()).AddDate(0, 0, 1)
	if _, err := reset.ResetDaily(ctx, tomorrow); err != nil {
		t.Fatalf("reset: %v", err)
	}

	// a previously rejected user can claim again
	if status, _ := f.svc.Issue(ctx, "u2", limitedCouponID); status != models.IssueSuccess {
		t.Fatalf("expected post-reset claim to succeed, got %s", status)
	}
}

func TestIssueSyncDivergenceResync(t *testing.T) {
	cfg := &config.Config{AsyncEnabled: false}
	f := newFixture(t, 2, cfg)
	ctx := context.Background()

	// fast path believes more stock exists than the durable store has
	f.inventory.records[limitedCouponID].AvailableToday = 0
	if err := f.counter.Set(ctx, limitedCouponID, 5); err != nil {
		t.Fatalf("seed counter: %v", err)
	}

	status, err := f.svc.Issue(ctx, "u1", limitedCouponID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if status != models.IssueSoldOut {
		t.Fatalf("got %s, want SOLD_OUT on divergence", status)
	}
	if v := f.counter.Value(limitedCouponID); v != 0 {
		t.Fatalf("counter = %d after divergence, want forced 0", v)
	}
	// the membership claim was unwound so the user is not stuck
	if ok, _ := f.members.Contains(ctx, limitedCouponID, "u1"); ok {
		t.Fatal("membership entry not released after divergence")
	}
}

func TestIssueSyncPersistsBeforeReturning(t *testing.T) {
	cfg := &config.Config{AsyncEnabled: false}
	f := newFixture(t, 2, cfg)
	ctx := context.Background()

	status, err := f.svc.Issue(ctx, "u1", limitedCouponID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if status != models.IssueSuccess {
		t.Fatalf("got %s, want SUCCESS", status)
	}
	if got := f.grants.count(); got != 1 {
		t.Fatalf("durable grants = %d immediately after sync issue, want 1", got)
	}
	if f.inventory.records[limitedCouponID].AvailableToday != 1 {
		t.Fatalf("durable inventory not decremented synchronously")
	}
}

func TestIssueFastPathDownFallsBackToDurable(t *testing.T) {
	const quota, claimers = 3, 10
	f := newFixture(t, quota, nil)
	ctx := context.Background()

	guard := NewIssuanceGuard(f.members, f.grants, false)
	svc := NewIssuanceService(f.catalog, f.inventory, f.grants, downCounter{}, guard, f.queue, f.cache, f.cfg)

	var success, soldOut int
	for i := 0; i < claimers; i++ {
		status, _ := svc.Issue(ctx, fmt.Sprintf("user-%d", i), limitedCouponID)
		switch status {
		case models.IssueSuccess:
			success++
		case models.IssueSoldOut:
			soldOut++
		default:
			t.Fatalf("unexpected status %s", status)
		}
	}
	if success != quota || soldOut != claimers-quota {
		t.Fatalf("success=%d soldOut=%d, want %d/%d", success, soldOut, quota, claimers-quota)
	}
	if got := f.grants.count(); got != quota {
		t.Fatalf("durable grants = %d, want %d", got, quota)
	}
}

func TestIssueEnqueueFailureCompensates(t *testing.T) {
	f := newFixture(t, 3, nil)
	ctx := context.Background()

	guard := NewIssuanceGuard(f.members, f.grants, false)
	svc := NewIssuanceService(f.catalog, f.inventory, f.grants, f.counter, guard,
		failQueue{f.queue}, f.cache, f.cfg)

	status, err := svc.Issue(ctx, "u1", limitedCouponID)
	if err == nil {
		t.Fatal("expected error detail alongside FAILED")
	}
	if status != models.IssueFailed {
		t.Fatalf("got %s, want FAILED", status)
	}
	if v := f.counter.Value(limitedCouponID); v != 3 {
		t.Fatalf("counter = %d after rollback, want 3", v)
	}
	if ok, _ := f.members.Contains(ctx, limitedCouponID, "u1"); ok {
		t.Fatal("membership entry not released after enqueue failure")
	}
}

func TestIssueSkipDBFinalize(t *testing.T) {
	cfg := &config.Config{AsyncEnabled: true, SkipDBFinalize: true}
	f := newFixture(t, 3, cfg)
	ctx := context.Background()

	status, err := f.svc.Issue(ctx, "u1", limitedCouponID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if status != models.IssueSuccess {
		t.Fatalf("got %s, want SUCCESS", status)
	}
	if depth, _ := f.queue.DepthPrimary(ctx); depth != 0 {
		t.Fatalf("trust mode must not enqueue, primary depth = %d", depth)
	}
	// duplicate protection still holds through the membership set
	if status, _ := f.svc.Issue(ctx, "u1", limitedCouponID); status != models.IssueDuplicated {
		t.Fatalf("repeat claim in trust mode = %s, want DUPLICATED", status)
	}
}

func TestIssueUnlimitedCoupon(t *testing.T) {
	f := newFixture(t, 0, nil)
	ctx := context.Background()

	if status, _ := f.svc.Issue(ctx, "u1", limitedCouponID); status != models.IssueSuccess {
		t.Fatalf("expected unlimited issue to succeed")
	}
	// persisted synchronously, no queue involved
	if got := f.grants.count(); got != 1 {
		t.Fatalf("durable grants = %d, want 1", got)
	}
	if depth, _ := f.queue.DepthPrimary(ctx); depth != 0 {
		t.Fatalf("unlimited path must not enqueue")
	}
	if status, _ := f.svc.Issue(ctx, "u1", limitedCouponID); status != models.IssueDuplicated {
		t.Fatalf("expected duplicate on second unlimited issue")
	}
}

func TestIssueByTrigger(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.catalog.coupons[300] = &models.Coupon{
		ID:          300,
		TriggerType: models.TriggerFirstReservation,
		Active:      true,
		ValidDays:   7,
	}
	ctx := context.Background()

	status, err := f.svc.IssueByTrigger(ctx, "u1", models.TriggerFirstReservation)
	if err != nil {
		t.Fatalf("issue by trigger: %v", err)
	}
	if status != models.IssueSuccess {
		t.Fatalf("got %s, want SUCCESS", status)
	}
	if status, _ := f.svc.IssueByTrigger(ctx, "u1", models.TriggerReviewMilestone); status != models.IssueNotFound {
		t.Fatalf("unconfigured trigger should be NOT_FOUND, got %s", status)
	}
}
