package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roomstay/coupon-issuer/internal/models"
)

// InventoryRepo owns the durable daily quota rows. Decrements run under a
// row-level lock; this is the correctness backstop for every issuance, so
// lock failures propagate instead of being skipped.
type InventoryRepo struct {
	db *sql.DB
}

func NewInventoryRepo(db *sql.DB) *InventoryRepo {
	return &InventoryRepo{db: db}
}

// HasRecord reports whether the coupon is quota-limited. Absence of a row
// means unlimited and bypasses the admission protocol entirely.
func (r *InventoryRepo) HasRecord(ctx context.Context, couponID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM coupon_inventory WHERE coupon_id = $1)`
	if err := r.db.QueryRowContext(ctx, query, couponID).Scan(&exists); err != nil {
		return false, fmt.Errorf("inventory exists: %w", err)
	}
	return exists, nil
}

// DecrementIfAvailable consumes one unit of today's quota. Under the row
// lock it first resets a stale row to the daily quota, then refuses when
// nothing is left. Returns false without mutation on exhaustion.
func (r *InventoryRepo) DecrementIfAvailable(ctx context.Context, couponID int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var (
		quota     int
		available int
		lastReset time.Time
	)
	lock := `
		SELECT daily_quota, available_today, last_reset_date
		FROM coupon_inventory
		WHERE coupon_id = $1
		FOR UPDATE
	`
	err = tx.QueryRowContext(ctx, lock, couponID).Scan(&quota, &available, &lastReset)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("inventory row missing for coupon %d", couponID)
		}
		return false, fmt.Errorf("lock inventory: %w", err)
	}

	today := TruncateToDay(time.Now().UTC())
	if lastReset.Before(today) {
		reset := `
			UPDATE coupon_inventory
			SET available_today = daily_quota, last_reset_date = $2
			WHERE coupon_id = $1
		`
		if _, err := tx.ExecContext(ctx, reset, couponID, today); err != nil {
			return false, fmt.Errorf("reset stale inventory: %w", err)
		}
		available = quota
	}

	if available == 0 {
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("tx commit: %w", err)
		}
		committed = true
		return false, nil
	}

	decrement := `
		UPDATE coupon_inventory
		SET available_today = available_today - 1
		WHERE coupon_id = $1
	`
	if _, err := tx.ExecContext(ctx, decrement, couponID); err != nil {
		return false, fmt.Errorf("decrement inventory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("tx commit: %w", err)
	}
	committed = true
	return true, nil
}

// BulkReset restores every limited coupon's quota for the given day.
// Idempotent: rows already reset today are untouched.
func (r *InventoryRepo) BulkReset(ctx context.Context, today time.Time) (int64, error) {
	query := `
		UPDATE coupon_inventory
		SET available_today = daily_quota, last_reset_date = $1
		WHERE last_reset_date < $1
	`
	res, err := r.db.ExecContext(ctx, query, TruncateToDay(today))
	if err != nil {
		return 0, fmt.Errorf("bulk reset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk reset rows: %w", err)
	}
	return n, nil
}

// ListLimited returns every quota-limited coupon's current inventory, for
// the post-reset fast-path resync.
func (r *InventoryRepo) ListLimited(ctx context.Context) ([]models.InventoryRecord, error) {
	query := `SELECT coupon_id, daily_quota, available_today, last_reset_date FROM coupon_inventory`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()

	var records []models.InventoryRecord
	for rows.Next() {
		var rec models.InventoryRecord
		if err := rows.Scan(&rec.CouponID, &rec.DailyQuota, &rec.AvailableToday, &rec.LastResetDate); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// TruncateToDay drops the time-of-day component, in UTC. A "day" for quota
// purposes is a UTC calendar date.
func TruncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
