package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/roomstay/coupon-issuer/internal/models"
)

// CouponRepo reads the coupon catalog. The catalog service owns writes;
// the issuance engine treats coupons as read-only.
type CouponRepo struct {
	db *sql.DB
}

func NewCouponRepo(db *sql.DB) *CouponRepo {
	return &CouponRepo{db: db}
}

const couponColumns = `id, name, trigger_type, active, valid_days, created_at, updated_at`

func (r *CouponRepo) FindCoupon(ctx context.Context, couponID int64) (*models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, couponID))
}

func (r *CouponRepo) FindActiveByTrigger(ctx context.Context, trigger models.TriggerType) (*models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE trigger_type = $1 AND active LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, string(trigger)))
}

func (r *CouponRepo) scanOne(row *sql.Row) (*models.Coupon, error) {
	var c models.Coupon
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.TriggerType,
		&c.Active,
		&c.ValidDays,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}
