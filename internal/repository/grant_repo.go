package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/roomstay/coupon-issuer/internal/models"
)

// ErrDuplicateGrant maps the unique (user_id, coupon_id) violation. It is
// the authoritative duplicate signal; callers treat it as "already owned",
// never as a fault.
var ErrDuplicateGrant = errors.New("user already holds this coupon")

const pqUniqueViolation = "23505"

// GrantRepo owns the user_coupons table.
type GrantRepo struct {
	db *sql.DB
}

func NewGrantRepo(db *sql.DB) *GrantRepo {
	return &GrantRepo{db: db}
}

func (r *GrantRepo) Exists(ctx context.Context, userID string, couponID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM user_coupons WHERE user_id = $1 AND coupon_id = $2)`
	if err := r.db.QueryRowContext(ctx, query, userID, couponID).Scan(&exists); err != nil {
		return false, fmt.Errorf("grant exists: %w", err)
	}
	return exists, nil
}

// Insert persists a new grant. A unique-constraint race returns
// ErrDuplicateGrant.
func (r *GrantRepo) Insert(ctx context.Context, g *models.UserCouponGrant) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = models.GrantIssued
	}
	query := `
		INSERT INTO user_coupons (id, user_id, coupon_id, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`
	_, err := r.db.ExecContext(ctx, query, g.ID, g.UserID, g.CouponID, string(g.Status), g.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return ErrDuplicateGrant
		}
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

// MarkUsed flips an unexpired ISSUED grant to USED. Returns false when no
// such grant exists.
func (r *GrantRepo) MarkUsed(ctx context.Context, userID string, couponID int64, now time.Time) (bool, error) {
	query := `
		UPDATE user_coupons
		SET status = $4, updated_at = NOW()
		WHERE user_id = $1 AND coupon_id = $2 AND status = $3 AND expires_at > $5
	`
	res, err := r.db.ExecContext(ctx, query, userID, couponID,
		string(models.GrantIssued), string(models.GrantUsed), now)
	if err != nil {
		return false, fmt.Errorf("mark used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark used rows: %w", err)
	}
	return n > 0, nil
}

// Restore flips a USED grant back to ISSUED when the triggering
// reservation was cancelled before the grant expired.
func (r *GrantRepo) Restore(ctx context.Context, userID string, couponID int64, now time.Time) (bool, error) {
	query := `
		UPDATE user_coupons
		SET status = $4, updated_at = NOW()
		WHERE user_id = $1 AND coupon_id = $2 AND status = $3 AND expires_at > $5
	`
	res, err := r.db.ExecContext(ctx, query, userID, couponID,
		string(models.GrantUsed), string(models.GrantIssued), now)
	if err != nil {
		return false, fmt.Errorf("restore grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("restore grant rows: %w", err)
	}
	return n > 0, nil
}

// ExpireBefore marks every ISSUED grant past its expiry as EXPIRED and
// returns how many flipped.
func (r *GrantRepo) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE user_coupons
		SET status = $2, updated_at = NOW()
		WHERE status = $1 AND expires_at <= $3
	`
	res, err := r.db.ExecContext(ctx, query, string(models.GrantIssued), string(models.GrantExpired), now)
	if err != nil {
		return 0, fmt.Errorf("expire sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire sweep rows: %w", err)
	}
	return n, nil
}

const grantColumns = `id, user_id, coupon_id, status, expires_at, created_at, updated_at`

func (r *GrantRepo) ListByUserAndStatus(ctx context.Context, userID string, status models.GrantStatus) ([]models.UserCouponGrant, error) {
	query := `SELECT ` + grantColumns + ` FROM user_coupons WHERE user_id = $1 AND status = $2 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (r *GrantRepo) FindAllByCoupon(ctx context.Context, couponID int64) ([]models.UserCouponGrant, error) {
	query := `SELECT ` + grantColumns + ` FROM user_coupons WHERE coupon_id = $1`
	rows, err := r.db.QueryContext(ctx, query, couponID)
	if err != nil {
		return nil, fmt.Errorf("find grants by coupon: %w", err)
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (r *GrantRepo) DeleteByCouponIDs(ctx context.Context, couponIDs []int64) (int64, error) {
	if len(couponIDs) == 0 {
		return 0, nil
	}
	query := `DELETE FROM user_coupons WHERE coupon_id = ANY($1)`
	res, err := r.db.ExecContext(ctx, query, pq.Array(couponIDs))
	if err != nil {
		return 0, fmt.Errorf("delete grants: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete grants rows: %w", err)
	}
	return n, nil
}

// StreamAll returns a restartable iterator over every grant. The caller
// must Close it.
func (r *GrantRepo) StreamAll(ctx context.Context) (*GrantIterator, error) {
	query := `SELECT ` + grantColumns + ` FROM user_coupons ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("stream grants: %w", err)
	}
	return &GrantIterator{rows: rows}, nil
}

// GrantIterator walks a grant result set lazily.
type GrantIterator struct {
	rows    *sql.Rows
	current models.UserCouponGrant
	err     error
}

func (it *GrantIterator) Next() bool {
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	g, err := scanGrant(it.rows)
	if err != nil {
		it.err = err
		return false
	}
	it.current = *g
	return true
}

func (it *GrantIterator) Grant() models.UserCouponGrant { return it.current }
func (it *GrantIterator) Err() error                    { return it.err }
func (it *GrantIterator) Close() error                  { return it.rows.Close() }

func scanGrant(rows *sql.Rows) (*models.UserCouponGrant, error) {
	var g models.UserCouponGrant
	var status string
	err := rows.Scan(&g.ID, &g.UserID, &g.CouponID, &status, &g.ExpiresAt, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan grant: %w", err)
	}
	g.Status = models.GrantStatus(status)
	return &g, nil
}

func scanGrants(rows *sql.Rows) ([]models.UserCouponGrant, error) {
	var grants []models.UserCouponGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, *g)
	}
	return grants, rows.Err()
}
