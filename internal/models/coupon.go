package models

import "time"

// TriggerType classifies how a coupon is handed out.
type TriggerType string

const (
	TriggerManualDownload   TriggerType = "MANUAL_DOWNLOAD"
	TriggerFirstReservation TriggerType = "FIRST_RESERVATION"
	TriggerReviewMilestone  TriggerType = "REVIEW_MILESTONE"
	TriggerAutoEvent        TriggerType = "AUTO_EVENT"
)

// Coupon is the catalog view of a coupon. The catalog service owns its
// lifecycle; the issuance engine only reads it.
type Coupon struct {
	ID          int64
	Name        string
	TriggerType TriggerType
	Active      bool
	// ValidDays is the number of days a grant stays usable after issue.
	ValidDays int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExpiryFrom computes a grant's expiry: ValidDays after now, pushed to the
// end of that UTC day so an n-day coupon is usable through its last day.
func (c *Coupon) ExpiryFrom(now time.Time) time.Time {
	day := now.UTC().AddDate(0, 0, c.ValidDays)
	return time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, time.UTC)
}

// InventoryRecord is the durable daily quota row for a quota-limited
// coupon. Coupons without a record are unlimited.
type InventoryRecord struct {
	CouponID       int64
	DailyQuota     int
	AvailableToday int
	LastResetDate  time.Time
}
