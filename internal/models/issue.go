package models

import "time"

// IssueStatus is the closed result set of an issuance attempt. Callers
// branch on these values, never on raw errors.
type IssueStatus string

const (
	IssueSuccess      IssueStatus = "SUCCESS"
	IssueDuplicated   IssueStatus = "DUPLICATED"
	IssueSoldOut      IssueStatus = "SOLD_OUT"
	IssueNotFound     IssueStatus = "NOT_FOUND"
	IssueInactive     IssueStatus = "INACTIVE"
	IssueWrongTrigger IssueStatus = "WRONG_TRIGGER_TYPE"
	IssueFailed       IssueStatus = "FAILED"
)

// IssueRequest is the ephemeral tuple carried through the issue queue
// between fast-path admission and the durable write.
type IssueRequest struct {
	UserID    string
	CouponID  int64
	ExpiresAt time.Time
}
