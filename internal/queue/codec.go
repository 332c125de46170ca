package queue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roomstay/coupon-issuer/internal/models"
)

// Payload layout: {userID}|{couponID}|{expiresAt RFC3339}. The pipe cannot
// collide with field content (user ids are opaque tokens without pipes,
// RFC3339 uses colons).
const payloadDelim = "|"

var ErrMalformedPayload = errors.New("issue payload must have exactly three fields")

// Encode serializes a request for the queue transport.
func Encode(req models.IssueRequest) string {
	return strings.Join([]string{
		req.UserID,
		strconv.FormatInt(req.CouponID, 10),
		req.ExpiresAt.UTC().Format(time.RFC3339),
	}, payloadDelim)
}

// Decode parses a queued payload. Anything that does not yield exactly
// three fields is a fatal decode error; callers must surface the payload
// before discarding it.
func Decode(payload string) (*models.IssueRequest, error) {
	parts := strings.Split(payload, payloadDelim)
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedPayload, payload)
	}

	couponID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode coupon id %q: %w", parts[1], err)
	}
	expiresAt, err := time.Parse(time.RFC3339, parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode expiry %q: %w", parts[2], err)
	}

	return &models.IssueRequest{
		UserID:    parts[0],
		CouponID:  couponID,
		ExpiresAt: expiresAt,
	}, nil
}
