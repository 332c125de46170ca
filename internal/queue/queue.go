package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/roomstay/coupon-issuer/internal/models"
	"github.com/roomstay/coupon-issuer/internal/telemetry"
)

// IssueQueue is the two-lane FIFO transport between fast-path admission
// and the durable write. The primary lane carries new admitted requests,
// the retry lane carries requests whose durable write failed. FIFO is
// best effort per lane; there is no global ordering across lanes.
type IssueQueue interface {
	EnqueuePrimary(ctx context.Context, req models.IssueRequest) error
	// EnqueueRetry takes the already-serialized payload so retried
	// requests are not re-validated on the way back in.
	EnqueueRetry(ctx context.Context, raw string) error
	// PollPrimary pops the head of the primary lane. Returns nil with no
	// error when the lane is empty. Undecodable payloads are logged and
	// discarded, never returned.
	PollPrimary(ctx context.Context) (*models.IssueRequest, error)
	PollRetry(ctx context.Context) (*models.IssueRequest, error)
	DepthPrimary(ctx context.Context) (int64, error)
	DepthRetry(ctx context.Context) (int64, error)
	// RequeueRetryToPrimary moves up to maxItems payloads back to the
	// primary lane and returns how many moved. Operator action.
	RequeueRetryToPrimary(ctx context.Context, maxItems int) (int, error)
	// PurgeRetry irreversibly clears the retry lane. Operator action.
	PurgeRetry(ctx context.Context) error
}

const (
	primaryLaneKey = "coupon:issue:primary"
	retryLaneKey   = "coupon:issue:retry"
)

// RedisIssueQueue backs the lanes with Redis lists: LPUSH prepends at the
// head, RPOP takes the oldest element from the tail.
type RedisIssueQueue struct {
	client *redis.Client
}

func NewRedisIssueQueue(client *redis.Client) *RedisIssueQueue {
	return &RedisIssueQueue{client: client}
}

func (q *RedisIssueQueue) EnqueuePrimary(ctx context.Context, req models.IssueRequest) error {
	if err := q.client.LPush(ctx, primaryLaneKey, Encode(req)).Err(); err != nil {
		return fmt.Errorf("enqueue primary: %w", err)
	}
	return nil
}

func (q *RedisIssueQueue) EnqueueRetry(ctx context.Context, raw string) error {
	if err := q.client.LPush(ctx, retryLaneKey, raw).Err(); err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}
	return nil
}

func (q *RedisIssueQueue) PollPrimary(ctx context.Context) (*models.IssueRequest, error) {
	return q.poll(ctx, primaryLaneKey)
}

func (q *RedisIssueQueue) PollRetry(ctx context.Context) (*models.IssueRequest, error) {
	return q.poll(ctx, retryLaneKey)
}

func (q *RedisIssueQueue) poll(ctx context.Context, lane string) (*models.IssueRequest, error) {
	for {
		raw, err := q.client.RPop(ctx, lane).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("poll %s: %w", lane, err)
		}

		req, err := Decode(raw)
		if err != nil {
			telemetry.L().Error("discarding undecodable issue payload",
				"lane", lane, "payload", raw, "err", err)
			continue
		}
		return req, nil
	}
}

func (q *RedisIssueQueue) DepthPrimary(ctx context.Context) (int64, error) {
	return q.depth(ctx, primaryLaneKey)
}

func (q *RedisIssueQueue) DepthRetry(ctx context.Context) (int64, error) {
	return q.depth(ctx, retryLaneKey)
}

func (q *RedisIssueQueue) depth(ctx context.Context, lane string) (int64, error) {
	n, err := q.client.LLen(ctx, lane).Result()
	if err != nil {
		return 0, fmt.Errorf("depth %s: %w", lane, err)
	}
	return n, nil
}

func (q *RedisIssueQueue) RequeueRetryToPrimary(ctx context.Context, maxItems int) (int, error) {
	moved := 0
	for moved < maxItems {
		raw, err := q.client.RPop(ctx, retryLaneKey).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("requeue pop: %w", err)
		}
		if err := q.client.LPush(ctx, primaryLaneKey, raw).Err(); err != nil {
			// push the payload back so it is not lost between lanes
			if backErr := q.client.LPush(ctx, retryLaneKey, raw).Err(); backErr != nil {
				telemetry.L().Error("issue payload lost during requeue", "payload", raw, "err", backErr)
			}
			return moved, fmt.Errorf("requeue push: %w", err)
		}
		moved++
	}
	return moved, nil
}

func (q *RedisIssueQueue) PurgeRetry(ctx context.Context) error {
	if err := q.client.Del(ctx, retryLaneKey).Err(); err != nil {
		return fmt.Errorf("purge retry: %w", err)
	}
	return nil
}
