package queue

import (
	"context"
	"sync"

	"github.com/roomstay/coupon-issuer/internal/models"
	"github.com/roomstay/coupon-issuer/internal/telemetry"
)

// MemoryIssueQueue is the in-process IssueQueue, used by tests and
// single-node deployments. Same lane semantics as the Redis transport.
type MemoryIssueQueue struct {
	mu      sync.Mutex
	primary []string
	retry   []string
}

func NewMemoryIssueQueue() *MemoryIssueQueue {
	return &MemoryIssueQueue{}
}

func (q *MemoryIssueQueue) EnqueuePrimary(_ context.Context, req models.IssueRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.primary = append(q.primary, Encode(req))
	return nil
}

func (q *MemoryIssueQueue) EnqueueRetry(_ context.Context, raw string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retry = append(q.retry, raw)
	return nil
}

func (q *MemoryIssueQueue) PollPrimary(_ context.Context) (*models.IssueRequest, error) {
	return q.poll(&q.primary, "primary")
}

func (q *MemoryIssueQueue) PollRetry(_ context.Context) (*models.IssueRequest, error) {
	return q.poll(&q.retry, "retry")
}

func (q *MemoryIssueQueue) poll(lane *[]string, name string) (*models.IssueRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(*lane) > 0 {
		raw := (*lane)[0]
		*lane = (*lane)[1:]

		req, err := Decode(raw)
		if err != nil {
			telemetry.L().Error("discarding undecodable issue payload",
				"lane", name, "payload", raw, "err", err)
			continue
		}
		return req, nil
	}
	return nil, nil
}

func (q *MemoryIssueQueue) DepthPrimary(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.primary)), nil
}

func (q *MemoryIssueQueue) DepthRetry(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.retry)), nil
}

func (q *MemoryIssueQueue) RequeueRetryToPrimary(_ context.Context, maxItems int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	moved := 0
	for moved < maxItems && len(q.retry) > 0 {
		raw := q.retry[0]
		q.retry = q.retry[1:]
		q.primary = append(q.primary, raw)
		moved++
	}
	return moved, nil
}

func (q *MemoryIssueQueue) PurgeRetry(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retry = nil
	return nil
}
