package fastpath

import (
	"context"
	"sync"
)

// MemoryCounterStore is a mutex-guarded in-process counter. It keeps the
// orchestrator testable without a live Redis and doubles as a single-node
// deployment option.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[int64]int64
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: make(map[int64]int64)}
}

func (s *MemoryCounterStore) TryClaim(_ context.Context, couponID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[couponID]--
	return s.counters[couponID], nil
}

func (s *MemoryCounterStore) Release(_ context.Context, couponID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[couponID]++
	return nil
}

func (s *MemoryCounterStore) Set(_ context.Context, couponID int64, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[couponID] = value
	return nil
}

// Value reads the current counter, for tests and introspection.
func (s *MemoryCounterStore) Value(couponID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[couponID]
}

// MemoryMembershipStore is the in-process MembershipStore counterpart.
type MemoryMembershipStore struct {
	mu      sync.Mutex
	members map[int64]map[string]struct{}
}

func NewMemoryMembershipStore() *MemoryMembershipStore {
	return &MemoryMembershipStore{members: make(map[int64]map[string]struct{})}
}

func (s *MemoryMembershipStore) Claim(_ context.Context, couponID int64, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[couponID]
	if !ok {
		set = make(map[string]struct{})
		s.members[couponID] = set
	}
	if _, exists := set[userID]; exists {
		return false, nil
	}
	set[userID] = struct{}{}
	return true, nil
}

func (s *MemoryMembershipStore) Release(_ context.Context, couponID int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.members[couponID]; ok {
		delete(set, userID)
	}
	return nil
}

func (s *MemoryMembershipStore) Contains(_ context.Context, couponID int64, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[couponID]
	if !ok {
		return false, nil
	}
	_, exists := set[userID]
	return exists, nil
}

func (s *MemoryMembershipStore) Clear(_ context.Context, couponID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, couponID)
	return nil
}
