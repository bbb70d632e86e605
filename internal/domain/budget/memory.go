package budget

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/merit/internal/domain/model"
)

// MemoryPoolStore is an in-process PoolStore. Each period key gets its
// own one-slot semaphore so allocations for a period serialize while
// different periods proceed independently. Used by tests and as the
// write-through cache in front of the durable store.
type MemoryPoolStore struct {
	mu    sync.Mutex
	pools map[string]model.MonthlyPoolState
	locks map[string]chan struct{}
}

// NewMemoryPoolStore creates an empty in-memory pool store.
func NewMemoryPoolStore() *MemoryPoolStore {
	return &MemoryPoolStore{
		pools: make(map[string]model.MonthlyPoolState),
		locks: make(map[string]chan struct{}),
	}
}

func (s *MemoryPoolStore) lockFor(periodKey string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[periodKey]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[periodKey] = l
	}
	return l
}

// UpdatePool runs fn on the period's pool inside the period's critical
// section. Acquisition respects ctx: an expired context fails closed
// with ErrLockTimeout and the pool stays untouched.
func (s *MemoryPoolStore) UpdatePool(ctx context.Context, periodKey string, fn func(pool *model.MonthlyPoolState) error) (model.MonthlyPoolState, error) {
	l := s.lockFor(periodKey)
	select {
	case l <- struct{}{}:
		defer func() { <-l }()
	case <-ctx.Done():
		return model.MonthlyPoolState{}, fmt.Errorf("%w: period %s: %v", ErrLockTimeout, periodKey, ctx.Err())
	}

	s.mu.Lock()
	pool := s.pools[periodKey]
	s.mu.Unlock()

	if err := fn(&pool); err != nil {
		return model.MonthlyPoolState{}, err
	}

	s.mu.Lock()
	s.pools[periodKey] = pool
	s.mu.Unlock()
	return pool, nil
}

// LoadPool returns the pool for periodKey or ErrPoolNotFound.
func (s *MemoryPoolStore) LoadPool(_ context.Context, periodKey string) (model.MonthlyPoolState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[periodKey]
	if !ok {
		return model.MonthlyPoolState{}, fmt.Errorf("%w: period %s", ErrPoolNotFound, periodKey)
	}
	return pool, nil
}
