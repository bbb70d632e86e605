package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/merit/internal/domain/budget"
	"github.com/okian/merit/internal/domain/model"
)

// MemoryStore is an in-process Store used for tests and single-node
// deployments without a database. Pool semantics are delegated to the
// in-memory pool store so the allocator's locking contract holds.
type MemoryStore struct {
	*budget.MemoryPoolStore

	mu    sync.RWMutex
	calcs map[string][]model.RewardCalculation // project -> newest first
	total int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		MemoryPoolStore: budget.NewMemoryPoolStore(),
		calcs:           make(map[string][]model.RewardCalculation),
	}
}

// SaveCalculation persists a signed calculation.
func (s *MemoryStore) SaveCalculation(_ context.Context, calc *model.RewardCalculation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calcs[calc.Project] = append([]model.RewardCalculation{*calc}, s.calcs[calc.Project]...)
	s.total++
	return nil
}

// LatestCalculation returns the most recent calculation for a project.
func (s *MemoryStore) LatestCalculation(_ context.Context, project string) (model.RewardCalculation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.calcs[project]
	if len(history) == 0 {
		return model.RewardCalculation{}, fmt.Errorf("%w: %s", ErrNotFound, project)
	}
	return history[0], nil
}

// History returns up to limit calculations for a project, newest first.
func (s *MemoryStore) History(_ context.Context, project string, limit int) ([]model.RewardCalculation, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.calcs[project]
	if len(history) > limit {
		history = history[:limit]
	}
	out := make([]model.RewardCalculation, len(history))
	copy(out, history)
	return out, nil
}

// Count returns the number of stored calculations.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total, nil
}
