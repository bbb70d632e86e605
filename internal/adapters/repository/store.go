// Package repository defines the reward store interface and errors.
package repository

import (
	"context"

	"github.com/okian/merit/internal/domain/model"
)

// Store provides read/write access to signed reward calculations and the
// monthly pool records. Implementations must satisfy the pool contract of
// the budget allocator: UpdatePool runs its callback inside one critical
// section per period key.
type Store interface {
	// SaveCalculation persists a signed calculation.
	SaveCalculation(ctx context.Context, calc *model.RewardCalculation) error

	// LatestCalculation returns the most recent calculation for a project.
	// Returns ErrNotFound if the project has never been scored.
	LatestCalculation(ctx context.Context, project string) (model.RewardCalculation, error)

	// History returns up to limit calculations for a project, newest first.
	History(ctx context.Context, project string, limit int) ([]model.RewardCalculation, error)

	// Count returns the number of stored calculations.
	Count(ctx context.Context) (int64, error)

	// UpdatePool applies fn to the pool for periodKey atomically and
	// returns the resulting state.
	UpdatePool(ctx context.Context, periodKey string, fn func(pool *model.MonthlyPoolState) error) (model.MonthlyPoolState, error)

	// LoadPool reads the pool for periodKey without mutating it.
	LoadPool(ctx context.Context, periodKey string) (model.MonthlyPoolState, error)
}
