// Package budget rations nominal tier rewards against the shared,
// time-boxed monthly pool. Every allocation is one atomic
// read-compute-write critical section per period key; there is no
// unlocked fallback path.
package budget

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/merit/internal/domain/model"
)

// Default allocation parameters.
const (
	defaultCurveExponent = 1.5
	defaultFloorUSD      = 10.0
	defaultCeilingUSD    = 10_000.0
	defaultBasePoolUSD   = 50_000.0
	defaultLockWait      = 5 * time.Second
)

// PoolStore owns the durable pool record. Update runs fn on the pool for
// periodKey inside one critical section: implementations must guarantee
// that no two Update calls for the same key interleave between the read
// of the pool and the write of the mutated copy. An Update that cannot
// acquire its lock before ctx expires returns ErrLockTimeout and leaves
// the pool untouched.
type PoolStore interface {
	UpdatePool(ctx context.Context, periodKey string, fn func(pool *model.MonthlyPoolState) error) (model.MonthlyPoolState, error)
	LoadPool(ctx context.Context, periodKey string) (model.MonthlyPoolState, error)
}

// Request asks for an allocation for one scored project.
type Request struct {
	Project string
	Score   float64 // total score in [0,100]
	TierUSD float64 // nominal reward of the resolved tier
}

// Grant is the outcome of an allocation.
type Grant struct {
	NominalUSD float64
	GrantedUSD float64
	Pool       model.MonthlyPoolState // pool state after the grant
}

// Option applies a configuration option to the Allocator.
type Option func(*Allocator)

// WithCurveExponent sets the reward-curve exponent. Values above 1 pay
// high performers disproportionately, which keeps mid-tier grinding
// unattractive.
func WithCurveExponent(e float64) Option {
	return func(a *Allocator) {
		if e > 0 {
			a.exponent = e
		}
	}
}

// WithFloor sets the minimum positive grant in USD.
func WithFloor(usd float64) Option {
	return func(a *Allocator) {
		if usd >= 0 {
			a.floorUSD = usd
		}
	}
}

// WithCeiling sets the maximum single grant in USD.
func WithCeiling(usd float64) Option {
	return func(a *Allocator) {
		if usd > 0 {
			a.ceilingUSD = usd
		}
	}
}

// WithBasePool sets the pool ceiling opened for each new period.
func WithBasePool(usd float64) Option {
	return func(a *Allocator) {
		if usd > 0 {
			a.basePoolUSD = usd
		}
	}
}

// WithLockWait bounds how long an allocation may wait for the pool lock
// before failing closed.
func WithLockWait(d time.Duration) Option {
	return func(a *Allocator) {
		if d > 0 {
			a.lockWait = d
		}
	}
}

// WithRollover carries a period's unused budget into the next period's
// ceiling.
func WithRollover(enabled bool) Option {
	return func(a *Allocator) {
		a.rollover = enabled
	}
}

// Allocator decides grants and reserves them against the pool.
//
// Exhaustion policy: partial grant. When the remaining pool is smaller
// than the computed (even floored) amount, the grant is clamped to
// whatever remains, possibly below the floor and possibly zero. A nearly
// empty pool therefore still pays out its last dollars instead of
// refusing late arrivals outright.
type Allocator struct {
	store       PoolStore
	exponent    float64
	floorUSD    float64
	ceilingUSD  float64
	basePoolUSD float64
	lockWait    time.Duration
	rollover    bool
}

// NewAllocator builds an Allocator on top of a pool store.
func NewAllocator(store PoolStore, opts ...Option) (*Allocator, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	a := &Allocator{
		store:       store,
		exponent:    defaultCurveExponent,
		floorUSD:    defaultFloorUSD,
		ceilingUSD:  defaultCeilingUSD,
		basePoolUSD: defaultBasePoolUSD,
		lockWait:    defaultLockWait,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.floorUSD > a.ceilingUSD {
		return nil, fmt.Errorf("%w: floor %v above ceiling %v", ErrInvalidBounds, a.floorUSD, a.ceilingUSD)
	}
	return a, nil
}

// Allocate reserves a grant for the request within the period's pool.
// The whole decision runs inside the store's critical section so two
// concurrent requests can never both grant against the same remaining
// balance. Zero-reward requests return a zero grant without touching the
// pool. A negative tier reward or score is caller misuse and fails.
func (a *Allocator) Allocate(ctx context.Context, at time.Time, req Request) (Grant, error) {
	if req.TierUSD < 0 {
		return Grant{}, fmt.Errorf("%w: nominal reward %v", ErrNegativeAmount, req.TierUSD)
	}
	if req.Score < 0 || req.Score > 100 {
		return Grant{}, fmt.Errorf("%w: score %v", ErrScoreOutOfRange, req.Score)
	}

	key := PeriodKey(at)

	if req.TierUSD == 0 {
		pool, err := a.loadOrInit(ctx, key, at)
		if err != nil {
			return Grant{}, err
		}
		return Grant{Pool: pool}, nil
	}

	nominal := req.TierUSD
	var granted float64

	lockCtx, cancel := context.WithTimeout(ctx, a.lockWait)
	defer cancel()

	pool, err := a.store.UpdatePool(lockCtx, key, func(pool *model.MonthlyPoolState) error {
		a.initPool(pool, key, at)

		base := math.Pow(req.Score/100, a.exponent) * req.TierUSD
		granted = base
		if granted < a.floorUSD {
			granted = a.floorUSD
		}
		if granted > a.ceilingUSD {
			granted = a.ceilingUSD
		}
		// Partial-grant exhaustion policy: the remaining pool caps the
		// grant last, below the floor if that is all that is left.
		if remaining := pool.RemainingUSD(); granted > remaining {
			granted = remaining
		}
		granted = roundCents(granted)

		pool.CommittedUSD = roundCents(pool.CommittedUSD + granted)
		return nil
	})
	if err != nil {
		return Grant{}, err
	}

	return Grant{NominalUSD: nominal, GrantedUSD: granted, Pool: pool}, nil
}

// RollOver opens the pool for the period containing at, seeding its
// ceiling with the base pool plus, when rollover is enabled, the unused
// balance of the previous period. Called at period boundaries by the
// scheduler; harmless if the pool already exists.
func (a *Allocator) RollOver(ctx context.Context, at time.Time) (model.MonthlyPoolState, error) {
	key := PeriodKey(at)
	prevKey := PeriodKey(at.AddDate(0, -1, 0))

	var leftover float64
	if a.rollover {
		prev, err := a.store.LoadPool(ctx, prevKey)
		switch {
		case err == nil:
			leftover = prev.RemainingUSD()
		case IsPoolNotFound(err):
			// First period; nothing to carry.
		default:
			return model.MonthlyPoolState{}, err
		}
	}

	lockCtx, cancel := context.WithTimeout(ctx, a.lockWait)
	defer cancel()

	return a.store.UpdatePool(lockCtx, key, func(pool *model.MonthlyPoolState) error {
		if pool.PeriodKey != "" {
			return nil // already open
		}
		a.initPool(pool, key, at)
		pool.CeilingUSD = roundCents(a.basePoolUSD + leftover)
		return nil
	})
}

// Pool returns the current state of the period's pool, opening it with
// the base ceiling if it does not exist yet.
func (a *Allocator) Pool(ctx context.Context, at time.Time) (model.MonthlyPoolState, error) {
	return a.loadOrInit(ctx, PeriodKey(at), at)
}

func (a *Allocator) loadOrInit(ctx context.Context, key string, at time.Time) (model.MonthlyPoolState, error) {
	pool, err := a.store.LoadPool(ctx, key)
	if err == nil {
		return pool, nil
	}
	if !IsPoolNotFound(err) {
		return model.MonthlyPoolState{}, err
	}
	lockCtx, cancel := context.WithTimeout(ctx, a.lockWait)
	defer cancel()
	return a.store.UpdatePool(lockCtx, key, func(pool *model.MonthlyPoolState) error {
		a.initPool(pool, key, at)
		return nil
	})
}

// initPool fills in a zero-value pool for a period seen for the first
// time. No-op when the pool is already open.
func (a *Allocator) initPool(pool *model.MonthlyPoolState, key string, at time.Time) {
	if pool.PeriodKey != "" {
		return
	}
	start, end := PeriodBounds(at)
	pool.PeriodKey = key
	pool.CeilingUSD = a.basePoolUSD
	pool.PeriodStart = start
	pool.PeriodEnd = end
}

// PeriodKey formats the month-granular reward period for a timestamp.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// PeriodBounds returns the [start, end) UTC bounds of the reward period
// containing t.
func PeriodBounds(t time.Time) (time.Time, time.Time) {
	u := t.UTC()
	start := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
