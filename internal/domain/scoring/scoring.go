// Package scoring converts metric snapshots into a bounded 0-100 score
// using threshold-normalized, weighted category sub-scores.
package scoring

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/okian/merit/internal/domain/model"
)

// Score layout constants. Offchain categories account for 80 of the 100
// points, onchain for the remaining 20. When only one source is present
// the engine renormalizes that side onto the full 0-100 scale.
const (
	offchainMaxTotal = 80.0
	onchainMaxTotal  = 20.0
	maxTotalScore    = 100.0
)

// CategoryConfig holds the saturation threshold and point cap for one
// scored category. Sub-scores ramp linearly to MaxPoints and saturate at
// Threshold; activity beyond the threshold earns nothing extra, which
// keeps spam commits and wash transactions from inflating scores.
type CategoryConfig struct {
	Threshold float64 `koanf:"threshold"`
	MaxPoints float64 `koanf:"max_points"`
}

// Config carries every category's threshold and weight. Variants are
// configuration profiles, not code forks.
type Config struct {
	Commits       CategoryConfig `koanf:"commits"`
	PullRequests  CategoryConfig `koanf:"pull_requests"`
	Reviews       CategoryConfig `koanf:"reviews"`
	Issues        CategoryConfig `koanf:"issues"`
	TxVolumeUSD   CategoryConfig `koanf:"tx_volume_usd"`
	ContractCalls CategoryConfig `koanf:"contract_calls"`
	UniqueUsers   CategoryConfig `koanf:"unique_users"`

	// TokenPriceUSD converts native-unit transaction volume to USD when
	// the snapshot carries no price of its own.
	TokenPriceUSD float64 `koanf:"token_price_usd"`
}

// DefaultConfig returns the standard cohort scoring profile.
func DefaultConfig() Config {
	return Config{
		Commits:       CategoryConfig{Threshold: 100, MaxPoints: 28},
		PullRequests:  CategoryConfig{Threshold: 25, MaxPoints: 22},
		Reviews:       CategoryConfig{Threshold: 30, MaxPoints: 16},
		Issues:        CategoryConfig{Threshold: 30, MaxPoints: 14},
		TxVolumeUSD:   CategoryConfig{Threshold: 10_000, MaxPoints: 8},
		ContractCalls: CategoryConfig{Threshold: 500, MaxPoints: 8},
		UniqueUsers:   CategoryConfig{Threshold: 100, MaxPoints: 4},
		TokenPriceUSD: 5.0,
	}
}

// Validate fails fast on configurations that cannot produce a sound
// 0-100 scale: non-positive thresholds, negative weights, or category
// caps that do not sum to the expected side totals.
func (c Config) Validate() error {
	categories := map[model.Category]CategoryConfig{
		model.CategoryCommits:       c.Commits,
		model.CategoryPullRequests:  c.PullRequests,
		model.CategoryReviews:       c.Reviews,
		model.CategoryIssues:        c.Issues,
		model.CategoryTxVolume:      c.TxVolumeUSD,
		model.CategoryContractCalls: c.ContractCalls,
		model.CategoryUniqueUsers:   c.UniqueUsers,
	}
	for name, cat := range categories {
		if cat.Threshold <= 0 {
			return fmt.Errorf("%w: category %s has non-positive threshold %v", ErrInvalidConfig, name, cat.Threshold)
		}
		if cat.MaxPoints < 0 {
			return fmt.Errorf("%w: category %s has negative max points %v", ErrInvalidConfig, name, cat.MaxPoints)
		}
	}

	offchain := c.Commits.MaxPoints + c.PullRequests.MaxPoints + c.Reviews.MaxPoints + c.Issues.MaxPoints
	if math.Abs(offchain-offchainMaxTotal) > 1e-9 {
		return fmt.Errorf("%w: offchain max points sum to %v, want %v", ErrInvalidConfig, offchain, offchainMaxTotal)
	}
	onchain := c.TxVolumeUSD.MaxPoints + c.ContractCalls.MaxPoints + c.UniqueUsers.MaxPoints
	if math.Abs(onchain-onchainMaxTotal) > 1e-9 {
		return fmt.Errorf("%w: onchain max points sum to %v, want %v", ErrInvalidConfig, onchain, onchainMaxTotal)
	}
	if c.TokenPriceUSD < 0 {
		return fmt.Errorf("%w: negative token price %v", ErrInvalidConfig, c.TokenPriceUSD)
	}
	return nil
}

// Engine computes scores. Deterministic given inputs and configuration;
// no side effects, safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine validates the configuration and builds an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Score computes the combined score for the available snapshots. Either
// snapshot may be nil; with a single source present the available side is
// renormalized onto the full 0-100 scale instead of capping at its
// partial maximum. Both nil is an error.
func (e *Engine) Score(github *model.GitHubMetrics, chain *model.ChainMetrics) (model.Score, error) {
	if github == nil && chain == nil {
		return model.Score{}, ErrNoSnapshots
	}

	breakdown := make(map[model.Category]float64)
	var offchain, onchain float64

	if github != nil {
		breakdown[model.CategoryCommits] = subScore(float64(github.Commits.Count), e.cfg.Commits)
		breakdown[model.CategoryPullRequests] = subScore(float64(github.PullRequests.Merged), e.cfg.PullRequests)
		breakdown[model.CategoryReviews] = subScore(float64(github.Reviews.Count), e.cfg.Reviews)
		breakdown[model.CategoryIssues] = subScore(float64(github.Issues.Closed), e.cfg.Issues)
		offchain = breakdown[model.CategoryCommits] +
			breakdown[model.CategoryPullRequests] +
			breakdown[model.CategoryReviews] +
			breakdown[model.CategoryIssues]
	}

	if chain != nil {
		volumeUSD, err := e.volumeUSD(chain)
		if err != nil {
			return model.Score{}, err
		}
		breakdown[model.CategoryTxVolume] = subScore(volumeUSD, e.cfg.TxVolumeUSD)
		breakdown[model.CategoryContractCalls] = subScore(float64(chain.ContractCalls), e.cfg.ContractCalls)
		breakdown[model.CategoryUniqueUsers] = subScore(float64(len(chain.Wallets())), e.cfg.UniqueUsers)
		onchain = breakdown[model.CategoryTxVolume] +
			breakdown[model.CategoryContractCalls] +
			breakdown[model.CategoryUniqueUsers]
	}

	// Single-source renormalization: stretch the present side onto the
	// full scale so a chain-less project can still reach 100.
	scale := 1.0
	switch {
	case github != nil && chain != nil:
	case github != nil:
		scale = maxTotalScore / offchainMaxTotal
	default:
		scale = maxTotalScore / onchainMaxTotal
	}
	for cat, pts := range breakdown {
		breakdown[cat] = round2(pts * scale)
	}
	offchain *= scale
	onchain *= scale

	total := math.Round(offchain + onchain)
	if total > maxTotalScore {
		total = maxTotalScore
	}
	if total < 0 {
		total = 0
	}

	return model.Score{
		Total:     total,
		Offchain:  round2(offchain),
		Onchain:   round2(onchain),
		Breakdown: breakdown,
	}, nil
}

// volumeUSD converts the snapshot's native-unit volume string to USD
// with arbitrary precision. The snapshot's own collection-time price
// wins over the configured fallback.
func (e *Engine) volumeUSD(chain *model.ChainMetrics) (float64, error) {
	if chain.TxVolume == "" {
		return 0, nil
	}
	vol, err := decimal.NewFromString(chain.TxVolume)
	if err != nil {
		return 0, fmt.Errorf("%w: tx volume %q: %v", ErrMalformedVolume, chain.TxVolume, err)
	}
	if vol.IsNegative() {
		return 0, fmt.Errorf("%w: tx volume %q is negative", ErrMalformedVolume, chain.TxVolume)
	}
	price := chain.TokenPriceUSD
	if price == 0 {
		price = e.cfg.TokenPriceUSD
	}
	usd, _ := vol.Mul(decimal.NewFromFloat(price)).Float64()
	return usd, nil
}

// subScore is the saturating linear ramp: min(1, raw/threshold)*max.
func subScore(raw float64, cfg CategoryConfig) float64 {
	if raw <= 0 {
		return 0
	}
	ratio := raw / cfg.Threshold
	if ratio > 1 {
		ratio = 1
	}
	return ratio * cfg.MaxPoints
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
