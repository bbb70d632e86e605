package model

import "time"

// Category identifies one scored metric dimension.
type Category string

// Scored categories. The first four come from the code host, the rest
// from the chain indexer.
const (
	CategoryCommits       Category = "commits"
	CategoryPullRequests  Category = "pull_requests"
	CategoryReviews       Category = "reviews"
	CategoryIssues        Category = "issues"
	CategoryTxVolume      Category = "tx_volume"
	CategoryContractCalls Category = "contract_calls"
	CategoryUniqueUsers   Category = "unique_users"
)

// Score is the bounded 0-100 result of scoring one project's snapshots.
// Breakdown sub-scores sum to Total within rounding tolerance.
type Score struct {
	Total     float64              `json:"total"`
	Offchain  float64              `json:"offchain"`
	Onchain   float64              `json:"onchain"`
	Breakdown map[Category]float64 `json:"breakdown"`
}

// RewardTier is a named band of total scores mapping to a nominal USD
// reward. Tiers are disjoint and cover the whole [0,100] range.
type RewardTier struct {
	Name      string  `json:"name"`
	Label     string  `json:"label"`
	MinScore  float64 `json:"min_score"`
	MaxScore  float64 `json:"max_score"`
	RewardUSD float64 `json:"reward_usd"`
	Color     string  `json:"color"`
}

// MonthlyPoolState is the shared USD budget all projects draw from during
// one reward period. It is the only cross-request mutable state in the
// core; every mutation goes through the allocator's critical section.
type MonthlyPoolState struct {
	PeriodKey    string    `json:"period_key"` // e.g. "2026-08"
	CeilingUSD   float64   `json:"ceiling_usd"`
	CommittedUSD float64   `json:"committed_usd"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
}

// RemainingUSD reports the uncommitted portion of the pool.
func (p *MonthlyPoolState) RemainingUSD() float64 {
	r := p.CeilingUSD - p.CommittedUSD
	if r < 0 {
		return 0
	}
	return r
}

// RewardCalculation is the single artifact the scoring pipeline produces
// per project and cycle. Immutable once signed. Warnings carry the
// non-blocking validation findings of the cycle; they are advisory and
// sit outside the signed canonical form.
type RewardCalculation struct {
	ID            string               `json:"id"`
	Project       string               `json:"project"`
	PeriodKey     string               `json:"period_key"`
	OffchainScore float64              `json:"offchain_score"`
	OnchainScore  float64              `json:"onchain_score"`
	TotalScore    float64              `json:"total_score"`
	Tier          RewardTier           `json:"tier"`
	Breakdown     map[Category]float64 `json:"breakdown"`
	NominalUSD    float64              `json:"nominal_usd"`
	GrantedUSD    float64              `json:"granted_usd"`
	TokenAmount   float64              `json:"token_amount"`
	Warnings      []ValidationWarning  `json:"warnings,omitempty"`
	Signature     string               `json:"signature"`
	CalculatedAt  time.Time            `json:"calculated_at"`
}
