// Package tier maps total scores onto discrete reward tiers by
// descending-threshold matching.
package tier

import (
	"errors"
	"fmt"
	"sort"

	"github.com/okian/merit/internal/domain/model"
)

// ErrInvalidTable marks tier tables that cannot cover [0,100] soundly.
var ErrInvalidTable = errors.New("invalid tier table")

// DefaultTable returns the standard cohort tier ladder. The Member tier
// carries no reward and is the fallback for a zero score.
func DefaultTable() []model.RewardTier {
	return []model.RewardTier{
		{Name: "Diamond", Label: "💎", MinScore: 85, MaxScore: 100, RewardUSD: 10_000, Color: "#B9F2FF"},
		{Name: "Gold", Label: "🥇", MinScore: 70, MaxScore: 84, RewardUSD: 6_000, Color: "#FFD700"},
		{Name: "Silver", Label: "🥈", MinScore: 55, MaxScore: 69, RewardUSD: 3_000, Color: "#C0C0C0"},
		{Name: "Bronze", Label: "🥉", MinScore: 40, MaxScore: 54, RewardUSD: 1_000, Color: "#CD7F32"},
		{Name: "Contributor", Label: "🌱", MinScore: 20, MaxScore: 39, RewardUSD: 500, Color: "#A4A4A4"},
		{Name: "Explorer", Label: "🔍", MinScore: 1, MaxScore: 19, RewardUSD: 100, Color: "#808080"},
		{Name: "Member", Label: "👤", MinScore: 0, MaxScore: 0, RewardUSD: 0, Color: "#000000"},
	}
}

// Resolver resolves scores to tiers. Pure, stateless, idempotent.
type Resolver struct {
	// tiers sorted descending by MinScore; the last entry is the
	// zero-reward fallback.
	tiers []model.RewardTier
}

// NewResolver validates the table and builds a Resolver. The table must
// contain a zero-reward tier with MinScore 0 so every score resolves.
func NewResolver(table []model.RewardTier) (*Resolver, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTable)
	}

	tiers := make([]model.RewardTier, len(table))
	copy(tiers, table)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinScore > tiers[j].MinScore })

	last := tiers[len(tiers)-1]
	if last.MinScore != 0 || last.RewardUSD != 0 {
		return nil, fmt.Errorf("%w: missing zero-reward fallback tier at score 0", ErrInvalidTable)
	}
	for i, t := range tiers {
		if t.RewardUSD < 0 {
			return nil, fmt.Errorf("%w: tier %s has negative reward", ErrInvalidTable, t.Name)
		}
		if i > 0 && tiers[i-1].MinScore == t.MinScore {
			return nil, fmt.Errorf("%w: duplicate min score %v", ErrInvalidTable, t.MinScore)
		}
		// Rewards must be non-decreasing in score so a better score never
		// pays less.
		if i > 0 && tiers[i-1].RewardUSD < t.RewardUSD {
			return nil, fmt.Errorf("%w: tier %s pays more than the tier above it", ErrInvalidTable, t.Name)
		}
	}
	return &Resolver{tiers: tiers}, nil
}

// Resolve returns the first tier whose MinScore does not exceed the
// total score. Scores below every positive band land on the zero-reward
// fallback.
func (r *Resolver) Resolve(totalScore float64) model.RewardTier {
	for _, t := range r.tiers {
		if totalScore >= t.MinScore {
			return t
		}
	}
	return r.tiers[len(r.tiers)-1]
}

// Table returns a copy of the resolved tier ladder, highest first.
func (r *Resolver) Table() []model.RewardTier {
	out := make([]model.RewardTier, len(r.tiers))
	copy(out, r.tiers)
	return out
}
