// Package model contains domain models passed between layers.
package model

import "time"

// CommitMetrics aggregates commit activity for a project over one
// collection period.
type CommitMetrics struct {
	Count   int      `json:"count"`
	Authors []string `json:"authors"`
}

// PullRequestMetrics aggregates pull-request activity.
type PullRequestMetrics struct {
	Open    int      `json:"open"`
	Merged  int      `json:"merged"`
	Closed  int      `json:"closed"`
	Authors []string `json:"authors"`
}

// ReviewMetrics aggregates code-review activity.
type ReviewMetrics struct {
	Count   int      `json:"count"`
	Authors []string `json:"authors"`
}

// IssueMetrics aggregates issue activity.
type IssueMetrics struct {
	Open         int      `json:"open"`
	Closed       int      `json:"closed"`
	Participants []string `json:"participants"`
}

// GitHubMetrics is an immutable snapshot of developer activity collected
// from the code host for a single project. Produced once per collection
// cycle; never mutated afterwards.
type GitHubMetrics struct {
	Project      string             `json:"project"`
	Commits      CommitMetrics      `json:"commits"`
	PullRequests PullRequestMetrics `json:"pull_requests"`
	Reviews      ReviewMetrics      `json:"reviews"`
	Issues       IssueMetrics       `json:"issues"`
	CollectedAt  time.Time          `json:"collected_at"`
}

// Participants returns the union of every GitHub handle that touched the
// project during the period: commit authors, PR authors, reviewers and
// issue participants.
func (m *GitHubMetrics) Participants() map[string]struct{} {
	set := make(map[string]struct{})
	for _, group := range [][]string{
		m.Commits.Authors,
		m.PullRequests.Authors,
		m.Reviews.Authors,
		m.Issues.Participants,
	} {
		for _, u := range group {
			if u != "" {
				set[u] = struct{}{}
			}
		}
	}
	return set
}

// ChainMetrics is an immutable snapshot of on-chain usage collected from
// the blockchain indexer for a single project.
//
// TxVolume is kept as a decimal string in native token units; the indexer
// reports amounts that overflow float64, so conversion happens at the
// scoring boundary with arbitrary precision.
type ChainMetrics struct {
	Project       string    `json:"project"`
	TxCount       int       `json:"tx_count"`
	TxVolume      string    `json:"tx_volume"`
	ContractCalls int       `json:"contract_calls"`
	UniqueUsers   []string  `json:"unique_users"`
	UniqueCallers []string  `json:"unique_callers"`
	TokenPriceUSD float64   `json:"token_price_usd,omitempty"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Wallets returns the union of unique users and unique contract callers.
func (m *ChainMetrics) Wallets() map[string]struct{} {
	set := make(map[string]struct{})
	for _, group := range [][]string{m.UniqueUsers, m.UniqueCallers} {
		for _, w := range group {
			if w != "" {
				set[w] = struct{}{}
			}
		}
	}
	return set
}
