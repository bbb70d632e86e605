// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(...) initializer to build a Config with defaults.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"context"
	"runtime"

	"github.com/okian/merit/internal/domain/scoring"
)

// Project binds one tracked project to its collection sources.
type Project struct {
	// Name is the project key used across the API, e.g. "acme/widgets".
	Name string `koanf:"name"`

	// GitHubRepo is the "owner/repo" to collect developer activity from.
	// Defaults to Name when empty.
	GitHubRepo string `koanf:"github_repo"`

	// ChainAccount is the on-chain account to collect usage from. A
	// project without one is scored on developer activity alone.
	ChainAccount string `koanf:"chain_account"`
}

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory cycle-job queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of pipeline workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the cycle deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// GitHubToken authenticates collector calls; empty means the public
	// unauthenticated tier.
	GitHubToken string `koanf:"github_token"`

	// IndexerURL points at the chain indexer API.
	IndexerURL string `koanf:"indexer_url"`

	// IndexerAPIKey authenticates indexer calls; optional.
	IndexerAPIKey string `koanf:"indexer_api_key"`

	// DatabaseDSN selects the Postgres store. Empty keeps everything in
	// memory, which is fine for a single node and for tests.
	DatabaseDSN string `koanf:"database_dsn"`

	// SigningSecret keys the HMAC over reward calculations. Required.
	SigningSecret string `koanf:"signing_secret"`

	// CollectSchedule is the cron spec for periodic collection cycles.
	CollectSchedule string `koanf:"collect_schedule"`

	// CollectionWindowDays sets how far back collectors look per cycle.
	CollectionWindowDays int `koanf:"collection_window_days"`

	// BasePoolUSD is the monthly pool ceiling opened for each period.
	BasePoolUSD float64 `koanf:"base_pool_usd"`

	// GrantFloorUSD and GrantCeilingUSD clamp individual grants.
	GrantFloorUSD   float64 `koanf:"grant_floor_usd"`
	GrantCeilingUSD float64 `koanf:"grant_ceiling_usd"`

	// CurveExponent shapes the score-to-grant reward curve.
	CurveExponent float64 `koanf:"curve_exponent"`

	// RolloverEnabled carries unused pool budget into the next period.
	RolloverEnabled bool `koanf:"rollover_enabled"`

	// MaxHistoryLimit caps GET /rewards/{project}/history?limit.
	MaxHistoryLimit int `koanf:"max_history_limit"`

	// Scoring holds category thresholds, point caps and the token price.
	Scoring scoring.Config `koanf:"scoring"`

	// Projects lists the tracked projects collected on the schedule.
	Projects []Project `koanf:"projects"`
}

// New creates a Config with defaults. Context is accepted first to
// satisfy the project-wide convention; it is reserved for future use.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":9080",
		QueueSize:            10_000,
		WorkerCount:          runtime.NumCPU() * 4,
		DedupeSize:           10_000,
		IndexerURL:           "https://api.nearblocks.io/v1",
		CollectSchedule:      "0 3 * * *", // daily at 03:00 UTC
		CollectionWindowDays: 30,
		BasePoolUSD:          50_000,
		GrantFloorUSD:        10,
		GrantCeilingUSD:      10_000,
		CurveExponent:        1.5,
		MaxHistoryLimit:      100,
		Scoring:              scoring.DefaultConfig(),
	}
}
