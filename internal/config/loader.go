package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New(ctx))
//  2. file (YAML) if MERIT_CONFIG is set
//  3. env (prefix MERIT_)
func Load(ctx context.Context) (*Config, error) {
	// Start with defaults
	base := New(ctx)

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("MERIT_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: MERIT_ADDR, MERIT_QUEUE_SIZE, ...
	// Map env keys like MERIT_QUEUE_SIZE -> queue_size (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("MERIT_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "merit_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast on settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.SigningSecret == "" {
		return fmt.Errorf("%w: signing_secret must not be empty", ErrInvalidConfig)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	}
	if c.CollectionWindowDays <= 0 {
		return fmt.Errorf("%w: collection_window_days must be positive", ErrInvalidConfig)
	}
	if c.GrantFloorUSD < 0 || c.GrantCeilingUSD <= 0 || c.GrantFloorUSD > c.GrantCeilingUSD {
		return fmt.Errorf("%w: grant bounds %v..%v", ErrInvalidConfig, c.GrantFloorUSD, c.GrantCeilingUSD)
	}
	if c.BasePoolUSD <= 0 {
		return fmt.Errorf("%w: base_pool_usd must be positive", ErrInvalidConfig)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("%w: scoring: %v", ErrInvalidConfig, err)
	}
	for i, p := range c.Projects {
		if p.Name == "" {
			return fmt.Errorf("%w: projects[%d] missing name", ErrInvalidConfig, i)
		}
	}
	return nil
}
