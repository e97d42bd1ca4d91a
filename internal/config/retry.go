package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lhuarcayat/BedrockAgent/pkg/retry"
)

// RetryConfig tunes the backoff applied around model calls.
type RetryConfig struct {
	MaxAttempts int     `toml:"max_attempts"`
	BaseDelay   string  `toml:"base_delay"`
	Factor      float64 `toml:"factor"`
	MaxDelay    string  `toml:"max_delay"`
	Jitter      float64 `toml:"jitter"`
}

// Merge overwrites non-zero fields from overlay.
func (c *RetryConfig) Merge(overlay *RetryConfig) {
	if overlay.MaxAttempts != 0 {
		c.MaxAttempts = overlay.MaxAttempts
	}
	if overlay.BaseDelay != "" {
		c.BaseDelay = overlay.BaseDelay
	}
	if overlay.Factor != 0 {
		c.Factor = overlay.Factor
	}
	if overlay.MaxDelay != "" {
		c.MaxDelay = overlay.MaxDelay
	}
	if overlay.Jitter != 0 {
		c.Jitter = overlay.Jitter
	}
}

// Finalize applies defaults, environment overrides, and validation.
func (c *RetryConfig) Finalize() error {
	defaults := retry.DefaultPolicy()

	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.BaseDelay == "" {
		c.BaseDelay = defaults.BaseDelay.String()
	}
	if c.Factor == 0 {
		c.Factor = defaults.Factor
	}
	if c.MaxDelay == "" {
		c.MaxDelay = defaults.MaxDelay.String()
	}
	if c.Jitter == 0 {
		c.Jitter = defaults.Jitter
	}

	if v := os.Getenv(EnvRetryAttempts); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxAttempts = n
		}
	}

	if _, err := time.ParseDuration(c.BaseDelay); err != nil {
		return fmt.Errorf("invalid base_delay: %w", err)
	}
	if _, err := time.ParseDuration(c.MaxDelay); err != nil {
		return fmt.Errorf("invalid max_delay: %w", err)
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("jitter %v outside [0,1)", c.Jitter)
	}
	return nil
}

// Policy converts the config into a retry policy.
func (c *RetryConfig) Policy() retry.Policy {
	base, _ := time.ParseDuration(c.BaseDelay)
	ceiling, _ := time.ParseDuration(c.MaxDelay)

	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   base,
		Factor:      c.Factor,
		MaxDelay:    ceiling,
		Jitter:      c.Jitter,
	}
}
