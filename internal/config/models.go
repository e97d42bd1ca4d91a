package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variable names for model configuration.
const (
	EnvPrimaryModel   = "BEDROCK_MODEL"
	EnvFallbackModel  = "FALLBACK_MODEL"
	EnvRetryAttempts  = "BEDROCK_RETRY_ATTEMPTS"
	EnvInterCallDelay = "INTER_CALL_DELAY"
)

// ModelsConfig names model identifiers and inference parameters.
type ModelsConfig struct {
	Primary         string  `toml:"primary"`
	Fallback        string  `toml:"fallback"`
	MaxOutputTokens int32   `toml:"max_output_tokens"`
	TopP            float64 `toml:"top_p"`
	Temperature     float64 `toml:"temperature"`
	CallTimeout     string  `toml:"call_timeout"`
	InterCallDelay  string  `toml:"inter_call_delay"`
}

// Merge overwrites non-zero fields from overlay.
func (c *ModelsConfig) Merge(overlay *ModelsConfig) {
	if overlay.Primary != "" {
		c.Primary = overlay.Primary
	}
	if overlay.Fallback != "" {
		c.Fallback = overlay.Fallback
	}
	if overlay.MaxOutputTokens != 0 {
		c.MaxOutputTokens = overlay.MaxOutputTokens
	}
	if overlay.TopP != 0 {
		c.TopP = overlay.TopP
	}
	if overlay.Temperature != 0 {
		c.Temperature = overlay.Temperature
	}
	if overlay.CallTimeout != "" {
		c.CallTimeout = overlay.CallTimeout
	}
	if overlay.InterCallDelay != "" {
		c.InterCallDelay = overlay.InterCallDelay
	}
}

// Finalize applies defaults, environment overrides, and validation.
func (c *ModelsConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

func (c *ModelsConfig) loadDefaults() {
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = 8192
	}
	if c.TopP == 0 {
		c.TopP = 0.9
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
	if c.CallTimeout == "" {
		c.CallTimeout = "5m"
	}
	if c.InterCallDelay == "" {
		c.InterCallDelay = "0s"
	}
}

func (c *ModelsConfig) loadEnv() {
	if v := os.Getenv(EnvPrimaryModel); v != "" {
		c.Primary = v
	}
	if v := os.Getenv(EnvFallbackModel); v != "" {
		c.Fallback = v
	}
	if v := os.Getenv(EnvInterCallDelay); v != "" {
		// the original deployments set this in whole seconds
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.InterCallDelay = fmt.Sprintf("%ds", n)
		} else {
			c.InterCallDelay = v
		}
	}
}

func (c *ModelsConfig) validate() error {
	if c.Primary == "" {
		return fmt.Errorf("primary model required")
	}
	if _, err := time.ParseDuration(c.CallTimeout); err != nil {
		return fmt.Errorf("invalid call_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.InterCallDelay); err != nil {
		return fmt.Errorf("invalid inter_call_delay: %w", err)
	}
	return nil
}

// CallTimeoutDuration returns CallTimeout as a time.Duration.
func (c *ModelsConfig) CallTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.CallTimeout)
	return d
}

// InterCallDelayDuration returns InterCallDelay as a time.Duration.
func (c *ModelsConfig) InterCallDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.InterCallDelay)
	return d
}
