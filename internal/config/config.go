// Package config loads the pipeline configuration: a TOML base file,
// an optional per-environment overlay, then environment variable
// overrides and validation.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/lhuarcayat/BedrockAgent/internal/confidence"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvPipelineEnv = "PIPELINE_ENV"
	EnvRegion      = "REGION"
)

// Config is the root configuration for the pipeline Lambdas.
type Config struct {
	Region     string            `toml:"region"`
	Pipeline   PipelineConfig    `toml:"pipeline"`
	Models     ModelsConfig      `toml:"models"`
	Retry      RetryConfig       `toml:"retry"`
	Confidence confidence.Policy `toml:"confidence"`
}

// Env returns the PIPELINE_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvPipelineEnv); env != "" {
		return env
	}
	return "local"
}

// Load reads the base config (if present), applies any environment
// overlay, and finalizes all values. If no config.toml exists,
// defaults and environment variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.Region != "" {
		c.Region = overlay.Region
	}
	c.Pipeline.Merge(&overlay.Pipeline)
	c.Models.Merge(&overlay.Models)
	c.Retry.Merge(&overlay.Retry)
	if overlay.Confidence.MinFieldCoverage != 0 {
		c.Confidence.MinFieldCoverage = overlay.Confidence.MinFieldCoverage
	}
	if overlay.Confidence.Combine != "" {
		c.Confidence.Combine = overlay.Confidence.Combine
	}
}

func (c *Config) finalize() error {
	if v := os.Getenv(EnvRegion); v != "" {
		c.Region = v
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}

	if err := c.Pipeline.Finalize(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Models.Finalize(); err != nil {
		return fmt.Errorf("models: %w", err)
	}
	if err := c.Retry.Finalize(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.Confidence.Finalize(); err != nil {
		return fmt.Errorf("confidence: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvPipelineEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
