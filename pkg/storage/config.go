package storage

import (
	"fmt"
	"os"
)

// Config holds S3 bucket parameters.
type Config struct {
	Bucket string `toml:"bucket"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Bucket string
}

// Finalize applies environment variable overrides and validation.
func (c *Config) Finalize(env *Env) error {
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Bucket != "" {
		c.Bucket = overlay.Bucket
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Bucket != "" {
		if v := os.Getenv(env.Bucket); v != "" {
			c.Bucket = v
		}
	}
}

func (c *Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket required")
	}
	return nil
}
