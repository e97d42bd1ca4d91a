package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lhuarcayat/BedrockAgent/pkg/formatting"
)

// Environment variable names for pipeline resources.
const (
	EnvLockTable         = "IDEMPOTENCY_TABLE"
	EnvReviewTable       = "MANUAL_REVIEW_TABLE"
	EnvExtractionQueue   = "EXTRACTION_SQS"
	EnvFallbackQueue     = "FALLBACK_SQS"
	EnvOriginBucket      = "S3_ORIGIN_BUCKET"
	EnvDestinationBucket = "DESTINATION_BUCKET"
	EnvFolderPrefix      = "FOLDER_PREFIX"
	EnvPromptsDir        = "PROMPTS_DIR"
	EnvBatchConcurrency  = "BATCH_CONCURRENCY"
	EnvLockTTL           = "LOCK_TTL"
	EnvMaxDocumentSize   = "MAX_DOCUMENT_SIZE"
)

// PipelineConfig names the AWS resources the stages are wired to.
type PipelineConfig struct {
	LockTable          string `toml:"lock_table"`
	LockTTL            string `toml:"lock_ttl"`
	ReviewTable        string `toml:"review_table"`
	OriginBucket       string `toml:"origin_bucket"`
	DestinationBucket  string `toml:"destination_bucket"`
	FolderPrefix       string `toml:"folder_prefix"`
	ExtractionQueueURL string `toml:"extraction_queue_url"`
	FallbackQueueURL   string `toml:"fallback_queue_url"`
	PromptsDir         string `toml:"prompts_dir"`
	BatchConcurrency   int    `toml:"batch_concurrency"`
	// MaxDocumentSize caps the documents sent to a model, e.g. "4.5 MB".
	MaxDocumentSize string `toml:"max_document_size"`
}

// Merge overwrites non-zero fields from overlay.
func (c *PipelineConfig) Merge(overlay *PipelineConfig) {
	if overlay.LockTable != "" {
		c.LockTable = overlay.LockTable
	}
	if overlay.LockTTL != "" {
		c.LockTTL = overlay.LockTTL
	}
	if overlay.ReviewTable != "" {
		c.ReviewTable = overlay.ReviewTable
	}
	if overlay.OriginBucket != "" {
		c.OriginBucket = overlay.OriginBucket
	}
	if overlay.DestinationBucket != "" {
		c.DestinationBucket = overlay.DestinationBucket
	}
	if overlay.FolderPrefix != "" {
		c.FolderPrefix = overlay.FolderPrefix
	}
	if overlay.ExtractionQueueURL != "" {
		c.ExtractionQueueURL = overlay.ExtractionQueueURL
	}
	if overlay.FallbackQueueURL != "" {
		c.FallbackQueueURL = overlay.FallbackQueueURL
	}
	if overlay.PromptsDir != "" {
		c.PromptsDir = overlay.PromptsDir
	}
	if overlay.BatchConcurrency != 0 {
		c.BatchConcurrency = overlay.BatchConcurrency
	}
	if overlay.MaxDocumentSize != "" {
		c.MaxDocumentSize = overlay.MaxDocumentSize
	}
}

// Finalize applies defaults, environment overrides, and validation.
func (c *PipelineConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

func (c *PipelineConfig) loadDefaults() {
	if c.LockTTL == "" {
		c.LockTTL = "30m"
	}
	if c.FolderPrefix == "" {
		c.FolderPrefix = "extraction"
	}
	if c.BatchConcurrency == 0 {
		c.BatchConcurrency = 4
	}
	if c.MaxDocumentSize == "" {
		c.MaxDocumentSize = "4.5 MB"
	}
}

func (c *PipelineConfig) loadEnv() {
	for env, field := range map[string]*string{
		EnvLockTable:         &c.LockTable,
		EnvLockTTL:           &c.LockTTL,
		EnvReviewTable:       &c.ReviewTable,
		EnvOriginBucket:      &c.OriginBucket,
		EnvDestinationBucket: &c.DestinationBucket,
		EnvFolderPrefix:      &c.FolderPrefix,
		EnvExtractionQueue:   &c.ExtractionQueueURL,
		EnvFallbackQueue:     &c.FallbackQueueURL,
		EnvPromptsDir:        &c.PromptsDir,
		EnvMaxDocumentSize:   &c.MaxDocumentSize,
	} {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}

	if v := os.Getenv(EnvBatchConcurrency); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.BatchConcurrency = n
		}
	}
}

func (c *PipelineConfig) validate() error {
	if c.LockTable == "" {
		return fmt.Errorf("lock_table required")
	}
	if c.OriginBucket == "" {
		return fmt.Errorf("origin_bucket required")
	}
	if c.DestinationBucket == "" {
		return fmt.Errorf("destination_bucket required")
	}
	if _, err := time.ParseDuration(c.LockTTL); err != nil {
		return fmt.Errorf("invalid lock_ttl: %w", err)
	}
	if _, err := formatting.ParseBytes(c.MaxDocumentSize); err != nil {
		return fmt.Errorf("invalid max_document_size: %w", err)
	}
	return nil
}

// LockTTLDuration returns LockTTL as a time.Duration.
func (c *PipelineConfig) LockTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.LockTTL)
	return d
}

// MaxDocumentBytes returns MaxDocumentSize as a byte count.
func (c *PipelineConfig) MaxDocumentBytes() int64 {
	n, _ := formatting.ParseBytes(c.MaxDocumentSize)
	return n
}
