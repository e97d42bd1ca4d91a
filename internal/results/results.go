// Package results persists stage outputs to the destination bucket
// using the pipeline's deterministic key layout. Final results are
// write-once: redeliveries of an already-persisted document leave the
// first write in place.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lhuarcayat/BedrockAgent/internal/documents"
	"github.com/lhuarcayat/BedrockAgent/internal/pipeline"
	"github.com/lhuarcayat/BedrockAgent/pkg/storage"
)

// Config holds destination layout parameters.
type Config struct {
	// Prefix is the folder extraction results are rooted under.
	Prefix string `toml:"prefix"`
}

// Store writes classification, extraction, and failure artifacts.
type Store struct {
	blobs  storage.System
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a result store over the given storage system.
func New(cfg *Config, blobs storage.System, logger *slog.Logger) *Store {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "results"
	}

	return &Store{
		blobs:  blobs,
		prefix: prefix,
		logger: logger.With("system", "results"),
		now:    time.Now,
	}
}

// ClassificationKey returns the destination key for a classification result.
func (s *Store) ClassificationKey(ref documents.Reference) string {
	return fmt.Sprintf("classification/%s/%s/%s.json", ref.Category, ref.DocumentNumber, ref.FileID())
}

// ExtractionKey returns the destination key for a final extraction result.
func (s *Store) ExtractionKey(ref documents.Reference) string {
	return fmt.Sprintf("%s/%s/%s/%s_%s_%s.json",
		s.prefix, ref.Category, ref.DocumentNumber,
		ref.Category, ref.DocumentNumber, ref.FileID())
}

// RawKey returns the destination key for the raw model response.
func (s *Store) RawKey(ref documents.Reference) string {
	return fmt.Sprintf("RAW/%s/%s/raw_response_%s.json", ref.Category, ref.DocumentNumber, ref.FileID())
}

// FailureKey returns the destination key for a failure artifact.
func (s *Store) FailureKey(stage pipeline.Stage, ref documents.Reference) string {
	return fmt.Sprintf("errors/%s/%s/%s/%s_result_%s.json",
		stage, ref.Category, ref.DocumentNumber, stage, ref.FileID())
}

// SaveClassification persists an accepted classification result.
func (s *Store) SaveClassification(ctx context.Context, ref documents.Reference, result map[string]any) error {
	key := s.ClassificationKey(ref)
	if err := s.blobs.PutJSONIfAbsent(ctx, key, result); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			s.logger.InfoContext(ctx, "classification already persisted", "key", key)
			return nil
		}
		return fmt.Errorf("save classification %s: %w", ref.ID, err)
	}

	s.logger.InfoContext(ctx, "classification persisted", "key", key, "category", ref.Category)
	return nil
}

// SaveExtraction persists an accepted extraction result alongside the
// raw model response that produced it.
func (s *Store) SaveExtraction(ctx context.Context, ref documents.Reference, result map[string]any, raw string) error {
	key := s.ExtractionKey(ref)
	if err := s.blobs.PutJSONIfAbsent(ctx, key, result); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			s.logger.InfoContext(ctx, "extraction already persisted", "key", key)
			return nil
		}
		return fmt.Errorf("save extraction %s: %w", ref.ID, err)
	}

	if raw != "" {
		if err := s.blobs.Put(ctx, s.RawKey(ref), []byte(raw), "application/json"); err != nil {
			// the final result is already durable; losing the raw copy
			// is not worth a redelivery
			s.logger.WarnContext(ctx, "raw response not persisted", "document", ref.ID, "error", err)
		}
	}

	s.logger.InfoContext(ctx, "extraction persisted", "key", key, "category", ref.Category)
	return nil
}

// SaveFailure mirrors the failing payload into the errors tree so the
// review team can inspect what the models produced.
func (s *Store) SaveFailure(ctx context.Context, stage pipeline.Stage, ref documents.Reference, payload pipeline.Payload) error {
	artifact := map[string]any{
		"path":          payload.Path,
		"category":      ref.Category,
		"document_type": payload.DocumentType,
		"fallback_used": payload.FallbackUsed,
		"result":        payload.Result,
		"attempts":      payload.Attempts,
		"failed_at":     s.now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshal failure artifact %s: %w", ref.ID, err)
	}

	key := s.FailureKey(stage, ref)
	if err := s.blobs.Put(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("save failure artifact %s: %w", ref.ID, err)
	}

	s.logger.InfoContext(ctx, "failure artifact persisted", "key", key, "stage", stage)
	return nil
}

var _ pipeline.ResultStore = (*Store)(nil)
