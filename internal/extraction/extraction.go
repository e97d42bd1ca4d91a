// Package extraction implements the second pipeline stage: pulling the
// category's field schema out of the document and scoring the result.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lhuarcayat/BedrockAgent/internal/confidence"
	"github.com/lhuarcayat/BedrockAgent/internal/documents"
	"github.com/lhuarcayat/BedrockAgent/internal/pipeline"
	"github.com/lhuarcayat/BedrockAgent/internal/prompts"
	"github.com/lhuarcayat/BedrockAgent/pkg/bedrock"
	"github.com/lhuarcayat/BedrockAgent/pkg/formatting"
	"github.com/lhuarcayat/BedrockAgent/pkg/retry"
)

// Config holds stage routing targets.
type Config struct {
	FallbackQueueURL string
}

// Handler orchestrates the extraction stage for one document.
type Handler struct {
	rt      *pipeline.Runtime
	prompts prompts.Source
	cfg     Config
}

// New creates an extraction stage handler.
func New(rt *pipeline.Runtime, source prompts.Source, cfg Config) *Handler {
	return &Handler{rt: rt, prompts: source, cfg: cfg}
}

// Process extracts one document. Low-confidence results try the
// alternate model; if neither result clears the router, the best one
// travels to the fallback queue with the attempt history.
func (h *Handler) Process(ctx context.Context, payload pipeline.Payload) error {
	logger := h.rt.Logger.With("stage", pipeline.StageExtraction)

	ref, err := payload.Reference()
	if err != nil {
		return err
	}
	if payload.Category == "" {
		payload.Category = ref.Category
	}
	logger = logger.With("document", ref.ID, "category", payload.Category)

	key := pipeline.LockKey(pipeline.StageExtraction, ref)
	acq, err := h.rt.Locks.Claim(ctx, key)
	if err != nil {
		return err
	}
	if !acq.Acquired {
		logger.InfoContext(ctx, "document already being extracted, skipping",
			"status", pipeline.StatusSkipped)
		return nil
	}

	if err := h.process(ctx, logger, ref, payload); err != nil {
		h.rt.Locks.Release(ctx, key)
		return err
	}
	return nil
}

func (h *Handler) process(ctx context.Context, logger *slog.Logger, ref documents.Reference, payload pipeline.Payload) error {
	data, err := h.rt.Origin.Get(ctx, ref.Key)
	if err != nil {
		return fmt.Errorf("fetch document %s: %w", ref.ID, err)
	}

	pair, err := h.prompts.Extraction(payload.Category)
	if err != nil {
		return err
	}

	best := payload
	bestCoverage := -1.0

	for _, modelID := range h.rt.Models.Order(payload.FallbackUsed) {
		req := bedrock.Request{
			ModelID: modelID,
			System:  pair.System,
			Parts: []bedrock.Part{
				{Text: pair.User},
				{Document: &bedrock.Document{Name: ref.FileID(), Bytes: data}},
			},
			Params: h.rt.Models.Params,
		}

		res, attempt, err := h.rt.CallModel(ctx, pipeline.StageExtraction, req)
		best.Attempts = append(best.Attempts, attempt)

		if err != nil {
			if retry.KindOf(err) == retry.KindContentRejected {
				logger.WarnContext(ctx, "content rejected, not trying alternate model",
					"model", modelID)
				break
			}
			logger.WarnContext(ctx, "model attempt failed", "model", modelID, "error", err)
			continue
		}

		fields, err := formatting.Parse[map[string]any](res.Content)
		if err != nil {
			last := &best.Attempts[len(best.Attempts)-1]
			last.Status = pipeline.StatusModelInvoked
			last.ErrorKind = retry.KindMalformed
			last.ErrorMessage = err.Error()
			logger.WarnContext(ctx, "unusable extraction", "model", modelID, "error", err)
			continue
		}

		out := h.rt.Router.Decide(confidence.Signal{
			Category:      payload.Category,
			Fields:        fields,
			LowConfidence: lowConfidence(fields),
		})

		if out.Decision == confidence.Accept {
			if err := h.rt.Results.SaveExtraction(ctx, ref, fields, res.Content); err != nil {
				return err
			}
			logger.InfoContext(ctx, "extraction accepted",
				"status", pipeline.StatusAccepted,
				"model", modelID,
				"coverage", out.Coverage)
			return nil
		}

		last := &best.Attempts[len(best.Attempts)-1]
		last.Status = pipeline.StatusModelInvoked
		last.ErrorKind = retry.KindSchemaViolation
		last.ErrorMessage = "missing required fields: " + strings.Join(out.MissingFields, ", ")
		logger.InfoContext(ctx, "extraction below confidence threshold",
			"model", modelID,
			"coverage", out.Coverage,
			"missing_fields", out.MissingFields)

		// keep the richest rejected result for the fallback stage
		if out.Coverage > bestCoverage {
			bestCoverage = out.Coverage
			best.Result = fields
			best.ModelUsed = modelID
		}
	}

	best.Category = payload.Category
	best.DocumentType = payload.DocumentType
	best.FallbackUsed = true
	if err := h.rt.Queue.Send(ctx, h.cfg.FallbackQueueURL, best); err != nil {
		return fmt.Errorf("escalate %s: %w", ref.ID, err)
	}

	logger.InfoContext(ctx, "extraction escalated",
		"status", pipeline.StatusEscalated,
		"error_kind", pipeline.WorstKind(best.Attempts),
		"best_coverage", bestCoverage)
	return nil
}

// lowConfidence reads the model's self-reported uncertainty markers.
func lowConfidence(fields map[string]any) bool {
	if v, ok := fields["extraction_confidence"].(string); ok && v == "low" {
		return true
	}
	if v, ok := fields["requires_verification"].(bool); ok && v {
		return true
	}
	return false
}
