// Package fallback implements the last pipeline stage: a final model
// pass over documents the earlier stages gave up on, and the only
// place that writes manual review entries.
package fallback

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
	ExtractionQueueURL string
}

// Handler orchestrates the fallback stage for one document.
type Handler struct {
	rt      *pipeline.Runtime
	prompts prompts.Source
	cfg     Config
}

// New creates a fallback stage handler.
func New(rt *pipeline.Runtime, source prompts.Source, cfg Config) *Handler {
	return &Handler{rt: rt, prompts: source, cfg: cfg}
}

// Process makes the pipeline's last attempt at a document. Content
// rejections skip straight to manual review: every model already
// refused the document, so another invocation cannot help. Anything
// the final pass cannot rescue is recorded for the review team.
func (h *Handler) Process(ctx context.Context, payload pipeline.Payload) error {
	logger := h.rt.Logger.With("stage", pipeline.StageFallback)

	ref, err := payload.Reference()
	if err != nil {
		return err
	}
	logger = logger.With("document", ref.ID)

	key := pipeline.LockKey(pipeline.StageFallback, ref)
	acq, err := h.rt.Locks.Claim(ctx, key)
	if err != nil {
		return err
	}
	if !acq.Acquired {
		logger.InfoContext(ctx, "document already in fallback, skipping",
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
	if pipeline.LastKind(payload.Attempts) == retry.KindContentRejected {
		logger.InfoContext(ctx, "content rejected upstream, no further attempts")
		return h.reject(ctx, logger, ref, payload)
	}

	if payload.Category == "" || payload.Category.Terminal() {
		return h.reclassify(ctx, logger, ref, payload)
	}
	return h.reextract(ctx, logger, ref, payload)
}

// reclassify handles documents that never got a category. A successful
// pass feeds the document back into the normal extraction path.
func (h *Handler) reclassify(ctx context.Context, logger *slog.Logger, ref documents.Reference, payload pipeline.Payload) error {
	data, err := h.rt.Origin.Get(ctx, ref.Key)
	if err != nil {
		return fmt.Errorf("fetch document %s: %w", ref.ID, err)
	}

	pair, err := h.prompts.Classification()
	if err != nil {
		return err
	}

	for _, modelID := range h.rt.Models.Order(payload.FallbackUsed) {
		req := request(modelID, pair, ref, data, h.rt.Models.Params)

		res, attempt, err := h.rt.CallModel(ctx, pipeline.StageFallback, req)
		payload.Attempts = append(payload.Attempts, attempt)

		if err != nil {
			if retry.KindOf(err) == retry.KindContentRejected {
				break
			}
			logger.WarnContext(ctx, "model attempt failed", "model", modelID, "error", err)
			continue
		}

		category, docType, fields, err := documents.ParseClassification(res.Content)
		if err != nil {
			last := &payload.Attempts[len(payload.Attempts)-1]
			last.Status = pipeline.StatusModelInvoked
			last.ErrorKind = retry.KindMalformed
			last.ErrorMessage = err.Error()
			logger.WarnContext(ctx, "unusable result", "model", modelID, "error", err)
			continue
		}

		if err := h.rt.Results.SaveClassification(ctx, ref, fields); err != nil {
			return err
		}
		if category.Terminal() {
			logger.InfoContext(ctx, "terminal category recovered",
				"status", pipeline.StatusAccepted, "category", category)
			return nil
		}

		next := payload
		next.Category = category
		next.DocumentType = docType
		next.ModelUsed = modelID
		next.FallbackUsed = true
		if err := h.rt.Queue.Send(ctx, h.cfg.ExtractionQueueURL, next); err != nil {
			return fmt.Errorf("enqueue extraction %s: %w", ref.ID, err)
		}

		logger.InfoContext(ctx, "classification recovered",
			"status", pipeline.StatusAccepted, "category", category)
		return nil
	}

	return h.reject(ctx, logger, ref, payload)
}

// reextract makes the final extraction pass. The router still decides,
// but there is no further stage to escalate to.
func (h *Handler) reextract(ctx context.Context, logger *slog.Logger, ref documents.Reference, payload pipeline.Payload) error {
	data, err := h.rt.Origin.Get(ctx, ref.Key)
	if err != nil {
		return fmt.Errorf("fetch document %s: %w", ref.ID, err)
	}

	pair, err := h.prompts.Extraction(payload.Category)
	if err != nil {
		return err
	}

	for _, modelID := range h.rt.Models.Order(payload.FallbackUsed) {
		req := request(modelID, pair, ref, data, h.rt.Models.Params)

		res, attempt, err := h.rt.CallModel(ctx, pipeline.StageFallback, req)
		payload.Attempts = append(payload.Attempts, attempt)

		if err != nil {
			if retry.KindOf(err) == retry.KindContentRejected {
				break
			}
			logger.WarnContext(ctx, "model attempt failed", "model", modelID, "error", err)
			continue
		}

		fields, err := formatting.Parse[map[string]any](res.Content)
		if err != nil {
			last := &payload.Attempts[len(payload.Attempts)-1]
			last.Status = pipeline.StatusModelInvoked
			last.ErrorKind = retry.KindMalformed
			last.ErrorMessage = err.Error()
			logger.WarnContext(ctx, "unusable result", "model", modelID, "error", err)
			continue
		}

		out := h.rt.Router.Decide(confidence.Signal{
			Category: payload.Category,
			Fields:   fields,
		})
		if out.Decision != confidence.Accept {
			last := &payload.Attempts[len(payload.Attempts)-1]
			last.Status = pipeline.StatusModelInvoked
			last.ErrorKind = retry.KindSchemaViolation
			last.ErrorMessage = "missing required fields: " + strings.Join(out.MissingFields, ", ")
			logger.InfoContext(ctx, "final pass below confidence threshold",
				"model", modelID,
				"coverage", out.Coverage,
				"missing_fields", out.MissingFields)
			if payload.Result == nil {
				payload.Result = fields
				payload.ModelUsed = modelID
			}
			continue
		}

		fields["came_from_fallback"] = true
		if err := h.rt.Results.SaveExtraction(ctx, ref, fields, res.Content); err != nil {
			return err
		}
		logger.InfoContext(ctx, "extraction recovered",
			"status", pipeline.StatusAccepted,
			"model", modelID,
			"coverage", out.Coverage)
		return nil
	}

	return h.reject(ctx, logger, ref, payload)
}

// reject is the pipeline's terminal failure path: mirror the payload
// into the errors tree and ledger it for manual review.
func (h *Handler) reject(ctx context.Context, logger *slog.Logger, ref documents.Reference, payload pipeline.Payload) error {
	kind := pipeline.WorstKind(payload.Attempts)
	if kind == "" {
		// every call succeeded but no result cleared the router
		kind = retry.KindSchemaViolation
	}
	message := pipeline.WorstMessage(payload.Attempts)

	if err := h.rt.Results.SaveFailure(ctx, pipeline.StageFallback, ref, payload); err != nil {
		logger.WarnContext(ctx, "failure artifact not persisted", "error", err)
	}

	if err := h.rt.Review.Record(ctx, ref, payload, kind, message); err != nil {
		return fmt.Errorf("record manual review %s: %w", ref.ID, err)
	}

	logger.InfoContext(ctx, "document rejected to manual review",
		"status", pipeline.StatusRejected,
		"error_kind", kind)
	return nil
}

func request(modelID string, pair prompts.Pair, ref documents.Reference, data []byte, params bedrock.Params) bedrock.Request {
	return bedrock.Request{
		ModelID: modelID,
		System:  pair.System,
		Parts: []bedrock.Part{
			{Text: pair.User},
			{Document: &bedrock.Document{Name: ref.FileID(), Bytes: data}},
		},
		Params: params,
	}
}
