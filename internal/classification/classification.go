// Package classification implements the first pipeline stage: deciding
// which category a document belongs to and routing it onward.
package classification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lhuarcayat/BedrockAgent/internal/documents"
	"github.com/lhuarcayat/BedrockAgent/internal/pipeline"
	"github.com/lhuarcayat/BedrockAgent/internal/prompts"
	"github.com/lhuarcayat/BedrockAgent/pkg/bedrock"
	"github.com/lhuarcayat/BedrockAgent/pkg/formatting"
	"github.com/lhuarcayat/BedrockAgent/pkg/pdf"
	"github.com/lhuarcayat/BedrockAgent/pkg/retry"
)

// Config holds stage routing targets.
type Config struct {
	ExtractionQueueURL string
	FallbackQueueURL   string
}

// Handler orchestrates the classification stage for one document.
type Handler struct {
	rt      *pipeline.Runtime
	prompts prompts.Source
	cfg     Config
}

// New creates a classification stage handler.
func New(rt *pipeline.Runtime, source prompts.Source, cfg Config) *Handler {
	return &Handler{rt: rt, prompts: source, cfg: cfg}
}

// Process classifies one document. Lock contention skips the payload
// without error; model failure escalates to the fallback queue. A
// returned error releases the lock so the redelivered message can
// retry; completed documents keep the lock until its TTL absorbs
// duplicate deliveries.
func (h *Handler) Process(ctx context.Context, payload pipeline.Payload) error {
	logger := h.rt.Logger.With("stage", pipeline.StageClassification)

	ref, err := payload.Reference()
	if err != nil {
		return err
	}
	logger = logger.With("document", ref.ID)

	key := pipeline.LockKey(pipeline.StageClassification, ref)
	acq, err := h.rt.Locks.Claim(ctx, key)
	if err != nil {
		return err
	}
	if !acq.Acquired {
		logger.InfoContext(ctx, "document already being classified, skipping",
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

	// no model accepts a document over the provider limit, so route
	// oversize documents the way a content rejection travels
	if limit := h.rt.MaxDocumentBytes; limit > 0 && int64(len(data)) > limit {
		payload.Attempts = append(payload.Attempts, pipeline.Attempt{
			Stage:     pipeline.StageClassification,
			Status:    pipeline.StatusEscalated,
			ErrorKind: retry.KindContentRejected,
			ErrorMessage: fmt.Sprintf("document size %s exceeds limit %s",
				formatting.FormatBytes(int64(len(data)), 1), formatting.FormatBytes(limit, 1)),
			Timestamp: time.Now().UTC(),
		})
		payload.FallbackUsed = true
		if err := h.rt.Queue.Send(ctx, h.cfg.FallbackQueueURL, payload); err != nil {
			return fmt.Errorf("escalate %s: %w", ref.ID, err)
		}
		logger.WarnContext(ctx, "document exceeds size limit, escalating",
			"status", pipeline.StatusEscalated,
			"size", formatting.FormatBytes(int64(len(data)), 1))
		return nil
	}

	// one page is enough to classify and keeps token cost flat
	page, err := pdf.FirstPage(data)
	if err != nil {
		logger.WarnContext(ctx, "first-page trim failed, sending full document", "error", err)
		page = data
	}
	logger.DebugContext(ctx, "document fetched",
		"size", formatting.FormatBytes(int64(len(data)), 1),
		"trimmed", formatting.FormatBytes(int64(len(page)), 1))

	pair, err := h.prompts.Classification()
	if err != nil {
		return err
	}

	out := h.classify(ctx, logger, ref, payload, pair, page)
	return h.route(ctx, logger, ref, out)
}

type outcome struct {
	payload  pipeline.Payload
	category documents.Category
	docType  documents.DocumentType
	fields   map[string]any
	modelID  string
	failed   bool
}

func (h *Handler) classify(ctx context.Context, logger *slog.Logger, ref documents.Reference, payload pipeline.Payload, pair prompts.Pair, page []byte) outcome {
	out := outcome{payload: payload, failed: true}

	for _, modelID := range h.rt.Models.Order(payload.FallbackUsed) {
		req := bedrock.Request{
			ModelID: modelID,
			System:  pair.System,
			Parts: []bedrock.Part{
				{Text: pair.User},
				{Document: &bedrock.Document{Name: ref.FileID(), Bytes: page}},
			},
			Params: h.rt.Models.Params,
		}

		res, attempt, err := h.rt.CallModel(ctx, pipeline.StageClassification, req)
		out.payload.Attempts = append(out.payload.Attempts, attempt)

		if err != nil {
			if retry.KindOf(err) == retry.KindContentRejected {
				// the alternate model will refuse the same content
				logger.WarnContext(ctx, "content rejected, not trying alternate model",
					"model", modelID)
				break
			}
			logger.WarnContext(ctx, "model attempt failed", "model", modelID, "error", err)
			continue
		}

		category, docType, fields, err := documents.ParseClassification(res.Content)
		if err != nil {
			last := &out.payload.Attempts[len(out.payload.Attempts)-1]
			last.Status = pipeline.StatusModelInvoked
			last.ErrorKind = retry.KindMalformed
			last.ErrorMessage = err.Error()
			logger.WarnContext(ctx, "unusable classification", "model", modelID, "error", err)
			continue
		}

		out.category = category
		out.docType = docType
		out.fields = fields
		out.modelID = modelID
		out.failed = false
		logger.InfoContext(ctx, "document classified",
			"category", category,
			"document_type", docType,
			"model", modelID)
		break
	}

	return out
}

func (h *Handler) route(ctx context.Context, logger *slog.Logger, ref documents.Reference, out outcome) error {
	if out.failed {
		next := out.payload
		next.FallbackUsed = true
		if err := h.rt.Queue.Send(ctx, h.cfg.FallbackQueueURL, next); err != nil {
			return fmt.Errorf("escalate %s: %w", ref.ID, err)
		}
		logger.InfoContext(ctx, "classification escalated",
			"status", pipeline.StatusEscalated,
			"error_kind", pipeline.WorstKind(out.payload.Attempts))
		return nil
	}

	if v, ok := out.fields["document_number"].(string); !ok || v == "" {
		out.fields["document_number"] = ref.DocumentNumber
	}
	if err := h.rt.Results.SaveClassification(ctx, ref, out.fields); err != nil {
		return err
	}

	if out.category.Terminal() {
		logger.InfoContext(ctx, "terminal category, pipeline complete",
			"status", pipeline.StatusAccepted,
			"category", out.category)
		return nil
	}

	next := out.payload
	next.Category = out.category
	next.DocumentType = out.docType
	next.ModelUsed = out.modelID
	next.FallbackUsed = next.FallbackUsed || out.modelID == h.rt.Models.Fallback
	if err := h.rt.Queue.Send(ctx, h.cfg.ExtractionQueueURL, next); err != nil {
		return fmt.Errorf("enqueue extraction %s: %w", ref.ID, err)
	}

	logger.InfoContext(ctx, "document queued for extraction",
		"status", pipeline.StatusAccepted,
		"category", out.category)
	return nil
}
