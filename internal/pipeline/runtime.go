package pipeline

import (
	"context"
	"log/slog"

	"github.com/lhuarcayat/BedrockAgent/internal/confidence"
	"github.com/lhuarcayat/BedrockAgent/internal/documents"
	"github.com/lhuarcayat/BedrockAgent/pkg/bedrock"
	"github.com/lhuarcayat/BedrockAgent/pkg/lock"
	"github.com/lhuarcayat/BedrockAgent/pkg/retry"
)

// Locker claims and releases per-document idempotency locks.
type Locker interface {
	Claim(ctx context.Context, key string) (lock.Acquisition, error)
	Release(ctx context.Context, key string)
}

// ModelInvoker issues one model call and returns its parsed result.
type ModelInvoker interface {
	Invoke(ctx context.Context, req bedrock.Request) (bedrock.Result, error)
}

// Publisher forwards payloads to the next stage's queue.
type Publisher interface {
	Send(ctx context.Context, queueURL string, payload any) error
}

// ResultStore persists stage outputs and failure artifacts.
type ResultStore interface {
	SaveClassification(ctx context.Context, ref documents.Reference, result map[string]any) error
	SaveExtraction(ctx context.Context, ref documents.Reference, result map[string]any, raw string) error
	SaveFailure(ctx context.Context, stage Stage, ref documents.Reference, payload Payload) error
}

// Recorder writes manual review entries for rejected documents.
type Recorder interface {
	Record(ctx context.Context, ref documents.Reference, payload Payload, kind retry.Kind, message string) error
}

// Source fetches document bytes from the origin bucket.
type Source interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Models names the primary and fallback model identifiers and the
// shared inference parameters.
type Models struct {
	Primary  string
	Fallback string
	Params   bedrock.Params
}

// Order returns the invocation order for a stage: primary first, or
// fallback first when an earlier stage already escalated to fallback.
func (m Models) Order(fallbackUsed bool) []string {
	if fallbackUsed && m.Fallback != "" {
		return []string{m.Fallback, m.Primary}
	}
	if m.Fallback == "" {
		return []string{m.Primary}
	}
	return []string{m.Primary, m.Fallback}
}

// Runtime bundles the collaborators a stage handler requires. It is
// constructed by composition code in the Lambda entrypoints.
type Runtime struct {
	Locks   Locker
	Model   ModelInvoker
	Queue   Publisher
	Results ResultStore
	Review  Recorder
	Origin  Source
	Models  Models
	Router  *confidence.Router
	Retry   retry.Policy
	Logger  *slog.Logger
	// MaxDocumentBytes caps the documents sent to a model. Zero
	// disables the check.
	MaxDocumentBytes int64
}

// LockKey returns the idempotency key a stage claims for a document.
func LockKey(stage Stage, ref documents.Reference) string {
	return string(stage) + "#" + ref.ID
}
