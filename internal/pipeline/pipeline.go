// Package pipeline defines the shared vocabulary of the document
// processing stages: lifecycle statuses, attempt history, queue
// payloads, and the collaborator contracts each stage handler is
// composed from.
package pipeline

import (
	"time"

	"github.com/lhuarcayat/BedrockAgent/internal/documents"
	"github.com/lhuarcayat/BedrockAgent/pkg/retry"
)

// Status tracks a document through a stage's lifecycle.
type Status string

const (
	// StatusReceived marks a payload pulled from the queue.
	StatusReceived Status = "received"
	// StatusLocked marks the idempotency lock acquired.
	StatusLocked Status = "locked"
	// StatusModelInvoked marks at least one model call issued.
	StatusModelInvoked Status = "model_invoked"
	// StatusAccepted marks a result persisted as final for this stage.
	StatusAccepted Status = "accepted"
	// StatusEscalated marks the document handed to the next recovery stage.
	StatusEscalated Status = "escalated"
	// StatusRejected marks the document routed to manual review.
	StatusRejected Status = "rejected"
	// StatusSkipped marks a payload dropped because another worker
	// holds the lock; the message is not a failure.
	StatusSkipped Status = "skipped"
)

// Stage names the three processing stages.
type Stage string

const (
	StageClassification Stage = "classification"
	StageExtraction     Stage = "extraction"
	StageFallback       Stage = "fallback"
)

// Attempt records one model invocation and its outcome. The fallback
// stage reads the history to pick its strategy.
type Attempt struct {
	Stage   Stage  `json:"stage"`
	ModelID string `json:"model_id"`
	Status  Status `json:"status"`
	// Attempts counts the invocations the retry policy consumed
	// before the outcome.
	Attempts     int        `json:"attempts,omitempty"`
	ErrorKind    retry.Kind `json:"error_kind,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
	DurationMS   int64      `json:"duration_ms"`
}

// LastKind returns the error kind of the most recent failed attempt,
// or the empty kind when the history holds no failures.
func LastKind(attempts []Attempt) retry.Kind {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].ErrorKind != "" {
			return attempts[i].ErrorKind
		}
	}
	return ""
}

// Payload is the message body passed between stages.
type Payload struct {
	// Path is the s3:// URI of the source document.
	Path string `json:"path"`
	// Category is set once classification accepts.
	Category documents.Category `json:"category,omitempty"`
	// DocumentType is person or company, set by classification.
	DocumentType documents.DocumentType `json:"document_type,omitempty"`
	// Result carries the raw model output forwarded to fallback.
	Result map[string]any `json:"result,omitempty"`
	// ModelUsed is the model that produced Result.
	ModelUsed string `json:"model_used,omitempty"`
	// FallbackUsed reports that an earlier stage already ran on the
	// fallback model; later stages invert their model order.
	FallbackUsed bool `json:"fallback_used,omitempty"`
	// Attempts is the accumulated invocation history across stages.
	Attempts []Attempt `json:"attempts,omitempty"`
}

// Reference parses the payload's source path into a document reference.
func (p Payload) Reference() (documents.Reference, error) {
	return documents.ParseSourcePath(p.Path)
}
