package retry

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a model-call failure for routing purposes.
type Kind string

const (
	// KindThrottled indicates the provider rejected the call for rate
	// reasons. Always retryable.
	KindThrottled Kind = "throttled"
	// KindTransient indicates a temporary failure (timeout, service
	// unavailable). Retryable up to the policy's attempt limit.
	KindTransient Kind = "transient"
	// KindContentRejected indicates the provider's safety system blocked
	// the input or output. Fatal: a different model is unlikely to help.
	KindContentRejected Kind = "content_rejected"
	// KindMalformed indicates the response could not be parsed as the
	// expected structure. Fatal for the current attempt sequence.
	KindMalformed Kind = "malformed"
	// KindSchemaViolation indicates a parseable result that did not
	// clear the required-field check. Fatal: the same content yields
	// the same fields.
	KindSchemaViolation Kind = "schema_violation"
)

// Retryable reports whether a failure of this kind should be retried
// against the same model.
func (k Kind) Retryable() bool {
	switch k {
	case KindThrottled, KindTransient:
		return true
	default:
		return false
	}
}

// KindError tags an underlying error with its classification.
type KindError struct {
	Kind Kind
	Err  error
}

func (e *KindError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error { return e.Err }

// Tag wraps err with the given kind. Returns nil if err is nil.
func Tag(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// KindOf extracts the classification from err. Untagged context deadline
// and cancellation errors classify as transient; anything else untagged
// also defaults to transient so unknown failures stay retryable.
func KindOf(err error) Kind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindTransient
}

// ExhaustedError is the terminal error returned by Invoke. It carries the
// last failure's kind and the number of attempts consumed so callers can
// decide routing without string inspection.
type ExhaustedError struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
