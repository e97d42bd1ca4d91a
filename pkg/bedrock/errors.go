package bedrock

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/lhuarcayat/BedrockAgent/pkg/retry"
)

var (
	// ErrMissingModel indicates a request without a model identifier.
	ErrMissingModel = errors.New("model identifier required")
	// ErrUnknownProvider indicates a provider id with no registered mapping.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrUnexpectedEnvelope indicates a response that does not match the
	// provider's documented shape.
	ErrUnexpectedEnvelope = errors.New("unexpected response envelope")
	// ErrContentFiltered indicates the provider's safety system stopped
	// generation.
	ErrContentFiltered = errors.New("content filtered by provider guardrails")
)

// Classify maps a Bedrock call error to its retry kind. Throttling and
// quota errors are always retryable; model timeouts and service faults
// are transient; validation failures mean the request shape was wrong
// and retrying the identical call cannot succeed.
func Classify(err error) retry.Kind {
	var (
		throttled   *types.ThrottlingException
		quota       *types.ServiceQuotaExceededException
		timeout     *types.ModelTimeoutException
		notReady    *types.ModelNotReadyException
		internal    *types.InternalServerException
		unavailable *types.ServiceUnavailableException
		validation  *types.ValidationException
	)

	switch {
	case errors.As(err, &throttled), errors.As(err, &quota):
		return retry.KindThrottled
	case errors.As(err, &timeout), errors.As(err, &notReady),
		errors.As(err, &internal), errors.As(err, &unavailable):
		return retry.KindTransient
	case errors.As(err, &validation):
		return retry.KindMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return retry.KindTransient
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if strings.Contains(code, "Throttl") || code == "TooManyRequestsException" {
			return retry.KindThrottled
		}
	}

	return retry.KindTransient
}
