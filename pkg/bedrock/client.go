package bedrock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"golang.org/x/time/rate"

	"github.com/lhuarcayat/BedrockAgent/pkg/retry"
)

// API is the subset of the Bedrock runtime client the pipeline calls.
type API interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config holds client-level call behavior. Values come from the explicit
// pipeline configuration, never from ambient environment reads.
type Config struct {
	// CallTimeout bounds a single inference call. Exceeding it is a
	// transient error for the retry controller.
	CallTimeout time.Duration
	// InterCallDelay spaces consecutive calls to stay under account
	// throughput limits. Zero disables pacing.
	InterCallDelay time.Duration
}

// Client invokes Bedrock models through the provider registry. It holds
// no per-request state: every Invoke re-adapts the canonical request for
// its target model.
type Client struct {
	api     API
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a paced inference client.
func NewClient(api API, cfg Config, logger *slog.Logger) *Client {
	limit := rate.Inf
	if cfg.InterCallDelay > 0 {
		limit = rate.Every(cfg.InterCallDelay)
	}
	return &Client{
		api:     api,
		limiter: rate.NewLimiter(limit, 1),
		timeout: cfg.CallTimeout,
		logger:  logger.With("system", "bedrock"),
	}
}

// Invoke adapts req for its target model, performs the call, and parses
// the response into a canonical Result. All failures are tagged with a
// retry kind; a guardrail stop surfaces as a content-rejected error so
// callers route it without inspecting the result.
func (c *Client) Invoke(ctx context.Context, req Request) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, retry.Tag(retry.KindTransient, err)
	}

	provider := Resolve(req.ModelID)
	wire, err := provider.Adapt(req)
	if err != nil {
		return Result{}, fmt.Errorf("adapt request for %s: %w", req.ModelID, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.call(ctx, wire)
	if err != nil {
		kind := Classify(err)
		c.logger.WarnContext(ctx, "model call failed",
			"model_id", req.ModelID,
			"provider", provider.ID(),
			"kind", string(kind),
			"error", err,
		)
		return Result{}, retry.Tag(kind, err)
	}

	result, err := provider.Parse(resp)
	if err != nil {
		return Result{}, retry.Tag(retry.KindMalformed, err)
	}
	result.ModelID = req.ModelID

	c.logger.InfoContext(ctx, "model call complete",
		"model_id", req.ModelID,
		"provider", provider.ID(),
		"stop_reason", result.StopReason,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if result.ContentFiltered() {
		return result, retry.Tag(retry.KindContentRejected, ErrContentFiltered)
	}

	return result, nil
}

func (c *Client) call(ctx context.Context, wire *WireRequest) (*WireResponse, error) {
	if wire.Converse != nil {
		out, err := c.api.Converse(ctx, wire.Converse)
		if err != nil {
			return nil, err
		}
		return &WireResponse{Converse: out}, nil
	}

	out, err := c.api.InvokeModel(ctx, wire.Invoke)
	if err != nil {
		return nil, err
	}
	return &WireResponse{Body: out.Body}, nil
}
