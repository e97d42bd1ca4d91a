package bedrock

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// Provider identifiers. Resolution is by explicit registry lookup, never
// by runtime type inspection of responses.
const (
	ProviderConverse  = "converse"
	ProviderAnthropic = "anthropic"
)

// WireRequest is the provider-specific form of a canonical Request.
// Exactly one of Converse or Invoke is set, matching the API the
// provider's models are called through.
type WireRequest struct {
	ProviderID string
	Converse   *bedrockruntime.ConverseInput
	Invoke     *bedrockruntime.InvokeModelInput
}

// WireResponse is the raw provider response handed to Parse. Converse is
// set for Converse-API providers; Body carries the InvokeModel payload.
type WireResponse struct {
	Converse *bedrockruntime.ConverseOutput
	Body     []byte
}

// Provider maps canonical requests to one wire format and parses that
// format's response envelope. Implementations must be pure: Adapt is a
// function of the request alone and carries no mutable state, so
// re-adapting after a model switch can never leak stale parameter keys.
type Provider interface {
	ID() string
	Adapt(req Request) (*WireRequest, error)
	Parse(resp *WireResponse) (Result, error)
}

var registry = map[string]Provider{
	ProviderConverse:  converseProvider{},
	ProviderAnthropic: anthropicProvider{},
}

// Register adds or replaces a provider mapping. Adding a provider
// requires no caller-side changes.
func Register(p Provider) {
	registry[p.ID()] = p
}

// Lookup returns the provider registered under id.
func Lookup(id string) (Provider, error) {
	p, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

// Resolve selects the provider for a model identifier. Anthropic models
// use the InvokeModel body format; everything else speaks Converse.
func Resolve(modelID string) Provider {
	if strings.Contains(strings.ToLower(modelID), "anthropic") {
		return registry[ProviderAnthropic]
	}
	return registry[ProviderConverse]
}

// converseProvider targets the Bedrock Converse API (Nova and other
// Converse-native families). Sampling parameters live in the
// inferenceConfig block under camelCase names; system text is a
// top-level system block.
type converseProvider struct{}

func (converseProvider) ID() string { return ProviderConverse }

func (converseProvider) Adapt(req Request) (*WireRequest, error) {
	if req.ModelID == "" {
		return nil, ErrMissingModel
	}

	content := make([]types.ContentBlock, 0, len(req.Parts))
	for _, part := range req.Parts {
		if part.Document != nil {
			content = append(content, &types.ContentBlockMemberDocument{
				Value: types.DocumentBlock{
					Format: types.DocumentFormatPdf,
					Name:   aws.String(sanitizeDocumentName(part.Document.Name)),
					Source: &types.DocumentSourceMemberBytes{Value: part.Document.Bytes},
				},
			})
			continue
		}
		content = append(content, &types.ContentBlockMemberText{Value: part.Text})
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.ModelID),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: content,
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(req.Params.MaxOutputTokens),
			TopP:        aws.Float32(float32(req.Params.TopP)),
			Temperature: aws.Float32(float32(req.Params.Temperature)),
		},
	}

	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}

	return &WireRequest{ProviderID: ProviderConverse, Converse: input}, nil
}

func (converseProvider) Parse(resp *WireResponse) (Result, error) {
	if resp == nil || resp.Converse == nil {
		return Result{}, fmt.Errorf("%w: missing converse output", ErrUnexpectedEnvelope)
	}

	out := resp.Converse
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return Result{}, fmt.Errorf("%w: output is not a message", ErrUnexpectedEnvelope)
	}

	var text string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*types.ContentBlockMemberText); ok {
			text = tb.Value
			break
		}
	}
	if text == "" {
		return Result{}, fmt.Errorf("%w: no text content block", ErrUnexpectedEnvelope)
	}

	result := Result{
		ProviderID: ProviderConverse,
		Content:    strings.TrimSpace(text),
		StopReason: normalizeConverseStop(out.StopReason),
	}
	if out.Usage != nil {
		result.Usage = Usage{
			InputTokens:  aws.ToInt32(out.Usage.InputTokens),
			OutputTokens: aws.ToInt32(out.Usage.OutputTokens),
		}
	}
	return result, nil
}

func normalizeConverseStop(reason types.StopReason) string {
	switch reason {
	case types.StopReasonContentFiltered, types.StopReasonGuardrailIntervened:
		return StopContentFiltered
	case types.StopReasonMaxTokens:
		return StopMaxTokens
	case types.StopReasonEndTurn:
		return StopEndTurn
	default:
		return string(reason)
	}
}

// anthropicProvider targets Anthropic models through InvokeModel.
// Sampling parameters sit at the top of the JSON body under snake_case
// names alongside the anthropic_version marker; system text is a body
// field, not a message.
type anthropicProvider struct{}

const (
	anthropicVersion        = "bedrock-2023-05-31"
	anthropicThinkingBudget = 4096
)

type anthropicDocSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

type anthropicContent struct {
	Type   string              `json:"type"`
	Text   string              `json:"text,omitempty"`
	Source *anthropicDocSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int32  `json:"budget_tokens"`
}

type anthropicBody struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int32              `json:"max_tokens"`
	TopP             float64            `json:"top_p"`
	Temperature      float64            `json:"temperature"`
	System           string             `json:"system,omitempty"`
	Thinking         *anthropicThinking `json:"thinking,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int32 `json:"input_tokens"`
		OutputTokens int32 `json:"output_tokens"`
	} `json:"usage"`
}

func (anthropicProvider) ID() string { return ProviderAnthropic }

func (anthropicProvider) Adapt(req Request) (*WireRequest, error) {
	if req.ModelID == "" {
		return nil, ErrMissingModel
	}

	content := make([]anthropicContent, 0, len(req.Parts))
	for _, part := range req.Parts {
		if part.Document != nil {
			content = append(content, anthropicContent{
				Type: "document",
				Source: &anthropicDocSource{
					Type:      "base64",
					MediaType: "application/pdf",
					Data:      part.Document.Bytes,
				},
			})
			continue
		}
		content = append(content, anthropicContent{Type: "text", Text: part.Text})
	}

	body := anthropicBody{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        req.Params.MaxOutputTokens,
		TopP:             req.Params.TopP,
		Temperature:      req.Params.Temperature,
		System:           req.System,
		Thinking: &anthropicThinking{
			Type:         "enabled",
			BudgetTokens: anthropicThinkingBudget,
		},
		Messages: []anthropicMessage{{Role: "user", Content: content}},
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	return &WireRequest{
		ProviderID: ProviderAnthropic,
		Invoke: &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(req.ModelID),
			Body:        raw,
			ContentType: aws.String("application/json"),
		},
	}, nil
}

func (anthropicProvider) Parse(resp *WireResponse) (Result, error) {
	if resp == nil || len(resp.Body) == 0 {
		return Result{}, fmt.Errorf("%w: empty invoke body", ErrUnexpectedEnvelope)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnexpectedEnvelope, err)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return Result{}, fmt.Errorf("%w: no text content block", ErrUnexpectedEnvelope)
	}

	return Result{
		ProviderID: ProviderAnthropic,
		Content:    strings.TrimSpace(text),
		StopReason: normalizeAnthropicStop(parsed.StopReason),
		Usage: Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}

func normalizeAnthropicStop(reason string) string {
	switch reason {
	case "", "end_turn":
		return StopEndTurn
	case "max_tokens":
		return StopMaxTokens
	default:
		return reason
	}
}
