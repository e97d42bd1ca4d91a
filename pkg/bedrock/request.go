// Package bedrock provides a provider-agnostic inference client for AWS
// Bedrock. Callers build a canonical Request; the provider registry maps
// it to the wire format each model family expects and parses the
// heterogeneous response envelopes back into a canonical Result.
package bedrock

import (
	"path"
	"strings"
)

// Params holds provider-independent sampling parameters. Naming and
// placement for a specific provider is resolved only inside Adapt.
type Params struct {
	MaxOutputTokens int32
	TopP            float64
	Temperature     float64
}

// Document is a PDF attached to a request.
type Document struct {
	Name  string
	Bytes []byte
}

// Part is one ordered element of a request's content: either text or a
// document reference.
type Part struct {
	Text     string
	Document *Document
}

// Request is the canonical, provider-agnostic form of one inference call.
// It carries no provider-specific parameter keys; changing ModelID and
// re-adapting always recomputes the wire shape from these values.
type Request struct {
	ModelID string
	System  string
	Parts   []Part
	Params  Params
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int32
	OutputTokens int32
}

// Canonical stop reasons. Provider-specific stop signals normalize to
// these values during Parse.
const (
	StopEndTurn         = "end_turn"
	StopMaxTokens       = "max_tokens"
	StopContentFiltered = "content_filtered"
)

// Result is the canonical parsed outcome of one inference call.
type Result struct {
	ModelID    string
	ProviderID string
	Content    string
	StopReason string
	Usage      Usage
}

// ContentFiltered reports whether the provider's safety system stopped
// generation.
func (r Result) ContentFiltered() bool {
	return r.StopReason == StopContentFiltered
}

// sanitizeDocumentName strips characters Bedrock rejects in document
// names, keeping alphanumerics, spaces, hyphens, parentheses and brackets
// from the file stem.
func sanitizeDocumentName(raw string) string {
	stem := strings.TrimSuffix(path.Base(raw), path.Ext(raw))
	var b strings.Builder
	for _, ch := range stem {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case ch == ' ', ch == '-', ch == '(', ch == ')', ch == '[', ch == ']':
			b.WriteRune(ch)
		}
	}
	if b.Len() == 0 {
		return "document"
	}
	return b.String()
}
