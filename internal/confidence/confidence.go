// Package confidence decides whether an extraction result is trustworthy
// enough to accept or must escalate for another attempt. The decision is
// a pure function of the extracted fields and the model's own confidence
// signal; identical inputs always produce identical outcomes.
package confidence

import (
	"fmt"
	"strings"

	"github.com/lhuarcayat/BedrockAgent/internal/documents"
)

// Decision is the router's verdict on an extraction result.
type Decision string

const (
	Accept   Decision = "accept"
	Escalate Decision = "escalate"
)

// CombineMode controls how the two escalation triggers compose.
type CombineMode string

const (
	// CombineOr escalates when either trigger fires.
	CombineOr CombineMode = "or"
	// CombineAnd escalates only when both triggers fire.
	CombineAnd CombineMode = "and"
)

// Policy holds the router's tuning knobs.
type Policy struct {
	// MinFieldCoverage is the fraction of required fields that must
	// carry usable values for the coverage trigger to stay quiet.
	MinFieldCoverage float64 `toml:"min_field_coverage"`
	// Combine selects how coverage and the low-confidence signal compose.
	Combine CombineMode `toml:"combine"`
}

// Finalize applies defaults and validation.
func (p *Policy) Finalize() error {
	if p.MinFieldCoverage == 0 {
		p.MinFieldCoverage = 0.5
	}
	if p.Combine == "" {
		p.Combine = CombineOr
	}
	if p.MinFieldCoverage < 0 || p.MinFieldCoverage > 1 {
		return fmt.Errorf("min_field_coverage %v outside [0,1]", p.MinFieldCoverage)
	}
	if p.Combine != CombineOr && p.Combine != CombineAnd {
		return fmt.Errorf("combine mode %q not one of or, and", p.Combine)
	}
	return nil
}

// Signal carries the inputs the router evaluates.
type Signal struct {
	Category documents.Category
	// Fields is the extracted result object.
	Fields map[string]any
	// LowConfidence is the model's self-reported uncertainty flag.
	LowConfidence bool
}

// Outcome pairs the decision with the evidence behind it.
type Outcome struct {
	Decision Decision
	// Coverage is the achieved required-field coverage in [0,1].
	Coverage float64
	// MissingFields lists required fields that were absent or ForReview.
	MissingFields []string
}

// Router scores extraction results against a policy.
type Router struct {
	policy Policy
}

// NewRouter creates a router with a finalized policy.
func NewRouter(policy Policy) *Router {
	return &Router{policy: policy}
}

// Decide evaluates a signal. Categories without a field schema are
// judged on the low-confidence signal alone.
func (r *Router) Decide(sig Signal) Outcome {
	required := documents.RequiredFields(sig.Category)
	if len(required) == 0 {
		out := Outcome{Decision: Accept, Coverage: 1}
		if sig.LowConfidence {
			out.Decision = Escalate
		}
		return out
	}

	var missing []string
	for _, field := range required {
		if !usable(sig.Fields[field]) {
			missing = append(missing, field)
		}
	}

	coverage := float64(len(required)-len(missing)) / float64(len(required))
	lowCoverage := coverage < r.policy.MinFieldCoverage

	escalate := lowCoverage || sig.LowConfidence
	if r.policy.Combine == CombineAnd {
		escalate = lowCoverage && sig.LowConfidence
	}

	out := Outcome{Decision: Accept, Coverage: coverage, MissingFields: missing}
	if escalate {
		out.Decision = Escalate
	}
	return out
}

// usable reports whether a field value counts toward coverage: present,
// non-empty, and not the ForReview placeholder.
func usable(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case string:
		trimmed := strings.TrimSpace(value)
		return trimmed != "" && !strings.EqualFold(trimmed, documents.ForReview)
	case []any:
		return len(value) > 0
	case map[string]any:
		return len(value) > 0
	default:
		return true
	}
}
