package advisory

import (
	"context"
	"fmt"
	"strings"

	"github.com/harbourlane/advisord/internal/llm"
	"github.com/harbourlane/advisord/internal/retrieval"
)

// ComplianceResult is the verdict on a finished guidance response.
type ComplianceResult struct {
	Compliant bool     `json:"compliant"`
	Score     float64  `json:"score"`
	Issues    []string `json:"issues,omitempty"`
}

// ComplianceValidator checks a finished guidance response against the
// FCA guidance boundary.
type ComplianceValidator interface {
	Validate(ctx context.Context, guidance string, bundle *retrieval.RetrievedContext) (*ComplianceResult, error)
}

const compliancePrompt = `You audit pension guidance for FCA compliance.

Guidance boundary: the response may describe options and general
considerations but must not recommend a specific course of action, and
must signpost regulated advice where the customer's decision requires it.

Applicable compliance context:
%s

Response to audit:
%s

Respond with JSON:
{"compliant": true|false, "score": <0.0-1.0>, "issues": ["<each boundary concern>"]}`

// LLMValidator audits guidance with the language model.
type LLMValidator struct {
	client llm.Client
}

// NewLLMValidator creates a validator over the model client.
func NewLLMValidator(client llm.Client) (*LLMValidator, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client cannot be nil")
	}
	return &LLMValidator{client: client}, nil
}

// Validate audits one guidance response.
func (v *LLMValidator) Validate(ctx context.Context, guidance string, bundle *retrieval.RetrievedContext) (*ComplianceResult, error) {
	if guidance == "" {
		return nil, ErrEmptyMessage
	}

	snippets := "(none)"
	if bundle != nil && len(bundle.FCASnippets) > 0 {
		var b strings.Builder
		for _, s := range bundle.FCASnippets {
			fmt.Fprintf(&b, "- %s: %s\n", s.Title, s.Text)
		}
		snippets = b.String()
	}

	var result ComplianceResult
	if err := v.client.Structured(ctx, fmt.Sprintf(compliancePrompt, snippets, guidance), &result); err != nil {
		return nil, fmt.Errorf("validating compliance: %w", err)
	}
	if result.Score < 0 || result.Score > 1 {
		return nil, fmt.Errorf("%w: compliance score %v", llm.ErrInvalidScore, result.Score)
	}
	return &result, nil
}

var _ ComplianceValidator = (*LLMValidator)(nil)
