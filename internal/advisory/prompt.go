// Package advisory generates streamed pension guidance responses from an
// assembled retrieval context.
package advisory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/harbourlane/advisord/internal/retrieval"
)

// Sentinel errors for advisory generation.
var (
	// ErrEmptyMessage indicates a guidance request with no customer
	// message.
	ErrEmptyMessage = errors.New("customer message cannot be empty")

	// ErrInvalidMode indicates an unknown prompt mode.
	ErrInvalidMode = errors.New("unknown prompt mode")
)

// Mode selects the prompt variant.
type Mode string

// Prompt modes. Standard asks for a direct answer; reasoning instructs
// the model to work through the situation before answering.
const (
	ModeStandard  Mode = "standard"
	ModeReasoning Mode = "reasoning"
)

// Valid reports whether the mode is known.
func (m Mode) Valid() bool {
	return m == ModeStandard || m == ModeReasoning
}

// PromptInputs are the typed ingredients of one guidance prompt.
type PromptInputs struct {
	CustomerMessage string
	History         []string

	// Context is the retrieval bundle; nil means no context available.
	Context *retrieval.RetrievedContext

	// Requirements are extra per-request constraints appended verbatim.
	Requirements []string
}

const promptPreamble = `You are a pension guidance specialist for a UK FCA-regulated service.
You give guidance, never advice: describe options and their trade-offs in
general terms, and signpost regulated financial advice or MoneyHelper where
a decision needs it. Never recommend a specific course of action.`

const reasoningInstruction = `Before answering, reason through the customer's circumstances,
the applicable rules and the compliance constraints. Then give the answer.
Keep the reasoning brief and separate it from the guidance with a blank line.`

// PromptBuilder assembles guidance prompts. One builder serves both
// modes.
type PromptBuilder struct{}

// NewPromptBuilder creates a PromptBuilder.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// Build assembles the prompt for one guidance turn. Sections appear in a
// fixed order so equal inputs always produce the same prompt.
func (b *PromptBuilder) Build(inputs PromptInputs, mode Mode) (string, error) {
	if inputs.CustomerMessage == "" {
		return "", ErrEmptyMessage
	}
	if !mode.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	var p strings.Builder
	p.WriteString(promptPreamble)
	p.WriteString("\n")
	if mode == ModeReasoning {
		p.WriteString("\n")
		p.WriteString(reasoningInstruction)
		p.WriteString("\n")
	}

	if c := inputs.Context; c != nil {
		writeSection(&p, "FCA compliance context", func(w *strings.Builder) {
			for _, s := range c.FCASnippets {
				fmt.Fprintf(w, "- %s: %s\n", s.Title, s.Text)
			}
		})
		writeSection(&p, "Pension knowledge", func(w *strings.Builder) {
			for _, s := range c.PensionSnippets {
				fmt.Fprintf(w, "- %s: %s\n", s.Title, s.Text)
			}
		})
		writeSection(&p, "Learned guidance principles", func(w *strings.Builder) {
			for _, r := range c.Rules {
				fmt.Fprintf(w, "- %s (confidence %.2f)\n", r.Principle, r.Confidence)
			}
		})
		writeSection(&p, "Similar past consultations", func(w *strings.Builder) {
			for _, sc := range c.Cases {
				fmt.Fprintf(w, "- Situation: %s\n  Guidance: %s\n", sc.CustomerSituation, sc.GuidanceProvided)
			}
		})
		writeSection(&p, "Relevant memories", func(w *strings.Builder) {
			for _, m := range c.Memories {
				fmt.Fprintf(w, "- %s\n", m.Description)
			}
		})
	}

	writeSection(&p, "Conversation so far", func(w *strings.Builder) {
		for _, h := range inputs.History {
			w.WriteString(h)
			w.WriteString("\n")
		}
	})
	writeSection(&p, "Additional requirements", func(w *strings.Builder) {
		for _, r := range inputs.Requirements {
			fmt.Fprintf(w, "- %s\n", r)
		}
	})

	p.WriteString("\nCustomer: ")
	p.WriteString(inputs.CustomerMessage)
	p.WriteString("\n\nGuidance:")
	return p.String(), nil
}

// writeSection emits a titled section only when fill produces content.
func writeSection(p *strings.Builder, title string, fill func(*strings.Builder)) {
	var body strings.Builder
	fill(&body)
	if body.Len() == 0 {
		return
	}
	p.WriteString("\n## ")
	p.WriteString(title)
	p.WriteString("\n")
	p.WriteString(body.String())
}
