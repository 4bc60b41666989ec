// Package llm defines the language model capability consumed by the
// learning and retrieval engine.
//
// The engine treats the model as an opaque collaborator: a prompt goes in,
// text (or a stream of text chunks, or a numeric score, or a structured
// object) comes out. Latency and availability are outside the engine's
// control, so every call is bounded by a timeout and retried once before
// the caller degrades to a default result.
package llm

import (
	"context"
	"errors"
)

// Sentinel errors for language model calls.
var (
	// ErrEmptyPrompt indicates an empty prompt.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrInvalidScore indicates a score response that is not a number in
	// the expected range.
	ErrInvalidScore = errors.New("model returned an invalid score")

	// ErrMalformedResponse indicates a structured response that does not
	// parse against the requested shape.
	ErrMalformedResponse = errors.New("model returned a malformed structured response")
)

// StreamFunc receives one text chunk of a streaming completion.
// Returning an error aborts the stream.
type StreamFunc func(ctx context.Context, chunk string) error

// Client is the language model capability.
type Client interface {
	// Complete generates a completion for the prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// Stream generates a completion, delivering chunks through fn as they
	// arrive, and returns the full text once the stream completes.
	Stream(ctx context.Context, prompt string, fn StreamFunc) (string, error)

	// Score asks the model for a single numeric rating on a 0-10 scale and
	// returns it normalized to [0, 1]. Returns ErrInvalidScore when the
	// response is not a number or falls outside the scale.
	Score(ctx context.Context, prompt string) (float64, error)

	// Structured generates a completion from a prompt that requests a
	// JSON response and unmarshals it into out. Returns
	// ErrMalformedResponse when the output does not parse.
	Structured(ctx context.Context, prompt string, out any) error
}
