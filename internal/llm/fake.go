package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Fake is a scripted in-memory Client for tests.
//
// Responses are served in FIFO order per call kind. An exhausted queue
// falls back to the Default* values, so tests only script what they
// assert on.
type Fake struct {
	mu sync.Mutex

	// CompleteQueue holds scripted Complete/Stream responses.
	CompleteQueue []string

	// ScoreQueue holds scripted Score responses (already normalized).
	ScoreQueue []float64

	// StructuredQueue holds scripted Structured responses as raw JSON.
	StructuredQueue []string

	// Err, when set, is returned by every call.
	Err error

	DefaultCompletion string
	DefaultScore      float64

	// Calls records every prompt, in order, for assertion.
	Calls []string
}

// NewFake creates a Fake with benign defaults.
func NewFake() *Fake {
	return &Fake{
		DefaultCompletion: "ok",
		DefaultScore:      0.5,
	}
}

func (f *Fake) record(prompt string) {
	f.Calls = append(f.Calls, prompt)
}

// Complete returns the next scripted completion.
func (f *Fake) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(prompt)
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.CompleteQueue) > 0 {
		out := f.CompleteQueue[0]
		f.CompleteQueue = f.CompleteQueue[1:]
		return out, nil
	}
	return f.DefaultCompletion, nil
}

// Stream delivers the completion as a single chunk.
func (f *Fake) Stream(ctx context.Context, prompt string, fn StreamFunc) (string, error) {
	text, err := f.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	if err := fn(ctx, text); err != nil {
		return "", err
	}
	return text, nil
}

// Score returns the next scripted score.
func (f *Fake) Score(ctx context.Context, prompt string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(prompt)
	if f.Err != nil {
		return 0, f.Err
	}
	if len(f.ScoreQueue) > 0 {
		out := f.ScoreQueue[0]
		f.ScoreQueue = f.ScoreQueue[1:]
		return out, nil
	}
	return f.DefaultScore, nil
}

// Structured unmarshals the next scripted JSON response into out.
func (f *Fake) Structured(ctx context.Context, prompt string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(prompt)
	if f.Err != nil {
		return f.Err
	}
	if len(f.StructuredQueue) == 0 {
		return fmt.Errorf("%w: no scripted structured response", ErrMalformedResponse)
	}
	raw := f.StructuredQueue[0]
	f.StructuredQueue = f.StructuredQueue[1:]
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

var _ Client = (*Fake)(nil)
