package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/harbourlane/advisord/internal/config"
)

// LangchainClient implements Client over an OpenAI-compatible endpoint via
// langchaingo. The same client shape serves hosted APIs and local
// inference servers exposing the OpenAI protocol.
type LangchainClient struct {
	model       llms.Model
	callTimeout time.Duration
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewLangchainClient creates a language model client from config.
func NewLangchainClient(cfg config.LLMConfig, logger *zap.Logger) (*LangchainClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token even for keyless local servers.
		apiKey = "placeholder"
	}

	model, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &LangchainClient{
		model:       model,
		callTimeout: timeout,
		limiter:     limiter,
		logger:      logger,
	}, nil
}

// call runs one bounded generation attempt, retrying once on failure.
// Streaming callers pass retryable=false: a partially delivered stream
// must not be replayed.
func (c *LangchainClient) call(ctx context.Context, prompt string, retryable bool, opts ...llms.CallOption) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	attempts := 1
	if retryable {
		attempts = 2
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		text, err := llms.GenerateFromSinglePrompt(callCtx, c.model, prompt, opts...)
		cancel()

		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("model call failed",
			zap.Int("attempt", i+1),
			zap.Error(err))
	}

	return "", fmt.Errorf("model call failed after %d attempts: %w", attempts, lastErr)
}

// Complete generates a completion for the prompt.
func (c *LangchainClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, prompt, true)
}

// Stream generates a completion, delivering chunks through fn.
func (c *LangchainClient) Stream(ctx context.Context, prompt string, fn StreamFunc) (string, error) {
	return c.call(ctx, prompt, false, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		return fn(ctx, string(chunk))
	}))
}

// Score asks the model for a 0-10 rating and normalizes it to [0, 1].
func (c *LangchainClient) Score(ctx context.Context, prompt string) (float64, error) {
	text, err := c.call(ctx, prompt, true)
	if err != nil {
		return 0, err
	}
	return ParseScore(text)
}

// Structured generates a completion and unmarshals the model's JSON
// response into out. The prompt itself instructs the model to answer in
// JSON; ExtractJSON strips any code fences the model wraps around it.
func (c *LangchainClient) Structured(ctx context.Context, prompt string, out any) error {
	text, err := c.call(ctx, prompt, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(ExtractJSON(text)), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// ParseScore extracts a 0-10 numeric rating from model output and
// normalizes it to [0, 1].
func ParseScore(text string) (float64, error) {
	fields := strings.FieldsFunc(strings.TrimSpace(text), func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != '-'
	})
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		if v < 0 || v > 10 {
			return 0, fmt.Errorf("%w: %v out of 0-10 range", ErrInvalidScore, v)
		}
		return v / 10.0, nil
	}
	return 0, fmt.Errorf("%w: no number in %q", ErrInvalidScore, truncate(text, 80))
}

// ExtractJSON strips markdown code fences that some models wrap around
// JSON-mode output.
func ExtractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
