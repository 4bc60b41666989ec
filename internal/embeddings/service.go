// Package embeddings provides embedding generation via langchaingo.
//
// The service wraps an OpenAI-compatible embedding endpoint (hosted API or
// local inference server). The embedding dimension is a deployment-time
// constant: a mismatch between configuration and what the provider returns
// is a fatal startup error, never a query-time surprise.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/harbourlane/advisord/internal/config"
)

var (
	// ErrEmbedding indicates the embedding capability is unavailable or
	// returned an unusable result.
	ErrEmbedding = errors.New("embedding failed")

	// ErrDimensionMismatch indicates the provider's vector size does not
	// match the configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the configured vector size.
	Dimension() int
}

// Service implements Embedder over langchaingo.
type Service struct {
	embedder  *embeddings.EmbedderImpl
	dimension int
}

// NewService creates an embedding service from config.
func NewService(cfg config.EmbeddingsConfig) (*Service, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model required")
	}
	if cfg.Dimension <= 0 {
		return nil, config.ErrInvalidDimension
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Service{
		embedder:  embedder,
		dimension: cfg.Dimension,
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	for i, v := range vectors {
		if len(v) != s.dimension {
			return nil, fmt.Errorf("%w: document %d has %d dimensions, want %d",
				ErrDimensionMismatch, i, len(v), s.dimension)
		}
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}
	return vector, nil
}

// Dimension returns the configured vector size.
func (s *Service) Dimension() int {
	return s.dimension
}

// ValidateDimension probes the provider with a short text and verifies the
// returned vector size. Called once at startup; a mismatch is fatal.
func ValidateDimension(ctx context.Context, e Embedder) error {
	vector, err := e.EmbedQuery(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("probing embedding provider: %w", err)
	}
	if len(vector) != e.Dimension() {
		return fmt.Errorf("%w: provider returned %d, configured %d",
			ErrDimensionMismatch, len(vector), e.Dimension())
	}
	return nil
}
