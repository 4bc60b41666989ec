package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// FakeEmbedder produces deterministic pseudo-embeddings for tests.
//
// Each lowercased whitespace token hashes to its own pseudo-random vector
// and the text embeds as the normalized sum, so texts sharing words land
// near each other in cosine space while unrelated texts stay far apart.
// Equal texts embed identically.
type FakeEmbedder struct {
	Dim int

	// Fail, when set, is returned by every call.
	Fail error
}

// NewFakeEmbedder creates a FakeEmbedder with the given dimension.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim}
}

// EmbedDocuments generates deterministic embeddings for multiple texts.
func (f *FakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if f.Fail != nil {
		return nil, f.Fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

// EmbedQuery generates a deterministic embedding for a single query.
func (f *FakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.Fail != nil {
		return nil, f.Fail
	}
	return f.vector(text), nil
}

// Dimension returns the configured vector size.
func (f *FakeEmbedder) Dimension() int {
	return f.Dim
}

func (f *FakeEmbedder) vector(text string) []float32 {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		tokens = []string{text}
	}

	v := make([]float64, f.Dim)
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		seed := h.Sum64()
		for i := range v {
			// xorshift64 keeps the sequence deterministic per token.
			seed ^= seed << 13
			seed ^= seed >> 7
			seed ^= seed << 17
			v[i] += float64(int64(seed%2000)-1000) / 1000.0
		}
	}

	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)

	out := make([]float32, f.Dim)
	if norm > 0 {
		for i, x := range v {
			out[i] = float32(x / norm)
		}
	}
	return out
}

var _ Embedder = (*FakeEmbedder)(nil)
