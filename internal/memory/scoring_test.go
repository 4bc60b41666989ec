package memory

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecencyDecaysMonotonically(t *testing.T) {
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	decay := 0.99

	prev := Recency(decay, base, base)
	assert.Equal(t, 1.0, prev)

	// Strictly decreasing as elapsed time grows.
	for hours := 1; hours <= 200; hours *= 2 {
		now := base.Add(time.Duration(hours) * time.Hour)
		r := Recency(decay, base, now)
		assert.Less(t, r, prev, "recency must strictly decrease at %dh", hours)
		assert.Greater(t, r, 0.0)
		prev = r
	}
}

func TestRecencyFortyEightHours(t *testing.T) {
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	r := Recency(0.99, base, base.Add(48*time.Hour))
	assert.InDelta(t, math.Pow(0.99, 48), r, 1e-12)
	// 0.99^48 = 0.61729...; the coarse check guards the exponent base.
	assert.InDelta(t, 0.617, r, 1e-3)
}

func TestRecencyClampsFutureAccess(t *testing.T) {
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, 1.0, Recency(0.99, base.Add(time.Hour), base))
}

func TestClampRelevance(t *testing.T) {
	assert.Equal(t, 0.0, ClampRelevance(-0.4))
	assert.Equal(t, 0.0, ClampRelevance(0))
	assert.Equal(t, 0.6, ClampRelevance(0.6))
	assert.Equal(t, 1.0, ClampRelevance(1.3))
}

func TestCompositeScoreExample(t *testing.T) {
	// importance=0.8, relevance=0.6, recency=0.9 with equal thirds.
	score := CompositeScore(EqualWeights(), 0.9, 0.6, 0.8)
	assert.InDelta(t, 0.7667, score, 0.0001)
}

func TestCompositeScoreBounds(t *testing.T) {
	weights := []Weights{
		EqualWeights(),
		{Recency: 0.5, Relevance: 0.3, Importance: 0.2},
		{Recency: 1, Relevance: 0, Importance: 0},
	}
	components := []float64{0, 0.25, 0.5, 0.75, 1}

	for _, w := range weights {
		for _, rec := range components {
			for _, rel := range components {
				for _, imp := range components {
					score := CompositeScore(w, rec, rel, imp)
					assert.GreaterOrEqual(t, score, 0.0)
					assert.LessOrEqual(t, score, 1.0)
				}
			}
		}
	}
}
