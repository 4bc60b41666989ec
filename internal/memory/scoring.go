package memory

import (
	"math"
	"time"
)

// Weights blends the three score components. Callers must ensure the
// weights sum to 1 (enforced by config validation), which keeps the
// composite score inside [0, 1].
type Weights struct {
	Recency    float64
	Relevance  float64
	Importance float64
}

// EqualWeights returns the default equal-thirds blend.
func EqualWeights() Weights {
	return Weights{Recency: 1.0 / 3.0, Relevance: 1.0 / 3.0, Importance: 1.0 / 3.0}
}

// Recency computes the exponential decay component for a memory last
// accessed at lastAccessed, observed at now:
//
//	recency = decayFactor ^ hoursSince(lastAccessed)
//
// decayFactor is strictly between 0 and 1, so recency decays toward 0 as
// hours elapse and equals 1 at the moment of access. A lastAccessed in the
// future (clock skew) clamps to 1.
func Recency(decayFactor float64, lastAccessed, now time.Time) float64 {
	hours := now.Sub(lastAccessed).Hours()
	if hours <= 0 {
		return 1
	}
	return math.Pow(decayFactor, hours)
}

// ClampRelevance maps a cosine similarity in [-1, 1] to [0, 1] by
// clamping; anti-correlated memories contribute zero relevance rather
// than a negative score.
func ClampRelevance(similarity float64) float64 {
	if similarity < 0 {
		return 0
	}
	if similarity > 1 {
		return 1
	}
	return similarity
}

// CompositeScore blends recency, relevance and importance. With weights
// summing to 1 and each component in [0, 1], the result is in [0, 1].
func CompositeScore(w Weights, recency, relevance, importance float64) float64 {
	return w.Recency*recency + w.Relevance*relevance + w.Importance*importance
}
