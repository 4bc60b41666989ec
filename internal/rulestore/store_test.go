package rulestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harbourlane/advisord/internal/embeddings"
	"github.com/harbourlane/advisord/internal/vectorstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(vectorstore.NewMemStore(embeddings.NewFakeEmbedder(32)), 0.1, 0.3, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewStoreValidatesBounds(t *testing.T) {
	mem := vectorstore.NewMemStore(embeddings.NewFakeEmbedder(32))

	_, err := NewStore(mem, 0, 0.3, nil)
	assert.Error(t, err)

	_, err = NewStore(mem, 0.1, 0.05, nil)
	assert.Error(t, err)

	_, err = NewStore(nil, 0.1, 0.3, nil)
	assert.Error(t, err)
}

func TestCreateValidatesRule(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Create(ctx, "", "transfers", 0.6, []string{"case-1"})
	assert.ErrorIs(t, err, ErrEmptyPrinciple)

	_, err = store.Create(ctx, "WHEN discussing transfers ALWAYS mention guarantees", "transfers", 0.6, nil)
	assert.ErrorIs(t, err, ErrEmptyEvidence)
}

func TestCreateClampsInitialConfidence(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rule, err := store.Create(ctx, "WHEN asked about tax ALWAYS cite the annual allowance BECAUSE limits change yearly", "tax", 1.4, []string{"case-1"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, rule.Confidence)

	low, err := store.Create(ctx, "WHEN unsure ALWAYS signpost MoneyHelper BECAUSE guidance must stay in scope", "general", 0.01, []string{"case-2"})
	require.NoError(t, err)
	assert.Equal(t, 0.1, low.Confidence)
}

func TestAdjustConfidenceClampsAndLinksEvidence(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rule, err := store.Create(ctx, "WHEN discussing drawdown ALWAYS explain sequencing risk BECAUSE early losses compound", "drawdown", 0.9, []string{"case-1"})
	require.NoError(t, err)

	up, err := store.AdjustConfidence(ctx, rule.ID, 0.5, "case-2", "case-1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, up.Confidence)
	assert.Equal(t, []string{"case-1", "case-2"}, up.Evidence)

	down, err := store.AdjustConfidence(ctx, rule.ID, -2.0)
	require.NoError(t, err)
	assert.Equal(t, 0.1, down.Confidence)

	// Decayed rules stay retrievable by id; they are never deleted.
	got, err := store.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.1, got.Confidence)
	assert.Equal(t, []string{"case-1", "case-2"}, got.Evidence)
}

func TestAdjustConfidenceUnknownRule(t *testing.T) {
	store := newTestStore(t)
	_, err := store.AdjustConfidence(context.Background(), "missing", 0.1)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestSearchSimilarExcludesSubThresholdRules(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	strong, err := store.Create(ctx, "WHEN discussing transfers ALWAYS mention guarantees being given up", "transfers", 0.8, []string{"case-1"})
	require.NoError(t, err)
	weak, err := store.Create(ctx, "WHEN discussing transfers ALWAYS quote transfer values", "transfers", 0.6, []string{"case-2"})
	require.NoError(t, err)

	_, err = store.AdjustConfidence(ctx, weak.ID, -0.5)
	require.NoError(t, err)

	got, err := store.SearchSimilar(ctx, "transfer guidance", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, strong.ID, got[0].ID)

	// The decayed rule still shows up in the full listing.
	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListOrdersByConfidence(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Create(ctx, "rule a", "transfers", 0.5, []string{"case-1"})
	require.NoError(t, err)
	_, err = store.Create(ctx, "rule b", "transfers", 0.9, []string{"case-2"})
	require.NoError(t, err)

	got, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.9, got[0].Confidence)
	assert.Equal(t, 0.5, got[1].Confidence)
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		name             string
		old, delta, want float64
	}{
		{"within range", 0.5, 0.2, 0.7},
		{"clamped at one", 0.9, 0.3, 1.0},
		{"clamped at floor", 0.2, -0.5, 0.1},
		{"exactly floor", 0.3, -0.2, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ClampConfidence(tt.old, tt.delta, 0.1), 1e-9)
		})
	}
}

func TestAppendEvidenceDeduplicates(t *testing.T) {
	r := Rule{Evidence: []string{"a"}}
	r.AppendEvidence("b")
	r.AppendEvidence("a")
	r.AppendEvidence("b")
	assert.Equal(t, []string{"a", "b"}, r.Evidence)
}
