package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harbourlane/advisord/internal/embeddings"
	"github.com/harbourlane/advisord/internal/vectorstore"
)

const fcaSnippets = `snippets:
  - id: fca-cobs-19
    title: DB transfer advice requirement
    text: Transfers from defined benefit schemes over 30000 pounds require regulated financial advice.
    tags: [transfers, compliance]
  - id: fca-guidance-boundary
    title: Guidance versus advice
    text: Guidance describes options in general terms and never recommends a specific course of action.
    tags: [scope]
`

func writeSnippetFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestBase(t *testing.T, dir string) *Base {
	t.Helper()
	store := vectorstore.NewMemStore(embeddings.NewFakeEmbedder(32))
	base, err := NewBase(store, vectorstore.CollectionFCAKnowledge, dir, zap.NewNop())
	require.NoError(t, err)
	return base
}

func TestLoadIndexesSnippets(t *testing.T) {
	dir := t.TempDir()
	writeSnippetFile(t, dir, "cobs.yaml", fcaSnippets)
	base := newTestBase(t, dir)

	require.NoError(t, base.Load(context.Background()))
	assert.Len(t, base.Snippets(), 2)

	got, err := base.Search(context.Background(), "Transfers from defined benefit schemes over 30000 pounds require regulated financial advice.", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fca-cobs-19", got[0].ID)
	assert.Equal(t, []string{"transfers", "compliance"}, got[0].Tags)
}

func TestLoadSkipsInvalidSnippets(t *testing.T) {
	dir := t.TempDir()
	writeSnippetFile(t, dir, "bad.yaml", "snippets:\n  - id: \"\"\n    text: no id here\n")
	writeSnippetFile(t, dir, "broken.yaml", "snippets: [not yaml")
	writeSnippetFile(t, dir, "notes.txt", "ignored")
	writeSnippetFile(t, dir, "good.yaml", "snippets:\n  - id: ok-1\n    title: t\n    text: valid snippet\n")
	base := newTestBase(t, dir)

	require.NoError(t, base.Load(context.Background()))
	snippets := base.Snippets()
	require.Len(t, snippets, 1)
	assert.Equal(t, "ok-1", snippets[0].ID)
}

func TestLoadMissingDirectory(t *testing.T) {
	base := newTestBase(t, filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, base.Load(context.Background()))
}

func TestReloadPicksUpNewSnippets(t *testing.T) {
	dir := t.TempDir()
	writeSnippetFile(t, dir, "cobs.yaml", fcaSnippets)
	base := newTestBase(t, dir)
	require.NoError(t, base.Load(context.Background()))
	require.Len(t, base.Snippets(), 2)

	writeSnippetFile(t, dir, "extra.yaml", "snippets:\n  - id: fca-extra\n    title: extra\n    text: additional snippet\n")
	require.NoError(t, base.Load(context.Background()))
	assert.Len(t, base.Snippets(), 3)
}

func TestReloadRemovesWithdrawnSnippets(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeSnippetFile(t, dir, "cobs.yaml", fcaSnippets)
	store := vectorstore.NewMemStore(embeddings.NewFakeEmbedder(32))
	base, err := NewBase(store, vectorstore.CollectionFCAKnowledge, dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, base.Load(ctx))

	count, err := store.Count(ctx, vectorstore.CollectionFCAKnowledge)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// Withdraw the transfer snippet from the file and reload.
	writeSnippetFile(t, dir, "cobs.yaml", `snippets:
  - id: fca-guidance-boundary
    title: Guidance versus advice
    text: Guidance describes options in general terms and never recommends a specific course of action.
    tags: [scope]
`)
	require.NoError(t, base.Load(ctx))

	count, err = store.Count(ctx, vectorstore.CollectionFCAKnowledge)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := base.Search(ctx, "defined benefit transfer advice requirement", 5)
	require.NoError(t, err)
	for _, s := range got {
		assert.NotEqual(t, "fca-cobs-19", s.ID)
	}
}

func TestLoadRemovesSnippetsWithdrawnWhileDown(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeSnippetFile(t, dir, "cobs.yaml", fcaSnippets)
	store := vectorstore.NewMemStore(embeddings.NewFakeEmbedder(32))

	base, err := NewBase(store, vectorstore.CollectionFCAKnowledge, dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, base.Load(ctx))

	// Simulate a restart: the file shrinks while no Base is running, and a
	// fresh Base loads over the already-populated collection.
	writeSnippetFile(t, dir, "cobs.yaml", `snippets:
  - id: fca-guidance-boundary
    title: Guidance versus advice
    text: Guidance describes options in general terms and never recommends a specific course of action.
`)
	fresh, err := NewBase(store, vectorstore.CollectionFCAKnowledge, dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, fresh.Load(ctx))

	count, err := store.Count(ctx, vectorstore.CollectionFCAKnowledge)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSearchValidation(t *testing.T) {
	dir := t.TempDir()
	base := newTestBase(t, dir)

	_, err := base.Search(context.Background(), "", 3)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	got, err := base.Search(context.Background(), "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
