package advisory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harbourlane/advisord/internal/knowledge"
	"github.com/harbourlane/advisord/internal/llm"
	"github.com/harbourlane/advisord/internal/retrieval"
)

func TestLLMValidatorParsesVerdict(t *testing.T) {
	client := llm.NewFake()
	client.StructuredQueue = []string{`{"compliant": false, "score": 0.4, "issues": ["recommends a specific transfer"]}`}

	v, err := NewLLMValidator(client)
	require.NoError(t, err)

	bundle := &retrieval.RetrievedContext{
		FCASnippets: []knowledge.ScoredSnippet{{Snippet: knowledge.Snippet{Title: "Boundary", Text: "no recommendations"}}},
	}
	result, err := v.Validate(context.Background(), "You should definitely transfer.", bundle)
	require.NoError(t, err)

	assert.False(t, result.Compliant)
	assert.Equal(t, 0.4, result.Score)
	assert.Len(t, result.Issues, 1)

	// The audit prompt carries the compliance context.
	require.NotEmpty(t, client.Calls)
	assert.Contains(t, client.Calls[0], "no recommendations")
}

func TestLLMValidatorRejectsOutOfRangeScore(t *testing.T) {
	client := llm.NewFake()
	client.StructuredQueue = []string{`{"compliant": true, "score": 7.5}`}

	v, err := NewLLMValidator(client)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), "guidance text", nil)
	assert.ErrorIs(t, err, llm.ErrInvalidScore)
}

func TestLLMValidatorRequiresGuidance(t *testing.T) {
	v, err := NewLLMValidator(llm.NewFake())
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}
