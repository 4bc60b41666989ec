package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScore(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    float64
		wantErr bool
	}{
		{name: "bare integer", input: "8", want: 0.8},
		{name: "decimal", input: "7.5", want: 0.75},
		{name: "with prose", input: "I would rate this 6 out of 10.", want: 0.6},
		{name: "zero", input: "0", want: 0},
		{name: "ten", input: "10", want: 1.0},
		{name: "out of range", input: "42", wantErr: true},
		{name: "negative", input: "-3", wantErr: true},
		{name: "no number", input: "quite important", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScore(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidScore)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced", input: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "fenced no lang", input: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "leading whitespace", input: "  {\"a\":1}\n", want: `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.input))
		})
	}
}

func TestFakeScripting(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	f.CompleteQueue = []string{"first", "second"}
	f.ScoreQueue = []float64{0.9}
	f.StructuredQueue = []string{`{"is_valid": true, "reason": "fine"}`}

	out, err := f.Complete(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	out, err = f.Complete(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, "second", out)

	// Queue exhausted: default.
	out, err = f.Complete(ctx, "p3")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	score, err := f.Score(ctx, "rate")
	require.NoError(t, err)
	assert.Equal(t, 0.9, score)

	var parsed struct {
		IsValid bool   `json:"is_valid"`
		Reason  string `json:"reason"`
	}
	require.NoError(t, f.Structured(ctx, "judge", &parsed))
	assert.True(t, parsed.IsValid)

	assert.Len(t, f.Calls, 5)
}

func TestFakeStreamDeliversChunks(t *testing.T) {
	f := NewFake()
	f.CompleteQueue = []string{"hello world"}

	var got string
	full, err := f.Stream(context.Background(), "p", func(_ context.Context, chunk string) error {
		got += chunk
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
	assert.Equal(t, "hello world", full)
}
