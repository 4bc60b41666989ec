package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisherRecordsEvents(t *testing.T) {
	p := NewMemoryPublisher()
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, Event{
		Type:           TypeLearningOutcome,
		Timestamp:      time.Now(),
		ConsultationID: "cons-1",
		Fields:         map[string]string{"case_id": "case-1"},
	}))
	require.NoError(t, p.Publish(ctx, Event{Type: TypeRetrievalDegraded, Timestamp: time.Now()}))

	assert.Len(t, p.Events(), 2)

	learning := p.ByType(TypeLearningOutcome)
	require.Len(t, learning, 1)
	assert.Equal(t, "cons-1", learning[0].ConsultationID)
	assert.Equal(t, "case-1", learning[0].Fields["case_id"])
}

func TestMemoryPublisherRejectsEmptyType(t *testing.T) {
	p := NewMemoryPublisher()
	assert.ErrorIs(t, p.Publish(context.Background(), Event{}), ErrEmptyType)
}
