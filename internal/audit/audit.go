// Package audit publishes operational events for administrators.
//
// Events cover learning outcomes, rule judgments and degraded retrieval
// sources. The production publisher writes to NATS; tests and disabled
// deployments use the in-memory publisher.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Event types published on the audit channel.
const (
	TypeRetrievalDegraded = "retrieval.degraded"
	TypeLearningOutcome   = "learning.outcome"
	TypeRuleJudgment      = "rule.judgment"
	TypeReflection        = "reflection.synthesized"
)

// ErrEmptyType indicates an event with no type.
var ErrEmptyType = errors.New("audit event type cannot be empty")

// Event is one audit record.
type Event struct {
	Type           string            `json:"type"`
	Timestamp      time.Time         `json:"timestamp"`
	ConsultationID string            `json:"consultation_id,omitempty"`
	AgentID        string            `json:"agent_id,omitempty"`
	Fields         map[string]string `json:"fields,omitempty"`
}

// Publisher delivers audit events. Publish must be safe for concurrent
// use and must not block guidance-path callers for long.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// MemoryPublisher records events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish appends the event.
func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	if event.Type == "" {
		return ErrEmptyType
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// ByType returns published events of one type.
func (p *MemoryPublisher) ByType(eventType string) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Close is a no-op.
func (p *MemoryPublisher) Close() error { return nil }

var _ Publisher = (*MemoryPublisher)(nil)
