// Package learning closes the loop from finished consultations to stored
// cases and learned rules.
//
// A consultation may only be learned from once its outcome is known.
// Learning is idempotent per consultation: repeat calls return the
// already-stored case, and concurrent calls for the same consultation
// share one in-flight cycle.
package learning

import (
	"context"
	"errors"
	"sync"

	"github.com/harbourlane/advisord/internal/casestore"
	"github.com/harbourlane/advisord/internal/reflection"
)

// Sentinel errors for the learning cycle.
var (
	// ErrPrematureLearning indicates a consultation whose outcome is not
	// yet known.
	ErrPrematureLearning = errors.New("consultation has no outcome yet")

	// ErrConsultationNotFound indicates an unknown consultation id.
	ErrConsultationNotFound = errors.New("consultation not found")

	// ErrEmptyConsultationID indicates a missing consultation id.
	ErrEmptyConsultationID = errors.New("consultation id cannot be empty")
)

// Consultation is the transcript and outcome the cycle learns from.
type Consultation struct {
	ID         string
	AgentID    string
	TaskType   casestore.TaskType
	Transcript string

	// Outcome stays nil until the consultation ends.
	Outcome *casestore.Outcome

	// ForceLearn proposes a rule candidate regardless of the
	// satisfaction heuristic.
	ForceLearn bool
}

// ConsultationSource supplies consultations to learn from. The transport
// layer implements it over its session state.
type ConsultationSource interface {
	Consultation(ctx context.Context, id string) (*Consultation, error)
}

// Result is the outcome of one learning cycle.
type Result struct {
	CaseID string `json:"case_id"`

	// Reused is true when the consultation had already been learned from
	// and the stored case was returned unchanged.
	Reused bool `json:"reused"`

	// Judgment is set when a rule candidate was proposed.
	Judgment *reflection.Judgment `json:"judgment,omitempty"`
}

// MemorySource is an in-memory ConsultationSource for tests.
type MemorySource struct {
	mu            sync.RWMutex
	consultations map[string]*Consultation
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{consultations: make(map[string]*Consultation)}
}

// Put stores a consultation.
func (s *MemorySource) Put(c *Consultation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consultations[c.ID] = c
}

// Consultation returns a stored consultation.
func (s *MemorySource) Consultation(_ context.Context, id string) (*Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consultations[id]
	if !ok {
		return nil, ErrConsultationNotFound
	}
	return c, nil
}

var _ ConsultationSource = (*MemorySource)(nil)
