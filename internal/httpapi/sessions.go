package httpapi

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/harbourlane/advisord/internal/casestore"
	"github.com/harbourlane/advisord/internal/learning"
)

// Sessions tracks live consultations. It is the transport-side
// implementation of learning.ConsultationSource: guidance turns
// accumulate into the transcript and ending the consultation attaches
// the outcome.
type Sessions struct {
	mu            sync.RWMutex
	consultations map[string]*learning.Consultation
}

// NewSessions creates an empty session store.
func NewSessions() *Sessions {
	return &Sessions{consultations: make(map[string]*learning.Consultation)}
}

// AppendTurn records one completed guidance exchange.
func (s *Sessions) AppendTurn(consultationID, agentID string, taskType casestore.TaskType, customerMessage, guidance string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cons, ok := s.consultations[consultationID]
	if !ok {
		cons = &learning.Consultation{ID: consultationID, AgentID: agentID, TaskType: taskType}
		s.consultations[consultationID] = cons
	}
	var b strings.Builder
	b.WriteString(cons.Transcript)
	fmt.Fprintf(&b, "customer: %s\nagent: %s\n", customerMessage, guidance)
	cons.Transcript = b.String()
}

// End attaches the outcome, making the consultation eligible for
// learning.
func (s *Sessions) End(consultationID string, outcome *casestore.Outcome, forceLearn bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cons, ok := s.consultations[consultationID]
	if !ok {
		return learning.ErrConsultationNotFound
	}
	cons.Outcome = outcome
	cons.ForceLearn = forceLearn
	return nil
}

// Consultation returns a copy of the consultation state.
func (s *Sessions) Consultation(_ context.Context, id string) (*learning.Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cons, ok := s.consultations[id]
	if !ok {
		return nil, learning.ErrConsultationNotFound
	}
	dup := *cons
	return &dup, nil
}

var _ learning.ConsultationSource = (*Sessions)(nil)
