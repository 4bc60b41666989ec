// Package reflection turns consultation experience into durable insight:
// it synthesizes reflection memories from failure observations and runs
// rule candidates through a three-stage judgment pipeline.
package reflection

import (
	"errors"
	"fmt"
)

// Sentinel errors for reflection operations.
var (
	// ErrNoObservations indicates a reflection request with nothing to
	// reflect on.
	ErrNoObservations = errors.New("reflection needs at least one observation")

	// ErrRuleJudgment wraps infrastructure failures while applying a
	// judgment outcome.
	ErrRuleJudgment = errors.New("rule judgment failed")

	// ErrInvalidCandidate indicates a candidate missing its principle or
	// evidence.
	ErrInvalidCandidate = errors.New("candidate needs a principle and evidence")
)

// State is a rule candidate's position in the judgment pipeline.
type State string

// Candidate states. Proposed, Validated and Refined are transient;
// Created, Strengthened and Rejected are terminal.
const (
	StateProposed     State = "proposed"
	StateValidated    State = "validated"
	StateRefined      State = "refined"
	StateCreated      State = "created"
	StateStrengthened State = "strengthened"
	StateRejected     State = "rejected"
)

// Terminal reports whether the state ends the pipeline.
func (s State) Terminal() bool {
	switch s {
	case StateCreated, StateStrengthened, StateRejected:
		return true
	}
	return false
}

// Candidate is a proposed rule awaiting judgment.
type Candidate struct {
	AgentID   string
	Principle string
	Domain    string

	// Evidence links the case and memory ids the candidate was distilled
	// from.
	Evidence []string

	State State
}

// NewCandidate creates a candidate in the proposed state.
func NewCandidate(agentID, principle, domain string, evidence []string) (*Candidate, error) {
	if principle == "" || len(evidence) == 0 {
		return nil, ErrInvalidCandidate
	}
	return &Candidate{
		AgentID:   agentID,
		Principle: principle,
		Domain:    domain,
		Evidence:  evidence,
		State:     StateProposed,
	}, nil
}

// advance moves the candidate forward one state. The pipeline only ever
// moves proposed→validated→refined→terminal.
func (c *Candidate) advance(next State) error {
	valid := map[State]map[State]bool{
		StateProposed:  {StateValidated: true, StateRejected: true},
		StateValidated: {StateRefined: true, StateRejected: true},
		StateRefined:   {StateCreated: true, StateStrengthened: true, StateRejected: true},
	}
	if !valid[c.State][next] {
		return fmt.Errorf("%w: cannot move %s to %s", ErrRuleJudgment, c.State, next)
	}
	c.State = next
	return nil
}

// Judgment is the terminal outcome of the pipeline for one candidate.
type Judgment struct {
	State State `json:"state"`

	// Cause explains a rejection.
	Cause string `json:"cause,omitempty"`

	// RuleID is set for created and strengthened outcomes.
	RuleID string `json:"rule_id,omitempty"`

	// ConfidenceDelta is the applied adjustment for strengthened
	// outcomes.
	ConfidenceDelta float64 `json:"confidence_delta,omitempty"`
}
