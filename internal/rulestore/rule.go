// Package rulestore persists learned guidance principles.
//
// A Rule is a WHEN/ALWAYS-SHOULD/BECAUSE statement with a confidence score
// and evidence links to the cases and memories that support it. Rules are
// never hard-deleted: a rule that repeatedly fails judgment decays toward
// the confidence floor and silently drops out of retrieval below the
// retrieval threshold.
package rulestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/harbourlane/advisord/internal/vectorstore"
)

// Sentinel errors for rule operations.
var (
	// ErrEmptyPrinciple indicates an empty principle statement.
	ErrEmptyPrinciple = errors.New("rule principle cannot be empty")

	// ErrEmptyEvidence indicates a rule with no supporting evidence.
	ErrEmptyEvidence = errors.New("rule must have supporting evidence")

	// ErrRuleNotFound is returned when a rule id is unknown.
	ErrRuleNotFound = errors.New("rule not found")
)

// Rule is a learned guidance principle.
type Rule struct {
	ID        string `json:"id"`
	Principle string `json:"principle"`
	Domain    string `json:"domain"`

	// Confidence is in [floor, 1] and only changes through the reflection
	// engine's judgment step.
	Confidence float64 `json:"confidence"`

	// Evidence is the ordered, deduplicated list of supporting case and
	// memory ids.
	Evidence []string `json:"supporting_evidence"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRule creates a rule with a generated UUID.
func NewRule(principle, domain string, confidence float64, evidence []string, now time.Time) (*Rule, error) {
	if principle == "" {
		return nil, ErrEmptyPrinciple
	}
	if len(evidence) == 0 {
		return nil, ErrEmptyEvidence
	}
	return &Rule{
		ID:         uuid.New().String(),
		Principle:  principle,
		Domain:     domain,
		Confidence: confidence,
		Evidence:   dedupe(evidence),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// AppendEvidence adds an id to the evidence list, preserving order and
// skipping duplicates.
func (r *Rule) AppendEvidence(id string) {
	for _, e := range r.Evidence {
		if e == id {
			return
		}
	}
	r.Evidence = append(r.Evidence, id)
}

// ClampConfidence applies a delta and clamps the result to [floor, 1].
func ClampConfidence(old, delta, floor float64) float64 {
	c := old + delta
	if c < floor {
		return floor
	}
	if c > 1 {
		return 1
	}
	return c
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ScoredRule pairs a rule with its similarity to the query.
type ScoredRule struct {
	Rule

	Score float64 `json:"score"`
}

// Metadata keys for the vector store document encoding.
const (
	metaDomain     = "domain"
	metaConfidence = "confidence"
	metaEvidence   = "evidence"
	metaCreatedAt  = "created_at"
	metaUpdatedAt  = "updated_at"
)

func (r *Rule) toDocument() vectorstore.Document {
	evidence, _ := json.Marshal(r.Evidence)
	return vectorstore.Document{
		ID:      r.ID,
		Content: r.Principle,
		Metadata: map[string]string{
			metaDomain:     r.Domain,
			metaConfidence: strconv.FormatFloat(r.Confidence, 'f', -1, 64),
			metaEvidence:   string(evidence),
			metaCreatedAt:  r.CreatedAt.UTC().Format(time.RFC3339Nano),
			metaUpdatedAt:  r.UpdatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

func ruleFromMetadata(id, content string, metadata map[string]string) (*Rule, error) {
	confidence, err := strconv.ParseFloat(metadata[metaConfidence], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing confidence for %s: %w", id, err)
	}
	var evidence []string
	if raw := metadata[metaEvidence]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &evidence); err != nil {
			return nil, fmt.Errorf("parsing evidence for %s: %w", id, err)
		}
	}
	createdAt, err := time.Parse(time.RFC3339Nano, metadata[metaCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", id, err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, metadata[metaUpdatedAt])
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at for %s: %w", id, err)
	}
	return &Rule{
		ID:         id,
		Principle:  content,
		Domain:     metadata[metaDomain],
		Confidence: confidence,
		Evidence:   evidence,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}
