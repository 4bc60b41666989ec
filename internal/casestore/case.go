// Package casestore persists concluded consultations as retrievable
// examples.
//
// A Case distills one consultation: the customer situation, the guidance
// given, and the recorded outcome. Cases are immutable once stored;
// corrections create a new case and let the old one age out through rule
// confidence, never through deletion.
package casestore

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/harbourlane/advisord/internal/vectorstore"
)

// Sentinel errors for case operations.
var (
	// ErrEmptyConsultationID indicates a missing consultation id.
	ErrEmptyConsultationID = errors.New("consultation ID cannot be empty")

	// ErrEmptySituation indicates an empty customer situation summary.
	ErrEmptySituation = errors.New("customer situation cannot be empty")

	// ErrMissingOutcome indicates a case without a recorded outcome.
	// Outcome-less cases are provisional and never persisted.
	ErrMissingOutcome = errors.New("case outcome must be present before storage")
)

// TaskType categorizes the consultation.
type TaskType string

const (
	TaskGeneralGuidance TaskType = "general_guidance"
	TaskTransferAdvice  TaskType = "transfer_advice"
	TaskDrawdownOptions TaskType = "drawdown_options"
	TaskAnnuityOptions  TaskType = "annuity_options"
	TaskTaxQuestions    TaskType = "tax_questions"
)

// ParseTaskType returns the matching task type, or "" for unknown input.
func ParseTaskType(s string) TaskType {
	switch t := TaskType(s); t {
	case TaskGeneralGuidance, TaskTransferAdvice, TaskDrawdownOptions, TaskAnnuityOptions, TaskTaxQuestions:
		return t
	}
	return ""
}

// Outcome records how a consultation concluded.
type Outcome struct {
	// Compliant reports whether the guidance passed compliance validation.
	Compliant bool `json:"compliant"`

	// Satisfaction is the customer satisfaction rating (0-5 scale).
	Satisfaction float64 `json:"customer_satisfaction"`

	// Comprehension signals how well the customer understood the
	// guidance, in [0, 1].
	Comprehension float64 `json:"comprehension"`
}

// Case is a concluded consultation distilled into a reusable example.
type Case struct {
	ID                string    `json:"id"`
	ConsultationID    string    `json:"consultation_id"`
	TaskType          TaskType  `json:"task_type"`
	CustomerSituation string    `json:"customer_situation"`
	GuidanceProvided  string    `json:"guidance_provided"`
	Outcome           *Outcome  `json:"outcome"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewCase creates a case with a generated UUID.
func NewCase(consultationID string, taskType TaskType, situation, guidance string, outcome *Outcome, now time.Time) (*Case, error) {
	if consultationID == "" {
		return nil, ErrEmptyConsultationID
	}
	if situation == "" {
		return nil, ErrEmptySituation
	}
	if outcome == nil {
		return nil, ErrMissingOutcome
	}
	return &Case{
		ID:                uuid.New().String(),
		ConsultationID:    consultationID,
		TaskType:          taskType,
		CustomerSituation: situation,
		GuidanceProvided:  guidance,
		Outcome:           outcome,
		CreatedAt:         now,
	}, nil
}

// ScoredCase pairs a case with its similarity to the query.
type ScoredCase struct {
	Case

	Score float64 `json:"score"`
}

// Metadata keys for the vector store document encoding.
const (
	metaConsultationID = "consultation_id"
	metaTaskType       = "task_type"
	metaGuidance       = "guidance_provided"
	metaCompliant      = "compliant"
	metaSatisfaction   = "customer_satisfaction"
	metaComprehension  = "comprehension"
	metaCreatedAt      = "created_at"
)

func (c *Case) toDocument() vectorstore.Document {
	return vectorstore.Document{
		ID:      c.ID,
		Content: c.CustomerSituation,
		Metadata: map[string]string{
			metaConsultationID: c.ConsultationID,
			metaTaskType:       string(c.TaskType),
			metaGuidance:       c.GuidanceProvided,
			metaCompliant:      strconv.FormatBool(c.Outcome.Compliant),
			metaSatisfaction:   strconv.FormatFloat(c.Outcome.Satisfaction, 'f', -1, 64),
			metaComprehension:  strconv.FormatFloat(c.Outcome.Comprehension, 'f', -1, 64),
			metaCreatedAt:      c.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

func caseFromMetadata(id, content string, metadata map[string]string) (*Case, error) {
	compliant, err := strconv.ParseBool(metadata[metaCompliant])
	if err != nil {
		return nil, fmt.Errorf("parsing compliant for %s: %w", id, err)
	}
	satisfaction, err := strconv.ParseFloat(metadata[metaSatisfaction], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing satisfaction for %s: %w", id, err)
	}
	comprehension, err := strconv.ParseFloat(metadata[metaComprehension], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing comprehension for %s: %w", id, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, metadata[metaCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", id, err)
	}
	return &Case{
		ID:                id,
		ConsultationID:    metadata[metaConsultationID],
		TaskType:          TaskType(metadata[metaTaskType]),
		CustomerSituation: content,
		GuidanceProvided:  metadata[metaGuidance],
		Outcome: &Outcome{
			Compliant:     compliant,
			Satisfaction:  satisfaction,
			Comprehension: comprehension,
		},
		CreatedAt: createdAt,
	}, nil
}
