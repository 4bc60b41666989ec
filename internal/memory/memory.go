// Package memory implements the advisor memory stream: an append-only log
// of observations and reflections with importance-weighted, temporally
// decaying retrieval.
package memory

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/harbourlane/advisord/internal/vectorstore"
)

// Sentinel errors for memory stream operations.
var (
	// ErrEmptyAgentID indicates a missing agent id.
	ErrEmptyAgentID = errors.New("agent ID cannot be empty")

	// ErrEmptyDescription indicates an empty observation.
	ErrEmptyDescription = errors.New("description cannot be empty")

	// ErrInvalidImportance indicates an importance outside [0, 1].
	ErrInvalidImportance = errors.New("importance must be between 0.0 and 1.0")

	// ErrScoring indicates the importance scorer failed or returned
	// invalid data. Recovered internally with a default importance; the
	// observation itself is never lost.
	ErrScoring = errors.New("importance scoring failed")

	// ErrInvalidType indicates an unknown memory type.
	ErrInvalidType = errors.New("unknown memory type")
)

// Type classifies a memory entry.
type Type string

const (
	// TypeObservation is a raw logged fact about a consultation turn.
	TypeObservation Type = "observation"

	// TypeReflection is a higher-level insight synthesized from multiple
	// observations.
	TypeReflection Type = "reflection"

	// TypePlan is a forward-looking intention.
	TypePlan Type = "plan"
)

// Valid reports whether t is a known memory type.
func (t Type) Valid() bool {
	switch t {
	case TypeObservation, TypeReflection, TypePlan:
		return true
	}
	return false
}

// Memory is a single observation or reflection in an agent's stream.
//
// Memories are append-only: once recorded, the only mutation is the
// retrieval touch of LastAccessedAt. Recency is a derived value computed
// at scoring time, never persisted.
type Memory struct {
	// ID is the unique memory identifier (UUID).
	ID string `json:"id"`

	// AgentID identifies the owning advisor agent.
	AgentID string `json:"agent_id"`

	// Description is the memory text.
	Description string `json:"description"`

	// Importance is the scored weight in [0, 1].
	Importance float64 `json:"importance"`

	// Type classifies the entry.
	Type Type `json:"memory_type"`

	// CreatedAt is when the memory was recorded.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessedAt is updated every time the memory is returned by
	// retrieval. Invariant: LastAccessedAt >= CreatedAt.
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// NewMemory creates a memory with a generated UUID and both timestamps set
// to now.
func NewMemory(agentID, description string, memoryType Type, importance float64, now time.Time) (*Memory, error) {
	if agentID == "" {
		return nil, ErrEmptyAgentID
	}
	if description == "" {
		return nil, ErrEmptyDescription
	}
	if !memoryType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, memoryType)
	}
	if importance < 0 || importance > 1 {
		return nil, ErrInvalidImportance
	}
	return &Memory{
		ID:             uuid.New().String(),
		AgentID:        agentID,
		Description:    description,
		Importance:     importance,
		Type:           memoryType,
		CreatedAt:      now,
		LastAccessedAt: now,
	}, nil
}

// Validate checks the memory's invariants.
func (m *Memory) Validate() error {
	if m.ID == "" {
		return errors.New("memory ID cannot be empty")
	}
	if m.AgentID == "" {
		return ErrEmptyAgentID
	}
	if m.Description == "" {
		return ErrEmptyDescription
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, m.Type)
	}
	if m.Importance < 0 || m.Importance > 1 {
		return ErrInvalidImportance
	}
	if m.LastAccessedAt.Before(m.CreatedAt) {
		return errors.New("last accessed time cannot precede creation time")
	}
	return nil
}

// ScoredMemory pairs a memory with its composite retrieval score and the
// score components, useful for explaining why a memory surfaced.
type ScoredMemory struct {
	Memory

	Score      float64 `json:"score"`
	Recency    float64 `json:"recency"`
	Relevance  float64 `json:"relevance"`
	Importance float64 `json:"importance"`
}

// Metadata keys for the vector store document encoding.
const (
	metaAgentID      = "agent_id"
	metaType         = "memory_type"
	metaImportance   = "importance"
	metaCreatedAt    = "created_at"
	metaLastAccessed = "last_accessed_at"
)

func (m *Memory) toDocument() vectorstore.Document {
	return vectorstore.Document{
		ID:      m.ID,
		Content: m.Description,
		Metadata: map[string]string{
			metaAgentID:      m.AgentID,
			metaType:         string(m.Type),
			metaImportance:   strconv.FormatFloat(m.Importance, 'f', -1, 64),
			metaCreatedAt:    m.CreatedAt.UTC().Format(time.RFC3339Nano),
			metaLastAccessed: m.LastAccessedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

func memoryFromMetadata(id, content string, metadata map[string]string) (*Memory, error) {
	importance, err := strconv.ParseFloat(metadata[metaImportance], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing importance for %s: %w", id, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, metadata[metaCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", id, err)
	}
	lastAccessed, err := time.Parse(time.RFC3339Nano, metadata[metaLastAccessed])
	if err != nil {
		return nil, fmt.Errorf("parsing last_accessed_at for %s: %w", id, err)
	}
	return &Memory{
		ID:             id,
		AgentID:        metadata[metaAgentID],
		Description:    content,
		Importance:     importance,
		Type:           Type(metadata[metaType]),
		CreatedAt:      createdAt,
		LastAccessedAt: lastAccessed,
	}, nil
}
