package advisory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/harbourlane/advisord/internal/casestore"
	"github.com/harbourlane/advisord/internal/llm"
	"github.com/harbourlane/advisord/internal/memory"
	"github.com/harbourlane/advisord/internal/retrieval"
)

// ChunkType discriminates stream events.
type ChunkType string

// Chunk types. Delta carries text; the other three are terminal and each
// stream emits exactly one terminal chunk.
const (
	ChunkDelta     ChunkType = "delta"
	ChunkDone      ChunkType = "done"
	ChunkCancelled ChunkType = "cancelled"
	ChunkError     ChunkType = "error"
)

// Chunk is one event of a guidance stream.
type Chunk struct {
	Type ChunkType `json:"type"`

	// Text is the delta payload.
	Text string `json:"text,omitempty"`

	// Compliance is set on the done terminal when validation succeeded.
	Compliance *ComplianceResult `json:"compliance,omitempty"`

	// Error describes an error terminal.
	Error string `json:"error,omitempty"`
}

// Terminal reports whether the chunk ends the stream.
func (c Chunk) Terminal() bool { return c.Type != ChunkDelta }

// ContextRetriever assembles the retrieval bundle for a request.
type ContextRetriever interface {
	RetrieveContext(ctx context.Context, req retrieval.Request) (*retrieval.RetrievedContext, error)
}

// Request describes one guidance turn.
type Request struct {
	ConsultationID  string
	AgentID         string
	CustomerMessage string
	History         []string
	TaskType        string
	Mode            Mode
}

// Generator streams guidance responses.
type Generator struct {
	client    llm.Client
	retriever ContextRetriever
	builder   *PromptBuilder
	validator ComplianceValidator
	memories  *memory.Stream
	logger    *zap.Logger
}

// NewGenerator creates a guidance generator.
func NewGenerator(
	client llm.Client,
	retriever ContextRetriever,
	validator ComplianceValidator,
	memories *memory.Stream,
	logger *zap.Logger,
) (*Generator, error) {
	if client == nil || retriever == nil || validator == nil || memories == nil {
		return nil, fmt.Errorf("client, retriever, validator and memory stream are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		client:    client,
		retriever: retriever,
		builder:   NewPromptBuilder(),
		validator: validator,
		memories:  memories,
		logger:    logger,
	}, nil
}

// Stream generates guidance for the request, delivering deltas and one
// terminal chunk on the returned channel. The channel closes after the
// terminal chunk. Cancelling ctx discards the partial response and skips
// all memory writes.
func (g *Generator) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	if req.AgentID == "" || req.CustomerMessage == "" {
		return nil, ErrEmptyMessage
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeStandard
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	// Retrieval degrades internally; it only fails on invalid input.
	bundle, err := g.retriever.RetrieveContext(ctx, retrieval.Request{
		AgentID:           req.AgentID,
		ConsultationID:    req.ConsultationID,
		CustomerSituation: req.CustomerMessage,
		TaskType:          casestore.ParseTaskType(req.TaskType),
	})
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	prompt, err := g.builder.Build(PromptInputs{
		CustomerMessage: req.CustomerMessage,
		History:         req.History,
		Context:         bundle,
	}, mode)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk)
	go g.produce(ctx, req, prompt, bundle, ch)
	return ch, nil
}

func (g *Generator) produce(ctx context.Context, req Request, prompt string, bundle *retrieval.RetrievedContext, ch chan<- Chunk) {
	defer close(ch)

	full, err := g.client.Stream(ctx, prompt, func(ctx context.Context, delta string) error {
		select {
		case ch <- Chunk{Type: ChunkDelta, Text: delta}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			g.logger.Info("guidance stream cancelled",
				zap.String("consultation_id", req.ConsultationID),
			)
			g.trySend(ch, Chunk{Type: ChunkCancelled})
			return
		}
		g.logger.Error("guidance generation failed",
			zap.String("consultation_id", req.ConsultationID),
			zap.Error(err),
		)
		select {
		case ch <- Chunk{Type: ChunkError, Error: err.Error()}:
		case <-ctx.Done():
		}
		return
	}

	done := Chunk{Type: ChunkDone}
	compliance, err := g.validator.Validate(ctx, full, bundle)
	if err != nil {
		// Validation failure degrades the terminal event, not the
		// guidance the customer already received.
		g.logger.Warn("compliance validation failed",
			zap.String("consultation_id", req.ConsultationID),
			zap.Error(err),
		)
	} else {
		done.Compliance = compliance
	}

	g.recordObservation(ctx, req, full, compliance)

	select {
	case ch <- done:
	case <-ctx.Done():
	}
}

// trySend delivers the cancellation terminal if a receiver is still
// listening; a consumer that walked away after cancelling is not waited
// for.
func (g *Generator) trySend(ch chan<- Chunk, chunk Chunk) {
	select {
	case ch <- chunk:
	default:
	}
}

func (g *Generator) recordObservation(ctx context.Context, req Request, guidance string, compliance *ComplianceResult) {
	description := fmt.Sprintf("Customer asked: %s. Guidance given: %s", req.CustomerMessage, guidance)
	if compliance != nil && !compliance.Compliant {
		description += fmt.Sprintf(" (compliance concerns: %v)", compliance.Issues)
	}
	if _, err := g.memories.Record(ctx, req.AgentID, description, memory.TypeObservation); err != nil {
		g.logger.Warn("recording guidance observation",
			zap.String("consultation_id", req.ConsultationID),
			zap.Error(err),
		)
	}
}
