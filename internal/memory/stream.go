package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/harbourlane/advisord/internal/config"
	"github.com/harbourlane/advisord/internal/llm"
	"github.com/harbourlane/advisord/internal/vectorstore"
)

// importancePrompt asks the model to rate an observation. The response is
// parsed as a 0-10 number and normalized to [0, 1].
const importancePrompt = `On a scale of 0 to 10, where 0 is a mundane routine detail and 10 is a critical fact that should shape all future pension guidance for this customer, rate the importance of the following advisor memory. Respond with a single number only.

Memory: %s`

// Stream stores and retrieves an agent's memories.
//
// Writes never fail because of the importance scorer: a scoring failure
// falls back to the configured default importance and the observation is
// persisted regardless.
type Stream struct {
	store  vectorstore.Store
	scorer llm.Client
	cfg    config.MemoryConfig
	logger *zap.Logger

	// now is swapped in tests to control scoring time.
	now func() time.Time
}

// NewStream creates a memory stream.
func NewStream(store vectorstore.Store, scorer llm.Client, cfg config.MemoryConfig, logger *zap.Logger) (*Stream, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}
	if scorer == nil {
		return nil, fmt.Errorf("scorer cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		store:  store,
		scorer: scorer,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Record scores, embeds and persists a new memory.
func (s *Stream) Record(ctx context.Context, agentID, description string, memoryType Type) (*Memory, error) {
	importance := s.scoreImportance(ctx, description)

	mem, err := NewMemory(agentID, description, memoryType, importance, s.now())
	if err != nil {
		return nil, err
	}

	if _, err := s.store.AddDocuments(ctx, vectorstore.CollectionMemories, []vectorstore.Document{mem.toDocument()}); err != nil {
		return nil, fmt.Errorf("persisting memory: %w", err)
	}

	s.logger.Debug("memory recorded",
		zap.String("memory_id", mem.ID),
		zap.String("agent_id", agentID),
		zap.String("type", string(memoryType)),
		zap.Float64("importance", importance),
	)
	return mem, nil
}

// scoreImportance asks the model to rate the observation, falling back to
// the default importance on any failure. Observations are never lost to a
// misbehaving scorer.
func (s *Stream) scoreImportance(ctx context.Context, description string) float64 {
	score, err := s.scorer.Score(ctx, fmt.Sprintf(importancePrompt, description))
	if err != nil {
		s.logger.Warn("falling back to default importance",
			zap.Error(fmt.Errorf("%w: %v", ErrScoring, err)),
			zap.Float64("default", s.cfg.DefaultImportance),
		)
		return s.cfg.DefaultImportance
	}
	if score < 0 || score > 1 {
		s.logger.Warn("scorer returned out-of-range importance",
			zap.Float64("score", score),
			zap.Float64("default", s.cfg.DefaultImportance),
		)
		return s.cfg.DefaultImportance
	}
	return score
}

// Retrieve returns the agent's top-k memories ranked by the composite
// score, and touches last_accessed_at on every memory returned. Memories
// scored but not returned are not touched.
//
// An empty stream yields an empty slice. A query embedding failure is
// returned as an error; retrieval never degrades to an unranked list.
func (s *Stream) Retrieve(ctx context.Context, agentID, query string, k int) ([]ScoredMemory, error) {
	if agentID == "" {
		return nil, ErrEmptyAgentID
	}
	if k <= 0 {
		return []ScoredMemory{}, nil
	}

	total, err := s.store.Count(ctx, vectorstore.CollectionMemories)
	if err != nil {
		return nil, fmt.Errorf("counting memories: %w", err)
	}
	if total == 0 {
		return []ScoredMemory{}, nil
	}

	// Rank over the agent's whole stream: similarity alone decides which
	// candidates the store returns, but the composite blend decides the
	// final order, so every memory must be scored.
	results, err := s.store.Search(ctx, vectorstore.CollectionMemories, query, total, map[string]string{metaAgentID: agentID})
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}

	now := s.now()
	scored := make([]ScoredMemory, 0, len(results))
	for _, r := range results {
		mem, err := memoryFromMetadata(r.ID, r.Content, r.Metadata)
		if err != nil {
			s.logger.Warn("skipping undecodable memory", zap.String("memory_id", r.ID), zap.Error(err))
			continue
		}
		recency := Recency(s.cfg.DecayFactor, mem.LastAccessedAt, now)
		relevance := ClampRelevance(float64(r.Score))
		weights := Weights{
			Recency:    s.cfg.RecencyWeight,
			Relevance:  s.cfg.RelevanceWeight,
			Importance: s.cfg.ImportanceWeight,
		}
		scored = append(scored, ScoredMemory{
			Memory:     *mem,
			Score:      CompositeScore(weights, recency, relevance, mem.Importance),
			Recency:    recency,
			Relevance:  relevance,
			Importance: mem.Importance,
		})
	}

	// Equal composite scores break ties toward the more recently created
	// memory; the ID comparison keeps the order deterministic when even
	// the timestamps collide.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].CreatedAt.Equal(scored[j].CreatedAt) {
			return scored[i].CreatedAt.After(scored[j].CreatedAt)
		}
		return scored[i].ID < scored[j].ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}

	s.touch(ctx, scored, now)
	return scored, nil
}

// touch updates last_accessed_at for retrieved memories so they resist
// decay. A failed touch is logged, not surfaced: the caller already has
// its results.
func (s *Stream) touch(ctx context.Context, memories []ScoredMemory, now time.Time) {
	for i := range memories {
		memories[i].LastAccessedAt = now
		doc := memories[i].Memory.toDocument()
		if err := s.store.UpdateMetadata(ctx, vectorstore.CollectionMemories, memories[i].ID, doc.Metadata); err != nil {
			s.logger.Warn("failed to touch memory",
				zap.String("memory_id", memories[i].ID),
				zap.Error(err),
			)
		}
	}
}

// Get returns a single memory by id.
func (s *Stream) Get(ctx context.Context, id string) (*Memory, error) {
	doc, err := s.store.GetDocument(ctx, vectorstore.CollectionMemories, id)
	if err != nil {
		return nil, err
	}
	return memoryFromMetadata(doc.ID, doc.Content, doc.Metadata)
}

// ListByAgent returns every memory for an agent, newest first. Used by the
// reflection worker and the admin inspection API; it does not touch
// last_accessed_at.
func (s *Stream) ListByAgent(ctx context.Context, agentID string) ([]Memory, error) {
	if agentID == "" {
		return nil, ErrEmptyAgentID
	}
	docs, err := s.store.List(ctx, vectorstore.CollectionMemories, map[string]string{metaAgentID: agentID})
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	memories := make([]Memory, 0, len(docs))
	for _, doc := range docs {
		mem, err := memoryFromMetadata(doc.ID, doc.Content, doc.Metadata)
		if err != nil {
			s.logger.Warn("skipping undecodable memory", zap.String("memory_id", doc.ID), zap.Error(err))
			continue
		}
		memories = append(memories, *mem)
	}
	sort.Slice(memories, func(i, j int) bool {
		return memories[i].CreatedAt.After(memories[j].CreatedAt)
	})
	return memories, nil
}

// ListAgents returns the distinct agent ids present in the stream,
// sorted. The reflection worker uses it to scan every agent.
func (s *Stream) ListAgents(ctx context.Context) ([]string, error) {
	docs, err := s.store.List(ctx, vectorstore.CollectionMemories, nil)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	seen := make(map[string]struct{})
	var agents []string
	for _, doc := range docs {
		id := doc.Metadata[metaAgentID]
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		agents = append(agents, id)
	}
	sort.Strings(agents)
	return agents, nil
}

// SetNow overrides the stream's clock. Tests only.
func (s *Stream) SetNow(now func() time.Time) {
	s.now = now
}
