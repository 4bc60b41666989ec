package casestore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/harbourlane/advisord/internal/vectorstore"
)

// Store persists and retrieves cases.
type Store struct {
	store  vectorstore.Store
	logger *zap.Logger
}

// NewStore creates a case store.
func NewStore(store vectorstore.Store, logger *zap.Logger) (*Store, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{store: store, logger: logger}, nil
}

// Save persists a case. The outcome precondition is enforced here as well
// as at construction so no provisional case can slip into the store.
func (s *Store) Save(ctx context.Context, c *Case) error {
	if c.ConsultationID == "" {
		return ErrEmptyConsultationID
	}
	if c.Outcome == nil {
		return ErrMissingOutcome
	}
	if _, err := s.store.AddDocuments(ctx, vectorstore.CollectionCases, []vectorstore.Document{c.toDocument()}); err != nil {
		return fmt.Errorf("persisting case: %w", err)
	}
	s.logger.Debug("case saved",
		zap.String("case_id", c.ID),
		zap.String("consultation_id", c.ConsultationID),
		zap.String("task_type", string(c.TaskType)),
	)
	return nil
}

// SearchSimilar returns the top-k cases most similar to the situation
// text. A non-empty taskType restricts results to that category.
func (s *Store) SearchSimilar(ctx context.Context, situation string, k int, taskType TaskType) ([]ScoredCase, error) {
	if situation == "" {
		return nil, ErrEmptySituation
	}
	if k <= 0 {
		return []ScoredCase{}, nil
	}

	var filters map[string]string
	if taskType != "" {
		filters = map[string]string{metaTaskType: string(taskType)}
	}

	results, err := s.store.Search(ctx, vectorstore.CollectionCases, situation, k, filters)
	if err != nil {
		return nil, fmt.Errorf("searching cases: %w", err)
	}

	cases := make([]ScoredCase, 0, len(results))
	for _, r := range results {
		c, err := caseFromMetadata(r.ID, r.Content, r.Metadata)
		if err != nil {
			s.logger.Warn("skipping undecodable case", zap.String("case_id", r.ID), zap.Error(err))
			continue
		}
		cases = append(cases, ScoredCase{Case: *c, Score: float64(r.Score)})
	}
	return cases, nil
}

// FindByConsultation returns the case recorded for a consultation, or nil
// when none exists.
func (s *Store) FindByConsultation(ctx context.Context, consultationID string) (*Case, error) {
	if consultationID == "" {
		return nil, ErrEmptyConsultationID
	}
	docs, err := s.store.List(ctx, vectorstore.CollectionCases, map[string]string{metaConsultationID: consultationID})
	if err != nil {
		return nil, fmt.Errorf("listing cases: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return caseFromMetadata(docs[0].ID, docs[0].Content, docs[0].Metadata)
}

// Get returns a single case by id.
func (s *Store) Get(ctx context.Context, id string) (*Case, error) {
	doc, err := s.store.GetDocument(ctx, vectorstore.CollectionCases, id)
	if err != nil {
		return nil, err
	}
	return caseFromMetadata(doc.ID, doc.Content, doc.Metadata)
}
