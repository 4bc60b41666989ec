package rulestore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/harbourlane/advisord/internal/vectorstore"
)

// Store persists rules and applies confidence adjustments.
type Store struct {
	store  vectorstore.Store
	logger *zap.Logger

	// floor is the lowest confidence a rule can decay to; threshold is
	// the minimum confidence for a rule to appear in retrieval.
	floor     float64
	threshold float64

	now func() time.Time
}

// NewStore creates a rule store. floor must be in (0, 1) and threshold in
// [floor, 1].
func NewStore(store vectorstore.Store, floor, threshold float64, logger *zap.Logger) (*Store, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}
	if floor <= 0 || floor >= 1 {
		return nil, fmt.Errorf("confidence floor must be in (0, 1), got %v", floor)
	}
	if threshold < floor || threshold > 1 {
		return nil, fmt.Errorf("retrieval threshold must be in [%v, 1], got %v", floor, threshold)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		store:     store,
		logger:    logger,
		floor:     floor,
		threshold: threshold,
		now:       time.Now,
	}, nil
}

// Create persists a new rule. The initial confidence is clamped to
// [floor, 1] before storage.
func (s *Store) Create(ctx context.Context, principle, domain string, confidence float64, evidence []string) (*Rule, error) {
	rule, err := NewRule(principle, domain, ClampConfidence(confidence, 0, s.floor), evidence, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if _, err := s.store.AddDocuments(ctx, vectorstore.CollectionRules, []vectorstore.Document{rule.toDocument()}); err != nil {
		return nil, fmt.Errorf("persisting rule: %w", err)
	}
	s.logger.Info("rule created",
		zap.String("rule_id", rule.ID),
		zap.String("domain", rule.Domain),
		zap.Float64("confidence", rule.Confidence),
	)
	return rule, nil
}

// AdjustConfidence applies a signed delta to a rule's confidence, clamped
// to [floor, 1], and optionally links new evidence. Rules are never
// deleted: a negative delta can only decay a rule to the floor, where it
// drops out of retrieval.
func (s *Store) AdjustConfidence(ctx context.Context, ruleID string, delta float64, evidence ...string) (*Rule, error) {
	rule, err := s.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	old := rule.Confidence
	rule.Confidence = ClampConfidence(old, delta, s.floor)
	for _, e := range evidence {
		rule.AppendEvidence(e)
	}
	rule.UpdatedAt = s.now().UTC()

	meta := rule.toDocument().Metadata
	if err := s.store.UpdateMetadata(ctx, vectorstore.CollectionRules, rule.ID, meta); err != nil {
		return nil, fmt.Errorf("updating rule %s: %w", rule.ID, err)
	}

	s.logger.Info("rule confidence adjusted",
		zap.String("rule_id", rule.ID),
		zap.Float64("old", old),
		zap.Float64("new", rule.Confidence),
		zap.Float64("delta", delta),
	)
	return rule, nil
}

// searchOverfetch compensates for sub-threshold rules being filtered out
// after the similarity search.
const searchOverfetch = 4

// SearchSimilar returns the top-k rules most similar to the query whose
// confidence is at or above the retrieval threshold. Decayed rules stay
// in the store but never surface here.
func (s *Store) SearchSimilar(ctx context.Context, query string, k int) ([]ScoredRule, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if k <= 0 {
		return []ScoredRule{}, nil
	}

	results, err := s.store.Search(ctx, vectorstore.CollectionRules, query, k*searchOverfetch, nil)
	if err != nil {
		return nil, fmt.Errorf("searching rules: %w", err)
	}

	rules := make([]ScoredRule, 0, k)
	for _, r := range results {
		rule, err := ruleFromMetadata(r.ID, r.Content, r.Metadata)
		if err != nil {
			s.logger.Warn("skipping undecodable rule", zap.String("rule_id", r.ID), zap.Error(err))
			continue
		}
		if rule.Confidence < s.threshold {
			continue
		}
		rules = append(rules, ScoredRule{Rule: *rule, Score: float64(r.Score)})
		if len(rules) == k {
			break
		}
	}
	return rules, nil
}

// Get returns a single rule by id.
func (s *Store) Get(ctx context.Context, id string) (*Rule, error) {
	doc, err := s.store.GetDocument(ctx, vectorstore.CollectionRules, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return ruleFromMetadata(doc.ID, doc.Content, doc.Metadata)
}

// List returns all rules, including ones below the retrieval threshold,
// ordered by confidence descending. Intended for the inspection API.
func (s *Store) List(ctx context.Context) ([]Rule, error) {
	docs, err := s.store.List(ctx, vectorstore.CollectionRules, nil)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	rules := make([]Rule, 0, len(docs))
	for _, doc := range docs {
		rule, err := ruleFromMetadata(doc.ID, doc.Content, doc.Metadata)
		if err != nil {
			s.logger.Warn("skipping undecodable rule", zap.String("rule_id", doc.ID), zap.Error(err))
			continue
		}
		rules = append(rules, *rule)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Confidence != rules[j].Confidence {
			return rules[i].Confidence > rules[j].Confidence
		}
		return rules[i].ID < rules[j].ID
	})
	return rules, nil
}

// Floor returns the configured confidence floor.
func (s *Store) Floor() float64 { return s.floor }

// Threshold returns the configured retrieval threshold.
func (s *Store) Threshold() float64 { return s.threshold }

// SetNow overrides the clock. Test hook.
func (s *Store) SetNow(now func() time.Time) { s.now = now }
