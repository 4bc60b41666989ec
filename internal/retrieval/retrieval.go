// Package retrieval assembles the multi-faceted context bundle for a
// guidance request.
//
// Five sources are queried concurrently: the agent's memory stream, past
// cases, learned rules and the FCA and pension knowledge bases. A failed
// source degrades to an empty contribution with a warning; the bundle
// itself never fails because one source is down.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harbourlane/advisord/internal/audit"
	"github.com/harbourlane/advisord/internal/casestore"
	"github.com/harbourlane/advisord/internal/config"
	"github.com/harbourlane/advisord/internal/knowledge"
	"github.com/harbourlane/advisord/internal/memory"
	"github.com/harbourlane/advisord/internal/rulestore"
)

// Source names used in warnings, logs and metrics.
const (
	SourceMemories         = "memories"
	SourceCases            = "cases"
	SourceRules            = "rules"
	SourceFCAKnowledge     = "knowledge_fca"
	SourcePensionKnowledge = "knowledge_pension"
)

// ErrEmptyRequest indicates a request missing its agent id or situation.
var ErrEmptyRequest = errors.New("retrieval request needs an agent id and a customer situation")

// MemorySource supplies composite-scored memories.
type MemorySource interface {
	Retrieve(ctx context.Context, agentID, query string, k int) ([]memory.ScoredMemory, error)
}

// CaseSource supplies similar past cases.
type CaseSource interface {
	SearchSimilar(ctx context.Context, situation string, k int, taskType casestore.TaskType) ([]casestore.ScoredCase, error)
}

// RuleSource supplies learned rules above the retrieval threshold.
type RuleSource interface {
	SearchSimilar(ctx context.Context, query string, k int) ([]rulestore.ScoredRule, error)
}

// KnowledgeSource supplies static knowledge snippets.
type KnowledgeSource interface {
	Search(ctx context.Context, query string, k int) ([]knowledge.ScoredSnippet, error)
}

// Request describes one context assembly.
type Request struct {
	AgentID           string
	ConsultationID    string
	CustomerSituation string

	// TaskType, when non-empty, restricts the case search to that
	// category.
	TaskType casestore.TaskType
}

// Warning records a degraded source.
type Warning struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// RetrievedContext is the assembled bundle.
type RetrievedContext struct {
	Memories        []memory.ScoredMemory     `json:"memories"`
	Cases           []casestore.ScoredCase    `json:"cases"`
	Rules           []rulestore.ScoredRule    `json:"rules"`
	FCASnippets     []knowledge.ScoredSnippet `json:"fca_snippets"`
	PensionSnippets []knowledge.ScoredSnippet `json:"pension_snippets"`
	Warnings        []Warning                 `json:"warnings,omitempty"`
}

// Degraded reports whether any source failed.
func (c *RetrievedContext) Degraded() bool { return len(c.Warnings) > 0 }

// Retriever fans a request out to all five sources.
type Retriever struct {
	memories MemorySource
	cases    CaseSource
	rules    RuleSource
	fca      KnowledgeSource
	pension  KnowledgeSource

	cfg       config.RetrievalConfig
	publisher audit.Publisher
	logger    *zap.Logger

	degradedCounter metric.Int64Counter
}

// NewRetriever creates a retriever over the five sources.
func NewRetriever(
	memories MemorySource,
	cases CaseSource,
	rules RuleSource,
	fca KnowledgeSource,
	pension KnowledgeSource,
	cfg config.RetrievalConfig,
	publisher audit.Publisher,
	meter metric.Meter,
	logger *zap.Logger,
) (*Retriever, error) {
	if memories == nil || cases == nil || rules == nil || fca == nil || pension == nil {
		return nil, fmt.Errorf("all five retrieval sources are required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("audit publisher cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	degraded, err := meter.Int64Counter("advisord.retrieval.degraded_sources",
		metric.WithDescription("Retrieval sources that failed and degraded to empty"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating degraded-sources counter: %w", err)
	}

	return &Retriever{
		memories:        memories,
		cases:           cases,
		rules:           rules,
		fca:             fca,
		pension:         pension,
		cfg:             cfg,
		publisher:       publisher,
		logger:          logger,
		degradedCounter: degraded,
	}, nil
}

// RetrieveContext assembles the context bundle. Each source writes its
// own slot so the fan-out shares no mutable state; a source error never
// cancels its siblings.
func (r *Retriever) RetrieveContext(ctx context.Context, req Request) (*RetrievedContext, error) {
	if req.AgentID == "" || req.CustomerSituation == "" {
		return nil, ErrEmptyRequest
	}

	bundle := &RetrievedContext{
		Memories:        []memory.ScoredMemory{},
		Cases:           []casestore.ScoredCase{},
		Rules:           []rulestore.ScoredRule{},
		FCASnippets:     []knowledge.ScoredSnippet{},
		PensionSnippets: []knowledge.ScoredSnippet{},
	}

	var warnings [5]*Warning
	var g errgroup.Group

	g.Go(func() error {
		got, err := r.memories.Retrieve(ctx, req.AgentID, req.CustomerSituation, r.cfg.MemoryLimit)
		if err != nil {
			warnings[0] = &Warning{Source: SourceMemories, Message: err.Error()}
			return nil
		}
		bundle.Memories = got
		return nil
	})
	g.Go(func() error {
		got, err := r.cases.SearchSimilar(ctx, req.CustomerSituation, r.cfg.CaseLimit, req.TaskType)
		if err != nil {
			warnings[1] = &Warning{Source: SourceCases, Message: err.Error()}
			return nil
		}
		bundle.Cases = got
		return nil
	})
	g.Go(func() error {
		got, err := r.rules.SearchSimilar(ctx, req.CustomerSituation, r.cfg.RuleLimit)
		if err != nil {
			warnings[2] = &Warning{Source: SourceRules, Message: err.Error()}
			return nil
		}
		bundle.Rules = got
		return nil
	})
	g.Go(func() error {
		got, err := r.fca.Search(ctx, req.CustomerSituation, r.cfg.KnowledgeLimit)
		if err != nil {
			warnings[3] = &Warning{Source: SourceFCAKnowledge, Message: err.Error()}
			return nil
		}
		bundle.FCASnippets = got
		return nil
	})
	g.Go(func() error {
		got, err := r.pension.Search(ctx, req.CustomerSituation, r.cfg.KnowledgeLimit)
		if err != nil {
			warnings[4] = &Warning{Source: SourcePensionKnowledge, Message: err.Error()}
			return nil
		}
		bundle.PensionSnippets = got
		return nil
	})

	_ = g.Wait() // goroutines capture their errors as warnings

	for _, w := range warnings {
		if w == nil {
			continue
		}
		bundle.Warnings = append(bundle.Warnings, *w)
		r.recordDegraded(ctx, req, *w)
	}
	return bundle, nil
}

func (r *Retriever) recordDegraded(ctx context.Context, req Request, w Warning) {
	r.logger.Warn("retrieval source degraded",
		zap.String("source", w.Source),
		zap.String("agent_id", req.AgentID),
		zap.String("error", w.Message),
	)
	r.degradedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("source", w.Source)))
	if err := r.publisher.Publish(ctx, audit.Event{
		Type:           audit.TypeRetrievalDegraded,
		Timestamp:      time.Now().UTC(),
		ConsultationID: req.ConsultationID,
		AgentID:        req.AgentID,
		Fields: map[string]string{
			"source": w.Source,
			"error":  w.Message,
		},
	}); err != nil {
		r.logger.Warn("publishing degradation event", zap.Error(err))
	}
}
