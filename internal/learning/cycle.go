package learning

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/harbourlane/advisord/internal/audit"
	"github.com/harbourlane/advisord/internal/casestore"
	"github.com/harbourlane/advisord/internal/config"
	"github.com/harbourlane/advisord/internal/llm"
	"github.com/harbourlane/advisord/internal/memory"
	"github.com/harbourlane/advisord/internal/reflection"
)

const distillPrompt = `Distill this finished pension guidance consultation into a case record.

Transcript:
%s

Respond with JSON:
{
  "customer_situation": "<2-3 sentence summary of the customer's circumstances and question>",
  "guidance_provided": "<2-3 sentence summary of the guidance given>",
  "principle": "<one candidate lesson in the form WHEN ... ALWAYS/SHOULD ... BECAUSE ..., or empty if none>",
  "domain": "<transfers|drawdown|annuities|tax|general>"
}`

// Cycle runs the case/rule learning loop for ended consultations.
type Cycle struct {
	source    ConsultationSource
	client    llm.Client
	cases     *casestore.Store
	memories  *memory.Stream
	engine    *reflection.Engine
	publisher audit.Publisher
	cfg       config.LearningConfig
	logger    *zap.Logger

	group        singleflight.Group
	cycleCounter metric.Int64Counter
	now          func() time.Time
}

// NewCycle creates a learning cycle.
func NewCycle(
	source ConsultationSource,
	client llm.Client,
	cases *casestore.Store,
	memories *memory.Stream,
	engine *reflection.Engine,
	publisher audit.Publisher,
	cfg config.LearningConfig,
	meter metric.Meter,
	logger *zap.Logger,
) (*Cycle, error) {
	if source == nil || client == nil || cases == nil || memories == nil || engine == nil || publisher == nil {
		return nil, fmt.Errorf("source, client, case store, memory stream, engine and publisher are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	counter, err := meter.Int64Counter("advisord.learning.cycles",
		metric.WithDescription("Learning cycles run, by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating learning counter: %w", err)
	}
	return &Cycle{
		source:       source,
		client:       client,
		cases:        cases,
		memories:     memories,
		engine:       engine,
		publisher:    publisher,
		cfg:          cfg,
		logger:       logger,
		cycleCounter: counter,
		now:          time.Now,
	}, nil
}

// LearnFromConsultation runs one learning cycle for a consultation.
//
// Concurrent calls for the same consultation share a single in-flight
// cycle; repeat calls after completion return the stored case. A
// consultation without an outcome produces ErrPrematureLearning and
// writes nothing.
func (c *Cycle) LearnFromConsultation(ctx context.Context, consultationID string) (*Result, error) {
	if consultationID == "" {
		return nil, ErrEmptyConsultationID
	}

	v, err, shared := c.group.Do(consultationID, func() (any, error) {
		return c.learn(ctx, consultationID)
	})
	if err != nil {
		return nil, err
	}
	result := v.(*Result)
	if shared {
		// The duplicate caller gets a copy so neither mutates the other.
		dup := *result
		dup.Reused = true
		return &dup, nil
	}
	return result, nil
}

func (c *Cycle) learn(ctx context.Context, consultationID string) (*Result, error) {
	if existing, err := c.cases.FindByConsultation(ctx, consultationID); err != nil {
		return nil, fmt.Errorf("checking for existing case: %w", err)
	} else if existing != nil {
		c.recordCycle(ctx, "reused")
		return &Result{CaseID: existing.ID, Reused: true}, nil
	}

	cons, err := c.source.Consultation(ctx, consultationID)
	if err != nil {
		return nil, fmt.Errorf("loading consultation %s: %w", consultationID, err)
	}
	if cons.Outcome == nil {
		c.recordCycle(ctx, "premature")
		return nil, fmt.Errorf("%w: %s", ErrPrematureLearning, consultationID)
	}

	distilled, err := c.distill(ctx, cons)
	if err != nil {
		return nil, err
	}

	stored, err := casestore.NewCase(cons.ID, cons.TaskType, distilled.Situation, distilled.Guidance, cons.Outcome, c.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("building case: %w", err)
	}
	if err := c.cases.Save(ctx, stored); err != nil {
		return nil, err
	}

	result := &Result{CaseID: stored.ID}
	action := "case_only"

	switch {
	case c.ruleWorthy(cons) && distilled.Principle != "":
		cand, err := reflection.NewCandidate(cons.AgentID, distilled.Principle, distilled.Domain, []string{stored.ID})
		if err != nil {
			return nil, fmt.Errorf("building rule candidate: %w", err)
		}
		judgment, err := c.engine.JudgeCandidate(ctx, cand)
		if err != nil {
			return nil, err
		}
		result.Judgment = judgment
		action = string(judgment.State)

	case !cons.Outcome.Compliant:
		// Failed consultations feed the reflection path instead of the
		// rule pipeline.
		c.reflectOnFailure(ctx, cons, distilled.Situation)
		action = "reflected"
	}

	c.recordCycle(ctx, action)
	c.publish(ctx, audit.Event{
		Type:           audit.TypeLearningOutcome,
		Timestamp:      c.now().UTC(),
		ConsultationID: cons.ID,
		AgentID:        cons.AgentID,
		Fields: map[string]string{
			"case_id":     stored.ID,
			"rule_action": action,
		},
	})

	c.logger.Info("learning cycle complete",
		zap.String("consultation_id", cons.ID),
		zap.String("case_id", stored.ID),
		zap.String("rule_action", action),
	)
	return result, nil
}

type distilledCase struct {
	Situation string `json:"customer_situation"`
	Guidance  string `json:"guidance_provided"`
	Principle string `json:"principle"`
	Domain    string `json:"domain"`
}

func (c *Cycle) distill(ctx context.Context, cons *Consultation) (*distilledCase, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.StageTimeout)
	defer cancel()

	var out distilledCase
	if err := c.client.Structured(callCtx, fmt.Sprintf(distillPrompt, cons.Transcript), &out); err != nil {
		return nil, fmt.Errorf("distilling consultation %s: %w", cons.ID, err)
	}
	if out.Situation == "" || out.Guidance == "" {
		return nil, fmt.Errorf("distilling consultation %s: %w", cons.ID, llm.ErrMalformedResponse)
	}
	return &out, nil
}

// ruleWorthy applies the heuristic for proposing a rule candidate.
func (c *Cycle) ruleWorthy(cons *Consultation) bool {
	if cons.ForceLearn {
		return true
	}
	return cons.Outcome.Compliant && cons.Outcome.Satisfaction >= c.cfg.SatisfactionThreshold
}

// reflectOnFailure records a failure observation and synthesizes a
// reflection from it. Failures here degrade the cycle, never fail it: the
// case is already stored.
func (c *Cycle) reflectOnFailure(ctx context.Context, cons *Consultation, situation string) {
	description := fmt.Sprintf("Consultation ended non-compliant (satisfaction %.1f): %s",
		cons.Outcome.Satisfaction, situation)
	obs, err := c.memories.Record(ctx, cons.AgentID, description, memory.TypeObservation)
	if err != nil {
		c.logger.Warn("recording failure observation", zap.String("consultation_id", cons.ID), zap.Error(err))
		return
	}
	if _, err := c.engine.ReflectOnFailure(ctx, cons.AgentID, []memory.Memory{*obs}); err != nil {
		c.logger.Warn("inline reflection failed", zap.String("consultation_id", cons.ID), zap.Error(err))
	}
}

func (c *Cycle) recordCycle(ctx context.Context, result string) {
	c.cycleCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (c *Cycle) publish(ctx context.Context, event audit.Event) {
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Warn("publishing audit event", zap.String("type", event.Type), zap.Error(err))
	}
}

// SetNow overrides the clock. Test hook.
func (c *Cycle) SetNow(now func() time.Time) { c.now = now }
