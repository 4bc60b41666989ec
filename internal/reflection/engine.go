package reflection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/harbourlane/advisord/internal/audit"
	"github.com/harbourlane/advisord/internal/config"
	"github.com/harbourlane/advisord/internal/llm"
	"github.com/harbourlane/advisord/internal/memory"
	"github.com/harbourlane/advisord/internal/rulestore"
)

const reflectionPrompt = `You review a pension guidance specialist's recent consultation notes.
The notes below describe interactions that went poorly or raised compliance concerns.

Notes:
%s

Write one concise insight (2-3 sentences) about what the specialist should
do differently in future consultations. State the insight directly, without
preamble.`

const validatePrompt = `You assess whether a proposed guidance principle is worth keeping.

Proposed principle: %s
Domain: %s

A principle is valid when it is a generalizable lesson about giving pension
guidance: not specific to one customer, not vague common sense, and
actionable in a future consultation.

Respond with JSON: {"valid": true|false, "reason": "<one sentence>"}`

const refinePrompt = `Rewrite this guidance principle in the canonical form
"WHEN <situation> ALWAYS/SHOULD <action> BECAUSE <rationale>".
Keep it to one sentence and pick the single best domain from:
transfers, drawdown, annuities, tax, general.

Principle: %s

Respond with JSON: {"principle": "<rewritten>", "domain": "<domain>"}`

const decidePrompt = `A refined guidance principle needs a final decision.

Principle: %s
Domain: %s

Existing similar rules:
%s

Decide one of:
- "create": the principle is new knowledge.
- "strengthen": it restates an existing rule; name the rule and a
  confidence_delta in (0, 0.3].
- "reject": it adds nothing over the existing rules.

Respond with JSON:
{"action": "create|strengthen|reject", "rule_id": "<id or empty>", "confidence_delta": <number>, "reason": "<one sentence>"}`

// Engine synthesizes reflections and judges rule candidates.
type Engine struct {
	client    llm.Client
	memories  *memory.Stream
	rules     *rulestore.Store
	publisher audit.Publisher
	logger    *zap.Logger

	stageTimeout      time.Duration
	initialConfidence float64

	judgmentCounter metric.Int64Counter
}

// NewEngine creates a reflection engine.
func NewEngine(
	client llm.Client,
	memories *memory.Stream,
	rules *rulestore.Store,
	publisher audit.Publisher,
	learningCfg config.LearningConfig,
	rulesCfg config.RulesConfig,
	meter metric.Meter,
	logger *zap.Logger,
) (*Engine, error) {
	if client == nil || memories == nil || rules == nil || publisher == nil {
		return nil, fmt.Errorf("client, memory stream, rule store and publisher are required")
	}
	if learningCfg.StageTimeout <= 0 {
		return nil, fmt.Errorf("stage timeout must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	counter, err := meter.Int64Counter("advisord.rules.judgments",
		metric.WithDescription("Rule candidates reaching a terminal state"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating judgment counter: %w", err)
	}
	return &Engine{
		client:            client,
		memories:          memories,
		rules:             rules,
		publisher:         publisher,
		logger:            logger,
		stageTimeout:      learningCfg.StageTimeout,
		initialConfidence: rulesCfg.InitialConfidence,
		judgmentCounter:   counter,
	}, nil
}

// ReflectOnFailure condenses failure observations into one reflection
// memory for the agent.
func (e *Engine) ReflectOnFailure(ctx context.Context, agentID string, observations []memory.Memory) (*memory.Memory, error) {
	if agentID == "" {
		return nil, memory.ErrEmptyAgentID
	}
	if len(observations) == 0 {
		return nil, ErrNoObservations
	}

	var notes strings.Builder
	for _, obs := range observations {
		notes.WriteString("- ")
		notes.WriteString(obs.Description)
		notes.WriteString("\n")
	}

	callCtx, cancel := context.WithTimeout(ctx, e.stageTimeout)
	defer cancel()
	insight, err := e.client.Complete(callCtx, fmt.Sprintf(reflectionPrompt, notes.String()))
	if err != nil {
		return nil, fmt.Errorf("synthesizing reflection: %w", err)
	}

	mem, err := e.memories.Record(ctx, agentID, insight, memory.TypeReflection)
	if err != nil {
		return nil, fmt.Errorf("recording reflection: %w", err)
	}

	e.publish(ctx, audit.Event{
		Type:      audit.TypeReflection,
		Timestamp: time.Now().UTC(),
		AgentID:   agentID,
		Fields: map[string]string{
			"memory_id":    mem.ID,
			"observations": fmt.Sprintf("%d", len(observations)),
		},
	})
	return mem, nil
}

// JudgeCandidate runs a candidate through validate, refine and decide.
//
// Stage failures (model errors, malformed responses, timeouts) reject the
// candidate rather than erroring: rejection is a normal outcome and leaves
// no partial writes. Only a store failure while applying a create or
// strengthen decision returns an error.
func (e *Engine) JudgeCandidate(ctx context.Context, cand *Candidate) (*Judgment, error) {
	if cand == nil || cand.Principle == "" || len(cand.Evidence) == 0 {
		return nil, ErrInvalidCandidate
	}
	if cand.State != StateProposed {
		return nil, fmt.Errorf("%w: candidate already %s", ErrRuleJudgment, cand.State)
	}

	if judgment := e.validateStage(ctx, cand); judgment != nil {
		return judgment, nil
	}
	if judgment := e.refineStage(ctx, cand); judgment != nil {
		return judgment, nil
	}
	return e.decideStage(ctx, cand)
}

// validateStage returns a rejection judgment, or nil to continue.
func (e *Engine) validateStage(ctx context.Context, cand *Candidate) *Judgment {
	var resp struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
	}
	callCtx, cancel := context.WithTimeout(ctx, e.stageTimeout)
	defer cancel()
	if err := e.client.Structured(callCtx, fmt.Sprintf(validatePrompt, cand.Principle, cand.Domain), &resp); err != nil {
		return e.reject(ctx, cand, fmt.Sprintf("validation stage failed: %v", err))
	}
	if !resp.Valid {
		return e.reject(ctx, cand, "not generalizable: "+resp.Reason)
	}
	if err := cand.advance(StateValidated); err != nil {
		return e.reject(ctx, cand, err.Error())
	}
	return nil
}

// refineStage returns a rejection judgment, or nil to continue.
func (e *Engine) refineStage(ctx context.Context, cand *Candidate) *Judgment {
	var resp struct {
		Principle string `json:"principle"`
		Domain    string `json:"domain"`
	}
	callCtx, cancel := context.WithTimeout(ctx, e.stageTimeout)
	defer cancel()
	if err := e.client.Structured(callCtx, fmt.Sprintf(refinePrompt, cand.Principle), &resp); err != nil {
		return e.reject(ctx, cand, fmt.Sprintf("refinement stage failed: %v", err))
	}
	if resp.Principle == "" {
		return e.reject(ctx, cand, "refinement produced an empty principle")
	}
	cand.Principle = resp.Principle
	if resp.Domain != "" {
		cand.Domain = resp.Domain
	}
	if err := cand.advance(StateRefined); err != nil {
		return e.reject(ctx, cand, err.Error())
	}
	return nil
}

func (e *Engine) decideStage(ctx context.Context, cand *Candidate) (*Judgment, error) {
	similar, err := e.rules.SearchSimilar(ctx, cand.Principle, 3)
	if err != nil {
		return e.reject(ctx, cand, fmt.Sprintf("searching existing rules: %v", err)), nil
	}

	existing := "(none)"
	if len(similar) > 0 {
		var b strings.Builder
		for _, r := range similar {
			fmt.Fprintf(&b, "- id=%s confidence=%.2f principle=%s\n", r.ID, r.Confidence, r.Principle)
		}
		existing = b.String()
	}

	var resp struct {
		Action          string  `json:"action"`
		RuleID          string  `json:"rule_id"`
		ConfidenceDelta float64 `json:"confidence_delta"`
		Reason          string  `json:"reason"`
	}
	callCtx, cancel := context.WithTimeout(ctx, e.stageTimeout)
	defer cancel()
	if err := e.client.Structured(callCtx, fmt.Sprintf(decidePrompt, cand.Principle, cand.Domain, existing), &resp); err != nil {
		return e.reject(ctx, cand, fmt.Sprintf("decision stage failed: %v", err)), nil
	}

	switch resp.Action {
	case "create":
		rule, err := e.rules.Create(ctx, cand.Principle, cand.Domain, e.initialConfidence, cand.Evidence)
		if err != nil {
			return nil, fmt.Errorf("%w: creating rule: %v", ErrRuleJudgment, err)
		}
		if err := cand.advance(StateCreated); err != nil {
			return nil, err
		}
		e.recordTerminal(ctx, cand, "")
		return &Judgment{State: StateCreated, RuleID: rule.ID}, nil

	case "strengthen":
		if resp.RuleID == "" || resp.ConfidenceDelta <= 0 {
			return e.reject(ctx, cand, "strengthen decision missing rule id or positive delta"), nil
		}
		rule, err := e.rules.AdjustConfidence(ctx, resp.RuleID, resp.ConfidenceDelta, cand.Evidence...)
		if err != nil {
			if errors.Is(err, rulestore.ErrRuleNotFound) {
				return e.reject(ctx, cand, "strengthen decision named an unknown rule"), nil
			}
			return nil, fmt.Errorf("%w: strengthening rule: %v", ErrRuleJudgment, err)
		}
		if err := cand.advance(StateStrengthened); err != nil {
			return nil, err
		}
		e.recordTerminal(ctx, cand, "")
		return &Judgment{State: StateStrengthened, RuleID: rule.ID, ConfidenceDelta: resp.ConfidenceDelta}, nil

	default:
		return e.reject(ctx, cand, "decision: "+resp.Reason), nil
	}
}

func (e *Engine) reject(ctx context.Context, cand *Candidate, cause string) *Judgment {
	cand.State = StateRejected
	e.logger.Warn("rule candidate rejected",
		zap.String("agent_id", cand.AgentID),
		zap.String("principle", cand.Principle),
		zap.String("cause", cause),
	)
	e.recordTerminal(ctx, cand, cause)
	return &Judgment{State: StateRejected, Cause: cause}
}

func (e *Engine) recordTerminal(ctx context.Context, cand *Candidate, cause string) {
	e.judgmentCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(cand.State))))
	fields := map[string]string{
		"state":     string(cand.State),
		"principle": cand.Principle,
	}
	if cause != "" {
		fields["cause"] = cause
	}
	e.publish(ctx, audit.Event{
		Type:      audit.TypeRuleJudgment,
		Timestamp: time.Now().UTC(),
		AgentID:   cand.AgentID,
		Fields:    fields,
	})
}

func (e *Engine) publish(ctx context.Context, event audit.Event) {
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("publishing audit event", zap.String("type", event.Type), zap.Error(err))
	}
}
