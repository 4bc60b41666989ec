package learning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/harbourlane/advisord/internal/audit"
	"github.com/harbourlane/advisord/internal/casestore"
	"github.com/harbourlane/advisord/internal/config"
	"github.com/harbourlane/advisord/internal/embeddings"
	"github.com/harbourlane/advisord/internal/llm"
	"github.com/harbourlane/advisord/internal/memory"
	"github.com/harbourlane/advisord/internal/reflection"
	"github.com/harbourlane/advisord/internal/rulestore"
	"github.com/harbourlane/advisord/internal/vectorstore"
)

type cycleFixture struct {
	cycle     *Cycle
	source    *MemorySource
	client    *llm.Fake
	store     *vectorstore.MemStore
	cases     *casestore.Store
	memories  *memory.Stream
	rules     *rulestore.Store
	publisher *audit.MemoryPublisher
}

func newCycleFixture(t *testing.T) *cycleFixture {
	t.Helper()
	store := vectorstore.NewMemStore(embeddings.NewFakeEmbedder(32))
	client := llm.NewFake()
	meter := noop.NewMeterProvider().Meter("test")

	memories, err := memory.NewStream(store, client, config.Default().Memory, zap.NewNop())
	require.NoError(t, err)
	cases, err := casestore.NewStore(store, zap.NewNop())
	require.NoError(t, err)
	rules, err := rulestore.NewStore(store, 0.1, 0.3, zap.NewNop())
	require.NoError(t, err)
	publisher := audit.NewMemoryPublisher()

	learningCfg := config.LearningConfig{SatisfactionThreshold: 4.0, StageTimeout: 5 * time.Second}
	engine, err := reflection.NewEngine(client, memories, rules, publisher, learningCfg,
		config.RulesConfig{ConfidenceFloor: 0.1, RetrievalThreshold: 0.3, InitialConfidence: 0.6},
		meter, zap.NewNop())
	require.NoError(t, err)

	source := NewMemorySource()
	cycle, err := NewCycle(source, client, cases, memories, engine, publisher, learningCfg, meter, zap.NewNop())
	require.NoError(t, err)

	return &cycleFixture{
		cycle:     cycle,
		source:    source,
		client:    client,
		store:     store,
		cases:     cases,
		memories:  memories,
		rules:     rules,
		publisher: publisher,
	}
}

func (f *cycleFixture) caseCount(t *testing.T) int {
	t.Helper()
	n, err := f.store.Count(context.Background(), vectorstore.CollectionCases)
	require.NoError(t, err)
	return n
}

func endedConsultation(id string, satisfaction float64, compliant bool) *Consultation {
	return &Consultation{
		ID:         id,
		AgentID:    "agent-1",
		TaskType:   casestore.TaskTransferAdvice,
		Transcript: "customer: should I transfer my DB pension?\nagent: transfers over 30k require regulated advice...",
		Outcome:    &casestore.Outcome{Compliant: compliant, Satisfaction: satisfaction, Comprehension: 0.8},
	}
}

const distillJSON = `{
  "customer_situation": "Customer with a defined benefit pension asking about transferring out.",
  "guidance_provided": "Explained the regulated advice requirement and the guarantees given up.",
  "principle": "WHEN a customer asks about DB transfers ALWAYS mention the regulated advice requirement BECAUSE it is mandatory over 30k",
  "domain": "transfers"
}`

func TestLearnFromConsultationCreatesCaseAndRule(t *testing.T) {
	f := newCycleFixture(t)
	f.source.Put(endedConsultation("cons-1", 4.5, true))
	f.client.StructuredQueue = []string{
		distillJSON,
		`{"valid": true, "reason": "generalizable"}`,
		`{"principle": "WHEN discussing DB transfers ALWAYS state the regulated advice requirement BECAUSE it is legally required over 30000 pounds", "domain": "transfers"}`,
		`{"action": "create", "reason": "new knowledge"}`,
	}

	result, err := f.cycle.LearnFromConsultation(context.Background(), "cons-1")
	require.NoError(t, err)

	assert.False(t, result.Reused)
	require.NotEmpty(t, result.CaseID)
	require.NotNil(t, result.Judgment)
	assert.Equal(t, reflection.StateCreated, result.Judgment.State)

	stored, err := f.cases.Get(context.Background(), result.CaseID)
	require.NoError(t, err)
	assert.Equal(t, "cons-1", stored.ConsultationID)

	rule, err := f.rules.Get(context.Background(), result.Judgment.RuleID)
	require.NoError(t, err)
	assert.Equal(t, []string{result.CaseID}, rule.Evidence)

	events := f.publisher.ByType(audit.TypeLearningOutcome)
	require.Len(t, events, 1)
	assert.Equal(t, result.CaseID, events[0].Fields["case_id"])
	assert.Equal(t, "created", events[0].Fields["rule_action"])
}

func TestLearnFromConsultationPremature(t *testing.T) {
	f := newCycleFixture(t)
	f.source.Put(&Consultation{ID: "cons-1", AgentID: "agent-1", Transcript: "in progress"})

	_, err := f.cycle.LearnFromConsultation(context.Background(), "cons-1")
	assert.ErrorIs(t, err, ErrPrematureLearning)

	// A premature attempt writes nothing.
	assert.Zero(t, f.caseCount(t))
	rules, err := f.rules.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLearnFromConsultationIdempotent(t *testing.T) {
	f := newCycleFixture(t)
	f.source.Put(endedConsultation("cons-1", 3.0, true))
	f.client.StructuredQueue = []string{distillJSON}

	first, err := f.cycle.LearnFromConsultation(context.Background(), "cons-1")
	require.NoError(t, err)
	require.False(t, first.Reused)

	second, err := f.cycle.LearnFromConsultation(context.Background(), "cons-1")
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.CaseID, second.CaseID)
	assert.Equal(t, 1, f.caseCount(t))
}

func TestLearnFromConsultationConcurrent(t *testing.T) {
	f := newCycleFixture(t)
	f.source.Put(endedConsultation("cons-1", 3.0, true))
	f.client.StructuredQueue = []string{distillJSON, distillJSON, distillJSON, distillJSON, distillJSON}

	const callers = 5
	results := make([]*Result, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.cycle.LearnFromConsultation(context.Background(), "cons-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].CaseID, results[i].CaseID)
	}
	assert.Equal(t, 1, f.caseCount(t))
}

func TestLearnFromConsultationBelowThresholdSkipsRule(t *testing.T) {
	f := newCycleFixture(t)
	f.source.Put(endedConsultation("cons-1", 3.0, true))
	f.client.StructuredQueue = []string{distillJSON}

	result, err := f.cycle.LearnFromConsultation(context.Background(), "cons-1")
	require.NoError(t, err)

	assert.Nil(t, result.Judgment)
	rules, err := f.rules.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)

	events := f.publisher.ByType(audit.TypeLearningOutcome)
	require.Len(t, events, 1)
	assert.Equal(t, "case_only", events[0].Fields["rule_action"])
}

func TestLearnFromConsultationForceLearnOverridesThreshold(t *testing.T) {
	f := newCycleFixture(t)
	cons := endedConsultation("cons-1", 2.0, true)
	cons.ForceLearn = true
	f.source.Put(cons)
	f.client.StructuredQueue = []string{
		distillJSON,
		`{"valid": true, "reason": "ok"}`,
		`{"principle": "WHEN x ALWAYS y BECAUSE z", "domain": "transfers"}`,
		`{"action": "create"}`,
	}

	result, err := f.cycle.LearnFromConsultation(context.Background(), "cons-1")
	require.NoError(t, err)
	require.NotNil(t, result.Judgment)
	assert.Equal(t, reflection.StateCreated, result.Judgment.State)
}

func TestLearnFromConsultationFailureTriggersReflection(t *testing.T) {
	f := newCycleFixture(t)
	f.source.Put(endedConsultation("cons-1", 2.0, false))
	f.client.StructuredQueue = []string{distillJSON}
	f.client.CompleteQueue = []string{"Confirm customer understanding before closing a transfer discussion."}

	result, err := f.cycle.LearnFromConsultation(context.Background(), "cons-1")
	require.NoError(t, err)
	assert.Nil(t, result.Judgment)

	memories, err := f.memories.ListByAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	var observations, reflections int
	for _, m := range memories {
		switch m.Type {
		case memory.TypeObservation:
			observations++
		case memory.TypeReflection:
			reflections++
		}
	}
	assert.Equal(t, 1, observations)
	assert.Equal(t, 1, reflections)

	events := f.publisher.ByType(audit.TypeLearningOutcome)
	require.Len(t, events, 1)
	assert.Equal(t, "reflected", events[0].Fields["rule_action"])
}

func TestLearnFromConsultationValidation(t *testing.T) {
	f := newCycleFixture(t)

	_, err := f.cycle.LearnFromConsultation(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyConsultationID)

	_, err = f.cycle.LearnFromConsultation(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrConsultationNotFound)
}

func TestLearnFromConsultationMalformedDistillationWritesNothing(t *testing.T) {
	f := newCycleFixture(t)
	f.source.Put(endedConsultation("cons-1", 4.5, true))
	f.client.StructuredQueue = []string{`{"customer_situation": "", "guidance_provided": ""}`}

	_, err := f.cycle.LearnFromConsultation(context.Background(), "cons-1")
	assert.ErrorIs(t, err, llm.ErrMalformedResponse)
	assert.Zero(t, f.caseCount(t))
}
