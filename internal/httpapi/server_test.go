package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harbourlane/advisord/internal/advisory"
	"github.com/harbourlane/advisord/internal/casestore"
	"github.com/harbourlane/advisord/internal/config"
	"github.com/harbourlane/advisord/internal/learning"
	"github.com/harbourlane/advisord/internal/memory"
	"github.com/harbourlane/advisord/internal/reflection"
	"github.com/harbourlane/advisord/internal/rulestore"
)

type stubStreamer struct {
	chunks []advisory.Chunk
	err    error

	gotRequest advisory.Request
}

func (s *stubStreamer) Stream(_ context.Context, req advisory.Request) (<-chan advisory.Chunk, error) {
	s.gotRequest = req
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan advisory.Chunk)
	go func() {
		defer close(ch)
		for _, chunk := range s.chunks {
			ch <- chunk
		}
	}()
	return ch, nil
}

type stubLearner struct {
	result *learning.Result
	err    error
}

func (s *stubLearner) LearnFromConsultation(context.Context, string) (*learning.Result, error) {
	return s.result, s.err
}

type stubRuleLister struct {
	rules []rulestore.Rule
	err   error
}

func (s *stubRuleLister) List(context.Context) ([]rulestore.Rule, error) { return s.rules, s.err }

type stubMemoryLister struct {
	memories []memory.Memory
	err      error
}

func (s *stubMemoryLister) ListByAgent(context.Context, string) ([]memory.Memory, error) {
	return s.memories, s.err
}

type serverFixture struct {
	server   *Server
	streamer *stubStreamer
	learner  *stubLearner
	sessions *Sessions
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	streamer := &stubStreamer{chunks: []advisory.Chunk{
		{Type: advisory.ChunkDelta, Text: "From age 55 "},
		{Type: advisory.ChunkDelta, Text: "you can usually access your pension."},
		{Type: advisory.ChunkDone, Compliance: &advisory.ComplianceResult{Compliant: true, Score: 0.9}},
	}}
	learner := &stubLearner{result: &learning.Result{CaseID: "case-1", Judgment: &reflection.Judgment{State: reflection.StateCreated, RuleID: "rule-1"}}}
	sessions := NewSessions()

	server, err := NewServer(streamer, learner, &stubRuleLister{}, &stubMemoryLister{}, sessions,
		config.ServerConfig{Host: "localhost", Port: 8090}, zap.NewNop())
	require.NoError(t, err)
	return &serverFixture{server: server, streamer: streamer, learner: learner, sessions: sessions}
}

func (f *serverFixture) do(method, target, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echoContentType, "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestHealth(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestGuidanceStreamsSSE(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/consultations/cons-1/guidance",
		`{"agent_id": "agent-1", "message": "Can I take my pension at 55?", "task_type": "drawdown_options", "mode": "standard"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: delta")
	assert.Contains(t, body, "event: done")
	assert.Contains(t, body, "From age 55 ")

	assert.Equal(t, "cons-1", f.streamer.gotRequest.ConsultationID)
	assert.Equal(t, advisory.ModeStandard, f.streamer.gotRequest.Mode)

	// The completed turn lands in the session transcript.
	cons, err := f.sessions.Consultation(context.Background(), "cons-1")
	require.NoError(t, err)
	assert.Contains(t, cons.Transcript, "customer: Can I take my pension at 55?")
	assert.Contains(t, cons.Transcript, "you can usually access your pension.")
	assert.Equal(t, casestore.TaskDrawdownOptions, cons.TaskType)
}

func TestGuidanceValidation(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/consultations/cons-1/guidance", `{"agent_id": "", "message": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.streamer.err = advisory.ErrInvalidMode
	rec = f.do(http.MethodPost, "/api/v1/consultations/cons-1/guidance",
		`{"agent_id": "a", "message": "m", "mode": "creative"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEndRunsLearningCycle(t *testing.T) {
	f := newServerFixture(t)
	f.sessions.AppendTurn("cons-1", "agent-1", casestore.TaskTransferAdvice, "q", "a")

	rec := f.do(http.MethodPost, "/api/v1/consultations/cons-1/end",
		`{"compliant": true, "satisfaction": 4.5, "comprehension": 0.9}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var result learning.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "case-1", result.CaseID)

	cons, err := f.sessions.Consultation(context.Background(), "cons-1")
	require.NoError(t, err)
	require.NotNil(t, cons.Outcome)
	assert.Equal(t, 4.5, cons.Outcome.Satisfaction)
}

func TestEndUnknownConsultation(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/consultations/missing/end", `{"compliant": true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndPrematureLearning(t *testing.T) {
	f := newServerFixture(t)
	f.sessions.AppendTurn("cons-1", "agent-1", casestore.TaskGeneralGuidance, "q", "a")
	f.learner.result = nil
	f.learner.err = learning.ErrPrematureLearning

	rec := f.do(http.MethodPost, "/api/v1/consultations/cons-1/end", `{"compliant": true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListRules(t *testing.T) {
	f := newServerFixture(t)
	lister := &stubRuleLister{rules: []rulestore.Rule{{ID: "rule-1", Principle: "WHEN x ALWAYS y", Confidence: 0.7}}}
	server, err := NewServer(f.streamer, f.learner, lister, &stubMemoryLister{}, f.sessions,
		config.ServerConfig{}, zap.NewNop())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rule-1")
}

func TestListMemoriesRequiresAgentID(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/memories", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/memories?agent_id=agent-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListMemoriesStoreError(t *testing.T) {
	f := newServerFixture(t)
	server, err := NewServer(f.streamer, f.learner, &stubRuleLister{}, &stubMemoryLister{err: errors.New("down")},
		f.sessions, config.ServerConfig{}, zap.NewNop())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/memories?agent_id=agent-1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
