// Package httpapi exposes advisord over HTTP: streamed guidance,
// consultation lifecycle, and admin inspection of rules and memories.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/harbourlane/advisord/internal/advisory"
	"github.com/harbourlane/advisord/internal/casestore"
	"github.com/harbourlane/advisord/internal/config"
	"github.com/harbourlane/advisord/internal/learning"
	"github.com/harbourlane/advisord/internal/memory"
	"github.com/harbourlane/advisord/internal/rulestore"
)

// GuidanceStreamer produces guidance chunk streams.
type GuidanceStreamer interface {
	Stream(ctx context.Context, req advisory.Request) (<-chan advisory.Chunk, error)
}

// Learner runs the learning cycle for an ended consultation.
type Learner interface {
	LearnFromConsultation(ctx context.Context, consultationID string) (*learning.Result, error)
}

// RuleLister lists stored rules for inspection.
type RuleLister interface {
	List(ctx context.Context) ([]rulestore.Rule, error)
}

// MemoryLister lists an agent's memories for inspection.
type MemoryLister interface {
	ListByAgent(ctx context.Context, agentID string) ([]memory.Memory, error)
}

// Server provides the HTTP API for advisord.
type Server struct {
	echo      *echo.Echo
	generator GuidanceStreamer
	learner   Learner
	rules     RuleLister
	memories  MemoryLister
	sessions  *Sessions
	logger    *zap.Logger
	cfg       config.ServerConfig
}

// NewServer creates the HTTP server.
func NewServer(
	generator GuidanceStreamer,
	learner Learner,
	rules RuleLister,
	memories MemoryLister,
	sessions *Sessions,
	cfg config.ServerConfig,
	logger *zap.Logger,
) (*Server, error) {
	if generator == nil || learner == nil || rules == nil || memories == nil || sessions == nil {
		return nil, fmt.Errorf("generator, learner, rule lister, memory lister and sessions are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		generator: generator,
		learner:   learner,
		rules:     rules,
		memories:  memories,
		sessions:  sessions,
		logger:    logger,
		cfg:       cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/consultations/:id/guidance", s.handleGuidance)
	v1.POST("/consultations/:id/end", s.handleEnd)
	v1.GET("/rules", s.handleListRules)
	v1.GET("/memories", s.handleListMemories)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// GuidanceRequest is the request body for the guidance endpoint.
type GuidanceRequest struct {
	AgentID  string   `json:"agent_id"`
	Message  string   `json:"message"`
	TaskType string   `json:"task_type,omitempty"`
	Mode     string   `json:"mode,omitempty"`
	History  []string `json:"history,omitempty"`
}

// handleGuidance streams guidance chunks as server-sent events. Each
// chunk becomes one SSE event named after its type; the stream ends
// after the terminal event.
func (s *Server) handleGuidance(c echo.Context) error {
	consultationID := c.Param("id")

	var req GuidanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AgentID == "" || req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id and message are required")
	}

	ctx := c.Request().Context()
	ch, err := s.generator.Stream(ctx, advisory.Request{
		ConsultationID:  consultationID,
		AgentID:         req.AgentID,
		CustomerMessage: req.Message,
		History:         req.History,
		TaskType:        req.TaskType,
		Mode:            advisory.Mode(req.Mode),
	})
	if err != nil {
		if errors.Is(err, advisory.ErrInvalidMode) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("starting guidance stream", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "guidance generation unavailable")
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	var full string
	for chunk := range ch {
		if chunk.Type == advisory.ChunkDelta {
			full += chunk.Text
		}
		if err := writeEvent(res, chunk); err != nil {
			return nil // client went away
		}
		if chunk.Type == advisory.ChunkDone {
			s.sessions.AppendTurn(consultationID, req.AgentID, casestore.ParseTaskType(req.TaskType), req.Message, full)
		}
	}
	return nil
}

func writeEvent(res *echo.Response, chunk advisory.Chunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", chunk.Type, payload); err != nil {
		return err
	}
	res.Flush()
	return nil
}

// EndRequest is the request body for ending a consultation.
type EndRequest struct {
	Compliant     bool    `json:"compliant"`
	Satisfaction  float64 `json:"satisfaction"`
	Comprehension float64 `json:"comprehension"`
	ForceLearn    bool    `json:"force_learn,omitempty"`
}

// handleEnd records the outcome and runs the learning cycle.
func (s *Server) handleEnd(c echo.Context) error {
	consultationID := c.Param("id")

	var req EndRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	outcome := &casestore.Outcome{
		Compliant:     req.Compliant,
		Satisfaction:  req.Satisfaction,
		Comprehension: req.Comprehension,
	}
	if err := s.sessions.End(consultationID, outcome, req.ForceLearn); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown consultation")
	}

	result, err := s.learner.LearnFromConsultation(c.Request().Context(), consultationID)
	if err != nil {
		switch {
		case errors.Is(err, learning.ErrConsultationNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "unknown consultation")
		case errors.Is(err, learning.ErrPrematureLearning):
			return echo.NewHTTPError(http.StatusConflict, "consultation has no outcome yet")
		default:
			s.logger.Error("learning cycle failed", zap.String("consultation_id", consultationID), zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "learning cycle failed")
		}
	}
	return c.JSON(http.StatusOK, result)
}

// RulesResponse is the response body for rule inspection.
type RulesResponse struct {
	Rules []rulestore.Rule `json:"rules"`
}

func (s *Server) handleListRules(c echo.Context) error {
	rules, err := s.rules.List(c.Request().Context())
	if err != nil {
		s.logger.Error("listing rules", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "rule store unavailable")
	}
	return c.JSON(http.StatusOK, RulesResponse{Rules: rules})
}

// MemoriesResponse is the response body for memory inspection.
type MemoriesResponse struct {
	Memories []memory.Memory `json:"memories"`
}

func (s *Server) handleListMemories(c echo.Context) error {
	agentID := c.QueryParam("agent_id")
	if agentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id query parameter is required")
	}
	memories, err := s.memories.ListByAgent(c.Request().Context(), agentID)
	if err != nil {
		s.logger.Error("listing memories", zap.String("agent_id", agentID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "memory stream unavailable")
	}
	return c.JSON(http.StatusOK, MemoriesResponse{Memories: memories})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
