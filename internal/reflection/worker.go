package reflection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harbourlane/advisord/internal/config"
	"github.com/harbourlane/advisord/internal/memory"
)

// Worker periodically scans every agent's recent high-importance failure
// observations and synthesizes reflections from them.
type Worker struct {
	engine   *Engine
	memories *memory.Stream
	cfg      config.ReflectionConfig
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// lastRun bounds each scan to observations recorded since the
	// previous one, so the same cluster is not reflected on twice.
	lastRun time.Time
}

// NewWorker creates a reflection worker.
func NewWorker(engine *Engine, memories *memory.Stream, cfg config.ReflectionConfig, logger *zap.Logger) (*Worker, error) {
	if engine == nil || memories == nil {
		return nil, fmt.Errorf("engine and memory stream are required")
	}
	if cfg.Enabled && cfg.Interval <= 0 {
		return nil, fmt.Errorf("reflection interval must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		engine:   engine,
		memories: memories,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Start launches the periodic scan. A disabled worker starts as a no-op.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("reflection worker already running")
	}
	if !w.cfg.Enabled {
		w.logger.Info("reflection worker disabled")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.lastRun = time.Now().UTC()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				w.RunOnce(runCtx)
			}
		}
	}()

	w.logger.Info("reflection worker started", zap.Duration("interval", w.cfg.Interval))
	return nil
}

// Stop halts the scan loop and waits for an in-flight run to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	w.logger.Info("reflection worker stopped")
}

// RunOnce performs a single scan over all agents. The learning cycle can
// also call it directly after a failed consultation.
func (w *Worker) RunOnce(ctx context.Context) {
	w.mu.Lock()
	since := w.lastRun
	w.lastRun = time.Now().UTC()
	w.mu.Unlock()

	agents, err := w.memories.ListAgents(ctx)
	if err != nil {
		w.logger.Warn("reflection scan: listing agents", zap.Error(err))
		return
	}

	for _, agentID := range agents {
		if ctx.Err() != nil {
			return
		}
		w.reflectAgent(ctx, agentID, since)
	}
}

func (w *Worker) reflectAgent(ctx context.Context, agentID string, since time.Time) {
	all, err := w.memories.ListByAgent(ctx, agentID)
	if err != nil {
		w.logger.Warn("reflection scan: listing memories", zap.String("agent_id", agentID), zap.Error(err))
		return
	}

	// Newest first from ListByAgent; keep recent high-importance raw
	// observations only, never reflections.
	var cluster []memory.Memory
	for _, m := range all {
		if m.Type != memory.TypeObservation {
			continue
		}
		if !m.CreatedAt.After(since) {
			continue
		}
		if m.Importance < w.cfg.FailureImportanceThreshold {
			continue
		}
		cluster = append(cluster, m)
		if len(cluster) == w.cfg.ClusterSize {
			break
		}
	}
	if len(cluster) < 2 {
		return
	}

	if _, err := w.engine.ReflectOnFailure(ctx, agentID, cluster); err != nil {
		w.logger.Warn("reflection synthesis failed", zap.String("agent_id", agentID), zap.Error(err))
		return
	}
	w.logger.Info("reflection synthesized",
		zap.String("agent_id", agentID),
		zap.Int("observations", len(cluster)),
	)
}
