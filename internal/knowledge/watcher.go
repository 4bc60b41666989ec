package knowledge

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce coalesces the burst of events an editor save produces
// into a single reload.
const reloadDebounce = 500 * time.Millisecond

// Watcher reindexes knowledge bases when their snippet directories
// change.
type Watcher struct {
	watcher *fsnotify.Watcher
	bases   map[string]*Base
	logger  *zap.Logger

	mu      sync.Mutex
	started bool
	timers  map[string]*time.Timer
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher over the given bases.
func NewWatcher(logger *zap.Logger, bases ...*Base) (*Watcher, error) {
	if len(bases) == 0 {
		return nil, fmt.Errorf("at least one base is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	byDir := make(map[string]*Base, len(bases))
	for _, b := range bases {
		byDir[b.Dir()] = b
	}
	return &Watcher{
		watcher: fw,
		bases:   byDir,
		logger:  logger,
		timers:  make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the base directories.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	for dir := range w.bases {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
				!event.Op.Has(fsnotify.Rename) && !event.Op.Has(fsnotify.Remove) {
				continue
			}
			if !isSnippetFile(event.Name) {
				continue
			}
			w.scheduleReload(ctx, event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("knowledge watcher error", zap.Error(err))
		}
	}
}

// scheduleReload debounces reloads per base directory.
func (w *Watcher) scheduleReload(ctx context.Context, path string) {
	base := w.baseFor(path)
	if base == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[base.Dir()]; ok {
		timer.Reset(reloadDebounce)
		return
	}
	w.timers[base.Dir()] = time.AfterFunc(reloadDebounce, func() {
		w.mu.Lock()
		delete(w.timers, base.Dir())
		w.mu.Unlock()

		if err := base.Load(ctx); err != nil {
			w.logger.Error("knowledge reload failed",
				zap.String("dir", base.Dir()),
				zap.Error(err),
			)
			return
		}
		w.logger.Info("knowledge base reloaded", zap.String("dir", base.Dir()))
	})
}

func (w *Watcher) baseFor(path string) *Base {
	return w.bases[filepath.Dir(path)]
}
