package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/pkg/logger"
)

// Runner triggers an ingestion run.
type Runner interface {
	Run(ctx context.Context) (*Report, error)
}

// Watcher re-runs ingestion when policy documents change on disk. Bursts of
// events inside the debounce window collapse into one run.
type Watcher struct {
	dir      string
	debounce time.Duration
	runner   Runner

	mu    sync.Mutex
	timer *time.Timer
}

func NewWatcher(dir string, debounce time.Duration, runner Runner) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{dir: dir, debounce: debounce, runner: runner}
}

// Start begins watching the directory. It returns once the watch is
// registered; events are handled until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	logger.Info("Watching policies directory", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))

	go w.loop(ctx, fw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer fw.Close()
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			logger.Debug("Policy document changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			w.schedule(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logger.Warn("File watcher error", zap.Error(err))
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !IsSupported(filepath.Base(event.Name)) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.runner.Run(ctx); err != nil {
			logger.Error("Triggered ingestion failed", zap.Error(err))
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
