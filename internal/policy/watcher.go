package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jordigilh/kubernaut-sub006/internal/logging"
	"github.com/jordigilh/kubernaut-sub006/internal/metrics"
)

// WatcherConfig holds configuration for the policy file watcher.
type WatcherConfig struct {
	// FilePath is the policy file to watch.
	FilePath string

	// DebounceMillis coalesces bursts of file change events (editor save
	// sequences, atomic renames) into one reload. Default 500ms.
	DebounceMillis int

	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Watcher watches the policy source file and reloads the engine on change.
// A reload that fails to compile is logged and counted; the engine keeps
// serving the previously loaded policy and the watcher keeps watching.
type Watcher struct {
	config WatcherConfig
	engine *Engine
	cancel context.CancelFunc
	stopped chan struct{}
	ready  chan struct{}
	logger *logging.Logger
	mu     sync.Mutex

	debounceTimer *time.Timer
}

// NewWatcher creates a watcher that hot-reloads the given engine.
func NewWatcher(config WatcherConfig, engine *Engine) (*Watcher, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("FilePath cannot be empty")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config.DebounceMillis == 0 {
		config.DebounceMillis = 500
	}

	return &Watcher{
		config:  config,
		engine:  engine,
		stopped: make(chan struct{}),
		ready:   make(chan struct{}),
		logger:  logging.GetLogger("policy.watcher"),
	}, nil
}

// Start begins watching the policy file. The engine is expected to have
// loaded its initial policy already; Start only wires up change detection.
// Returns once the underlying file watcher is fully initialized, so changes
// made after Start returns are never missed.
func (w *Watcher) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.watchLoop(watchCtx)

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for policy watcher to initialize")
	}
}

// signalReady closes the ready channel exactly once.
func (w *Watcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("Failed to create policy file watcher: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.config.FilePath); err != nil {
		w.logger.Error("Failed to watch policy file %s: %v", w.config.FilePath, err)
		return
	}

	w.logger.Info("Watching policy file %s for changes (debounce: %dms)",
		w.config.FilePath, w.config.DebounceMillis)
	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Policy watcher stopping")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			// Rename/Remove cover atomic writes where the old inode is
			// unlinked before the new file lands; the watch must be
			// re-added against the new inode.
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				time.Sleep(50 * time.Millisecond)
				if err := watcher.Add(w.config.FilePath); err != nil {
					w.logger.Warn("Failed to re-add policy watch after %s: %v", event.Op, err)
				}
			}
			w.handleFileChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Policy watcher error: %v", err)
		}
	}
}

// handleFileChange debounces change events by resetting a timer.
func (w *Watcher) handleFileChange() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(
		time.Duration(w.config.DebounceMillis)*time.Millisecond,
		w.reload,
	)
}

// reload recompiles the policy. On failure the engine keeps the previous
// working policy; in-flight and subsequent evaluations are never disrupted.
func (w *Watcher) reload() {
	w.logger.Info("Reloading policy from %s", w.config.FilePath)

	if err := w.engine.LoadFile(); err != nil {
		w.observeReload("error")
		w.logger.Error("Policy reload failed, keeping previous policy: %v", err)
		return
	}

	w.observeReload("success")
	w.logger.Info("Policy reloaded successfully")
}

func (w *Watcher) observeReload(outcome string) {
	if w.config.Metrics != nil {
		w.config.Metrics.PolicyReloads.WithLabelValues(outcome).Inc()
	}
}

// Stop stops the watcher, waiting up to five seconds for the loop to exit.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	select {
	case <-w.stopped:
		w.logger.Info("Policy watcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for policy watcher to stop")
	}
}

// Name identifies the watcher to the lifecycle manager.
func (w *Watcher) Name() string {
	return "policy-watcher"
}
