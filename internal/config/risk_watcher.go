package config

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stratahq/strata/internal/blast"
	"github.com/stratahq/strata/internal/logging"
)

// RiskWatcherConfig holds configuration for the RiskWatcher.
type RiskWatcherConfig struct {
	// FilePath is the risk configuration YAML file to watch.
	FilePath string

	// DebounceMillis coalesces bursts of file change events into a single
	// reload. Default: 500ms.
	DebounceMillis int
}

// RiskWatcher watches a risk configuration file and swaps the active
// configuration on change. An invalid file is logged and the previous valid
// configuration stays active; the watcher keeps watching.
type RiskWatcher struct {
	config  RiskWatcherConfig
	current atomic.Pointer[blast.RiskConfig]
	cancel  context.CancelFunc
	stopped chan struct{}
	ready   chan struct{}
	logger  *logging.Logger
	mu      sync.Mutex

	debounceTimer *time.Timer
}

// NewRiskWatcher creates a watcher for the given risk file.
func NewRiskWatcher(config RiskWatcherConfig) (*RiskWatcher, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("FilePath cannot be empty")
	}
	if config.DebounceMillis == 0 {
		config.DebounceMillis = 500
	}
	w := &RiskWatcher{
		config:  config,
		stopped: make(chan struct{}),
		ready:   make(chan struct{}),
		logger:  logging.GetLogger("riskwatcher"),
	}
	initial := blast.DefaultRiskConfig()
	w.current.Store(&initial)
	return w, nil
}

// Current returns the active risk configuration.
func (w *RiskWatcher) Current() blast.RiskConfig {
	return *w.current.Load()
}

// Source exposes the watcher as a blast engine risk source.
func (w *RiskWatcher) Source() blast.RiskSource {
	return w.Current
}

// Start loads the initial configuration and begins watching for changes.
// Returns once the file watcher is installed; an unreadable initial file is
// an error.
func (w *RiskWatcher) Start(ctx context.Context) error {
	initial, err := LoadRiskFile(w.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to load initial risk config: %w", err)
	}
	w.current.Store(&initial)
	w.logger.Info("Loaded risk config from %s (%d thresholds)", w.config.FilePath, len(initial.Thresholds))

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.watchLoop(watchCtx)

	select {
	case <-w.ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for file watcher to initialize")
	}
	return nil
}

// signalReady closes the ready channel exactly once.
func (w *RiskWatcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *RiskWatcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.ErrorWithErr("Failed to create file watcher", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.config.FilePath); err != nil {
		w.logger.ErrorWithErr("Failed to watch risk config file", err, "path=%s", w.config.FilePath)
		return
	}
	w.logger.Info("Watching %s for changes (debounce: %dms)", w.config.FilePath, w.config.DebounceMillis)
	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// Atomic writes unlink the old file before renaming the new one
			// into place; the watch follows the inode and must be re-added.
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				time.Sleep(50 * time.Millisecond)
				if err := watcher.Add(w.config.FilePath); err != nil {
					w.logger.Warn("Failed to re-add watch after %s: %v", event.Op, err)
				}
			}
			w.handleFileChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error: %v", err)
		}
	}
}

// handleFileChange debounces reloads by resetting a timer on each event.
func (w *RiskWatcher) handleFileChange() {
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

// reload loads the file and swaps the active configuration when valid.
func (w *RiskWatcher) reload() {
	next, err := LoadRiskFile(w.config.FilePath)
	if err != nil {
		w.logger.Warn("Failed to reload risk config, keeping previous: %v", err)
		return
	}
	w.current.Store(&next)
	w.logger.Info("Risk config reloaded from %s (%d thresholds)", w.config.FilePath, len(next.Thresholds))
}

// Stop stops the watcher and waits for the watch loop to exit.
func (w *RiskWatcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for watcher to stop")
	}
}

// Name implements lifecycle.Component.
func (w *RiskWatcher) Name() string {
	return "Risk Watcher"
}
