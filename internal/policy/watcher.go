package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/authguard/go-core/pkg/types"
)

// Replacer atomically swaps the active policy set. The authoritative store
// implements this for file-backed policy deployments.
type Replacer interface {
	ReplacePolicies(ctx context.Context, policies []types.Policy) error
}

// Watcher monitors a policy directory and reloads it on change. Reloads are
// debounced: editors and deploy tooling emit bursts of filesystem events for
// a single logical update.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	loader   *Loader
	target   Replacer
	logger   *zap.Logger
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a directory watcher. Start must be called to begin
// watching; Stop releases the fsnotify handle.
func NewWatcher(path string, target Replacer, loader *Loader, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:  fsw,
		path:     path,
		loader:   loader,
		target:   target,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins watching the policy directory
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	go w.run()

	w.logger.Info("Watching policy directory", zap.String("path", w.path))
	return nil
}

// Stop stops watching and releases resources
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stopChan:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Policy watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	ext := filepath.Ext(event.Name)
	if ext != ".yaml" && ext != ".yml" {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stopChan:
		return
	default:
	}

	policies, err := w.loader.LoadFromDirectory(w.path)
	if err != nil {
		w.logger.Error("Policy reload failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.target.ReplacePolicies(ctx, policies); err != nil {
		w.logger.Error("Policy swap failed", zap.Error(err))
		return
	}

	w.logger.Info("Policies reloaded", zap.Int("count", len(policies)))
}
