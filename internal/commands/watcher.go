package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hammamikhairi/voxengine/internal/logger"
)

// WatcherOption configures the Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits after the last file event
// before reloading. Editors often write a file in several steps.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithReloadHook registers a function called after every reload attempt.
func WithReloadHook(fn func(n int, err error)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// Watcher reloads a YAML command file into a Registry whenever it changes.
type Watcher struct {
	registry *Registry
	path     string
	log      *logger.Logger
	debounce time.Duration
	onReload func(n int, err error)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	fsw     *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a watcher for path. Call Start to begin watching.
func NewWatcher(registry *Registry, path string, log *logger.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		registry: registry,
		path:     filepath.Clean(path),
		log:      log,
		debounce: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching the file's directory. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		w.log.Warn("commands: watcher already running")
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	// Watch the directory: editors replace files by rename, which drops a
	// watch placed on the file itself.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watching %s: %w", w.path, err)
	}

	childCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.fsw = fsw
	w.done = make(chan struct{})
	w.running = true

	go w.loop(childCtx, fsw, w.done)

	w.log.Info("commands: watching %s", w.path)
	return nil
}

// Stop ends watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.running = false
	done := w.done
	w.mu.Unlock()

	<-done
	w.log.Info("commands: watcher stopped")
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	defer fsw.Close()

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debug("commands: %s changed (%s)", ev.Name, ev.Op)
			reload = time.After(w.debounce)

		case <-reload:
			reload = nil
			n, err := w.registry.LoadFile(w.path)
			if err != nil {
				w.log.Error("commands: reload failed, keeping previous tables: %v", err)
			}
			if w.onReload != nil {
				w.onReload(n, err)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("commands: watcher error: %v", err)
		}
	}
}
