package plugin

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/lumen/internal/logging"
)

// DefaultReloadDebounce coalesces bursts of file events before a
// reload fires.
const DefaultReloadDebounce = 500 * time.Millisecond

// Watcher reloads plugins when their packages change on disk. Only
// plugins whose manifests enable hot_reload are reloaded.
type Watcher struct {
	mu sync.Mutex

	manager  *Manager
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *logging.Logger

	// Watched plugin dirs by plugin id.
	dirs map[string]string

	// Pending reload timers by plugin id.
	timers map[string]*time.Timer

	closed  bool
	closeCh chan struct{}
	doneWg  sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the reload debounce window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(l *logging.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = l
	}
}

// NewWatcher creates a hot-reload watcher bound to a manager.
func NewWatcher(manager *Manager, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		manager:  manager,
		watcher:  fsw,
		debounce: DefaultReloadDebounce,
		logger:   logging.NullLogger,
		dirs:     make(map[string]string),
		timers:   make(map[string]*time.Timer),
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithComponent("watcher")

	w.doneWg.Add(1)
	go w.processLoop()

	return w, nil
}

// Watch starts watching a loaded plugin's package directory. Plugins
// with hot_reload disabled are skipped.
func (w *Watcher) Watch(id string) error {
	host, ok := w.manager.Get(id)
	if !ok {
		return ErrNotFound
	}
	if !host.Manifest().Runtime.HotReloadEnabled() {
		return nil
	}
	dir := host.Manifest().Dir()
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrConfig
	}
	if _, exists := w.dirs[id]; exists {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.dirs[id] = dir
	w.logger.Debug("watching %s for changes", dir)
	return nil
}

// Unwatch stops watching a plugin's directory.
func (w *Watcher) Unwatch(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir, exists := w.dirs[id]
	if !exists {
		return
	}
	delete(w.dirs, id)
	_ = w.watcher.Remove(dir)

	if timer, ok := w.timers[id]; ok {
		timer.Stop()
		delete(w.timers, id)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for id, timer := range w.timers {
		timer.Stop()
		delete(w.timers, id)
	}
	close(w.closeCh)
	w.mu.Unlock()

	err := w.watcher.Close()
	w.doneWg.Wait()
	return err
}

// processLoop consumes fsnotify events and schedules debounced
// reloads.
func (w *Watcher) processLoop() {
	defer w.doneWg.Done()

	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.handleChange(ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error: %v", err)
		}
	}
}

// handleChange maps a changed path to its plugin and arms the reload
// timer. Repeated events within the debounce window reset the timer.
func (w *Watcher) handleChange(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	dir := filepath.Dir(path)
	for id, watched := range w.dirs {
		if dir != watched && path != watched {
			continue
		}
		if timer, ok := w.timers[id]; ok {
			timer.Reset(w.debounce)
			return
		}
		id := id
		w.timers[id] = time.AfterFunc(w.debounce, func() {
			w.reload(id)
		})
		return
	}
}

// reload fires after the debounce window.
func (w *Watcher) reload(id string) {
	w.mu.Lock()
	delete(w.timers, id)
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	w.logger.Info("plugin %s changed on disk, reloading", id)
	if err := w.manager.Reload(id); err != nil {
		w.logger.Error("hot reload of %s failed: %v", id, err)
	}
}
