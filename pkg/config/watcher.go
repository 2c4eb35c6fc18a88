package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rigranger/rigrangerd/pkg/logging"
)

// Watcher reports changes to the configuration file so the daemon can
// reload without a restart. Editors typically replace the file (write to a
// temp name, then rename), so the parent directory is watched and events are
// debounced.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	changes chan *Config

	mu        sync.Mutex
	debouncer *time.Timer
	closed    bool
}

const debounceDelay = 250 * time.Millisecond

// NewWatcher starts watching the given configuration file. Each successful
// reload is delivered on Changes; files that fail to load or validate are
// logged and skipped.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w := &Watcher{
		path:    path,
		watcher: fsw,
		changes: make(chan *Config, 1),
	}
	go w.run()
	return w, nil
}

// Changes delivers each successfully reloaded configuration. The channel is
// closed when the watcher is closed.
func (w *Watcher) Changes() <-chan *Config {
	return w.changes
}

func (w *Watcher) run() {
	base := filepath.Base(w.path)

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				w.finish()
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.finish()
				return
			}
			logging.Warnf("config", "watch error: %v", err)
		}
	}
}

// scheduleReload debounces bursts of events from a single save.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.debouncer != nil {
		w.debouncer.Stop()
	}
	w.debouncer = time.AfterFunc(debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		logging.Warnf("config", "reload skipped: %v", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		logging.Warnf("config", "reload skipped, invalid config: %v", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	logging.Info("config", "configuration file changed, reloaded")
	select {
	case w.changes <- cfg:
	default:
		// A pending reload is already queued; the newest one wins.
		select {
		case <-w.changes:
		default:
		}
		w.changes <- cfg
	}
}

// Close stops the watcher and closes the Changes channel.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.debouncer != nil {
		w.debouncer.Stop()
	}
	w.mu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) finish() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	close(w.changes)
}
