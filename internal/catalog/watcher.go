package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/acossette/telecast/internal/logger"
)

const (
	defaultPollInterval = 2 * time.Second
	debounceWindow      = 500 * time.Millisecond
)

// Watcher watches a local catalog snapshot file and notifies when it changes,
// so the sync service can revalidate without waiting for its next tick.
// fsnotify is preferred with a polling fallback on filesystems without
// inotify support.
type Watcher struct {
	path     string
	onChange func()

	fsnotifyWatcher *fsnotify.Watcher
	pollInterval    time.Duration
	stopChan        chan struct{}
	watchDone       chan struct{}

	mu          sync.Mutex
	pendingAt   time.Time
	lastModTime time.Time
	stopped     bool
	started     bool
}

// NewWatcher creates a watcher for the given snapshot file.
// onChange fires at most once per debounce window.
func NewWatcher(path string, onChange func()) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog path cannot be empty")
	}
	if onChange == nil {
		return nil, fmt.Errorf("change callback cannot be nil")
	}

	return &Watcher{
		path:         path,
		onChange:     onChange,
		pollInterval: defaultPollInterval,
		stopChan:     make(chan struct{}),
		watchDone:    make(chan struct{}),
	}, nil
}

// Start begins watching the snapshot file
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return fmt.Errorf("watcher has been stopped")
	}
	if w.started {
		return nil
	}
	w.started = true

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Log.Warn().
			Err(err).
			Str("catalog_path", w.path).
			Msg("Failed to create fsnotify watcher, falling back to polling")
		w.fsnotifyWatcher = nil
	} else {
		w.fsnotifyWatcher = watcher
		// Watch the directory: editors and atomic writers replace the file,
		// which drops a watch registered on the file itself.
		if err := watcher.Add(filepath.Dir(w.path)); err != nil {
			logger.Log.Warn().
				Err(err).
				Str("catalog_path", w.path).
				Msg("Failed to add directory to fsnotify watcher, falling back to polling")
			_ = watcher.Close()
			w.fsnotifyWatcher = nil
		}
	}

	go w.run()

	logger.Log.Info().
		Str("catalog_path", w.path).
		Bool("using_fsnotify", w.fsnotifyWatcher != nil).
		Msg("Catalog watcher started")

	return nil
}

// Stop gracefully stops the watcher
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	close(w.stopChan)

	if w.fsnotifyWatcher != nil {
		if err := w.fsnotifyWatcher.Close(); err != nil {
			logger.Log.Warn().
				Err(err).
				Msg("Error closing fsnotify watcher")
		}
	}

	if started {
		<-w.watchDone
	}

	logger.Log.Debug().
		Str("catalog_path", w.path).
		Msg("Catalog watcher stopped")

	return nil
}

// run drives either the fsnotify loop or the polling loop
func (w *Watcher) run() {
	defer close(w.watchDone)

	if w.fsnotifyWatcher != nil {
		w.runFsnotify()
	} else {
		w.runPolling()
	}
}

// runFsnotify reacts to create/write events on the snapshot file, debounced
func (w *Watcher) runFsnotify() {
	ticker := time.NewTicker(debounceWindow)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.fsnotifyWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pendingAt = time.Now()
				w.mu.Unlock()
			}
		case err, ok := <-w.fsnotifyWatcher.Errors:
			if !ok {
				return
			}
			logger.Log.Warn().
				Err(err).
				Msg("fsnotify error, continuing")
		case <-ticker.C:
			w.firePending()
		}
	}
}

// runPolling compares the snapshot file's mtime on an interval
func (w *Watcher) runPolling() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			changed := !w.lastModTime.IsZero() && info.ModTime().After(w.lastModTime)
			w.lastModTime = info.ModTime()
			w.mu.Unlock()
			if changed {
				logger.Log.Debug().
					Str("catalog_path", w.path).
					Msg("Catalog snapshot changed (poll)")
				w.onChange()
			}
		}
	}
}

// firePending invokes the callback once a debounce window has passed since
// the last observed event
func (w *Watcher) firePending() {
	w.mu.Lock()
	fire := !w.pendingAt.IsZero() && time.Since(w.pendingAt) >= debounceWindow
	if fire {
		w.pendingAt = time.Time{}
	}
	w.mu.Unlock()

	if fire {
		logger.Log.Debug().
			Str("catalog_path", w.path).
			Msg("Catalog snapshot changed")
		w.onChange()
	}
}
