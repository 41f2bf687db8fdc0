// Package signals delivers run-level stop requests to the dispatcher and agent loops.
package signals

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StopFile is the name of the signal file that requests a graceful stop.
const StopFile = "stop"

// Dir returns the signals directory for a repository.
func Dir(repoPath string) string {
	return filepath.Join(repoPath, ".mosaic", "signals")
}

// StopWatcher tracks whether a graceful stop has been requested, either by
// creating .mosaic/signals/stop or by calling Stop directly (e.g. on SIGINT).
type StopWatcher struct {
	dir string

	mu      sync.RWMutex
	stopped bool
	reason  string
	stopCh  chan struct{}

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewStopWatcher creates a watcher for the repository's signals directory.
// A stale stop file left by an earlier run is removed.
func NewStopWatcher(repoPath string) (*StopWatcher, error) {
	dir := Dir(repoPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	_ = os.Remove(filepath.Join(dir, StopFile))

	w := &StopWatcher{
		dir:    dir,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Continue without watcher - ShouldStop falls back to polling the file
		return w, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return w, nil
	}
	w.watcher = watcher

	go w.watch()
	return w, nil
}

// watch monitors the signals directory for the stop file.
func (w *StopWatcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == StopFile && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.Stop("stop file created")
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Ignore errors, keep watching
		}
	}
}

// Stop records a stop request. Only the first reason is kept.
func (w *StopWatcher) Stop(reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	w.reason = reason
	close(w.stopCh)
}

// ShouldStop returns true if a stop has been requested.
func (w *StopWatcher) ShouldStop() bool {
	// Also check file directly in case watcher missed it
	if _, err := os.Stat(filepath.Join(w.dir, StopFile)); err == nil {
		w.Stop("stop file present")
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stopped
}

// Reason returns why the stop was requested, or "" if it was not.
func (w *StopWatcher) Reason() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reason
}

// Stopped returns a channel closed when a stop is requested.
func (w *StopWatcher) Stopped() <-chan struct{} {
	return w.stopCh
}

// RequestStop creates the stop file, as an operator in another shell would.
func RequestStop(repoPath string) error {
	dir := Dir(repoPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, StopFile), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Close shuts down the watcher and removes the stop file.
func (w *StopWatcher) Close() {
	w.once.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
		_ = os.Remove(filepath.Join(w.dir, StopFile))
	})
}
