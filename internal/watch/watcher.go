// Package watch triggers re-syncs when source directories change. Events
// are debounced so a burst of writes causes one sync, not many.
package watch

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes source roots and invokes the trigger after a quiet
// period.
type Watcher struct {
	fsw      *fsnotify.Watcher
	trigger  func()
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
	stop  chan struct{}
}

// New creates a watcher over the given roots. Missing roots are skipped.
func New(roots []string, debounce time.Duration, trigger func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 1500 * time.Millisecond
	}

	w := &Watcher{fsw: fsw, trigger: trigger, debounce: debounce, stop: make(chan struct{})}
	for _, root := range roots {
		if root == "" {
			continue
		}
		if _, err := os.Stat(root); err != nil {
			continue
		}
		filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if err := fsw.Add(path); err != nil {
				slog.Debug("watch add failed", "path", path, "error", err)
			}
			return nil
		})
	}
	return w, nil
}

// Start begins dispatching debounced triggers until Stop is called.
func (w *Watcher) Start() {
	go w.loop()
	slog.Info("watch mode active", "debounce", w.debounce)
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New directories join the watch set as they appear.
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.fsw.Add(ev.Name)
				}
			}
			w.schedule()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Debug("watch error", "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.trigger)
}

// Stop halts the watcher.
func (w *Watcher) Stop() {
	close(w.stop)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.fsw.Close()
}
