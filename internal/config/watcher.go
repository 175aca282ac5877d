package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow matches the order of magnitude the teacher's
// graph.FileWatcher uses for editor-churn debouncing, scaled down since a
// config file write is a single atomic event rather than a burst of
// keystroke-driven saves.
const debounceWindow = 200 * time.Millisecond

// ChangeHandler is invoked with the newly loaded, already-validated
// Config after a debounced file-write settles. A handler that returns an
// error is logged but does not stop the watcher.
type ChangeHandler func(Config) error

// Watcher reloads a config file on write and forwards the validated
// result to a handler, grounded on the teacher's graph.FileWatcher
// debounced fsnotify loop (trace/graph/file_watcher.go) adapted from
// "batch directory changes, call a handler with the batch" to "debounce
// one file's writes, call a handler with the freshly loaded Config".
type Watcher struct {
	path    string
	handler ChangeHandler
	logger  *slog.Logger

	mu     sync.Mutex
	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// NewWatcher builds a Watcher over path. Call Start to begin watching.
func NewWatcher(path string, handler ChangeHandler, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, handler: handler, logger: logger}
}

// Start begins watching w.path for writes. Safe to call once.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.path); err != nil {
		fw.Close()
		return err
	}

	w.mu.Lock()
	w.watcher = fw
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.loop(fw)
	return nil
}

func (w *Watcher) loop(fw *fsnotify.Watcher) {
	defer close(w.done)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher: fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config watcher: reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	if err := w.handler(cfg); err != nil {
		w.logger.Warn("config watcher: change handler returned an error", "path", w.path, "error", err)
	}
}

// Close stops the watch loop and releases the underlying fsnotify
// watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	fw := w.watcher
	w.watcher = nil
	stop := w.stop
	done := w.done
	w.mu.Unlock()

	if fw == nil {
		return nil
	}
	close(stop)
	err := fw.Close()
	<-done
	return err
}
