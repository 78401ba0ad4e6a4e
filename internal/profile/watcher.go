// ABOUTME: Watches the user profile file and pushes debounced content updates
// ABOUTME: Editors write in bursts; only the settled content is delivered

package profile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher monitors one profile file. Each settled change burst produces one
// callback with the file's latest content. A missing file reads as empty.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(content string)
	logger   *slog.Logger

	mu      sync.Mutex
	fw      *fsnotify.Watcher
	timer   *time.Timer
	started bool
}

// NewWatcher creates a watcher for path. onChange runs once per settled burst
// of writes; debounce <= 0 uses the 500ms default.
func NewWatcher(path string, debounce time.Duration, onChange func(content string), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		path:     path,
		debounce: debounce,
		onChange: onChange,
		logger:   logger.With("component", "profile-watcher", "path", path),
	}
}

// Content reads the current profile. A missing file is an empty profile, not
// an error.
func (w *Watcher) Content() (string, error) {
	data, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Start begins watching until ctx is cancelled. The parent directory is
// watched so atomic saves (write temp, rename over) are still observed.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		w.mu.Unlock()
		return err
	}
	w.fw = fw
	w.started = true
	w.mu.Unlock()

	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	defer fw.Close()
	defer w.stopTimer()

	w.logger.Info("watching profile file")
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.resetTimer()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("profile watch error", "error", err)
		}
	}
}

// resetTimer restarts the debounce window. The callback fires with whatever
// the file holds once the window expires, so intermediate states are skipped.
func (w *Watcher) resetTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	content, err := w.Content()
	if err != nil {
		w.logger.Warn("failed to read profile", "error", err)
		return
	}
	w.onChange(content)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
