package outbox

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// PayloadWatcher observes the payload directory for out-of-band deletions
// (cache cleaners, users clearing app storage) so the orchestrator can prune
// orphaned records eagerly instead of discovering them at next hydration.
type PayloadWatcher struct {
	dir string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewPayloadWatcher(dir string) (*PayloadWatcher, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidInput
	}
	return &PayloadWatcher{dir: dir}, nil
}

// Start begins watching. A second Start while running is a no-op, so
// repeated initialize cycles never register a duplicate watcher.
func (w *PayloadWatcher) Start(onMissing func(payloadID string)) error {
	if w == nil || onMissing == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return err
	}
	w.watcher = watcher
	w.done = make(chan struct{})
	go w.run(watcher, w.done, onMissing)
	return nil
}

// Stop ends watching and waits for the event loop to drain. Safe without a
// prior Start.
func (w *PayloadWatcher) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	watcher := w.watcher
	done := w.done
	w.watcher = nil
	w.done = nil
	w.mu.Unlock()
	if watcher == nil {
		return
	}
	_ = watcher.Close()
	<-done
}

func (w *PayloadWatcher) run(watcher *fsnotify.Watcher, done chan struct{}, onMissing func(payloadID string)) {
	defer close(done)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, ".b64") {
				continue
			}
			onMissing(strings.TrimSuffix(name, ".b64"))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("payload watcher error",
				slog.String("dir", w.dir),
				slog.String("error", err.Error()))
		}
	}
}
