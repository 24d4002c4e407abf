package settings

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher hot-reloads the settings file when it changes on disk. The parent
// directory is watched rather than the file itself, since editors and
// atomic saves replace the file by rename.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(Settings)
	logger   *log.Logger
	debounce time.Duration

	mu      sync.Mutex
	pending *time.Timer
	done    chan struct{}
	closed  bool
}

// Watch starts watching path and calls onChange with each valid reload.
// Invalid or unparsable edits are logged and skipped; the previous settings
// stay in effect.
func Watch(path string, logger *log.Logger, onChange func(Settings)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch settings dir: %w", err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "", 0)
	}

	w := &Watcher{
		path:     path,
		watcher:  fsw,
		onChange: onChange,
		logger:   logger,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("%s ERROR settings: watch error=%v", time.Now().Format(time.RFC3339), err)
		case <-w.done:
			return
		}
	}
}

// scheduleReload coalesces bursts of file events into one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Printf("%s WARN settings: reload_skipped error=%v", time.Now().Format(time.RFC3339), err)
		return
	}
	w.logger.Printf("%s INFO settings: reloaded path=%s", time.Now().Format(time.RFC3339), w.path)
	w.onChange(cfg)
}

// Close stops watching. Pending debounced reloads are cancelled.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.pending != nil {
		w.pending.Stop()
	}
	close(w.done)
	w.mu.Unlock()

	return w.watcher.Close()
}
