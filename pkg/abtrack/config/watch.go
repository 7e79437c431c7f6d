package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettleDelay debounces bursts of writes to the watched file.
const DefaultSettleDelay = 100 * time.Millisecond

// Watcher reloads a config file when it changes and passes the parsed
// Settings to a callback. Invalid revisions are logged and skipped.
type Watcher struct {
	path     string
	onChange func(Settings)
	logger   *slog.Logger
	delay    time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer

	// cbMu is held while onChange runs; Stop takes it to wait one out.
	cbMu sync.Mutex

	stopOnce sync.Once
}

// NewWatcher creates a watcher for path. Call Start to begin watching.
func NewWatcher(path string, onChange func(Settings), logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		path:     abs,
		onChange: onChange,
		logger:   logger,
		delay:    DefaultSettleDelay,
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Start watches the file's directory. Editors that replace the file by
// rename are handled because the directory, not the inode, is watched.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop ends watching and waits for the event loop and any running callback.
// No callback starts after Stop returns. Safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		err = w.watcher.Close()
		w.wg.Wait()

		// Wait out a callback already past the done check.
		w.cbMu.Lock()
		w.cbMu.Unlock()
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("config watcher error", slog.String("error", err.Error()))
			}

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	s, err := LoadSettings(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("config reload failed",
				slog.String("path", w.path),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if w.logger != nil {
		w.logger.Info("config reloaded",
			slog.String("path", w.path),
			slog.Int("experiments", len(s.Experiments)),
		)
	}

	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	select {
	case <-w.done:
		return
	default:
	}
	w.onChange(s)
}
