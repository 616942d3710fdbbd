// Package watcher notices new or removed embedding files and triggers debounced index
// rebuilds per modality.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/casefind/internal/models"
)

const (
	defaultDebounce = 2 * time.Second
	vectorExt       = ".vec"
	// tempPrefix marks in-progress atomic writes, which are renamed into place when done.
	tempPrefix = ".tmp-"
)

// Watcher watches one directory per modality and calls onChange once a burst of vector
// file events for that modality has been quiet for the debounce interval.
type Watcher struct {
	dirs     map[string]models.Modality
	onChange func(m models.Modality)
	debounce time.Duration
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	timers   map[models.Modality]*time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	logger   *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet interval before onChange fires. Non-positive values keep
// the default.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over dirs, mapping each directory to the modality whose
// vectors it holds.
func NewWatcher(dirs map[string]models.Modality, onChange func(m models.Modality), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dirs:     make(map[string]models.Modality, len(dirs)),
		onChange: onChange,
		debounce: defaultDebounce,
		timers:   make(map[models.Modality]*time.Timer),
		done:     make(chan struct{}),
		logger:   zap.NewNop(),
	}
	for dir, m := range dirs {
		w.dirs[filepath.Clean(dir)] = m
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
// Missing directories are created.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for dir := range w.dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			_ = fw.Close()
			return err
		}
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return err
		}
	}
	w.watcher = fw
	w.started = true
	w.logger.Debug("watcher starting", zap.Int("dirs", len(w.dirs)), zap.Duration("debounce", w.debounce))
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !isVectorFile(ev.Name) {
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	m, ok := w.dirs[filepath.Dir(filepath.Clean(ev.Name))]
	if !ok {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	w.schedule(m)
}

func isVectorFile(path string) bool {
	base := filepath.Base(path)
	return strings.EqualFold(filepath.Ext(base), vectorExt) && !strings.HasPrefix(base, tempPrefix)
}

// schedule restarts the debounce timer of m.
func (w *Watcher) schedule(m models.Modality) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.timers[m]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() { w.fire(m, t) })
	w.timers[m] = t
}

// fire runs onChange for m unless t was superseded by a later schedule or the watcher
// was stopped meanwhile.
func (w *Watcher) fire(m models.Modality, t *time.Timer) {
	w.mu.Lock()
	if !w.started || w.timers[m] != t {
		w.mu.Unlock()
		return
	}
	delete(w.timers, m)
	w.mu.Unlock()
	w.logger.Debug("watcher firing change (debounced)", zap.String("modality", string(m)))
	if w.onChange != nil {
		w.onChange(m)
	}
}

// Stop stops the watcher and releases resources. Pending notifications are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for m, t := range w.timers {
		t.Stop()
		delete(w.timers, m)
	}
	_ = w.watcher.Close()
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
