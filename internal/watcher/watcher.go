// Package watcher re-ingests catalog files when they change on disk.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/tabi/internal/catalog"
	"github.com/hyperjump/tabi/internal/ingest"
	"github.com/hyperjump/tabi/pkg/utils"
)

// DefaultDebounce is the quiet period before a changed file is ingested.
const DefaultDebounce = 500 * time.Millisecond

// Sink receives debounced catalog changes. *ingest.Service satisfies it.
type Sink interface {
	IngestFile(ctx context.Context, path string) (*ingest.Result, error)
	RemoveFile(ctx context.Context, path string) (int, error)
}

// Config selects what is watched.
type Config struct {
	Roots []string
	// Patterns are doublestar globs relative to each root.
	Patterns  []string
	Recursive bool
	Debounce  time.Duration
}

// Watcher watches catalog directories and forwards changes to a Sink.
type Watcher struct {
	cfg      Config
	sink     Sink
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	ctx      context.Context
	mu       sync.Mutex
	pending  map[string]*time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = utils.LoggerOrNop(l) }
}

// New creates a watcher. Roots are made absolute; missing roots are created on Start.
func New(cfg Config, sink Sink, opts ...Option) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if len(cfg.Patterns) == 0 {
		cfg.Patterns = catalog.DefaultPatterns
	}
	roots := make([]string, 0, len(cfg.Roots))
	for _, r := range cfg.Roots {
		if abs, err := filepath.Abs(r); err == nil {
			roots = append(roots, abs)
		}
	}
	cfg.Roots = roots
	w := &Watcher{
		cfg:     cfg,
		sink:    sink,
		logger:  zap.NewNop(),
		pending: make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
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
	w.watcher = fw
	for _, root := range w.cfg.Roots {
		if err := w.addRootLocked(root); err != nil {
			_ = fw.Close()
			w.watcher = nil
			return err
		}
	}
	w.ctx = ctx
	w.started = true
	w.logger.Info("Watching catalog directories",
		zap.Strings("roots", w.cfg.Roots),
		zap.Strings("patterns", w.cfg.Patterns),
		zap.Bool("recursive", w.cfg.Recursive))
	go w.run(ctx, fw.Events, fw.Errors)
	return nil
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	root, rel, ok := w.locate(path)
	if !ok {
		return
	}
	w.logger.Debug("Watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) && w.cfg.Recursive {
				w.addDirectory(path)
				w.syncDirectory(root, path)
			}
			return
		}
		if catalog.Match(w.cfg.Patterns, rel) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		if catalog.Match(w.cfg.Patterns, rel) {
			w.remove(path)
		}
	}
}

// locate returns the root containing path and path relative to it.
func (w *Watcher) locate(path string) (root, rel string, ok bool) {
	for _, r := range w.cfg.Roots {
		rel, err := filepath.Rel(r, path)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if !w.cfg.Recursive && strings.ContainsRune(rel, filepath.Separator) {
			continue
		}
		return r, filepath.ToSlash(rel), true
	}
	return "", "", false
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		ctx := w.ctx
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := w.sink.IngestFile(ctx, path); err != nil {
		w.logger.Warn("Catalog ingest failed", zap.String("path", path), zap.Error(err))
	}
}

func (w *Watcher) remove(path string) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := w.sink.RemoveFile(ctx, path); err != nil {
		w.logger.Warn("Catalog removal failed", zap.String("path", path), zap.Error(err))
	}
}

func (w *Watcher) addRootLocked(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if !w.cfg.Recursive {
		return w.watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// addDirectory watches a directory created under a recursive root.
func (w *Watcher) addDirectory(dir string) {
	w.mu.Lock()
	fw := w.watcher
	w.mu.Unlock()
	if fw == nil {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fw.Add(path); err != nil {
				w.logger.Warn("Failed to watch directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
}

// syncDirectory schedules every matching catalog file under dir. Files
// created before the directory was watched produce no events of their own.
func (w *Watcher) syncDirectory(root, dir string) {
	files, err := catalog.Discover(dir, nil)
	if err != nil {
		w.logger.Warn("Directory sync failed", zap.String("path", dir), zap.Error(err))
		return
	}
	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil {
			continue
		}
		if catalog.Match(w.cfg.Patterns, filepath.ToSlash(rel)) {
			w.schedule(f)
		}
	}
}

// SyncExisting ingests every matching catalog file already under the roots.
// Call it after Start to pick up files that changed while nothing was watching.
func (w *Watcher) SyncExisting(ctx context.Context) {
	for _, root := range w.cfg.Roots {
		files, err := catalog.Discover(root, w.cfg.Patterns)
		if err != nil {
			w.logger.Warn("Directory sync failed", zap.String("path", root), zap.Error(err))
			continue
		}
		for _, f := range files {
			if _, _, ok := w.locate(f); ok {
				w.ingest(ctx, f)
			}
		}
	}
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	return append([]string(nil), w.cfg.Roots...)
}

// Stop stops the watcher and cancels pending ingests.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
