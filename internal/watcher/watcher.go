package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/hybridsearch/internal/indexer"
)

// DefaultDelay is the quiet period before a re-index starts
const DefaultDelay = 2 * time.Second

var (
	// ErrClosed is returned by Run after Close
	ErrClosed = errors.New("watcher closed")
)

// ReindexFunc re-indexes the workspace
type ReindexFunc func(ctx context.Context) error

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDelay sets the debounce delay
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithIgnore skips events for paths the predicate matches, such as a
// database file kept inside the workspace
func WithIgnore(ignore func(path string) bool) Option {
	return func(w *Watcher) {
		w.ignore = ignore
	}
}

// Watcher watches a workspace tree and triggers re-indexing
type Watcher struct {
	root    string
	delay   time.Duration
	reindex ReindexFunc
	ignore  func(path string) bool
	logger  *slog.Logger
	fsw     *fsnotify.Watcher

	mu     sync.Mutex
	closed bool
}

// New watches root and every indexable directory below it
func New(root string, reindex ReindexFunc, opts ...Option) (*Watcher, error) {
	if reindex == nil {
		return nil, errors.New("reindex function is required")
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path error: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path error: %s is not a directory", root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		root:    root,
		delay:   DefaultDelay,
		reindex: reindex,
		logger:  slog.Default().With("component", "watcher"),
		fsw:     fsw,
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree adds dir and its indexable subdirectories
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && indexer.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Run dispatches events until ctx is cancelled or the watcher is closed
func (w *Watcher) Run(ctx context.Context) error {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	arm := func() {
		if timer == nil {
			timer = time.NewTimer(w.delay)
		} else {
			timer.Reset(w.delay)
		}
		fire = timer.C
	}

	w.logger.Info("watching workspace", "root", w.root, "delay", w.delay)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return ErrClosed
			}
			if !w.relevant(event) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn("cannot watch new directory", "path", event.Name, "err", err)
					}
				}
			}
			w.logger.Debug("workspace changed", "path", event.Name, "op", event.Op.String())
			arm()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return ErrClosed
			}
			w.logger.Warn("watch error", "err", err)

		case <-fire:
			fire = nil
			start := time.Now()
			err := w.reindex(ctx)
			switch {
			case errors.Is(err, indexer.ErrIndexingInProgress):
				// Another run holds the lock; try again after it
				arm()
			case ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				w.logger.Error("re-index failed", "err", err)
			default:
				w.logger.Info("re-indexed workspace", "duration", time.Since(start))
			}
		}
	}
}

// relevant filters out attribute changes and paths the indexer never reads
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if w.ignore != nil && w.ignore(event.Name) {
		return false
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, dir := range parts[:len(parts)-1] {
		if indexer.SkipDir(dir) {
			return false
		}
	}
	return !strings.HasPrefix(parts[len(parts)-1], ".")
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.fsw.Close()
}
