// Package watch polls a project tree for changed files.
//
// A poll walks the tree with the scanner, compares sizes and modification
// times against the previous poll, and confirms candidates by content hash.
// Files created, edited or deleted between polls are reported together as one
// batch so a burst of saves produces a single rebuild.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/internal/scanner"
	"github.com/l3aro/go-bundle/pkg/dirty"
)

// DefaultInterval is the poll interval used when Options.Interval is zero.
const DefaultInterval = 300 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	Root     string
	Interval time.Duration
	// Ignore holds gitignore-style patterns on top of .gblignore.
	Ignore []string
	// CacheDir persists the tracker between runs when set.
	CacheDir string
}

// Handler receives a batch of changed absolute paths.
type Handler func(ctx context.Context, paths []string) error

// Watcher detects file changes under a root directory.
type Watcher struct {
	opts    Options
	root    string
	scanner *scanner.Scanner
	tracker *dirty.Tracker
	logger  log.Logger

	mu    sync.Mutex
	hints map[string]struct{}
	wake  chan struct{}
}

// New creates a Watcher. A tracker persisted in CacheDir is loaded so the
// first snapshot reports what changed while nothing was watching.
func New(opts Options, logger log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	scanOpts := scanner.DefaultOptions()
	scanOpts.Ignore = opts.Ignore

	tracker := dirty.New()
	if opts.CacheDir != "" {
		tracker, err = dirty.Open(opts.CacheDir)
		if err != nil {
			logger.Warn("discarding watch cache", "dir", opts.CacheDir, "error", err)
		}
	}

	return &Watcher{
		opts:    opts,
		root:    root,
		scanner: scanner.New(scanOpts),
		tracker: tracker,
		logger:  logger,
		hints:   make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
	}, nil
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string { return w.root }

// Snapshot records the current state of the tree without reporting it and
// returns the paths that differ from the persisted state, if any was loaded.
func (w *Watcher) Snapshot(ctx context.Context) ([]string, error) {
	known := w.tracker.Len() > 0
	changed, err := w.Poll(ctx)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, nil
	}
	return changed, nil
}

// Notify queues paths to be reported by the next poll even if their content
// looks unchanged, and wakes a running loop.
func (w *Watcher) Notify(paths ...string) {
	w.mu.Lock()
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(w.root, p)
		}
		w.hints[filepath.Clean(p)] = struct{}{}
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Poll compares the tree against the previous poll and returns the changed
// absolute paths, sorted. Deleted files are included.
func (w *Watcher) Poll(ctx context.Context) ([]string, error) {
	files, err := w.scanner.Scan(ctx, w.root)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", w.root, err)
	}

	changed := make(map[string]struct{})
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seen[f.FullPath] = struct{}{}
		ok, err := w.tracker.Observe(f.FullPath, f.Size, f.ModTime)
		if err != nil {
			// Removed between the walk and the hash; the next poll sees it gone.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		if ok {
			changed[f.FullPath] = struct{}{}
		}
	}
	for _, p := range w.tracker.Paths() {
		if _, ok := seen[p]; !ok {
			w.tracker.Forget(p)
			changed[p] = struct{}{}
		}
	}

	w.mu.Lock()
	hints := w.hints
	w.hints = make(map[string]struct{})
	w.mu.Unlock()
	for p := range hints {
		if err := w.tracker.Refresh(p); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				w.logger.Debug("ignoring notification", "path", p, "error", err)
				continue
			}
			w.tracker.Forget(p)
		}
		changed[p] = struct{}{}
	}

	result := make([]string, 0, len(changed))
	for p := range changed {
		result = append(result, p)
	}
	sort.Strings(result)
	return result, nil
}

// Run polls until ctx is done and hands every non-empty batch to handle.
// Batches are handled one at a time; changes made while a handler runs are
// picked up by the following poll. Handler errors are logged, not returned.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	defer w.save()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-w.wake:
		}

		paths, err := w.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("watch poll failed", "error", err)
			continue
		}
		if len(paths) == 0 {
			continue
		}
		w.logger.Debug("files changed", "count", len(paths))
		if err := handle(ctx, paths); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("rebuild failed", "error", err)
		}
	}
}

func (w *Watcher) save() {
	if err := w.tracker.Save(); err != nil {
		w.logger.Warn("failed to save watch cache", "error", err)
	}
}
