// Package watcher reports debounced file changes below a directory tree.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"forge/internal/git"
	"forge/internal/logging"
)

// Watcher monitors file system changes below a root directory.
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	root       string
	ignorer    *git.GitIgnore
	debounce   time.Duration
	maxWatches int
	filter     func(rel string) bool
	pending    map[string]Event
	closeOnce  sync.Once
}

// NewWatcher creates a watcher and registers every directory below root that
// is neither ignored nor in the built-in skip list. Changes made after
// NewWatcher returns are observed.
func NewWatcher(root string, ignorer *git.GitIgnore, cfg Config) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	def := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.MaxWatches <= 0 {
		cfg.MaxWatches = def.MaxWatches
	}

	w := &Watcher{
		fsWatcher:  fsWatcher,
		root:       abs,
		ignorer:    ignorer,
		debounce:   cfg.Debounce,
		maxWatches: cfg.MaxWatches,
		filter:     cfg.Filter,
		pending:    make(map[string]Event),
	}
	if err := w.addTree(abs, false); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// Close releases the underlying watches. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsWatcher.Close()
	})
	return err
}

// Run delivers debounced batches to handler until ctx is done, then closes
// the watcher and returns ctx.Err().
func (w *Watcher) Run(ctx context.Context, handler Handler) error {
	defer w.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(event) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("file watcher error", "error", err)
		case <-timer.C:
			if batch := w.flushPending(); len(batch) > 0 {
				handler(batch)
			}
		}
	}
}

// WatchedPaths returns the number of watched directories.
func (w *Watcher) WatchedPaths() int {
	return len(w.fsWatcher.WatchList())
}

// addTree watches dir and its subdirectories up to maxWatches. When report
// is set, matching files already inside are queued as created; they may have
// been written before the watch existed.
func (w *Watcher) addTree(dir string, report bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}

		rel := w.relative(p)
		if d.IsDir() {
			if p != w.root && w.skipDir(rel, d.Name()) {
				return filepath.SkipDir
			}
			if len(w.fsWatcher.WatchList()) >= w.maxWatches {
				logging.Warn("watch limit reached", "limit", w.maxWatches, "dir", rel)
				return filepath.SkipDir
			}
			if err := w.fsWatcher.Add(p); err != nil {
				logging.Debug("failed to watch directory", "dir", rel, "error", err)
			}
			return nil
		}

		if report && w.wanted(rel, false) {
			w.pending[rel] = Event{Path: rel, Operation: OpCreate, Time: time.Now()}
		}
		return nil
	})
}

// handleEvent queues a relevant event and reports whether it did.
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	rel := w.relative(event.Name)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return false
	}

	// New directories are watched right away.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.skipDir(rel, info.Name()) {
				return false
			}
			if err := w.addTree(event.Name, true); err != nil {
				logging.Debug("failed to watch new directory", "dir", rel, "error", err)
			}
			return len(w.pending) > 0
		}
	}

	if !w.wanted(rel, false) {
		return false
	}

	op := OpModify
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		op = OpRename
	}
	// A write right after creation is still a creation.
	if prev, ok := w.pending[rel]; ok && prev.Operation == OpCreate && op == OpModify {
		op = OpCreate
	}
	w.pending[rel] = Event{Path: rel, Operation: op, Time: time.Now()}
	return true
}

// flushPending returns the queued events sorted by path and clears the queue.
func (w *Watcher) flushPending() []Event {
	if len(w.pending) == 0 {
		return nil
	}
	batch := make([]Event, 0, len(w.pending))
	for _, e := range w.pending {
		e.Operation = w.detectOperation(e)
		batch = append(batch, e)
	}
	clear(w.pending)
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	return batch
}

// detectOperation settles the operation against the file's current state.
// Editors that save by rename produce a delete followed by a create.
func (w *Watcher) detectOperation(e Event) Operation {
	_, err := os.Stat(filepath.Join(w.root, filepath.FromSlash(e.Path)))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return OpDelete
	case err == nil && (e.Operation == OpDelete || e.Operation == OpRename):
		return OpModify
	default:
		return e.Operation
	}
}

func (w *Watcher) wanted(rel string, isDir bool) bool {
	for _, seg := range strings.Split(rel, "/") {
		if skipDirs[seg] {
			return false
		}
	}
	base := rel[strings.LastIndex(rel, "/")+1:]
	if base == "" || base[0] == '#' || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") {
		return false
	}
	if w.ignorer != nil && w.ignorer.IsIgnoredRel(rel, isDir) {
		return false
	}
	return w.filter == nil || w.filter(rel)
}

func (w *Watcher) skipDir(rel, name string) bool {
	return skipDirs[name] || (w.ignorer != nil && w.ignorer.IsIgnoredRel(rel, true))
}

func (w *Watcher) relative(p string) string {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}
