// Package watcher rebuilds the project when module sources change.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"esmloader/internal/paths"
)

// Op is a bit set of file operations.
type Op uint8

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

// String returns the operations joined by "|".
func (op Op) String() string {
	var names []string
	for _, o := range []struct {
		bit  Op
		name string
	}{{OpCreate, "create"}, {OpWrite, "write"}, {OpRemove, "remove"}, {OpRename, "rename"}} {
		if op&o.bit != 0 {
			names = append(names, o.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Event is a change to one path.
type Event struct {
	Path      string
	Op        Op
	Timestamp time.Time
}

// RebuildFunc runs a build for a batch of changes.
type RebuildFunc func(ctx context.Context, events []Event) error

// Config contains watcher configuration.
type Config struct {
	// Root is the directory watched recursively
	Root string
	// Debounce is the quiet period before a rebuild
	Debounce time.Duration
	// IgnorePatterns match base names or root-relative paths; a trailing
	// "/**" ignores a whole directory
	IgnorePatterns []string
	// Exclude are directories never watched, such as the output directory
	Exclude []string
}

// Watcher watches Root and calls the rebuild function after changes settle.
// Rebuilds never overlap; a failed rebuild is logged and watching continues.
type Watcher struct {
	cfg     Config
	rebuild RebuildFunc
	logger  *slog.Logger

	fsw       *fsnotify.Watcher
	debouncer *Debouncer

	mu      sync.Mutex
	watched map[string]bool
	ctx     context.Context

	buildMu  sync.Mutex
	builds   int
	failures int
}

// New creates a watcher. Nothing is watched until Run.
func New(cfg Config, rebuild RebuildFunc, logger *slog.Logger) (*Watcher, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	cfg.Root = root
	for i, ex := range cfg.Exclude {
		if cfg.Exclude[i], err = filepath.Abs(ex); err != nil {
			return nil, err
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		cfg:     cfg,
		rebuild: rebuild,
		logger:  logger,
		fsw:     fsw,
		watched: make(map[string]bool),
	}
	w.debouncer = NewDebouncer(cfg.Debounce, w.runBuild)
	return w, nil
}

// Run watches until ctx is done. It returns ctx's error, or the error that
// prevented watching from starting.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()

	if err := w.watchRecursive(w.cfg.Root); err != nil {
		return err
	}
	w.logger.Info("Watching for changes",
		"root", w.cfg.Root,
		"directories", len(w.WatchedPaths()),
		"debounce", w.cfg.Debounce,
	)

	for {
		select {
		case <-ctx.Done():
			w.debouncer.Cancel()
			w.buildMu.Lock() // wait for a running build
			w.buildMu.Unlock()
			return ctx.Err()

		case fsEvent, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(fsEvent)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watch error", "error", err)
		}
	}
}

func (w *Watcher) watchRecursive(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New(root + " is not a directory")
	}
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != root && w.IsIgnored(p) {
			return filepath.SkipDir
		}
		return w.add(p)
	})
}

func (w *Watcher) add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.watched[dir] = true
	return nil
}

func (w *Watcher) handle(fsEvent fsnotify.Event) {
	op := convertOp(fsEvent.Op)
	if op == 0 || w.IsIgnored(fsEvent.Name) {
		return
	}

	if op&OpCreate != 0 {
		if info, err := os.Stat(fsEvent.Name); err == nil && info.IsDir() {
			if err := w.watchRecursive(fsEvent.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", "path", fsEvent.Name, "error", err)
			}
		}
	}
	if op&(OpRemove|OpRename) != 0 {
		w.mu.Lock()
		delete(w.watched, fsEvent.Name)
		w.mu.Unlock()
	}

	w.logger.Debug("Change detected", "path", paths.Display(fsEvent.Name, w.cfg.Root), "op", op)
	w.debouncer.Add(Event{Path: fsEvent.Name, Op: op, Timestamp: time.Now()})
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	return op
}

func (w *Watcher) runBuild(events []Event) {
	w.buildMu.Lock()
	defer w.buildMu.Unlock()

	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	w.builds++
	w.logger.Info("Rebuilding", "changes", len(events), "first", paths.Display(events[0].Path, w.cfg.Root))
	if err := w.rebuild(ctx, events); err != nil {
		w.failures++
		w.logger.Error("Rebuild failed, still watching", "error", err)
	}
}

// IsIgnored reports whether changes to path are ignored.
func (w *Watcher) IsIgnored(p string) bool {
	for _, ex := range w.cfg.Exclude {
		if paths.IsWithin(p, ex) {
			return true
		}
	}

	base := filepath.Base(p)
	rel := ""
	if paths.IsWithin(p, w.cfg.Root) {
		rel, _ = paths.Canonicalize(p, w.cfg.Root)
	}

	for _, pattern := range w.cfg.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if rel == "" || rel == "." {
			continue
		}
		if matched, _ := path.Match(pattern, rel); matched {
			return true
		}
		if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
			if rel == dir || strings.HasPrefix(rel, dir+"/") || strings.Contains(rel, "/"+dir+"/") || strings.HasSuffix(rel, "/"+dir) {
				return true
			}
		}
	}
	return false
}

// WatchedPaths returns the watched directories.
func (w *Watcher) WatchedPaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watched))
	for p := range w.watched {
		out = append(out, p)
	}
	return out
}

// Stats returns the number of rebuilds run and how many failed.
func (w *Watcher) Stats() (builds, failures int) {
	w.buildMu.Lock()
	defer w.buildMu.Unlock()
	return w.builds, w.failures
}
