// Package watcher implements the Live-Wire Watcher (C7): it observes the
// skill root recursively and keeps the routing index in sync with
// create/modify/delete events, coalescing bursts per path and separating
// reindex batches by a quiet period to avoid torn reads on editors that
// save via write-then-rename.
//
// Grounded on the teacher's internal/skills.Manager watch loop: a single
// fsnotify.Watcher, recursive directory registration as new directories
// appear, and a debounce timer before re-discovery. This generalizes that
// single-stage debounce into the spec's two-stage coalesce-then-quiet
// scheme and adds delete-wins-over-modify precedence, per-file dispatch
// (index_file/reindex_file/remove_file) instead of a single whole-tree
// rescan, and transport-agnostic broadcast fan-out.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/arcweave/skillkernel/internal/skillscan"
)

// Op is a coalesced filesystem action, ranked so a later delete always
// overrides an earlier modify for the same path within one window.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpRemove
)

func (o Op) rank() int { return int(o) }

// Handler applies one coalesced file-level change to the routing index.
type Handler interface {
	IndexFile(ctx context.Context, path string) error
	ReindexFile(ctx context.Context, path string) error
	RemoveFile(ctx context.Context, path string) error
	// RescanSkill re-reads a skill's SKILL.md and reports whether its
	// externally visible surface (commands, description) changed.
	RescanSkill(ctx context.Context, skillDir string) (visibleChanged bool, err error)
}

// Broadcaster is the transport-agnostic fan-out point (spec.md §4.7): the
// watcher calls it without knowing anything about stdio or SSE.
type Broadcaster interface {
	Broadcast(notification string)
}

const (
	// DefaultCoalesceWindow is how long the watcher waits, per path, for
	// further events before treating the last one as final. spec.md §4.7
	// calls for 50-150ms; 100ms is the midpoint.
	DefaultCoalesceWindow = 100 * time.Millisecond
	// DefaultQuietPeriod separates batches so editors that save via
	// write-then-rename don't get indexed mid-write.
	DefaultQuietPeriod = 250 * time.Millisecond
)

type pendingFile struct {
	op Op
}

// Watcher is the C7 process singleton.
type Watcher struct {
	root           string
	handler        Handler
	broadcaster    Broadcaster
	coalesceWindow time.Duration
	quietPeriod    time.Duration
	logger         *slog.Logger

	fsw *fsnotify.Watcher

	mu         sync.Mutex
	pathTimers map[string]*time.Timer
	settled    map[string]pendingFile
	quietTimer *time.Timer

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type Option func(*Watcher)

func WithCoalesceWindow(d time.Duration) Option { return func(w *Watcher) { w.coalesceWindow = d } }
func WithQuietPeriod(d time.Duration) Option     { return func(w *Watcher) { w.quietPeriod = d } }
func WithLogger(l *slog.Logger) Option           { return func(w *Watcher) { w.logger = l } }

// New creates a watcher rooted at root. Call Start to begin watching.
func New(root string, handler Handler, broadcaster Broadcaster, opts ...Option) *Watcher {
	w := &Watcher{
		root:           root,
		handler:        handler,
		broadcaster:    broadcaster,
		coalesceWindow: DefaultCoalesceWindow,
		quietPeriod:    DefaultQuietPeriod,
		logger:         slog.Default(),
		pathTimers:     make(map[string]*time.Timer),
		settled:        make(map[string]pendingFile),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching root recursively and returns once the initial
// directory registration completes. Event handling runs in the
// background until ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if err := w.addRecursive(w.root); err != nil {
		_ = fsw.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(runCtx)
	return nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	var err error
	if w.fsw != nil {
		err = w.fsw.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && (hidden(d.Name()) || skillscan.IsExcludedDir(d.Name())) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func hidden(name string) bool { return len(name) > 0 && name[0] == '.' }

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !hidden(filepath.Base(event.Name)) && !skillscan.IsExcludedDir(filepath.Base(event.Name)) {
				_ = w.addRecursive(event.Name)
			}
			return
		}
	}

	if !relevant(event.Name) {
		return
	}

	op, ok := classify(event)
	if !ok {
		return
	}

	w.mu.Lock()
	w.mergePending(event.Name, op)
	w.resetPathTimer(event.Name)
	w.mu.Unlock()
}

// relevant restricts watching to SKILL.md files and .py files under a
// scripts/ tree — everything else in a skill directory is ignored.
func relevant(path string) bool {
	base := filepath.Base(path)
	if base == "SKILL.md" {
		return true
	}
	return filepath.Ext(path) == ".py" && strings.Contains(filepath.ToSlash(path), "/scripts/")
}

func classify(event fsnotify.Event) (Op, bool) {
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return OpRemove, true
	case event.Op&fsnotify.Create != 0:
		return OpCreate, true
	case event.Op&fsnotify.Write != 0:
		return OpModify, true
	default:
		return 0, false
	}
}

// mergePending applies delete-wins-over-modify precedence within the
// current coalescing window. Must be called with w.mu held.
func (w *Watcher) mergePending(path string, op Op) {
	existing, ok := w.settled[path]
	if ok && existing.op.rank() > op.rank() {
		return
	}
	w.settled[path] = pendingFile{op: op}
}

// resetPathTimer restarts the per-path coalescing window; once it elapses
// without further events on path, the global quiet-period timer is
// (re)armed so the batch flushes only after the whole burst goes quiet.
// Must be called with w.mu held.
func (w *Watcher) resetPathTimer(path string) {
	if t, ok := w.pathTimers[path]; ok {
		t.Stop()
	}
	w.pathTimers[path] = time.AfterFunc(w.coalesceWindow, func() {
		w.mu.Lock()
		delete(w.pathTimers, path)
		w.armQuietTimer()
		w.mu.Unlock()
	})
}

// armQuietTimer must be called with w.mu held.
func (w *Watcher) armQuietTimer() {
	if w.quietTimer != nil {
		w.quietTimer.Stop()
	}
	w.quietTimer = time.AfterFunc(w.quietPeriod, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pathTimers) > 0 {
		// A new burst started inside the quiet window; let it finish its
		// own coalescing cycle before flushing.
		w.mu.Unlock()
		return
	}
	batch := w.settled
	w.settled = make(map[string]pendingFile)
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx := context.Background()
	listChanged := false

	for path, pf := range batch {
		if filepath.Base(path) == "SKILL.md" {
			visibleChanged, err := w.handler.RescanSkill(ctx, filepath.Dir(path))
			if err != nil {
				w.logger.Warn("skill rescan failed", "path", path, "error", err)
				continue
			}
			if visibleChanged {
				listChanged = true
			}
			continue
		}

		var err error
		switch pf.op {
		case OpCreate:
			err = w.handler.IndexFile(ctx, path)
		case OpModify:
			err = w.handler.ReindexFile(ctx, path)
		case OpRemove:
			err = w.handler.RemoveFile(ctx, path)
		}
		if err != nil {
			w.logger.Warn("index update failed", "path", path, "error", err)
			continue
		}
		listChanged = true
	}

	if listChanged {
		w.broadcaster.Broadcast("tools/list_changed")
	}
}
