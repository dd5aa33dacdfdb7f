package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HybridWatcher implements Watcher with fsnotify, falling back to polling
// when fsnotify cannot be created.
type HybridWatcher struct {
	opts      Options
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error
	stopCh    chan struct{}
	rootPath  string
	logger    *slog.Logger

	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

var _ Watcher = (*HybridWatcher)(nil)

// New creates a watcher with opts.
func New(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()
	h := &HybridWatcher{
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		logger:    slog.Default(),
	}
	if !opts.ForcePolling {
		if fsw, err := fsnotify.NewWatcher(); err == nil {
			h.fsWatcher = fsw
		} else {
			h.logger.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		}
	}
	return h, nil
}

// Start watches path and blocks until Stop or ctx cancellation.
func (h *HybridWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", path)
	}

	h.mu.Lock()
	h.rootPath = absPath
	h.mu.Unlock()

	go h.forwardDebouncedEvents(ctx)

	if h.fsWatcher == nil {
		p := newPoller(absPath, h.opts.PollInterval, h.opts.Extensions, h.debouncer.Add)
		err := p.run(ctx, h.stopCh)
		_ = h.Stop()
		return err
	}
	return h.runFsnotify(ctx)
}

func (h *HybridWatcher) runFsnotify(ctx context.Context) error {
	if err := h.addRecursive(h.rootPath); err != nil {
		_ = h.Stop()
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			h.handleFsnotifyEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(h.rootPath, event.Name)
	if err != nil {
		return
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}
	if ignored(rel, isDir, h.opts.Extensions) {
		return
	}

	if isDir {
		// New directories are watched; files copied in with them show up
		// in the walk.
		if event.Op&fsnotify.Create != 0 {
			if err := h.addRecursive(event.Name); err != nil {
				h.emitError(err)
			}
		}
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}

	h.debouncer.Add(FileEvent{
		Path:      filepath.ToSlash(rel),
		Operation: op,
		Timestamp: time.Now(),
	})
}

// addRecursive watches dir and its non-hidden subdirectories. Files found
// below a directory other than the root are reported as creates.
func (h *HybridWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(h.rootPath, path)
		if rel == "." {
			return h.fsWatcher.Add(path)
		}
		if ignored(rel, d.IsDir(), h.opts.Extensions) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return h.fsWatcher.Add(path)
		}
		if dir != h.rootPath {
			h.debouncer.Add(FileEvent{Path: filepath.ToSlash(rel), Operation: OpCreate, Timestamp: time.Now()})
		}
		return nil
	})
}

func (h *HybridWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case events, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			h.emitEvents(events)
		}
	}
}

func (h *HybridWatcher) emitEvents(events []FileEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}

	select {
	case h.events <- events:
	default:
		count := h.droppedBatches.Add(1)
		h.logger.Warn("watch_batch_dropped",
			slog.Int("batch_size", len(events)),
			slog.Uint64("total_dropped_batches", count))
	}
}

func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}
	select {
	case h.errors <- err:
	default:
	}
}

// DroppedBatches returns the number of batches dropped on a full buffer.
func (h *HybridWatcher) DroppedBatches() uint64 {
	return h.droppedBatches.Load()
}

// Stop stops the watcher and closes its channels.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.stopCh)
	h.debouncer.Stop()
	if h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	close(h.events)
	close(h.errors)
	return nil
}

// Events returns the channel of debounced batches.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

// Errors returns the channel of non-fatal errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// WatcherType returns "fsnotify" or "polling".
func (h *HybridWatcher) WatcherType() string {
	if h.fsWatcher != nil {
		return "fsnotify"
	}
	return "polling"
}

// RootPath returns the watched root.
func (h *HybridWatcher) RootPath() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rootPath
}
