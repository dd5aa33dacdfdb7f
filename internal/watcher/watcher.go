package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted.
	OpDelete
	// OpRename indicates a file was renamed away; the new name arrives as
	// its own create.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is relative to the watched root, slash separated.
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Watcher produces debounced batches of file events for a directory tree.
type Watcher interface {
	// Start watches path until Stop is called or ctx is cancelled.
	Start(ctx context.Context, path string) error

	// Stop releases resources. Safe to call multiple times.
	Stop() error

	// Events returns batches of debounced events. Closed on Stop.
	Events() <-chan []FileEvent

	// Errors returns non-fatal watcher errors. Closed on Stop.
	Errors() <-chan error
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the quiet time before coalesced events are emitted.
	// Default: 200ms
	DebounceWindow time.Duration

	// PollInterval is the scan interval in polling mode. Default: 2s
	PollInterval time.Duration

	// ForcePolling skips fsnotify.
	ForcePolling bool

	// EventBufferSize is the number of batches buffered. Default: 64
	EventBufferSize int

	// Extensions lists the watched file extensions. Default: .json
	Extensions []string
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		PollInterval:    2 * time.Second,
		EventBufferSize: 64,
		Extensions:      []string{".json"},
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if len(o.Extensions) == 0 {
		o.Extensions = defaults.Extensions
	}
	return o
}

// ignored reports whether a relative path is outside the watched set:
// hidden files and directories (including .docindex) and, for files,
// extensions not in exts.
func ignored(rel string, isDir bool, exts []string) bool {
	if rel == "" || rel == "." {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	if isDir {
		return false
	}
	ext := strings.ToLower(filepath.Ext(rel))
	for _, e := range exts {
		if ext == e {
			return false
		}
	}
	return true
}
