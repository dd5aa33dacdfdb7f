package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "MODIFY", OpModify.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "RENAME", OpRename.String())
	assert.Equal(t, "UNKNOWN", Operation(99).String())
}

func TestOptions_WithDefaults(t *testing.T) {
	got := Options{DebounceWindow: time.Second}.WithDefaults()

	assert.Equal(t, time.Second, got.DebounceWindow)
	assert.Equal(t, DefaultOptions().PollInterval, got.PollInterval)
	assert.Equal(t, []string{".json"}, got.Extensions)
}

func TestIgnored(t *testing.T) {
	exts := []string{".json"}
	tests := []struct {
		rel   string
		isDir bool
		want  bool
	}{
		{"orders/1.json", false, false},
		{"orders/1.JSON", false, false},
		{"orders", true, false},
		{"orders/1.txt", false, true},
		{".docindex/store.db", false, true},
		{".docindex", true, true},
		{"orders/.1.json.swp", false, true},
		{".", true, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ignored(tt.rel, tt.isDir, exts), tt.rel)
	}
}

// startWatcher runs w on dir and returns once it has had time to register.
func startWatcher(t *testing.T, w *HybridWatcher, dir string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, dir) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
}

// nextBatch returns the next batch containing path.
func nextBatch(t *testing.T, w *HybridWatcher, path string) FileEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch, ok := <-w.Events():
			require.True(t, ok, "events closed")
			for _, ev := range batch {
				if ev.Path == path {
					return ev
				}
			}
		case <-deadline:
			t.Fatalf("no event for %s", path)
		}
	}
}

func TestHybridWatcher_DetectsLifecycle(t *testing.T) {
	for _, polling := range []bool{false, true} {
		name := "fsnotify"
		if polling {
			name = "polling"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.MkdirAll(filepath.Join(dir, "orders"), 0o755))

			w, err := New(Options{
				DebounceWindow: 20 * time.Millisecond,
				PollInterval:   50 * time.Millisecond,
				ForcePolling:   polling,
			})
			require.NoError(t, err)
			defer w.Stop()
			if polling {
				assert.Equal(t, "polling", w.WatcherType())
			}
			startWatcher(t, w, dir)

			file := filepath.Join(dir, "orders", "1.json")

			// Create
			require.NoError(t, os.WriteFile(file, []byte(`{"Total":1}`), 0o644))
			ev := nextBatch(t, w, "orders/1.json")
			assert.Equal(t, OpCreate, ev.Operation)

			// Modify
			time.Sleep(30 * time.Millisecond)
			require.NoError(t, os.WriteFile(file, []byte(`{"Total":22}`), 0o644))
			ev = nextBatch(t, w, "orders/1.json")
			assert.Equal(t, OpModify, ev.Operation)

			// Delete
			require.NoError(t, os.Remove(file))
			ev = nextBatch(t, w, "orders/1.json")
			assert.Equal(t, OpDelete, ev.Operation)
		})
	}
}

func TestHybridWatcher_Start_InvalidPath_ReturnsError(t *testing.T) {
	w, err := New(DefaultOptions())
	require.NoError(t, err)
	defer w.Stop()

	err = w.Start(context.Background(), filepath.Join(t.TempDir(), "missing"))

	require.Error(t, err)
}

func TestHybridWatcher_Stop_ClosesChannels(t *testing.T) {
	w, err := New(DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	_, ok := <-w.Events()
	assert.False(t, ok)
	_, ok = <-w.Errors()
	assert.False(t, ok)
	assert.Zero(t, w.DroppedBatches())
}
