package logging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()

	assert.True(t, strings.HasSuffix(path, filepath.Join(".docindex", "logs", "docindex.log")))
	assert.Equal(t, DefaultLogDir(), filepath.Dir(path))
}

func TestConfigs(t *testing.T) {
	def := DefaultConfig()
	assert.Equal(t, "info", def.Level)
	assert.Equal(t, 10, def.MaxSizeMB)
	assert.Equal(t, 5, def.MaxFiles)
	assert.Equal(t, DefaultLogPath(), def.FilePath)

	assert.Equal(t, "debug", DebugConfig().Level)
}

func TestConfig_WithRotation(t *testing.T) {
	cfg := DefaultConfig().WithRotation(50, 0)

	assert.Equal(t, 50, cfg.MaxSizeMB)
	assert.Equal(t, 5, cfg.MaxFiles, "non-positive limits keep the default")
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: a file config at debug level
	path := filepath.Join(t.TempDir(), "nested", "docindex.log")
	logger, cleanup, err := Setup(Config{Level: "debug", FilePath: path, MaxSizeMB: 1, MaxFiles: 2})
	require.NoError(t, err)

	// When: logging a structured event
	logger.Debug("batch_processed", slog.String("index", "Users"), slog.Int("changes", 3))
	cleanup()

	// Then: the file holds one JSON line with the attributes
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"batch_processed"`)
	assert.Contains(t, string(data), `"index":"Users"`)
	assert.Contains(t, string(data), `"changes":3`)
}

func TestSetup_NoFileUsesStderr(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "warn"})
	require.NoError(t, err)
	defer cleanup()

	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, LevelFromString(tt.in))
		})
	}
}

func TestFindLogFile(t *testing.T) {
	t.Run("explicit missing", func(t *testing.T) {
		_, err := FindLogFile(filepath.Join(t.TempDir(), "nope.log"))
		require.Error(t, err)
	})

	t.Run("explicit present", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "x.log")
		require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

		got, err := FindLogFile(path)

		require.NoError(t, err)
		assert.Equal(t, path, got)
	})
}

func TestRotatingWriter_ImmediateSync(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	w, err := NewRotatingWriter(logPath, 1, 3)
	require.NoError(t, err)
	defer w.Close()

	line := []byte(`{"time":"2026-01-01T00:00:00Z","level":"INFO","msg":"test"}` + "\n")
	n, err := w.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n)

	// Readable without closing the writer.
	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, string(line), string(content))

	w.SetImmediateSync(false)
	_, err = w.Write(line)
	require.NoError(t, err)
	require.NoError(t, w.Sync())
}

func TestRotatingWriter_Rotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rotate.log")
	w, err := NewRotatingWriter(logPath, 1, 2)
	require.NoError(t, err)
	defer w.Close()
	w.maxSize = 1024

	chunk := bytes.Repeat([]byte("x"), 800)

	// When: writing more than maxFiles rotations worth of data
	for i := 0; i < 6; i++ {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}

	// Then: current file plus .1 and .2, nothing beyond maxFiles
	assert.FileExists(t, logPath)
	assert.FileExists(t, logPath+".1")
	assert.FileExists(t, logPath+".2")
	assert.NoFileExists(t, logPath+".3")

	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(1024))
}

func TestRotatingWriter_CloseTwice(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "close.log"), 1, 3)
	require.NoError(t, err)

	_, err = w.Write([]byte("test data\n"))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.NoError(t, w.Sync())
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent.log")
	w, err := NewRotatingWriter(logPath, 10, 3)
	require.NoError(t, err)
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = fmt.Fprintf(w, `{"id":%d,"iter":%d,"msg":"test"}`+"\n", id, j)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, 1000, strings.Count(string(data), "\n"))
}

const sampleLog = `{"time":"2026-01-01T10:00:00.000Z","level":"DEBUG","msg":"batch_processed","index":"Users","changes":3}
{"time":"2026-01-01T10:00:01.000Z","level":"WARN","msg":"map_failed","index":"Orders","document_id":"orders/1"}
not json
{"time":"2026-01-01T10:00:02.000Z","level":"INFO","msg":"engine_closed"}
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docindex.log")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0o644))
	return path
}

func TestViewer_Tail(t *testing.T) {
	path := writeSample(t)

	tests := []struct {
		name   string
		config ViewerConfig
		n      int
		want   []string
	}{
		{"all", ViewerConfig{}, 0, []string{"batch_processed", "map_failed", "", "engine_closed"}},
		{"last two", ViewerConfig{}, 2, []string{"", "engine_closed"}},
		{"level", ViewerConfig{Level: "info"}, 0, []string{"map_failed", "", "engine_closed"}},
		{"index", ViewerConfig{Index: "Orders"}, 0, []string{"map_failed"}},
		{"pattern", ViewerConfig{Pattern: regexp.MustCompile(`orders/\d`)}, 0, []string{"map_failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewViewer(tt.config, &bytes.Buffer{})

			entries, err := v.Tail(path, tt.n)

			require.NoError(t, err)
			var msgs []string
			for _, e := range entries {
				msgs = append(msgs, e.Msg)
			}
			assert.Equal(t, tt.want, msgs)
		})
	}
}

func TestViewer_FormatEntry(t *testing.T) {
	path := writeSample(t)
	var out bytes.Buffer
	v := NewViewer(ViewerConfig{NoColor: true}, &out)

	entries, err := v.Tail(path, 0)
	require.NoError(t, err)
	v.Print(entries)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "10:00:00.000 DEBUG [Users] batch_processed changes=3", lines[0])
	assert.Equal(t, "10:00:01.000 WARN  [Orders] map_failed document_id=orders/1", lines[1])
	assert.Equal(t, "not json", lines[2])
	assert.Equal(t, "10:00:02.000 INFO  engine_closed", lines[3])
}

func TestViewer_Follow(t *testing.T) {
	path := writeSample(t)
	v := NewViewer(ViewerConfig{Index: "Users"}, &bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	entries := make(chan LogEntry, 4)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()

	// Given: the follower has seeked to the end
	time.Sleep(150 * time.Millisecond)

	// When: new lines are appended
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"time":"2026-01-01T10:00:03Z","level":"INFO","msg":"index_defined","index":"Users"}` + "\n" +
		`{"time":"2026-01-01T10:00:04Z","level":"INFO","msg":"index_defined","index":"Orders"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Then: only the matching new entry arrives
	select {
	case e := <-entries:
		assert.Equal(t, "index_defined", e.Msg)
		assert.Equal(t, "Users", e.Index)
	case <-time.After(2 * time.Second):
		t.Fatal("no entry followed")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, entries)
}
