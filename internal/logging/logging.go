package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config describes where and how much the process logs.
type Config struct {
	Level string

	// FilePath is the JSON log file. Empty logs text to stderr.
	FilePath string

	// MaxSizeMB and MaxFiles bound the rotated log files.
	MaxSizeMB int
	MaxFiles  int

	// WriteToStderr mirrors file output to stderr.
	WriteToStderr bool
}

// DefaultConfig logs at info to the default log file.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		FilePath:  DefaultLogPath(),
		MaxSizeMB: 10,
		MaxFiles:  5,
	}
}

// DebugConfig is DefaultConfig at debug level, used by --debug.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// WithRotation returns c with the rotation limits replaced where positive.
func (c Config) WithRotation(maxSizeMB, maxFiles int) Config {
	if maxSizeMB > 0 {
		c.MaxSizeMB = maxSizeMB
	}
	if maxFiles > 0 {
		c.MaxFiles = maxFiles
	}
	return c
}

// Setup builds the logger for cfg. The cleanup function flushes and closes
// the log file; it is a no-op for stderr logging.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: LevelFromString(cfg.Level)}
	if cfg.FilePath == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, nil, err
	}
	w, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = w
	if cfg.WriteToStderr {
		out = io.MultiWriter(w, os.Stderr)
	}
	cleanup := func() {
		_ = w.Sync()
		_ = w.Close()
	}
	return slog.New(slog.NewJSONHandler(out, opts)), cleanup, nil
}

// LevelFromString parses a level name. Unknown names mean info.
func LevelFromString(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
