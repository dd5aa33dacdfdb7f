package logging

import (
	"os"
	"path/filepath"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// DefaultLogDir returns the default log directory (~/.docindex/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docindex", "logs")
	}
	return filepath.Join(home, ".docindex", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "docindex.log")
}

// FindLogFile returns explicit if set and present, else the default log
// file if present.
func FindLogFile(explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = DefaultLogPath()
	}
	if _, err := os.Stat(path); err != nil {
		e := ierrors.New(ierrors.ErrCodeConfigNotFound, "log file not found", err).
			WithDetail("path", path)
		if explicit == "" {
			e = e.WithSuggestion("Run a command with --debug to write logs")
		}
		return "", e
	}
	return path, nil
}
