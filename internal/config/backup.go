package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
)

const (
	// MaxBackups is the number of user config backups kept.
	MaxBackups = 3

	// BackupSuffix marks backup files: config.yaml.bak.<timestamp>.
	BackupSuffix = ".bak"
)

// WriteUserConfig writes data as the user config. An existing config is
// only replaced when overwrite is set, and is backed up first. It returns
// the written path and the backup path (empty when nothing was backed up).
func WriteUserConfig(data []byte, overwrite bool) (path, backup string, err error) {
	path = GetUserConfigPath()
	if UserConfigExists() {
		if !overwrite {
			return "", "", ierrors.ConfigError(fmt.Sprintf("user config already exists at %s", path), nil).
				WithSuggestion("Use --force to replace it; the current file is backed up")
		}
		if backup, err = BackupUserConfig(); err != nil {
			return "", "", err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write user config: %w", err)
	}
	return path, backup, nil
}

// BackupUserConfig creates a timestamped copy of the user config and prunes
// backups beyond MaxBackups. With no user config it returns "" and nil.
func BackupUserConfig() (string, error) {
	configPath := GetUserConfigPath()
	if !UserConfigExists() {
		return "", nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s%s.%s", configPath, BackupSuffix, time.Now().Format("20060102-150405.000"))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	backups, err := ListUserConfigBackups()
	if err == nil && len(backups) > MaxBackups {
		for _, old := range backups[MaxBackups:] {
			_ = os.Remove(old)
		}
	}
	return backupPath, nil
}

// ListUserConfigBackups returns the user config backups, newest first.
func ListUserConfigBackups() ([]string, error) {
	configPath := GetUserConfigPath()
	configDir := filepath.Dir(configPath)

	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list config directory: %w", err)
	}

	prefix := filepath.Base(configPath) + BackupSuffix + "."
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, filepath.Join(configDir, entry.Name()))
		}
	}

	// Timestamps sort lexically.
	slices.SortFunc(backups, func(a, b string) int { return strings.Compare(b, a) })
	return backups, nil
}
