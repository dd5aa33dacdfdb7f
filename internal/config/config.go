// Package config loads docindex configuration from defaults, the user config,
// the project config and DOCINDEX_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// ProjectConfigName is the project-level config file name.
const ProjectConfigName = ".docindex.yaml"

// Config holds all docindex configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Store       StoreConfig       `yaml:"store" json:"store"`
	Indexing    IndexingConfig    `yaml:"indexing" json:"indexing"`
	Query       QueryConfig       `yaml:"query" json:"query"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics" json:"diagnostics"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Watch       WatchConfig       `yaml:"watch" json:"watch"`
	Indexes     []IndexConfig     `yaml:"indexes,omitempty" json:"indexes,omitempty"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend" json:"backend"`

	// Path is the SQLite store directory. Relative paths resolve against
	// the directory passed to Load.
	Path string `yaml:"path" json:"path"`
}

// IndexingConfig configures the indexing engine.
type IndexingConfig struct {
	// Workers is the number of indexing workers shared by all indexes.
	Workers int `yaml:"workers" json:"workers"`

	// BatchSize is the maximum number of changes one index processes per batch.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// VerifyReduce re-reduces groups in reverse order and reports
	// order-dependent reducers. Nil means the default (enabled).
	VerifyReduce *bool `yaml:"verify_reduce,omitempty" json:"verify_reduce,omitempty"`
}

// QueryConfig configures the query executor.
type QueryConfig struct {
	DefaultTake int `yaml:"default_take" json:"default_take"`
	MaxTake     int `yaml:"max_take" json:"max_take"`

	// CacheSize is the number of cached result pages. Zero disables the cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// WaitTimeout bounds staleness waits that carry no timeout of their own.
	WaitTimeout time.Duration `yaml:"wait_timeout" json:"wait_timeout"`
}

// DiagnosticsConfig configures diagnostic retention.
type DiagnosticsConfig struct {
	Retention int `yaml:"retention" json:"retention"`
}

// LoggingConfig configures file logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// WatchConfig configures the directory watcher.
type WatchConfig struct {
	// Debounce coalesces bursts of file events.
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	verify := true
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Backend: BackendMemory,
			Path:    ".docindex",
		},
		Indexing: IndexingConfig{
			Workers:      min(runtime.NumCPU(), 4),
			BatchSize:    256,
			VerifyReduce: &verify,
		},
		Query: QueryConfig{
			DefaultTake: 128,
			MaxTake:     1024,
			CacheSize:   256,
			WaitTimeout: 15 * time.Second,
		},
		Diagnostics: DiagnosticsConfig{
			Retention: 256,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Watch: WatchConfig{
			Debounce: 200 * time.Millisecond,
		},
	}
}

// ShouldVerifyReduce reports whether reduce verification is enabled.
func (c *Config) ShouldVerifyReduce() bool {
	return c.Indexing.VerifyReduce == nil || *c.Indexing.VerifyReduce
}

// StorePath returns the store path resolved against dir.
func (c *Config) StorePath(dir string) string {
	if c.Store.Path == "" || filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(dir, c.Store.Path)
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/docindex/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/docindex/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "docindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "docindex", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := &Config{}
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load loads configuration for the project in dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/docindex/config.yaml)
//  3. Project config (.docindex.yaml in dir)
//  4. Environment variables (DOCINDEX_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userCfg, err := LoadUserConfig()
	if err != nil {
		return nil, err
	}
	if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile merges .docindex.yaml (or .docindex.yml) from dir if present.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ProjectConfigName)
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, ".docindex.yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeConfigNotFound, fmt.Sprintf("failed to read config file %s", path), err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return ierrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err).
			WithDetail("path", path)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Store
	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}

	// Indexing
	if other.Indexing.Workers != 0 {
		c.Indexing.Workers = other.Indexing.Workers
	}
	if other.Indexing.BatchSize != 0 {
		c.Indexing.BatchSize = other.Indexing.BatchSize
	}
	if other.Indexing.VerifyReduce != nil {
		v := *other.Indexing.VerifyReduce
		c.Indexing.VerifyReduce = &v
	}

	// Query
	if other.Query.DefaultTake != 0 {
		c.Query.DefaultTake = other.Query.DefaultTake
	}
	if other.Query.MaxTake != 0 {
		c.Query.MaxTake = other.Query.MaxTake
	}
	if other.Query.CacheSize != 0 {
		c.Query.CacheSize = other.Query.CacheSize
	}
	if other.Query.WaitTimeout != 0 {
		c.Query.WaitTimeout = other.Query.WaitTimeout
	}

	// Diagnostics
	if other.Diagnostics.Retention != 0 {
		c.Diagnostics.Retention = other.Diagnostics.Retention
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}

	// Watch
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}

	// Indexes are replaced as a whole; a project defines its own set.
	if len(other.Indexes) > 0 {
		c.Indexes = append([]IndexConfig(nil), other.Indexes...)
	}
}

// applyEnvOverrides applies DOCINDEX_* environment variable overrides.
// Unlike file values, env values may set zero (e.g. DOCINDEX_QUERY_CACHE_SIZE=0
// disables the cache).
func (c *Config) applyEnvOverrides() error {
	strs := []struct {
		key string
		dst *string
	}{
		{"DOCINDEX_STORE_BACKEND", &c.Store.Backend},
		{"DOCINDEX_STORE_PATH", &c.Store.Path},
		{"DOCINDEX_LOG_LEVEL", &c.Logging.Level},
	}
	for _, s := range strs {
		if v := os.Getenv(s.key); v != "" {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"DOCINDEX_WORKERS", &c.Indexing.Workers},
		{"DOCINDEX_BATCH_SIZE", &c.Indexing.BatchSize},
		{"DOCINDEX_QUERY_DEFAULT_TAKE", &c.Query.DefaultTake},
		{"DOCINDEX_QUERY_MAX_TAKE", &c.Query.MaxTake},
		{"DOCINDEX_QUERY_CACHE_SIZE", &c.Query.CacheSize},
		{"DOCINDEX_DIAGNOSTICS_RETENTION", &c.Diagnostics.Retention},
	}
	for _, s := range ints {
		v := os.Getenv(s.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return envError(s.key, v, err)
		}
		*s.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DOCINDEX_QUERY_WAIT_TIMEOUT", &c.Query.WaitTimeout},
		{"DOCINDEX_WATCH_DEBOUNCE", &c.Watch.Debounce},
	}
	for _, s := range durations {
		v := os.Getenv(s.key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return envError(s.key, v, err)
		}
		*s.dst = d
	}

	if v := os.Getenv("DOCINDEX_VERIFY_REDUCE"); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return envError("DOCINDEX_VERIFY_REDUCE", v, err)
		}
		c.Indexing.VerifyReduce = &b
	}
	return nil
}

func envError(key, value string, cause error) error {
	return ierrors.ConfigError(fmt.Sprintf("invalid value %q for %s", value, key), cause).
		WithDetail("env", key)
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Backend) {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.Path == "" {
			return invalid("store.path is required for the sqlite backend")
		}
	default:
		return invalid(fmt.Sprintf("store.backend must be 'memory' or 'sqlite', got %s", c.Store.Backend))
	}

	if c.Indexing.Workers < 1 {
		return invalid(fmt.Sprintf("indexing.workers must be at least 1, got %d", c.Indexing.Workers))
	}
	if c.Indexing.BatchSize < 1 {
		return invalid(fmt.Sprintf("indexing.batch_size must be at least 1, got %d", c.Indexing.BatchSize))
	}

	if c.Query.MaxTake < 1 {
		return invalid(fmt.Sprintf("query.max_take must be at least 1, got %d", c.Query.MaxTake))
	}
	if c.Query.DefaultTake < 1 || c.Query.DefaultTake > c.Query.MaxTake {
		return invalid(fmt.Sprintf("query.default_take must be between 1 and max_take (%d), got %d",
			c.Query.MaxTake, c.Query.DefaultTake))
	}
	if c.Query.CacheSize < 0 {
		return invalid(fmt.Sprintf("query.cache_size must be non-negative, got %d", c.Query.CacheSize))
	}
	if c.Query.WaitTimeout <= 0 {
		return invalid(fmt.Sprintf("query.wait_timeout must be positive, got %s", c.Query.WaitTimeout))
	}

	if c.Diagnostics.Retention < 1 {
		return invalid(fmt.Sprintf("diagnostics.retention must be at least 1, got %d", c.Diagnostics.Retention))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return invalid(fmt.Sprintf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level))
	}
	if c.Logging.MaxSizeMB < 1 || c.Logging.MaxFiles < 1 {
		return invalid("logging.max_size_mb and logging.max_files must be at least 1")
	}

	if c.Watch.Debounce < 0 {
		return invalid(fmt.Sprintf("watch.debounce must be non-negative, got %s", c.Watch.Debounce))
	}
	return c.validateIndexes()
}

func invalid(msg string) error {
	return ierrors.ConfigError(msg, nil).
		WithSuggestion("Check " + ProjectConfigName + " and DOCINDEX_* environment variables")
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
