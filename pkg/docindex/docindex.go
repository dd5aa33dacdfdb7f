package docindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/Aman-CERP/docindex/internal/config"
	ierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/index"
	"github.com/Aman-CERP/docindex/internal/query"
	"github.com/Aman-CERP/docindex/internal/store"
	"github.com/Aman-CERP/docindex/internal/telemetry"
)

// TelemetryFileName is the query telemetry database inside a SQLite store
// directory.
const TelemetryFileName = "telemetry.db"

// DB is an embedded document database with incremental indexes.
type DB struct {
	cfg    *config.Config
	dir    string
	store  store.Store
	engine *index.Engine
	exec   *query.Executor
	logger *slog.Logger

	telemetry   *telemetry.QueryMetrics
	telemetryDB *sql.DB

	closeOnce sync.Once
	closeErr  error
}

// Option configures Open.
type Option func(*options)

type options struct {
	cfg              *config.Config
	logger           *slog.Logger
	registerer       prometheus.Registerer
	sink             func(Diagnostic)
	disableTelemetry bool
}

// WithConfig uses cfg instead of loading configuration from the directory.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers the engine metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithDiagnosticSink receives every indexing diagnostic as it is reported.
// fn runs on an indexing worker and must not block.
func WithDiagnosticSink(fn func(Diagnostic)) Option {
	return func(o *options) { o.sink = fn }
}

// WithoutTelemetry disables the persistent query telemetry database.
// Telemetry is still kept in memory.
func WithoutTelemetry() Option {
	return func(o *options) { o.disableTelemetry = true }
}

// Open opens the database configured for dir: configuration is loaded from
// dir (user config, .docindex.yaml, DOCINDEX_* variables), a relative
// store path resolves against it, and declared indexes are defined.
func Open(ctx context.Context, dir string, opts ...Option) (*DB, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	cfg := o.cfg
	if cfg == nil {
		loaded, err := config.Load(dir)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db := &DB{cfg: cfg, dir: dir, logger: o.logger}
	if err := db.open(ctx, o); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens a database over an in-memory store with default
// configuration and no persistent telemetry.
func OpenMemory(ctx context.Context, opts ...Option) (*DB, error) {
	cfg := config.NewConfig()
	cfg.Store.Backend = config.BackendMemory
	return Open(ctx, "", append([]Option{WithConfig(cfg), WithoutTelemetry()}, opts...)...)
}

func (db *DB) open(ctx context.Context, o options) error {
	cfg := db.cfg

	switch strings.ToLower(cfg.Store.Backend) {
	case config.BackendSQLite:
		sc := store.DefaultSQLiteConfig()
		sc.Logger = db.logger
		st, err := store.OpenSQLite(cfg.StorePath(db.dir), sc)
		if err != nil {
			return err
		}
		db.store = st
		if !o.disableTelemetry {
			if err := db.openTelemetry(filepath.Join(st.Dir(), TelemetryFileName)); err != nil {
				return err
			}
		}
	default:
		db.store = store.NewMemoryStore()
	}
	if db.telemetry == nil {
		db.telemetry = telemetry.NewQueryMetrics(nil)
	}

	engine, err := index.NewEngine(db.store, index.Config{
		Workers:              cfg.Indexing.Workers,
		BatchSize:            cfg.Indexing.BatchSize,
		VerifyReduce:         cfg.ShouldVerifyReduce(),
		DiagnosticsRetention: cfg.Diagnostics.Retention,
		DiagnosticSink:       o.sink,
		Registerer:           o.registerer,
		Logger:               db.logger,
	})
	if err != nil {
		return err
	}
	db.engine = engine

	exec, err := query.NewExecutor(engine, query.Config{
		DefaultTake: cfg.Query.DefaultTake,
		MaxTake:     cfg.Query.MaxTake,
		CacheSize:   cfg.Query.CacheSize,
		WaitTimeout: cfg.Query.WaitTimeout,
		Telemetry:   db.telemetry,
		Logger:      db.logger,
	})
	if err != nil {
		return err
	}
	db.exec = exec

	for _, ic := range cfg.Indexes {
		def, err := DefinitionFromConfig(ic)
		if err != nil {
			return err
		}
		if _, err := engine.DefineIndex(ctx, def); err != nil {
			return err
		}
	}

	db.logger.Info("db_opened",
		slog.String("backend", cfg.Store.Backend),
		slog.Int("declared_indexes", len(cfg.Indexes)),
		slog.Uint64("generation", uint64(db.store.CurrentGeneration())))
	return nil
}

func (db *DB) openTelemetry(path string) error {
	tdb, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open telemetry database: %w", err)
	}
	tdb.SetMaxOpenConns(1)
	if _, err := tdb.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = tdb.Close()
		return fmt.Errorf("failed to configure telemetry database: %w", err)
	}
	if err := telemetry.InitTelemetrySchema(tdb); err != nil {
		_ = tdb.Close()
		return err
	}
	ms, err := telemetry.NewSQLiteMetricsStore(tdb)
	if err != nil {
		_ = tdb.Close()
		return err
	}
	db.telemetryDB = tdb
	db.telemetry = telemetry.NewQueryMetrics(ms)
	return nil
}

// Put creates or replaces a document and returns the generation of the
// write. An empty doc.ID is filled with a generated id.
func (db *DB) Put(ctx context.Context, doc *Document) (Generation, error) {
	return db.store.Put(ctx, doc)
}

// Delete removes a document and every index entry derived from it.
func (db *DB) Delete(ctx context.Context, id string) (Generation, error) {
	return db.store.Delete(ctx, id)
}

// Get returns a copy of a live document.
func (db *DB) Get(ctx context.Context, id string) (*Document, error) {
	return db.store.Get(ctx, id)
}

// DefineIndex registers an index and indexes the existing documents in the
// background. Redefining an index with the same schema returns the
// existing handle.
func (db *DB) DefineIndex(ctx context.Context, def *Definition) (*Handle, error) {
	return db.engine.DefineIndex(ctx, def)
}

// DeleteIndex removes an index and its entries.
func (db *DB) DeleteIndex(name string) error {
	if err := db.engine.DeleteIndex(name); err != nil {
		return err
	}
	db.exec.Purge()
	return nil
}

// Query answers q from one snapshot of its index.
func (db *DB) Query(ctx context.Context, q Query) (*Result, error) {
	return db.exec.Execute(ctx, q)
}

// GetIndexStatistics returns live statistics of an index.
func (db *DB) GetIndexStatistics(name string) (Stats, error) {
	return db.engine.GetIndexStatistics(name)
}

// IsStale reports whether an index lags the store or has queued work.
func (db *DB) IsStale(name string) (bool, error) {
	return db.engine.IsStale(name)
}

// WaitForNonStale blocks until the index has processed asOf. It returns a
// timeout error after timeout and the context error on cancellation.
func (db *DB) WaitForNonStale(ctx context.Context, name string, asOf Generation, timeout time.Duration) error {
	return db.engine.WaitForNonStale(ctx, name, asOf, timeout)
}

// WaitForIndexing blocks until every index has processed the writes made
// before the call.
func (db *DB) WaitForIndexing(ctx context.Context, timeout time.Duration) error {
	return db.engine.WaitForIndexing(ctx, timeout)
}

// CurrentGeneration returns the generation of the last write.
func (db *DB) CurrentGeneration() Generation {
	return db.store.CurrentGeneration()
}

// Indexes returns the names of the defined indexes, sorted.
func (db *DB) Indexes() []string {
	return db.engine.Indexes()
}

// Diagnostics returns the retained indexing diagnostics, oldest first.
func (db *DB) Diagnostics() []Diagnostic {
	return db.engine.Diagnostics()
}

// QueryTelemetry returns a summary of the answered queries.
func (db *DB) QueryTelemetry() *QueryTelemetry {
	return db.telemetry.Snapshot()
}

// Config returns the effective configuration.
func (db *DB) Config() *config.Config {
	return db.cfg
}

// Status describes the database and its indexes.
type Status struct {
	Backend           string
	Path              string
	Documents         int
	CurrentGeneration Generation
	StorageSize       int64
	Indexes           []Stats
}

// Status returns the database status with statistics of every index.
func (db *DB) Status(ctx context.Context) (Status, error) {
	s := Status{
		Backend:           db.cfg.Store.Backend,
		CurrentGeneration: db.store.CurrentGeneration(),
	}
	if c, ok := db.store.(store.Counter); ok {
		n, err := c.Count(ctx)
		if err != nil {
			return Status{}, err
		}
		s.Documents = n
	}
	if sq, ok := db.store.(*store.SQLiteStore); ok {
		s.Path = sq.Dir()
		s.StorageSize = dirSize(sq.Dir())
	}

	for _, name := range db.engine.Indexes() {
		stats, err := db.engine.GetIndexStatistics(name)
		if errors.Is(err, ierrors.ErrIndexNotFound) {
			continue
		}
		if err != nil {
			return Status{}, err
		}
		s.Indexes = append(s.Indexes, stats)
	}
	return s, nil
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// Close stops indexing after the current batches, flushes telemetry and
// closes the store. It is safe to call more than once.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		var errs []error
		if db.engine != nil {
			errs = append(errs, db.engine.Close())
		}
		if db.telemetry != nil {
			errs = append(errs, db.telemetry.Close())
		}
		if db.telemetryDB != nil {
			errs = append(errs, db.telemetryDB.Close())
		}
		if db.store != nil {
			errs = append(errs, db.store.Close())
		}
		db.closeErr = errors.Join(errs...)
		db.logger.Info("db_closed")
	})
	return db.closeErr
}
