package index

import (
	"context"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/store"
)

// Default engine settings.
const (
	DefaultBatchSize  = 256
	DefaultMaxWorkers = 4
)

// Config configures an Engine.
type Config struct {
	// Workers is the size of the worker pool. Defaults to min(NumCPU, 4).
	Workers int

	// BatchSize caps the changes one worker applies before publishing.
	BatchSize int

	// VerifyReduce re-reduces every recomputed group in reverse order and over
	// its own output, reporting order-dependent reducers.
	VerifyReduce bool

	// DiagnosticsRetention bounds the retained diagnostics.
	DiagnosticsRetention int

	// DiagnosticSink, if set, receives every diagnostic as it is reported.
	// It runs on a worker and must not block.
	DiagnosticSink func(Diagnostic)

	// Registerer receives the engine metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Workers:              min(runtime.NumCPU(), DefaultMaxWorkers),
		BatchSize:            DefaultBatchSize,
		VerifyReduce:         true,
		DiagnosticsRetention: DefaultDiagnosticsRetention,
	}
}

// Engine maintains a set of indexes over one store. Every released change is
// enqueued on every index; a pool of workers drains the queues, each index
// sequentially, different indexes in parallel.
type Engine struct {
	store       store.Store
	config      Config
	logger      *slog.Logger
	analyzer    *Analyzer
	diagnostics *Diagnostics
	metrics     *Metrics

	// dispatchMu serializes feed delivery with index registration so a new
	// index sees every change exactly once.
	dispatchMu sync.Mutex

	mu      sync.RWMutex
	indexes map[string]*index

	runq   *runQueue
	group  errgroup.Group
	cancel func()
	closed atomic.Bool
}

// NewEngine creates an engine over st, subscribes to its change feed and
// starts the worker pool.
func NewEngine(st store.Store, config Config) (*Engine, error) {
	if st == nil {
		return nil, ierrors.ValidationError("store is required", nil)
	}
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	analyzer, err := NewAnalyzer()
	if err != nil {
		return nil, ierrors.InternalError("failed to build text analyzer", err)
	}

	e := &Engine{
		store:       st,
		config:      config,
		logger:      logger,
		analyzer:    analyzer,
		diagnostics: newDiagnostics(config.DiagnosticsRetention, config.DiagnosticSink, logger),
		metrics:     NewMetrics(config.Registerer),
		indexes:     make(map[string]*index),
		runq:        newRunQueue(),
	}
	for i := 0; i < config.Workers; i++ {
		w := &worker{id: i, engine: e}
		e.group.Go(w.run)
	}
	e.cancel = st.Subscribe(e.Submit)

	logger.Info("engine_started",
		slog.Int("workers", config.Workers),
		slog.Int("batch_size", config.BatchSize),
		slog.Bool("verify_reduce", config.VerifyReduce))
	return e, nil
}

// Submit enqueues a released change on every index. It is the store
// subscription callback and is called in generation order.
func (e *Engine) Submit(c store.Change) {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	if e.closed.Load() {
		return
	}
	for _, idx := range e.list() {
		if idx.enqueue(c) {
			e.runq.push(idx)
		}
	}
}

// DefineIndex registers def and replays the store's change feed into it.
// Redefining an index with the same schema returns the existing handle; a
// different schema fails with a definition conflict and changes nothing.
func (e *Engine) DefineIndex(ctx context.Context, def *Definition) (*Handle, error) {
	if e.closed.Load() {
		return nil, engineClosed()
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	def = def.clone()

	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()

	if existing := e.lookup(def.Name); existing != nil {
		if existing.sig == def.signature() {
			return existing.handle, nil
		}
		return nil, ierrors.New(ierrors.ErrCodeDefinitionConflict,
			"index already exists with a different schema", nil).
			WithDetail("index", def.Name).
			WithSuggestion("Delete the index first or register it under another name")
	}

	changes, err := e.store.Changes(ctx, 0)
	if err != nil {
		return nil, ierrors.InternalError("failed to read change feed", err)
	}

	idx := newIndex(def)
	idx.handle = &Handle{name: def.Name, engine: e, idx: idx}
	schedule := false
	for _, c := range changes {
		if idx.enqueue(c) {
			schedule = true
		}
	}

	e.mu.Lock()
	e.indexes[def.Name] = idx
	e.mu.Unlock()
	if schedule {
		e.runq.push(idx)
	}

	e.logger.Info("index_defined",
		slog.String("index", def.Name),
		slog.Int("maps", len(def.Maps)),
		slog.Int("fields", len(def.Fields)),
		slog.Bool("reduce", def.Reduce != nil),
		slog.Int("replayed", len(changes)))
	return idx.handle, nil
}

// DeleteIndex removes an index. Its entries and state are discarded at once.
func (e *Engine) DeleteIndex(name string) error {
	e.dispatchMu.Lock()
	e.mu.Lock()
	idx, ok := e.indexes[name]
	if ok {
		delete(e.indexes, name)
	}
	e.mu.Unlock()
	e.dispatchMu.Unlock()
	if !ok {
		return indexNotFound(name)
	}

	idx.drop()
	e.metrics.forget(name)
	e.logger.Info("index_deleted", slog.String("index", name))
	return nil
}

// Snapshot returns the current snapshot of an index.
func (e *Engine) Snapshot(name string) (*Snapshot, error) {
	idx := e.lookup(name)
	if idx == nil {
		return nil, indexNotFound(name)
	}
	return idx.snapshot(), nil
}

// Handle returns the handle of a registered index.
func (e *Engine) Handle(name string) (*Handle, error) {
	idx := e.lookup(name)
	if idx == nil {
		return nil, indexNotFound(name)
	}
	return idx.handle, nil
}

// GetIndexStatistics returns live statistics of an index.
func (e *Engine) GetIndexStatistics(name string) (Stats, error) {
	idx := e.lookup(name)
	if idx == nil {
		return Stats{}, indexNotFound(name)
	}
	current := e.store.CurrentGeneration()
	snap := idx.snapshot()
	pending := idx.pending()
	return Stats{
		Name:                    name,
		IsStale:                 snap.LastProcessed < current || pending > 0,
		EntryCount:              snap.count,
		LastProcessedGeneration: snap.LastProcessed,
		PendingQueueDepth:       pending,
		State:                   snap.State.String(),
		MapErrors:               idx.mapErrors.Load(),
		DocumentsMapped:         idx.documentsMapped.Load(),
		Version:                 snap.Version,
	}, nil
}

// Indexes returns the registered index names, sorted.
func (e *Engine) Indexes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.indexes))
}

// CurrentGeneration returns the store's current generation.
func (e *Engine) CurrentGeneration() store.Generation {
	return e.store.CurrentGeneration()
}

// Analyzer returns the text analyzer used for analyzed fields.
func (e *Engine) Analyzer() *Analyzer {
	return e.analyzer
}

// Metrics returns the engine metrics.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Diagnostics returns the retained diagnostics, oldest first.
func (e *Engine) Diagnostics() []Diagnostic {
	return e.diagnostics.Items()
}

// DiagnosticsTotal returns how many diagnostics were reported in total.
func (e *Engine) DiagnosticsTotal() uint64 {
	return e.diagnostics.Total()
}

// Close unsubscribes from the store and stops the workers after their
// current batch. Queued work is abandoned.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.dispatchMu.Lock()
	e.cancel()
	e.dispatchMu.Unlock()

	e.runq.close()
	err := e.group.Wait()
	for _, idx := range e.list() {
		idx.notify()
	}
	e.logger.Info("engine_closed", slog.Int("indexes", len(e.Indexes())))
	return err
}

func (e *Engine) lookup(name string) *index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.indexes[name]
}

func (e *Engine) list() []*index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Collect(maps.Values(e.indexes))
}

func indexNotFound(name string) error {
	return ierrors.New(ierrors.ErrCodeIndexNotFound, "index not found", nil).
		WithDetail("index", name)
}

func engineClosed() error {
	return ierrors.New(ierrors.ErrCodeEngineClosed, "engine is closed", nil)
}
