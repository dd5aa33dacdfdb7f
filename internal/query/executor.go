package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/index"
	"github.com/Aman-CERP/docindex/internal/store"
	"github.com/Aman-CERP/docindex/internal/telemetry"
)

// Default executor settings.
const (
	DefaultTake        = 128
	DefaultMaxTake     = 1024
	DefaultCacheSize   = 256
	DefaultWaitTimeout = 15 * time.Second
)

// Source is what the executor reads: index snapshots, the store generation
// and staleness waits. *index.Engine implements it.
type Source interface {
	Snapshot(name string) (*index.Snapshot, error)
	CurrentGeneration() store.Generation
	WaitForNonStale(ctx context.Context, name string, target store.Generation, timeout time.Duration) error
	Analyzer() *index.Analyzer
	Metrics() *index.Metrics
}

// Config configures an Executor.
type Config struct {
	DefaultTake int
	MaxTake     int

	// CacheSize is the number of result pages kept. Zero disables caching.
	CacheSize int

	// WaitTimeout bounds waits whose policy has no timeout.
	WaitTimeout time.Duration

	// Telemetry, if set, records every answered query.
	Telemetry *telemetry.QueryMetrics

	Logger *slog.Logger
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTake: DefaultTake,
		MaxTake:     DefaultMaxTake,
		CacheSize:   DefaultCacheSize,
		WaitTimeout: DefaultWaitTimeout,
	}
}

type cacheKey struct {
	index       string
	instance    uint64
	version     uint64
	fingerprint string
}

type cachedPage struct {
	entries []index.Entry
	total   int
}

// Executor answers queries. It is safe for concurrent use.
type Executor struct {
	source Source
	config Config
	cache  *lru.Cache[cacheKey, cachedPage]
	logger *slog.Logger
}

// NewExecutor creates an executor over src.
func NewExecutor(src Source, config Config) (*Executor, error) {
	if src == nil {
		return nil, ierrors.ValidationError("query source is required", nil)
	}
	defaults := DefaultConfig()
	if config.DefaultTake <= 0 {
		config.DefaultTake = defaults.DefaultTake
	}
	if config.MaxTake <= 0 {
		config.MaxTake = defaults.MaxTake
	}
	if config.DefaultTake > config.MaxTake {
		config.DefaultTake = config.MaxTake
	}
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = defaults.WaitTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	x := &Executor{source: src, config: config, logger: logger}
	if config.CacheSize > 0 {
		cache, err := lru.New[cacheKey, cachedPage](config.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create query cache: %w", err)
		}
		x.cache = cache
	}
	return x, nil
}

// Execute runs q. Validation errors fail only this call. With a wait
// policy, a wait that times out returns a TimeoutError and no result.
func (x *Executor) Execute(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()

	take := q.Take
	switch {
	case q.Skip < 0:
		return nil, invalidQuery(q, fmt.Sprintf("skip must not be negative, got %d", q.Skip))
	case take < 0:
		return nil, invalidQuery(q, fmt.Sprintf("take must not be negative, got %d", take))
	case take > x.config.MaxTake:
		return nil, invalidQuery(q, fmt.Sprintf("take %d exceeds the maximum of %d", take, x.config.MaxTake))
	case take == 0:
		take = x.config.DefaultTake
	}

	waited, err := x.wait(ctx, q)
	if err != nil {
		if errors.Is(err, ierrors.ErrTimeout) {
			x.record(q, nil, start, waited, true)
		}
		return nil, err
	}

	// The generation is read before the snapshot so a write racing with
	// the query can only make the result look staler, never fresher.
	current := x.source.CurrentGeneration()
	snap, err := x.source.Snapshot(q.Index)
	if err != nil {
		return nil, err
	}

	p, err := compile(q, snap.Fields, x.source.Analyzer())
	if err != nil {
		return nil, err
	}

	res := &Result{
		Index:      q.Index,
		Fields:     snap.Fields,
		IsStale:    snap.IsStale(current),
		Generation: snap.LastProcessed,
	}

	key := cacheKey{
		index:       q.Index,
		instance:    snap.Instance,
		version:     snap.Version,
		fingerprint: p.fingerprint(q.Skip, take),
	}
	if page, ok := x.lookup(key); ok {
		res.Entries, res.TotalCount, res.Cached = page.entries, page.total, true
	} else {
		res.Entries, res.TotalCount = run(p, snap, q.Skip, take)
		x.store(key, cachedPage{entries: res.Entries, total: res.TotalCount})
	}

	res.Duration = time.Since(start)
	x.record(q, res, start, waited, false)
	return res, nil
}

// wait applies the staleness policy of q. It reports whether a wait was
// attempted.
func (x *Executor) wait(ctx context.Context, q Query) (bool, error) {
	policy := q.Staleness
	timeout := policy.Timeout
	if timeout <= 0 {
		timeout = x.config.WaitTimeout
	}
	switch policy.Mode {
	case AllowStale:
		return false, nil
	case WaitForGeneration:
		return true, x.source.WaitForNonStale(ctx, q.Index, policy.Target, timeout)
	case WaitForLastWrite:
		return true, x.source.WaitForNonStale(ctx, q.Index, x.source.CurrentGeneration(), timeout)
	default:
		return false, invalidQuery(q, fmt.Sprintf("unknown staleness mode %d", policy.Mode))
	}
}

// run filters, sorts and paginates the entries of snap.
func run(p *plan, snap *index.Snapshot, skip, take int) ([]index.Entry, int) {
	all := snap.Entries()
	matched := make([]index.Entry, 0, len(all))
	for i := range all {
		if p.matches(&all[i]) {
			matched = append(matched, all[i])
		}
	}
	p.sort(matched)

	total := len(matched)
	if skip >= total {
		return []index.Entry{}, total
	}
	end := min(skip+take, total)
	page := make([]index.Entry, end-skip)
	copy(page, matched[skip:end])
	return page, total
}

func (x *Executor) lookup(key cacheKey) (cachedPage, bool) {
	if x.cache == nil {
		return cachedPage{}, false
	}
	return x.cache.Get(key)
}

func (x *Executor) store(key cacheKey, page cachedPage) {
	if x.cache != nil {
		x.cache.Add(key, page)
	}
}

// Purge drops every cached page.
func (x *Executor) Purge() {
	if x.cache != nil {
		x.cache.Purge()
	}
}

func (x *Executor) record(q Query, res *Result, start time.Time, waited, timedOut bool) {
	elapsed := time.Since(start)
	event := telemetry.QueryEvent{
		Index:     q.Index,
		Query:     q.String(),
		Fields:    q.fields(),
		Waited:    waited,
		TimedOut:  timedOut,
		Latency:   elapsed,
		Timestamp: start,
	}
	if res != nil {
		event.ResultCount = res.TotalCount
		event.Stale = res.IsStale
		if m := x.source.Metrics(); m != nil {
			m.ObserveQuery(q.Index, res.IsStale, elapsed)
		}
	}
	if x.config.Telemetry != nil {
		x.config.Telemetry.Record(event)
	}

	if timedOut {
		x.logger.Warn("query_wait_timeout",
			slog.String("index", q.Index),
			slog.Duration("elapsed", elapsed))
		return
	}
	x.logger.Debug("query_executed",
		slog.String("index", q.Index),
		slog.String("query", event.Query),
		slog.Int("total", res.TotalCount),
		slog.Int("returned", len(res.Entries)),
		slog.Bool("stale", res.IsStale),
		slog.Bool("cached", res.Cached),
		slog.Uint64("generation", uint64(res.Generation)),
		slog.Int64("duration_us", elapsed.Microseconds()))
}
