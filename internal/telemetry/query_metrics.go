// Package telemetry records local query telemetry: which indexes and fields
// are queried, how fast, how often results are stale or empty. Nothing is
// reported externally; aggregates can be flushed to a SQLite store.
package telemetry

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP1    LatencyBucket = "p1"    // <1ms
	BucketP10   LatencyBucket = "p10"   // 1-10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP1000 LatencyBucket = "p1000" // >=100ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < time.Millisecond:
		return BucketP1
	case d < 10*time.Millisecond:
		return BucketP10
	case d < 50*time.Millisecond:
		return BucketP50
	case d < 100*time.Millisecond:
		return BucketP100
	default:
		return BucketP1000
	}
}

// =============================================================================
// Query Event
// =============================================================================

// QueryEvent describes one answered index query.
type QueryEvent struct {
	Index string

	// Query is the rendered query, used for repetition and zero-result
	// tracking.
	Query string

	// Fields are the fields referenced by predicates and orderings.
	Fields []string

	ResultCount int
	Stale       bool
	Waited      bool
	TimedOut    bool
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult returns true if this query returned no results.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// FieldCount is a field and how often queries referenced it.
type FieldCount struct {
	Field string `json:"field"`
	Count int64  `json:"count"`
}

// =============================================================================
// Query Metrics Snapshot
// =============================================================================

// QueryMetricsSnapshot is an immutable snapshot of query metrics.
type QueryMetricsSnapshot struct {
	IndexCounts         map[string]int64        `json:"index_counts"`
	TopFields           []FieldCount            `json:"top_fields"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	StaleCount          int64                   `json:"stale_count"`
	WaitCount           int64                   `json:"wait_count"`
	WaitTimeoutCount    int64                   `json:"wait_timeout_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	ExactRepeatRate     float64                 `json:"exact_repeat_rate"`
	UniqueQueryCount    int64                   `json:"unique_query_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// StalePercentage returns the percentage of queries answered from a stale
// index.
func (s *QueryMetricsSnapshot) StalePercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.StaleCount) / float64(s.TotalQueries) * 100
}

// Summary returns a one-line human-readable summary.
func (s *QueryMetricsSnapshot) Summary() string {
	if s.TotalQueries == 0 {
		return "No queries recorded"
	}
	return fmt.Sprintf("queries=%d, stale=%.1f%%, empty=%.1f%%, repeated=%.1f%%, unique=%d",
		s.TotalQueries, s.StalePercentage(), s.ZeroResultPercentage(),
		s.ExactRepeatRate*100, s.UniqueQueryCount)
}

// =============================================================================
// Query Metrics Store (Interface)
// =============================================================================

// QueryMetricsStore defines persistence operations for query metrics.
type QueryMetricsStore interface {
	// SaveIndexCounts upserts daily per-index query counts.
	SaveIndexCounts(date string, counts map[string]int64) error

	// GetIndexCounts retrieves counts for a date range.
	GetIndexCounts(from, to string) (map[string]int64, error)

	// UpsertFieldCounts updates field frequency counts.
	UpsertFieldCounts(fields map[string]int64) error

	// GetTopFields retrieves the top N fields by frequency.
	GetTopFields(limit int) ([]FieldCount, error)

	// AddZeroResultQuery adds a query to the zero-result buffer.
	AddZeroResultQuery(query string, timestamp time.Time) error

	// GetZeroResultQueries retrieves recent zero-result queries.
	GetZeroResultQueries(limit int) ([]string, error)

	// SaveLatencyCounts upserts daily latency histogram counts.
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error

	// GetLatencyCounts retrieves latency distribution for a date range.
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)

	// Close releases resources.
	Close() error
}

// =============================================================================
// Query Metrics Configuration
// =============================================================================

// QueryMetricsConfig configures the query metrics collector.
type QueryMetricsConfig struct {
	TopFieldsCapacity     int           // Max fields to track (default: 100)
	ZeroResultsCapacity   int           // Max zero-result queries to keep (default: 100)
	RecentQueriesCapacity int           // Max query hashes for repetition (default: 500)
	FlushInterval         time.Duration // How often to flush to store (default: 60s, 0 = no auto-flush)
}

// DefaultQueryMetricsConfig returns sensible defaults.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopFieldsCapacity:     100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// =============================================================================
// Query Metrics
// =============================================================================

// QueryMetrics collects query telemetry.
// Thread-safe for concurrent access.
type QueryMetrics struct {
	mu sync.RWMutex

	indexes          map[string]int64
	topFields        *lru.Cache[string, int64]
	zeroResults      *CircularBuffer[string]
	latencies        map[LatencyBucket]int64
	totalQueries     int64
	zeroResultCount  int64
	staleCount       int64
	waitCount        int64
	waitTimeoutCount int64
	startTime        time.Time

	recentQueries    *lru.Cache[string, struct{}]
	exactRepeatCount int64

	// Counts recorded since the last flush.
	pendingIndexes   map[string]int64
	pendingFields    map[string]int64
	pendingLatencies map[LatencyBucket]int64
	pendingZero      []QueryEvent

	store       QueryMetricsStore
	config      QueryMetricsConfig
	flushMu     sync.Mutex
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewQueryMetrics creates a new metrics collector with default configuration.
// If store is nil, metrics are only kept in memory.
func NewQueryMetrics(store QueryMetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a new metrics collector with custom configuration.
func NewQueryMetricsWithConfig(store QueryMetricsStore, cfg QueryMetricsConfig) *QueryMetrics {
	defaults := DefaultQueryMetricsConfig()
	if cfg.TopFieldsCapacity <= 0 {
		cfg.TopFieldsCapacity = defaults.TopFieldsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = defaults.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = defaults.RecentQueriesCapacity
	}

	topFields, _ := lru.New[string, int64](cfg.TopFieldsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		indexes:          make(map[string]int64),
		topFields:        topFields,
		zeroResults:      NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:        make(map[LatencyBucket]int64),
		startTime:        time.Now(),
		recentQueries:    recentQueries,
		pendingIndexes:   make(map[string]int64),
		pendingFields:    make(map[string]int64),
		pendingLatencies: make(map[LatencyBucket]int64),
		store:            store,
		config:           cfg,
		stopCh:           make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}

	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one answered query. It never blocks on I/O.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.totalQueries++
	m.indexes[event.Index]++
	m.pendingIndexes[event.Index]++

	for _, field := range distinct(event.Fields) {
		count, _ := m.topFields.Get(field)
		m.topFields.Add(field, count+1)
		m.pendingFields[field]++
	}

	if event.IsZeroResult() {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
		m.pendingZero = append(m.pendingZero, event)
	}
	if event.Stale {
		m.staleCount++
	}
	if event.Waited {
		m.waitCount++
	}
	if event.TimedOut {
		m.waitTimeoutCount++
	}

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++
	m.pendingLatencies[bucket]++

	queryHash := hashQuery(event.Index + "\x00" + strings.TrimSpace(event.Query))
	if _, exists := m.recentQueries.Get(queryHash); exists {
		m.exactRepeatCount++
	}
	m.recentQueries.Add(queryHash, struct{}{})
}

// hashQuery creates a normalized hash of the query for repetition detection.
func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

func distinct(fields []string) []string {
	out := slices.Clone(fields)
	slices.Sort(out)
	return slices.Compact(out)
}

// Snapshot returns current metrics for reporting.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var topFields []FieldCount
	for _, key := range m.topFields.Keys() {
		if count, ok := m.topFields.Peek(key); ok {
			topFields = append(topFields, FieldCount{Field: key, Count: count})
		}
	}
	slices.SortFunc(topFields, func(a, b FieldCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Field, b.Field))
	})

	var exactRepeatRate float64
	if m.totalQueries > 0 {
		exactRepeatRate = float64(m.exactRepeatCount) / float64(m.totalQueries)
	}

	return &QueryMetricsSnapshot{
		IndexCounts:         maps.Clone(m.indexes),
		TopFields:           topFields,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: maps.Clone(m.latencies),
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		StaleCount:          m.staleCount,
		WaitCount:           m.waitCount,
		WaitTimeoutCount:    m.waitTimeoutCount,
		ExactRepeatCount:    m.exactRepeatCount,
		ExactRepeatRate:     exactRepeatRate,
		UniqueQueryCount:    int64(m.recentQueries.Len()),
		Since:               m.startTime,
	}
}

// Flush persists the counts recorded since the previous flush.
// Safe to call even if no store is configured.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	indexes, fields, latencies, zero := m.pendingIndexes, m.pendingFields, m.pendingLatencies, m.pendingZero
	m.pendingIndexes = make(map[string]int64)
	m.pendingFields = make(map[string]int64)
	m.pendingLatencies = make(map[LatencyBucket]int64)
	m.pendingZero = nil
	m.mu.Unlock()

	today := time.Now().Format("2006-01-02")

	if err := m.store.SaveIndexCounts(today, indexes); err != nil {
		return err
	}
	if err := m.store.UpsertFieldCounts(fields); err != nil {
		return err
	}
	if err := m.store.SaveLatencyCounts(today, latencies); err != nil {
		return err
	}
	for _, e := range zero {
		if err := m.store.AddZeroResultQuery(e.Query, e.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and releases resources.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}

	return m.Flush()
}
