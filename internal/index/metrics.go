package index

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "docindex"
	metricsSubsystem = "indexing"
)

// Metrics holds the prometheus collectors of one engine.
type Metrics struct {
	DocumentsMapped *prometheus.CounterVec
	MapErrors       *prometheus.CounterVec
	ReduceWarnings  *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	LastProcessed   *prometheus.GaugeVec
	BatchDuration   *prometheus.HistogramVec
	BatchSize       *prometheus.HistogramVec
	Queries         *prometheus.CounterVec
	QueryDuration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DocumentsMapped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "documents_mapped_total",
			Help:      "Documents passed through the map functions of an index.",
		}, []string{"index"}),
		MapErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "map_errors_total",
			Help:      "Documents skipped because map evaluation failed.",
		}, []string{"index"}),
		ReduceWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "reduce_invariant_violations_total",
			Help:      "Groups whose reduce output depended on input order.",
		}, []string{"index"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "queue_depth",
			Help:      "Changes waiting in the queue of an index.",
		}, []string{"index"}),
		LastProcessed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "last_processed_generation",
			Help:      "Highest store generation applied to an index.",
		}, []string{"index"}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "batch_duration_seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"index"}),
		BatchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "batch_size",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
		}, []string{"index"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "query",
			Name:      "total",
			Help:      "Queries answered, by staleness of the result.",
		}, []string{"index", "stale"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"index"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.DocumentsMapped, m.MapErrors, m.ReduceWarnings,
			m.QueueDepth, m.LastProcessed,
			m.BatchDuration, m.BatchSize,
			m.Queries, m.QueryDuration,
		)
	}
	return m
}

// ObserveQuery records one answered query.
func (m *Metrics) ObserveQuery(indexName string, stale bool, d time.Duration) {
	label := "false"
	if stale {
		label = "true"
	}
	m.Queries.WithLabelValues(indexName, label).Inc()
	m.QueryDuration.WithLabelValues(indexName).Observe(d.Seconds())
}

// forget removes the series of a deleted index.
func (m *Metrics) forget(indexName string) {
	for _, vec := range []interface {
		DeletePartialMatch(prometheus.Labels) int
	}{
		m.DocumentsMapped, m.MapErrors, m.ReduceWarnings,
		m.QueueDepth, m.LastProcessed,
		m.BatchDuration, m.BatchSize,
		m.Queries, m.QueryDuration,
	} {
		vec.DeletePartialMatch(prometheus.Labels{"index": indexName})
	}
}
