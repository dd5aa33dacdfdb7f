package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    LatencyBucket
	}{
		{0, BucketP1},
		{500 * time.Microsecond, BucketP1},
		{time.Millisecond, BucketP10},
		{9 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{100 * time.Millisecond, BucketP1000},
		{3 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		t.Run(tt.latency.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, LatencyToBucket(tt.latency))
		})
	}
}

func TestQueryMetrics_Record_IncrementsCounts(t *testing.T) {
	// Given: an in-memory collector
	m := NewQueryMetrics(nil)
	defer m.Close()

	// When: recording queries on two indexes
	m.Record(QueryEvent{Index: "Users", Query: "Name = ada", Fields: []string{"Name"}, ResultCount: 1})
	m.Record(QueryEvent{Index: "Users", Query: "Age > 30", Fields: []string{"Age", "Age"}, ResultCount: 2, Stale: true})
	m.Record(QueryEvent{Index: "Orders", Query: "Total > 100", Fields: []string{"Total"}, ResultCount: 0, Waited: true, TimedOut: true})

	// Then: the snapshot reflects them
	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalQueries)
	assert.Equal(t, map[string]int64{"Users": 2, "Orders": 1}, snap.IndexCounts)
	assert.Equal(t, int64(1), snap.StaleCount)
	assert.Equal(t, int64(1), snap.WaitCount)
	assert.Equal(t, int64(1), snap.WaitTimeoutCount)
	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, []string{"Total > 100"}, snap.ZeroResultQueries)
	assert.InDelta(t, 33.3, snap.StalePercentage(), 0.1)
}

func TestQueryMetrics_TopFieldsSortedByCount(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.Record(QueryEvent{Index: "i", Query: "q1", Fields: []string{"Time", "Name"}, ResultCount: 1})
	m.Record(QueryEvent{Index: "i", Query: "q2", Fields: []string{"Time"}, ResultCount: 1})
	m.Record(QueryEvent{Index: "i", Query: "q3", Fields: []string{"Time", "Age"}, ResultCount: 1})

	snap := m.Snapshot()
	require.Len(t, snap.TopFields, 3)
	assert.Equal(t, FieldCount{Field: "Time", Count: 3}, snap.TopFields[0])
	assert.Equal(t, FieldCount{Field: "Age", Count: 1}, snap.TopFields[1])
	assert.Equal(t, FieldCount{Field: "Name", Count: 1}, snap.TopFields[2])
}

func TestQueryMetrics_TopFields_LRUEviction(t *testing.T) {
	m := NewQueryMetricsWithConfig(nil, QueryMetricsConfig{TopFieldsCapacity: 2})
	defer m.Close()

	for _, f := range []string{"a", "b", "c"} {
		m.Record(QueryEvent{Index: "i", Query: f, Fields: []string{f}, ResultCount: 1})
	}

	snap := m.Snapshot()
	assert.Len(t, snap.TopFields, 2)
	for _, fc := range snap.TopFields {
		assert.NotEqual(t, "a", fc.Field)
	}
}

func TestQueryMetrics_ExactRepetition(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.Record(QueryEvent{Index: "Users", Query: "Name = ada", ResultCount: 1})
	m.Record(QueryEvent{Index: "Users", Query: "  name = ADA ", ResultCount: 1})
	m.Record(QueryEvent{Index: "Orders", Query: "Name = ada", ResultCount: 1})

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.ExactRepeatCount)
	assert.Equal(t, int64(2), snap.UniqueQueryCount)
	assert.InDelta(t, 1.0/3.0, snap.ExactRepeatRate, 0.001)
}

func TestQueryMetrics_ZeroResultBuffer_MaintainsCapacity(t *testing.T) {
	m := NewQueryMetricsWithConfig(nil, QueryMetricsConfig{ZeroResultsCapacity: 2})
	defer m.Close()

	for i := 0; i < 4; i++ {
		m.Record(QueryEvent{Index: "i", Query: fmt.Sprintf("q%d", i)})
	}

	snap := m.Snapshot()
	assert.Equal(t, []string{"q2", "q3"}, snap.ZeroResultQueries)
	assert.Equal(t, int64(4), snap.ZeroResultCount)
}

func TestQueryMetrics_Concurrent_ThreadSafe(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.Record(QueryEvent{Index: "i", Query: fmt.Sprintf("q%d-%d", g, i), Fields: []string{"f"}, ResultCount: i % 2})
				_ = m.Snapshot()
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, int64(800), snap.TotalQueries)
	assert.Equal(t, int64(400), snap.ZeroResultCount)
}

func TestQueryMetrics_RecordAfterCloseIgnored(t *testing.T) {
	m := NewQueryMetrics(nil)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	m.Record(QueryEvent{Index: "i", Query: "q"})
	assert.Zero(t, m.Snapshot().TotalQueries)
}

func TestQueryMetricsSnapshot_Summary(t *testing.T) {
	empty := &QueryMetricsSnapshot{}
	assert.Equal(t, "No queries recorded", empty.Summary())
	assert.Zero(t, empty.ZeroResultPercentage())

	snap := &QueryMetricsSnapshot{TotalQueries: 4, StaleCount: 1, ZeroResultCount: 2, ExactRepeatRate: 0.25, UniqueQueryCount: 3}
	assert.Equal(t, "queries=4, stale=25.0%, empty=50.0%, repeated=25.0%, unique=3", snap.Summary())
}
