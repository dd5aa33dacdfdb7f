package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/index"
	"github.com/Aman-CERP/docindex/internal/store"
	"github.com/Aman-CERP/docindex/internal/telemetry"
)

const waitTimeout = 5 * time.Second

type fixture struct {
	store    *store.MemoryStore
	engine   *index.Engine
	executor *Executor
	metrics  *telemetry.QueryMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.NewMemoryStore()
	cfg := index.DefaultConfig()
	cfg.Logger = logger
	engine, err := index.NewEngine(st, cfg)
	require.NoError(t, err)

	metrics := telemetry.NewQueryMetrics(nil)
	qcfg := DefaultConfig()
	qcfg.Logger = logger
	qcfg.Telemetry = metrics
	qcfg.MaxTake = 100
	executor, err := NewExecutor(engine, qcfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = metrics.Close()
		_ = engine.Close()
		_ = st.Close()
	})
	return &fixture{store: st, engine: engine, executor: executor, metrics: metrics}
}

func (f *fixture) define(t *testing.T, def *index.Definition) {
	t.Helper()
	_, err := f.engine.DefineIndex(context.Background(), def)
	require.NoError(t, err)
}

func (f *fixture) put(t *testing.T, id, entity string, payload map[string]any) {
	t.Helper()
	_, err := f.store.Put(context.Background(), &store.Document{ID: id, Entity: entity, Payload: payload})
	require.NoError(t, err)
}

func (f *fixture) query(t *testing.T, q Query) *Result {
	t.Helper()
	if q.Staleness.Mode == AllowStale {
		q.Staleness = WaitForLastWriteWithin(waitTimeout)
	}
	res, err := f.executor.Execute(context.Background(), q)
	require.NoError(t, err, q.String())
	return res
}

func passThrough(fields ...string) index.Mapper {
	return index.MapFunc(func(doc *store.Document) ([]index.Draft, error) {
		out := make(map[string]any, len(fields))
		for _, name := range fields {
			if v, ok := doc.Payload[name]; ok {
				out[name] = v
			}
		}
		return []index.Draft{{Fields: out}}, nil
	})
}

// spans is a multi-map index of duration ranges: Foo documents carry
// Start/Until, Bar documents only a Name.
func spans() *index.Definition {
	return index.NewMultiMap("Spans",
		index.Field{Name: "Name", Kind: index.FieldString},
		index.Field{Name: "Start", Kind: index.FieldDuration},
		index.Field{Name: "Until", Kind: index.FieldDuration},
	).
		AddMap("Foo", passThrough("Name", "Start", "Until"), "Name", "Start", "Until").
		AddMap("Bar", passThrough("Name"), "Name").
		Definition()
}

func TestExecute_TimeSpanRanges(t *testing.T) {
	// Given: duration ranges of very different magnitudes
	f := newFixture(t)
	f.define(t, spans())
	day := 24 * time.Hour
	f.put(t, "under-a-day", "Foo", map[string]any{"Name": "a", "Start": "00:00:00", "Until": "12:00:00"})
	f.put(t, "over-a-day", "Foo", map[string]any{"Name": "b", "Start": "1.00:00:00", "Until": "2.00:00:00"})
	f.put(t, "mixed-days", "Foo", map[string]any{"Name": "c", "Start": "10:00:00", "Until": "1.10:00:00"})
	f.put(t, "very-large", "Foo", map[string]any{"Name": "d", "Start": time.Duration(0), "Until": 10000 * day})
	f.put(t, "negative", "Foo", map[string]any{"Name": "e", "Start": "-02:00:00", "Until": "-01:00:00"})
	f.put(t, "no-range", "Bar", map[string]any{"Name": "f"})

	tests := []struct {
		name string
		at   any
		want []string
	}{
		{"six hours", 6 * time.Hour, []string{"under-a-day", "very-large"}},
		{"one and a half days", "1.12:00:00", []string{"over-a-day", "very-large"}},
		{"exactly one day", "1.00:00:00", []string{"mixed-days", "over-a-day", "very-large"}},
		{"five thousand days", 5000 * day, []string{"very-large"}},
		{"ninety minutes ago", "-01:30:00", []string{"negative"}},
		{"go duration string", "11h", []string{"mixed-days", "under-a-day", "very-large"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When: querying Start <= t < Until
			res := f.query(t, Query{
				Index: "Spans",
				Where: []Clause{Where("Start", OpLte, tt.at), Where("Until", OpGt, tt.at)},
			})

			// Then: exactly the covering ranges match
			assert.Equal(t, tt.want, res.DocumentIDs())
			assert.Equal(t, len(tt.want), res.TotalCount)
			assert.False(t, res.IsStale)
		})
	}
}

func TestExecute_NullOrdering(t *testing.T) {
	// Given: a multi-map index where Bar entries have a null Start
	f := newFixture(t)
	f.define(t, spans())
	f.put(t, "foo/1", "Foo", map[string]any{"Name": "x", "Start": "1.00:00:00"})
	f.put(t, "foo/2", "Foo", map[string]any{"Name": "y", "Start": "-00:30:00"})
	f.put(t, "foo/3", "Foo", map[string]any{"Name": "z", "Start": "20:00:00"})
	f.put(t, "bar/1", "Bar", map[string]any{"Name": "w"})
	f.put(t, "bar/2", "Bar", map[string]any{"Name": "v"})

	// When/Then: ascending puts nulls first, descending puts them last
	asc := f.query(t, Query{Index: "Spans", OrderBy: []Order{Asc("Start")}})
	assert.Equal(t, []string{"bar/1", "bar/2", "foo/2", "foo/3", "foo/1"}, asc.DocumentIDs())

	desc := f.query(t, Query{Index: "Spans", OrderBy: []Order{Desc("Start")}})
	assert.Equal(t, []string{"foo/1", "foo/3", "foo/2", "bar/1", "bar/2"}, desc.DocumentIDs())

	// And: nulls are found by equality and never by a range
	nulls := f.query(t, Query{Index: "Spans", Where: []Clause{Where("Start", OpEq, nil)}})
	assert.Equal(t, []string{"bar/1", "bar/2"}, nulls.DocumentIDs())

	below := f.query(t, Query{Index: "Spans", Where: []Clause{Where("Start", OpLt, "1.00:00:00")}})
	assert.Equal(t, []string{"foo/2", "foo/3"}, below.DocumentIDs())

	assert.Equal(t, "-00:30:00", below.Row(0)["Start"])
	assert.Nil(t, nulls.Row(0)["Start"])
	assert.Equal(t, "bar/1", nulls.Row(0)["@id"])
}

func TestExecute_Pagination(t *testing.T) {
	f := newFixture(t)
	f.define(t, &index.Definition{
		Name:   "Scores",
		Fields: []index.Field{{Name: "Score", Kind: index.FieldNumber}},
		Maps:   []index.Map{{Mapper: passThrough("Score")}},
	})
	for i := 0; i < 25; i++ {
		f.put(t, fmt.Sprintf("s%02d", i), "Scores", map[string]any{"Score": i % 5})
	}

	res := f.query(t, Query{
		Index:   "Scores",
		Where:   []Clause{Where("Score", OpGte, 3)},
		OrderBy: []Order{Desc("Score")},
		Skip:    2,
		Take:    4,
	})
	assert.Equal(t, 10, res.TotalCount)
	// Score 4: s04 s09 s14 s19 s24, then score 3: s03 ...; ties by document id.
	assert.Equal(t, []string{"s14", "s19", "s24", "s03"}, res.DocumentIDs())
	assert.Equal(t, float64(4), res.Value(0, "Score").Num())

	beyond := f.query(t, Query{Index: "Scores", Skip: 100})
	assert.Empty(t, beyond.Entries)
	assert.Equal(t, 25, beyond.TotalCount)

	def := f.query(t, Query{Index: "Scores"})
	assert.Len(t, def.Entries, 25)
}

func TestExecute_Match(t *testing.T) {
	f := newFixture(t)
	f.define(t, &index.Definition{
		Name: "Posts",
		Fields: []index.Field{
			{Name: "Title", Kind: index.FieldString},
			{Name: "Body", Kind: index.FieldString, Analysis: index.Analyzed},
		},
		Maps: []index.Map{{Entity: "Posts", Mapper: passThrough("Title", "Body")}},
	})
	f.put(t, "p1", "Posts", map[string]any{"Title": "Intro", "Body": "Storing data in documents"})
	f.put(t, "p2", "Posts", map[string]any{"Title": "Indexes", "Body": "Indexes make data queryable"})
	f.put(t, "p3", "Posts", map[string]any{"Title": "intro", "Body": "Nothing to see"})

	tests := []struct {
		name   string
		clause Clause
		want   []string
	}{
		{"token", Where("Body", OpMatch, "DATA"), []string{"p1", "p2"}},
		{"all tokens", Where("Body", OpMatch, "data indexes"), []string{"p2"}},
		{"prefix", Where("Body", OpMatch, "stor*"), []string{"p1"}},
		{"equality on analyzed field", Where("Body", OpEq, "documents"), []string{"p1"}},
		{"exact equality on plain field", Where("Title", OpEq, "Intro"), []string{"p1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.query(t, Query{Index: "Posts", Where: []Clause{tt.clause}})
			assert.Equal(t, tt.want, res.DocumentIDs())
		})
	}
}

func TestExecute_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	f.define(t, &index.Definition{
		Name: "Posts",
		Fields: []index.Field{
			{Name: "Title", Kind: index.FieldString},
			{Name: "Body", Kind: index.FieldString, Analysis: index.Analyzed},
			{Name: "Views", Kind: index.FieldNumber},
		},
		Maps: []index.Map{{Mapper: passThrough("Title", "Body", "Views")}},
	})

	tests := []struct {
		name string
		q    Query
	}{
		{"unknown field", Query{Where: []Clause{Where("Nope", OpEq, "x")}}},
		{"unknown order field", Query{OrderBy: []Order{Asc("Nope")}}},
		{"range on analyzed field", Query{Where: []Clause{Where("Body", OpGt, "a")}}},
		{"match on number", Query{Where: []Clause{Where("Views", OpMatch, "3")}}},
		{"uncoercible value", Query{Where: []Clause{Where("Views", OpGt, "many")}}},
		{"range with null", Query{Where: []Clause{Where("Views", OpLt, nil)}}},
		{"unknown operator", Query{Where: []Clause{Where("Views", Op("!="), 3)}}},
		{"empty match", Query{Where: []Clause{Where("Body", OpMatch, "  ")}}},
		{"negative skip", Query{Skip: -1}},
		{"negative take", Query{Take: -1}},
		{"take above maximum", Query{Take: 101}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.q.Index = "Posts"
			_, err := f.executor.Execute(context.Background(), tt.q)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ierrors.ErrInvalidQuery), err.Error())
		})
	}

	// The executor keeps working after a bad query.
	_, err := f.executor.Execute(context.Background(), Query{Index: "Posts"})
	require.NoError(t, err)

	_, err = f.executor.Execute(context.Background(), Query{Index: "Missing"})
	assert.True(t, errors.Is(err, ierrors.ErrIndexNotFound))
}

func TestExecute_StalenessPolicies(t *testing.T) {
	// Given: an index whose map blocks until released
	f := newFixture(t)
	release := make(chan struct{})
	f.define(t, &index.Definition{
		Name:   "Slow",
		Fields: []index.Field{{Name: "Name", Kind: index.FieldString}},
		Maps: []index.Map{{Mapper: index.MapFunc(func(doc *store.Document) ([]index.Draft, error) {
			<-release
			return []index.Draft{{Fields: map[string]any{"Name": doc.Payload["Name"]}}}, nil
		})}},
	})
	f.put(t, "u1", "Users", map[string]any{"Name": "ada"})
	ctx := context.Background()

	// When: querying without waiting
	res, err := f.executor.Execute(ctx, Query{Index: "Slow", Staleness: NoWait()})
	require.NoError(t, err)

	// Then: the result is empty and flagged stale
	assert.True(t, res.IsStale)
	assert.Empty(t, res.Entries)
	assert.Less(t, res.Generation, f.store.CurrentGeneration())

	// When: waiting with a short timeout
	_, err = f.executor.Execute(ctx, Query{Index: "Slow", Staleness: WaitForLastWriteWithin(20 * time.Millisecond)})

	// Then: the wait times out
	require.Error(t, err)
	assert.True(t, errors.Is(err, ierrors.ErrTimeout))

	// When: indexing can proceed
	close(release)
	res, err = f.executor.Execute(ctx, Query{Index: "Slow", Staleness: WaitFor(f.store.CurrentGeneration(), waitTimeout)})

	// Then: the result is fresh
	require.NoError(t, err)
	assert.False(t, res.IsStale)
	assert.Equal(t, []string{"u1"}, res.DocumentIDs())
	assert.Equal(t, f.store.CurrentGeneration(), res.Generation)

	snap := f.metrics.Snapshot()
	assert.Equal(t, int64(3), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.WaitTimeoutCount)
	assert.Equal(t, int64(1), snap.StaleCount)
}

func TestExecute_CacheFollowsSnapshotVersion(t *testing.T) {
	f := newFixture(t)
	f.define(t, &index.Definition{
		Name:   "Names",
		Fields: []index.Field{{Name: "Name", Kind: index.FieldString}},
		Maps:   []index.Map{{Mapper: passThrough("Name")}},
	})
	f.put(t, "u1", "Users", map[string]any{"Name": "ada"})

	q := Query{Index: "Names", OrderBy: []Order{Asc("Name")}}
	first := f.query(t, q)
	assert.False(t, first.Cached)

	second := f.query(t, q)
	assert.True(t, second.Cached)
	assert.Equal(t, first.DocumentIDs(), second.DocumentIDs())

	// A write changes the snapshot version and bypasses the cache.
	f.put(t, "u2", "Users", map[string]any{"Name": "bob"})
	third := f.query(t, q)
	assert.False(t, third.Cached)
	assert.Equal(t, []string{"u1", "u2"}, third.DocumentIDs())

	// Recreating the index does not serve pages of the old one.
	require.NoError(t, f.engine.DeleteIndex("Names"))
	f.define(t, &index.Definition{
		Name:   "Names",
		Fields: []index.Field{{Name: "Name", Kind: index.FieldString}},
		Maps:   []index.Map{{Entity: "Nobody", Mapper: passThrough("Name")}},
	})
	fourth := f.query(t, q)
	assert.False(t, fourth.Cached)
	assert.Empty(t, fourth.Entries)
}

func TestExecute_ReduceIndex(t *testing.T) {
	f := newFixture(t)
	f.define(t, &index.Definition{
		Name: "CountByCity",
		Fields: []index.Field{
			{Name: "City", Kind: index.FieldString},
			{Name: "Count", Kind: index.FieldNumber},
		},
		Maps: []index.Map{{Entity: "Users", Mapper: index.MapFunc(func(doc *store.Document) ([]index.Draft, error) {
			return []index.Draft{{Fields: map[string]any{"City": doc.Payload["City"], "Count": 1}}}, nil
		})}},
		Reduce: index.ReduceFunc(func(group string, drafts []index.Draft) ([]index.Draft, error) {
			total := 0.0
			for _, d := range drafts {
				n, err := index.Coerce(d.Fields["Count"], index.Field{Kind: index.FieldNumber}, nil)
				if err != nil {
					return nil, err
				}
				total += n.Num()
			}
			return []index.Draft{{Fields: map[string]any{"City": group, "Count": total}}}, nil
		}),
		GroupBy: index.GroupByField("City"),
	})
	for i, city := range []string{"Oslo", "Lima", "Oslo", "Oslo", "Lima", "Pune"} {
		f.put(t, fmt.Sprintf("u%d", i), "Users", map[string]any{"City": city})
	}

	res := f.query(t, Query{Index: "CountByCity", Where: []Clause{Where("Count", OpGte, 2)}, OrderBy: []Order{Desc("Count")}})
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "Oslo", res.Value(0, "City").Str())
	assert.Equal(t, float64(3), res.Value(0, "Count").Num())
	assert.Equal(t, "Lima", res.Value(1, "City").Str())
	assert.Empty(t, f.engine.Diagnostics())
}
