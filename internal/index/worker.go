package index

import (
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/Aman-CERP/docindex/internal/store"
)

// runQueue holds indexes with queued work. An index is on the queue at most
// once; its scheduled flag stays set while a worker owns it.
type runQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*index
	closed bool
}

func newRunQueue() *runQueue {
	q := &runQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *runQueue) push(idx *index) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, idx)
	q.cond.Signal()
}

// pop blocks until an index is ready or the queue is closed.
func (q *runQueue) pop() (*index, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	idx := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return idx, true
}

func (q *runQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.cond.Broadcast()
}

// worker drains ready indexes one batch at a time.
type worker struct {
	id     int
	engine *Engine
}

func (w *worker) run() error {
	for {
		idx, ok := w.engine.runq.pop()
		if !ok {
			return nil
		}
		w.process(idx)
		if idx.finish() {
			w.engine.runq.push(idx)
		}
	}
}

// process applies one batch of queued changes to idx and publishes the
// resulting snapshot.
func (w *worker) process(idx *index) {
	e := w.engine
	def := idx.def
	batch := idx.take(e.config.BatchSize)
	if len(batch) == 0 {
		return
	}
	start := time.Now()

	prev := idx.snapshot()
	idx.publish(prev.withState(StateProcessing, idx.pending()))

	// Coalesce by document id; the latest change wins.
	lastGen := prev.LastProcessed
	latest := make(map[string]store.Change, len(batch))
	var order []string
	for _, c := range batch {
		if c.Generation > lastGen {
			lastGen = c.Generation
		}
		if c.Op == store.OpNoop {
			continue
		}
		if _, seen := latest[c.ID]; !seen {
			order = append(order, c.ID)
		}
		latest[c.ID] = c
	}

	entries := prev.entries
	count := prev.count
	changed := false
	cow := func() {
		if !changed {
			entries = maps.Clone(prev.entries)
			changed = true
		}
	}
	dirty := make(map[string]struct{})

	for _, id := range order {
		c := latest[id]

		if idx.reduce != nil {
			idx.reduce.remove(id, dirty)
		} else if old, ok := entries[id]; ok {
			cow()
			count -= len(old)
			delete(entries, id)
		}

		if c.Op != store.OpPut {
			continue
		}
		routed := def.mapsFor(c.Entity)
		if len(routed) == 0 {
			continue
		}

		idx.documentsMapped.Add(1)
		e.metrics.DocumentsMapped.WithLabelValues(def.Name).Inc()

		drafts, err := w.mapDocument(c, routed)
		if err != nil {
			w.mapFailed(idx, c, err)
			continue
		}

		if idx.reduce != nil {
			grouped, err := groupDrafts(def, drafts)
			if err != nil {
				w.mapFailed(idx, c, err)
				continue
			}
			idx.reduce.add(id, c.Entity, c.Generation, grouped, dirty)
			continue
		}

		built, err := w.buildEntries(def, c, drafts)
		if err != nil {
			w.mapFailed(idx, c, err)
			continue
		}
		if len(built) > 0 {
			cow()
			entries[id] = built
			count += len(built)
		}
	}

	for group := range dirty {
		cow()
		count -= len(entries[group])
		delete(entries, group)
		if reduced := w.reduceGroup(idx, group); len(reduced) > 0 {
			entries[group] = reduced
			count += len(reduced)
		}
	}

	pending := idx.pending()
	state := StateCaughtUp
	if pending > 0 {
		state = StateCatchingUp
	}
	version, view := prev.Version, prev.view
	if changed {
		version, view = version+1, &entryView{}
	}
	elapsed := time.Since(start)
	e.metrics.BatchDuration.WithLabelValues(def.Name).Observe(elapsed.Seconds())
	e.metrics.BatchSize.WithLabelValues(def.Name).Observe(float64(len(batch)))
	e.metrics.QueueDepth.WithLabelValues(def.Name).Set(float64(pending))
	e.metrics.LastProcessed.WithLabelValues(def.Name).Set(float64(lastGen))

	idx.publish(&Snapshot{
		Name:          def.Name,
		Instance:      prev.Instance,
		Fields:        def.Fields,
		Version:       version,
		LastProcessed: lastGen,
		Pending:       pending,
		State:         state,
		entries:       entries,
		count:         count,
		view:          view,
	})

	e.logger.Debug("index_batch_complete",
		slog.String("index", def.Name),
		slog.Int("worker", w.id),
		slog.Int("changes", len(batch)),
		slog.Int("documents", len(order)),
		slog.Uint64("last_processed", uint64(lastGen)),
		slog.Int("pending", pending),
		slog.Int("entries", count),
		slog.String("state", state.String()),
		slog.Int64("duration_us", elapsed.Microseconds()))
}

// mapDocument applies every routed map to the document.
func (w *worker) mapDocument(c store.Change, routed []Map) ([]Draft, error) {
	var out []Draft
	for _, m := range routed {
		doc := &store.Document{
			ID:         c.ID,
			Entity:     c.Entity,
			Payload:    maps.Clone(c.Payload),
			Generation: c.Generation,
		}
		drafts, err := safeMap(m.Mapper, doc)
		if err != nil {
			return nil, err
		}
		for i := range drafts {
			if drafts[i].Fields == nil {
				return nil, fmt.Errorf("map for entity %q returned a draft without fields", m.Entity)
			}
			if drafts[i].DocumentID == "" {
				drafts[i].DocumentID = c.ID
			}
		}
		out = append(out, drafts...)
	}
	return out, nil
}

func (w *worker) buildEntries(def *Definition, c store.Change, drafts []Draft) ([]Entry, error) {
	built := make([]Entry, 0, len(drafts))
	for i, d := range drafts {
		values, err := normalize(def, d, w.engine.analyzer)
		if err != nil {
			return nil, err
		}
		group, err := groupKeyOf(def, d)
		if err != nil {
			return nil, err
		}
		built = append(built, Entry{
			DocumentID: d.DocumentID,
			GroupKey:   group,
			Entity:     c.Entity,
			Values:     values,
			Generation: c.Generation,
			Ordinal:    i,
		})
	}
	return built, nil
}

// mapFailed isolates a failing document: its previous entries are already
// removed, the failure is reported and the batch continues.
func (w *worker) mapFailed(idx *index, c store.Change, err error) {
	idx.mapErrors.Add(1)
	w.engine.metrics.MapErrors.WithLabelValues(idx.def.Name).Inc()
	w.engine.diagnostics.report(idx.def.Name, c.ID, "", c.Generation,
		mapEvaluationError(idx.def.Name, c.ID, err))
}

func safeMap(m Mapper, doc *store.Document) (drafts []Draft, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("map panicked: %v", p)
		}
	}()
	return m.Map(doc)
}

// groupKeyOf returns the group of a draft: the GroupBy extractor, then the
// draft's own key, then its document id.
func groupKeyOf(def *Definition, d Draft) (string, error) {
	if def.GroupBy != nil {
		return def.GroupBy(d)
	}
	if d.GroupKey != "" {
		return d.GroupKey, nil
	}
	return d.DocumentID, nil
}

func groupDrafts(def *Definition, drafts []Draft) (map[string][]Draft, error) {
	grouped := make(map[string][]Draft)
	for _, d := range drafts {
		g, err := groupKeyOf(def, d)
		if err != nil {
			return nil, err
		}
		d.GroupKey = g
		grouped[g] = append(grouped[g], d)
	}
	return grouped, nil
}
