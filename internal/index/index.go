package index

import (
	"sync"
	"sync/atomic"

	"github.com/Aman-CERP/docindex/internal/store"
)

// index is the runtime state of one registered definition.
//
// The queue and its watermark are guarded by qmu. Entries and reduce
// contributions are owned by the worker currently processing the index; the
// scheduled flag guarantees there is at most one. Readers only ever see the
// published snapshot.
type index struct {
	def    *Definition
	sig    string
	handle *Handle

	qmu       sync.Mutex
	queue     []store.Change
	enqueued  store.Generation
	scheduled bool
	dropped   bool

	// Worker-owned.
	reduce *reduceState

	snap atomic.Pointer[Snapshot]

	waitMu  sync.Mutex
	changed chan struct{}

	mapErrors       atomic.Uint64
	documentsMapped atomic.Uint64
}

var instances atomic.Uint64

func newIndex(def *Definition) *index {
	idx := &index{
		def:     def,
		sig:     def.signature(),
		changed: make(chan struct{}),
	}
	if def.Reduce != nil {
		idx.reduce = newReduceState()
	}
	idx.snap.Store(&Snapshot{
		Name:     def.Name,
		Instance: instances.Add(1),
		Fields:   def.Fields,
		State:    StateIdle,
		entries:  map[string][]Entry{},
		view:     &entryView{},
	})
	return idx
}

// enqueue appends c unless it was already enqueued. It returns true when the
// index must be put on the run queue.
func (idx *index) enqueue(c store.Change) bool {
	idx.qmu.Lock()
	defer idx.qmu.Unlock()
	if idx.dropped || c.Generation <= idx.enqueued {
		return false
	}
	idx.enqueued = c.Generation
	idx.queue = append(idx.queue, c)
	if idx.scheduled {
		return false
	}
	idx.scheduled = true
	return true
}

// take pops up to n changes.
func (idx *index) take(n int) []store.Change {
	idx.qmu.Lock()
	defer idx.qmu.Unlock()
	if idx.dropped {
		return nil
	}
	if n <= 0 || n > len(idx.queue) {
		n = len(idx.queue)
	}
	batch := make([]store.Change, n)
	copy(batch, idx.queue)
	idx.queue = idx.queue[n:]
	if len(idx.queue) == 0 {
		idx.queue = nil
	}
	return batch
}

// finish is called by the worker after a batch. It returns true when more
// work is queued and the index must go back on the run queue.
func (idx *index) finish() bool {
	idx.qmu.Lock()
	defer idx.qmu.Unlock()
	if idx.dropped || len(idx.queue) == 0 {
		idx.scheduled = false
		return false
	}
	return true
}

// pending returns the live queue depth.
func (idx *index) pending() int {
	idx.qmu.Lock()
	defer idx.qmu.Unlock()
	return len(idx.queue)
}

// drop discards the queue and wakes waiters.
func (idx *index) drop() {
	idx.qmu.Lock()
	idx.dropped = true
	idx.queue = nil
	idx.qmu.Unlock()
	idx.notify()
}

func (idx *index) isDropped() bool {
	idx.qmu.Lock()
	defer idx.qmu.Unlock()
	return idx.dropped
}

func (idx *index) snapshot() *Snapshot {
	return idx.snap.Load()
}

// publish installs s and wakes waiters.
func (idx *index) publish(s *Snapshot) {
	idx.snap.Store(s)
	idx.notify()
}

func (idx *index) notify() {
	idx.waitMu.Lock()
	close(idx.changed)
	idx.changed = make(chan struct{})
	idx.waitMu.Unlock()
}

// waitChan returns a channel closed on the next publish. Take it before
// reading the snapshot so no publish is missed.
func (idx *index) waitChan() <-chan struct{} {
	idx.waitMu.Lock()
	defer idx.waitMu.Unlock()
	return idx.changed
}

// Handle is returned by DefineIndex and refers to a registered index.
type Handle struct {
	name   string
	engine *Engine
	idx    *index
}

// Name returns the index name.
func (h *Handle) Name() string {
	return h.name
}

// Definition returns the registered definition.
func (h *Handle) Definition() *Definition {
	return h.idx.def
}

// Snapshot returns the current snapshot.
func (h *Handle) Snapshot() *Snapshot {
	return h.idx.snapshot()
}

// Stats returns live statistics of the index.
func (h *Handle) Stats() (Stats, error) {
	return h.engine.GetIndexStatistics(h.name)
}
