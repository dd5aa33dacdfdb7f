package store

import (
	"sort"
	"sync"
)

// sequencer allocates generations and releases committed changes in strict
// generation order.
//
// Allocation is a short critical section; the write I/O between allocate and
// commit happens outside it, so writers commit out of order. Committed changes
// wait in a reorder buffer until every lower generation has been committed or
// abandoned. Released changes are handed to subscribers by whichever caller
// holds deliverMu, which keeps delivery ordered without holding mu while
// subscribers run.
type sequencer struct {
	mu        sync.Mutex
	allocated Generation
	released  Generation
	pending   map[Generation]Change
	outbox    []Change

	// keepLog retains released changes for Changes. Stores that persist their
	// own change log leave it off.
	keepLog bool
	log     []Change

	deliverMu sync.Mutex
	subs      map[int]func(Change)
	nextSub   int
}

func newSequencer(start Generation, keepLog bool) *sequencer {
	return &sequencer{
		allocated: start,
		released:  start,
		pending:   make(map[Generation]Change),
		keepLog:   keepLog,
		subs:      make(map[int]func(Change)),
	}
}

// allocate reserves the next generation.
func (s *sequencer) allocate() Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocated++
	return s.allocated
}

// current returns the last allocated generation.
func (s *sequencer) current() Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocated
}

// releasedGeneration returns the highest generation released in order.
func (s *sequencer) releasedGeneration() Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// commit marks c as durable and delivers every change that became releasable.
func (s *sequencer) commit(c Change) {
	s.mu.Lock()
	s.pending[c.Generation] = c
	for {
		next, ok := s.pending[s.released+1]
		if !ok {
			break
		}
		delete(s.pending, next.Generation)
		s.released = next.Generation
		if s.keepLog && next.Op != OpNoop {
			s.log = append(s.log, next)
		}
		s.outbox = append(s.outbox, next)
	}
	s.mu.Unlock()

	s.deliver()
}

// abandon releases gen as a no-op after a failed write.
func (s *sequencer) abandon(gen Generation) {
	s.commit(Change{Op: OpNoop, Generation: gen})
}

func (s *sequencer) deliver() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	batch := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	for _, c := range batch {
		for _, fn := range s.subscribers() {
			fn(c)
		}
	}
}

func (s *sequencer) subscribers() []func(Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fns := make([]func(Change), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

func (s *sequencer) subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// changes returns logged changes with generation > from. A trailing no-op at
// the released generation is appended when the log ends below it.
func (s *sequencer) changes(from Generation) []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo := sort.Search(len(s.log), func(i int) bool {
		return s.log[i].Generation > from
	})
	out := make([]Change, len(s.log)-lo, len(s.log)-lo+1)
	copy(out, s.log[lo:])
	return withTail(out, from, s.released)
}

// withTail appends a no-op at released when the feed stops short of it.
func withTail(out []Change, from, released Generation) []Change {
	last := from
	if len(out) > 0 {
		last = out[len(out)-1].Generation
	}
	if released > last {
		out = append(out, Change{Op: OpNoop, Generation: released})
	}
	return out
}
