package index

import (
	"cmp"
	"slices"
	"sync"

	"github.com/Aman-CERP/docindex/internal/store"
)

// State is the processing state of an index.
// Stale is not a state; it is derived from generations (see IsStale).
type State int

const (
	// StateIdle means the index has not processed a batch yet.
	StateIdle State = iota
	// StateProcessing means a worker is applying a batch.
	StateProcessing
	// StateCaughtUp means the last batch drained the queue.
	StateCaughtUp
	// StateCatchingUp means work was still queued after the last batch.
	StateCatchingUp
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateCaughtUp:
		return "caught_up"
	case StateCatchingUp:
		return "catching_up"
	default:
		return "unknown"
	}
}

// Entry is one row of an index.
type Entry struct {
	// DocumentID is the source document. Reduced entries built from several
	// documents leave it empty and list them in Sources.
	DocumentID string

	// Sources lists the contributing documents of a reduced entry, sorted.
	Sources []string

	GroupKey string
	Entity   string

	// Values holds the declared fields in schema order.
	Values []Value

	// Generation is the generation of the change that produced the entry.
	Generation store.Generation

	// Ordinal is the position of the entry within its document or group.
	Ordinal int
}

// Snapshot is an immutable view of an index: its entries together with the
// progress they reflect. Queries read one snapshot so entries and staleness
// always agree.
type Snapshot struct {
	// Name is the index name.
	Name string

	// Instance identifies one registration of the index. Deleting and
	// defining an index again yields a new instance.
	Instance uint64

	// Fields is the declared schema.
	Fields []Field

	// Version increases every time the entries change.
	Version uint64

	// LastProcessed is the highest generation applied to the entries.
	LastProcessed store.Generation

	// Pending is the queue depth when the snapshot was published.
	Pending int

	State State

	entries map[string][]Entry
	count   int

	// view is shared by every snapshot over the same entries map.
	view *entryView
}

// entryView holds the sorted entries, built on first use.
type entryView struct {
	once sync.Once
	flat []Entry
}

// Count returns the number of entries.
func (s *Snapshot) Count() int {
	return s.count
}

// FieldIndex returns the schema position of a field, or -1.
func (s *Snapshot) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Entries returns all entries ordered by document id, group key and ordinal.
// The slice is shared; callers must not modify it.
func (s *Snapshot) Entries() []Entry {
	if s.view == nil {
		return flatten(s.entries, s.count)
	}
	s.view.once.Do(func() {
		s.view.flat = flatten(s.entries, s.count)
	})
	return s.view.flat
}

func flatten(entries map[string][]Entry, count int) []Entry {
	flat := make([]Entry, 0, count)
	for _, es := range entries {
		flat = append(flat, es...)
	}
	slices.SortFunc(flat, func(a, b Entry) int {
		return cmp.Or(
			cmp.Compare(a.DocumentID, b.DocumentID),
			cmp.Compare(a.GroupKey, b.GroupKey),
			cmp.Compare(a.Ordinal, b.Ordinal),
		)
	})
	return flat
}

// IsStale reports staleness of the snapshot against a store generation.
func (s *Snapshot) IsStale(current store.Generation) bool {
	return s.LastProcessed < current || s.Pending > 0
}

// withState returns a copy of s with a new state and pending depth. Entries,
// their sorted view and version are shared.
func (s *Snapshot) withState(state State, pending int) *Snapshot {
	return &Snapshot{
		Name:          s.Name,
		Instance:      s.Instance,
		Fields:        s.Fields,
		Version:       s.Version,
		LastProcessed: s.LastProcessed,
		Pending:       pending,
		State:         state,
		entries:       s.entries,
		count:         s.count,
		view:          s.view,
	}
}

// Stats describes an index.
type Stats struct {
	Name                    string           `json:"name"`
	IsStale                 bool             `json:"is_stale"`
	EntryCount              int              `json:"entry_count"`
	LastProcessedGeneration store.Generation `json:"last_processed_generation"`
	PendingQueueDepth       int              `json:"pending_queue_depth"`
	State                   string           `json:"state"`
	MapErrors               uint64           `json:"map_errors"`
	DocumentsMapped         uint64           `json:"documents_mapped"`
	Version                 uint64           `json:"version"`
}
