package store

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// record is the latest state of a document id. Deleted records are kept as
// tombstones so a late, older write cannot resurrect the document.
type record struct {
	doc     Document
	deleted bool
}

// MemoryStore is an in-memory Store. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]*record
	seq    *sequencer
	closed atomic.Bool
}

// Verify interface implementation at compile time
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*record),
		seq:  newSequencer(0, true),
	}
}

// Put creates or replaces a document.
func (s *MemoryStore) Put(ctx context.Context, doc *Document) (Generation, error) {
	if err := s.checkWrite(ctx, doc); err != nil {
		return 0, err
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	payload := maps.Clone(doc.Payload)

	gen := s.seq.allocate()

	s.mu.Lock()
	cur, ok := s.docs[doc.ID]
	if !ok || cur.doc.Generation < gen {
		s.docs[doc.ID] = &record{doc: Document{
			ID:         doc.ID,
			Entity:     doc.Entity,
			Payload:    payload,
			Generation: gen,
		}}
	}
	s.mu.Unlock()

	s.seq.commit(Change{
		Op:         OpPut,
		ID:         doc.ID,
		Entity:     doc.Entity,
		Payload:    payload,
		Generation: gen,
	})
	doc.Generation = gen
	return gen, nil
}

// Delete removes a document.
func (s *MemoryStore) Delete(ctx context.Context, id string) (Generation, error) {
	if s.closed.Load() {
		return 0, errClosed()
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	cur, ok := s.docs[id]
	live := ok && !cur.deleted
	var entity string
	if live {
		entity = cur.doc.Entity
	}
	s.mu.RUnlock()
	if !live {
		return 0, notFound(id)
	}

	gen := s.seq.allocate()

	s.mu.Lock()
	if cur, ok := s.docs[id]; ok && cur.doc.Generation < gen {
		s.docs[id] = &record{
			doc:     Document{ID: id, Entity: entity, Generation: gen},
			deleted: true,
		}
	}
	s.mu.Unlock()

	s.seq.commit(Change{Op: OpDelete, ID: id, Entity: entity, Generation: gen})
	return gen, nil
}

// Get returns a copy of the live document.
func (s *MemoryStore) Get(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.docs[id]
	if !ok || cur.deleted {
		return nil, notFound(id)
	}
	return cur.doc.Clone(), nil
}

// Changes returns released changes after from.
func (s *MemoryStore) Changes(ctx context.Context, from Generation) ([]Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.seq.changes(from), nil
}

// Subscribe registers fn for released changes.
func (s *MemoryStore) Subscribe(fn func(Change)) func() {
	return s.seq.subscribe(fn)
}

// CurrentGeneration returns the last allocated generation.
func (s *MemoryStore) CurrentGeneration() Generation {
	return s.seq.current()
}

// Len returns the number of live documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.docs {
		if !r.deleted {
			n++
		}
	}
	return n
}

// Count returns the number of live documents.
func (s *MemoryStore) Count(context.Context) (int, error) {
	return s.Len(), nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *MemoryStore) checkWrite(ctx context.Context, doc *Document) error {
	if s.closed.Load() {
		return errClosed()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return validateDocument(doc)
}

func validateDocument(doc *Document) error {
	if doc == nil {
		return ierrors.ValidationError("document is nil", nil)
	}
	return nil
}

func errClosed() error {
	return ierrors.New(ierrors.ErrCodeStoreClosed, "store is closed", nil)
}

func notFound(id string) error {
	return ierrors.New(ierrors.ErrCodeDocumentNotFound, "document not found", nil).
		WithDetail("id", id)
}
