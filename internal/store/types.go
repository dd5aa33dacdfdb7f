// Package store provides the document store consumed by the indexing engine:
// a generation-stamped key/value store of JSON-like documents with an ordered,
// restartable change feed. Two implementations are provided, an in-memory
// store for tests and embedding, and a SQLite store for persistence.
package store

import (
	"context"
	"maps"
)

// Generation is the global, monotonically increasing write counter.
// Every successful Put or Delete is assigned the next generation.
type Generation uint64

// Op identifies the kind of change carried on the feed.
type Op int

const (
	// OpPut is a create or update of a document.
	OpPut Op = iota
	// OpDelete removes a document.
	OpDelete
	// OpNoop fills a generation that was allocated but never committed.
	// It carries no document and only advances watermarks.
	OpNoop
)

// String returns the lowercase name of the operation.
func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpNoop:
		return "noop"
	default:
		return "unknown"
	}
}

// Document is a stored document.
type Document struct {
	// ID identifies the document. Put assigns a UUID when empty.
	ID string `json:"id"`

	// Entity is the collection tag used to route documents to maps.
	Entity string `json:"entity"`

	// Payload is the document body.
	Payload map[string]any `json:"payload"`

	// Generation is the generation of the last write to this document.
	Generation Generation `json:"generation"`
}

// Clone returns a copy of the document with a shallow copy of the payload.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Payload = maps.Clone(d.Payload)
	return &c
}

// Change is one event on the change feed.
type Change struct {
	Op         Op
	ID         string
	Entity     string
	Payload    map[string]any
	Generation Generation
}

// Store is the document store interface consumed by the indexing engine.
//
// The change feed is released strictly in generation order: a subscriber never
// observes generation N+1 before N, and Changes only returns generations
// that have already been released.
type Store interface {
	// Put creates or replaces a document and returns its generation.
	// doc.ID and doc.Generation are filled in on success.
	Put(ctx context.Context, doc *Document) (Generation, error)

	// Delete removes a document and returns the generation of the delete.
	// Deleting a missing document returns ErrDocumentNotFound and does not
	// allocate a generation.
	Delete(ctx context.Context, id string) (Generation, error)

	// Get returns a copy of the live document.
	Get(ctx context.Context, id string) (*Document, error)

	// Changes returns released changes with generation > from, in order.
	// When trailing generations were never committed the result ends with a
	// no-op change at the released generation.
	Changes(ctx context.Context, from Generation) ([]Change, error)

	// Subscribe registers fn for every change released after the call.
	// fn is invoked sequentially in generation order and must not block on
	// the store. The returned function cancels the subscription.
	Subscribe(fn func(Change)) (cancel func())

	// CurrentGeneration returns the last allocated generation.
	CurrentGeneration() Generation

	// Close releases resources. Further writes fail with ErrStoreClosed.
	Close() error
}

// Counter is implemented by stores that can count their live documents.
type Counter interface {
	Count(ctx context.Context) (int, error)
}
