package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/store"
)

// EntityKey is the payload key that names a document's entity. Without it
// the entity is the top-level directory of the file.
const EntityKey = "@entity"

// Writer is the part of the store a Source writes to.
type Writer interface {
	Put(ctx context.Context, doc *store.Document) (store.Generation, error)
	Delete(ctx context.Context, id string) (store.Generation, error)
}

// SourceStats counts applied file events.
type SourceStats struct {
	Puts    uint64
	Deletes uint64
	Errors  uint64
}

// Source mirrors a directory of JSON documents into a store. The document
// id is the slash separated path without its extension: orders/1.json is
// document "orders/1" of entity "orders".
type Source struct {
	watcher Watcher
	root    string
	writer  Writer
	exts    []string
	logger  *slog.Logger

	puts, deletes, errs atomic.Uint64
}

// NewSource creates a source over root. exts defaults to .json.
func NewSource(w Watcher, root string, writer Writer, exts []string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if len(exts) == 0 {
		exts = DefaultOptions().Extensions
	}
	return &Source{watcher: w, root: root, writer: writer, exts: exts, logger: logger}
}

// Load writes every document currently under root.
func (s *Source) Load(ctx context.Context) error {
	return filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil || rel == "." {
			return nil
		}
		if ignored(rel, d.IsDir(), s.exts) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.apply(ctx, FileEvent{Path: filepath.ToSlash(rel), Operation: OpCreate})
		return nil
	})
}

// Run loads the directory, then applies watcher batches until ctx is done
// or the watcher stops.
func (s *Source) Run(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return fmt.Errorf("initial load of %s: %w", s.root, err)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.watcher.Start(ctx, s.root) }()

	events, werrs := s.watcher.Events(), s.watcher.Errors()
	for {
		select {
		case batch, ok := <-events:
			if !ok {
				return ignoreCancel(<-errc)
			}
			for _, ev := range batch {
				s.apply(ctx, ev)
			}
		case err, ok := <-werrs:
			if !ok {
				werrs = nil
				continue
			}
			s.errs.Add(1)
			s.logger.Warn("watch_error", slog.String("error", err.Error()))
		case err := <-errc:
			_ = s.watcher.Stop()
			return ignoreCancel(err)
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// apply writes one event to the store. Failures are logged and counted; a
// bad file never stops the source.
func (s *Source) apply(ctx context.Context, ev FileEvent) {
	id := DocumentID(ev.Path)
	switch ev.Operation {
	case OpDelete, OpRename:
		_, err := s.writer.Delete(ctx, id)
		if err != nil && !errors.Is(err, ierrors.ErrDocumentNotFound) {
			s.fail(ev, err)
			return
		}
		s.deletes.Add(1)
		s.logger.Debug("watch_document_deleted", slog.String("document_id", id))

	default:
		doc, err := s.readDocument(ev.Path)
		if err != nil {
			s.fail(ev, err)
			return
		}
		gen, err := s.writer.Put(ctx, doc)
		if err != nil {
			s.fail(ev, err)
			return
		}
		s.puts.Add(1)
		s.logger.Debug("watch_document_written",
			slog.String("document_id", id),
			slog.String("entity", doc.Entity),
			slog.Uint64("generation", uint64(gen)))
	}
}

func (s *Source) fail(ev FileEvent, err error) {
	s.errs.Add(1)
	s.logger.Warn("watch_apply_failed",
		slog.String("path", ev.Path),
		slog.String("op", ev.Operation.String()),
		slog.String("error", err.Error()))
}

func (s *Source) readDocument(rel string) (*store.Document, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, ierrors.ValidationError(fmt.Sprintf("%s is not a JSON object", rel), err)
	}

	entity, _ := payload[EntityKey].(string)
	delete(payload, EntityKey)
	if entity == "" {
		if dir := path.Dir(rel); dir != "." {
			entity = strings.SplitN(dir, "/", 2)[0]
		}
	}
	return &store.Document{ID: DocumentID(rel), Entity: entity, Payload: payload}, nil
}

// DocumentID maps a relative file path to its document id.
func DocumentID(rel string) string {
	rel = filepath.ToSlash(rel)
	return strings.TrimSuffix(rel, path.Ext(rel))
}

// Stats returns counts of applied events.
func (s *Source) Stats() SourceStats {
	return SourceStats{Puts: s.puts.Load(), Deletes: s.deletes.Load(), Errors: s.errs.Load()}
}
