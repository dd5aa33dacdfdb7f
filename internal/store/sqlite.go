package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// DatabaseFileName is the SQLite file inside a store directory.
const DatabaseFileName = "docindex.db"

const schemaVersion = 1

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Retry controls backoff when the database reports SQLITE_BUSY.
	Retry ierrors.RetryConfig

	// Logger receives store events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultSQLiteConfig returns the default SQLite store configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{Retry: ierrors.DefaultRetryConfig()}
}

// SQLiteStore is a persistent Store backed by SQLite.
//
// Documents and the change log live in one database; each write updates both
// in a single transaction. The directory is locked exclusively for the
// lifetime of the store.
type SQLiteStore struct {
	db     *sql.DB
	dir    string
	lock   *FileLock
	seq    *sequencer
	config SQLiteConfig
	logger *slog.Logger
	closed atomic.Bool
}

// Verify interface implementation at compile time
var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the store in dir.
// Returns ErrStoreLocked when another process holds the directory and
// ErrStoreCorrupt when the database fails its integrity check.
func OpenSQLite(dir string, config SQLiteConfig) (*SQLiteStore, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	lock := NewFileLock(dir)
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ierrors.New(ierrors.ErrCodeStoreLocked, "store is locked by another process", nil).
			WithDetail("path", lock.Path()).
			WithSuggestion("Stop the other docindex process using this directory")
	}

	path := filepath.Join(dir, DatabaseFileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := validateSQLiteIntegrity(db); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		logger.Warn("store_corrupted",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil, ierrors.New(ierrors.ErrCodeStoreCorrupt, "store database failed integrity check", err).
			WithDetail("path", path).
			WithSuggestion("Move the store directory aside and reload the documents")
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores most DSN params, so pragmas are set by statement
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		dir:    dir,
		lock:   lock,
		config: config,
		logger: logger,
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	var last int64
	if err := db.QueryRow(`SELECT COALESCE(MAX(generation), 0) FROM changes`).Scan(&last); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to read last generation: %w", err)
	}
	s.seq = newSequencer(Generation(last), false)

	logger.Info("store_opened",
		slog.String("path", path),
		slog.Uint64("generation", uint64(last)))
	return s, nil
}

// validateSQLiteIntegrity runs a quick integrity check. A new, empty
// database passes.
func validateSQLiteIntegrity(db *sql.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

func (s *SQLiteStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			entity     TEXT NOT NULL,
			payload    TEXT,
			generation INTEGER NOT NULL,
			deleted    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS changes (
			generation INTEGER PRIMARY KEY,
			op         INTEGER NOT NULL,
			id         TEXT NOT NULL,
			entity     TEXT NOT NULL,
			payload    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_entity ON documents(entity)`,
		fmt.Sprintf(`INSERT OR IGNORE INTO schema_version (version) VALUES (%d)`, schemaVersion),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Put creates or replaces a document.
func (s *SQLiteStore) Put(ctx context.Context, doc *Document) (Generation, error) {
	if s.closed.Load() {
		return 0, errClosed()
	}
	if err := validateDocument(doc); err != nil {
		return 0, err
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	payload, err := json.Marshal(durationsAsText(doc.Payload))
	if err != nil {
		return 0, ierrors.ValidationError("document payload is not JSON serializable", err).
			WithDetail("id", doc.ID)
	}

	gen := s.seq.allocate()
	err = s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, entity, payload, generation, deleted)
			VALUES (?, ?, ?, ?, 0)
			ON CONFLICT(id) DO UPDATE SET
				entity = excluded.entity,
				payload = excluded.payload,
				generation = excluded.generation,
				deleted = 0
			WHERE excluded.generation > documents.generation`,
			doc.ID, doc.Entity, string(payload), int64(gen)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO changes (generation, op, id, entity, payload)
			VALUES (?, ?, ?, ?, ?)`,
			int64(gen), int(OpPut), doc.ID, doc.Entity, string(payload))
		return err
	})
	if err != nil {
		s.seq.abandon(gen)
		s.logger.Warn("store_put_failed",
			slog.String("id", doc.ID),
			slog.Uint64("generation", uint64(gen)),
			slog.String("error", err.Error()))
		return 0, err
	}

	// Subscribers see the same value shapes that Changes returns after a
	// restart.
	stored, _ := decodePayload(sql.NullString{String: string(payload), Valid: true})
	s.seq.commit(Change{
		Op:         OpPut,
		ID:         doc.ID,
		Entity:     doc.Entity,
		Payload:    stored,
		Generation: gen,
	})
	doc.Generation = gen
	return gen, nil
}

// Delete removes a document.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (Generation, error) {
	if s.closed.Load() {
		return 0, errClosed()
	}

	var entity string
	var deleted int
	err := s.db.QueryRowContext(ctx,
		`SELECT entity, deleted FROM documents WHERE id = ?`, id).Scan(&entity, &deleted)
	if err == sql.ErrNoRows || (err == nil && deleted != 0) {
		return 0, notFound(id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read document: %w", err)
	}

	gen := s.seq.allocate()
	err = s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE documents SET deleted = 1, payload = NULL, generation = ?
			WHERE id = ? AND generation < ?`,
			int64(gen), id, int64(gen)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO changes (generation, op, id, entity, payload)
			VALUES (?, ?, ?, ?, NULL)`,
			int64(gen), int(OpDelete), id, entity)
		return err
	})
	if err != nil {
		s.seq.abandon(gen)
		s.logger.Warn("store_delete_failed",
			slog.String("id", id),
			slog.Uint64("generation", uint64(gen)),
			slog.String("error", err.Error()))
		return 0, err
	}

	s.seq.commit(Change{Op: OpDelete, ID: id, Entity: entity, Generation: gen})
	return gen, nil
}

// write runs fn in a transaction, retrying while the database is busy.
func (s *SQLiteStore) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return ierrors.Retry(ctx, s.config.Retry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return classify(err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return classify(err)
		}
		if err := tx.Commit(); err != nil {
			return classify(err)
		}
		return nil
	})
}

// classify maps busy errors to a retryable code and everything else to a
// permanent internal error.
func classify(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return ierrors.New(ierrors.ErrCodeStoreBusy, "store is busy", err)
	}
	return ierrors.InternalError("store write failed", err)
}

// Get returns the live document.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Document, error) {
	if s.closed.Load() {
		return nil, errClosed()
	}
	var (
		doc     Document
		payload sql.NullString
		gen     int64
		deleted int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, entity, payload, generation, deleted FROM documents WHERE id = ?`, id).
		Scan(&doc.ID, &doc.Entity, &payload, &gen, &deleted)
	if err == sql.ErrNoRows || (err == nil && deleted != 0) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	doc.Generation = Generation(gen)
	if doc.Payload, err = decodePayload(payload); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Changes returns released changes after from, read from the change log.
func (s *SQLiteStore) Changes(ctx context.Context, from Generation) ([]Change, error) {
	if s.closed.Load() {
		return nil, errClosed()
	}
	released := s.seq.releasedGeneration()

	rows, err := s.db.QueryContext(ctx, `
		SELECT generation, op, id, entity, payload FROM changes
		WHERE generation > ? AND generation <= ?
		ORDER BY generation`, int64(from), int64(released))
	if err != nil {
		return nil, fmt.Errorf("failed to read changes: %w", err)
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var (
			c       Change
			gen     int64
			op      int
			payload sql.NullString
		)
		if err := rows.Scan(&gen, &op, &c.ID, &c.Entity, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		c.Generation = Generation(gen)
		c.Op = Op(op)
		if c.Payload, err = decodePayload(payload); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read changes: %w", err)
	}
	return withTail(out, from, released), nil
}

// Subscribe registers fn for released changes.
func (s *SQLiteStore) Subscribe(fn func(Change)) func() {
	return s.seq.subscribe(fn)
}

// CurrentGeneration returns the last allocated generation.
func (s *SQLiteStore) CurrentGeneration() Generation {
	return s.seq.current()
}

// Count returns the number of live documents.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, errClosed()
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE deleted = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Dir returns the store directory.
func (s *SQLiteStore) Dir() string {
	return s.dir
}

// Close closes the database and releases the directory lock.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	s.logger.Info("store_closed", slog.String("dir", s.dir))
	return err
}

// durationsAsText replaces time.Duration values, at any depth, with their
// exact Go duration string. JSON would otherwise store them as float64
// nanoseconds, which loses precision past 2^53ns. Documents read back hold
// the string form, which duration fields parse.
func durationsAsText(v any) any {
	switch x := v.(type) {
	case time.Duration:
		return x.String()
	case map[string]any:
		if x == nil {
			return v
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = durationsAsText(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = durationsAsText(e)
		}
		return out
	}
	return v
}

func decodePayload(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw.String), &payload); err != nil {
		return nil, ierrors.New(ierrors.ErrCodeStoreCorrupt, "stored payload is not valid JSON", err)
	}
	return payload, nil
}
