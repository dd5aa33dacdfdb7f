// Package integration exercises the database end to end: concurrent writers
// and readers, fan-out, multi-map indexes and store restarts.
package integration

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/pkg/docindex"
)

const waitTimeout = 30 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openMemory(t *testing.T) *docindex.DB {
	t.Helper()
	db, err := docindex.OpenMemory(context.Background(), docindex.WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// sqliteConfig returns a configuration for a SQLite store inside dir.
func sqliteConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.Path = "store"
	return cfg
}

func openSQLite(t *testing.T, dir string) *docindex.DB {
	t.Helper()
	db, err := docindex.Open(context.Background(), dir,
		docindex.WithConfig(sqliteConfig()),
		docindex.WithLogger(quietLogger()))
	require.NoError(t, err)
	return db
}

// valueIndex maps every Items document to one entry with its Value.
func valueIndex(name string) *docindex.Definition {
	return &docindex.Definition{
		Name:   name,
		Fields: []docindex.Field{{Name: "Value", Kind: docindex.FieldNumber}},
		Maps: []docindex.Map{{
			Entity: "Items",
			Mapper: docindex.MapFunc(func(doc *docindex.Document) ([]docindex.Draft, error) {
				return []docindex.Draft{{Fields: map[string]any{"Value": doc.Payload["Value"]}}}, nil
			}),
		}},
	}
}
