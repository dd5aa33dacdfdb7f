package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
)

func openTestSQLite(t *testing.T, dir string) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(dir, DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_PutGetDelete(t *testing.T) {
	// Given: a fresh store
	s := openTestSQLite(t, t.TempDir())
	ctx := context.Background()

	// When: putting a document
	gen, err := s.Put(ctx, &Document{ID: "e1", Entity: "Events", Payload: map[string]any{
		"Start": "01:00:00",
		"Count": 3,
	}})
	require.NoError(t, err)
	assert.Equal(t, Generation(1), gen)

	// Then: it reads back with JSON value shapes
	got, err := s.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Events", got.Entity)
	assert.Equal(t, "01:00:00", got.Payload["Start"])
	assert.Equal(t, float64(3), got.Payload["Count"])
	assert.Equal(t, gen, got.Generation)

	// And: delete removes it
	dgen, err := s.Delete(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, Generation(2), dgen)
	_, err = s.Get(ctx, "e1")
	assert.True(t, errors.Is(err, ierrors.ErrDocumentNotFound))

	_, err = s.Delete(ctx, "e1")
	assert.True(t, errors.Is(err, ierrors.ErrDocumentNotFound))
	assert.Equal(t, Generation(2), s.CurrentGeneration())
}

func TestSQLiteStore_DurationsSurviveExactly(t *testing.T) {
	// Given: durations far above 2^53 nanoseconds, top level and nested
	dir := t.TempDir()
	s := openTestSQLite(t, dir)
	ctx := context.Background()
	long := 5*365*24*time.Hour + 123*time.Nanosecond
	payload := map[string]any{
		"Shipping": long,
		"Lines":    []any{map[string]any{"Wait": -long}},
	}
	_, err := s.Put(ctx, &Document{ID: "o1", Entity: "Orders", Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, long, payload["Shipping"], "caller payload is left alone")

	// When: reading back from the feed and after a reopen
	changes, err := s.Changes(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	s = openTestSQLite(t, dir)
	got, err := s.Get(ctx, "o1")
	require.NoError(t, err)

	// Then: every copy parses back to the exact nanosecond
	for _, p := range []map[string]any{changes[0].Payload, got.Payload} {
		d, err := time.ParseDuration(p["Shipping"].(string))
		require.NoError(t, err)
		assert.Equal(t, long, d)

		line := p["Lines"].([]any)[0].(map[string]any)
		d, err = time.ParseDuration(line["Wait"].(string))
		require.NoError(t, err)
		assert.Equal(t, -long, d)
	}
}

func TestSQLiteStore_ReopenRestoresGenerationAndFeed(t *testing.T) {
	// Given: a store with some writes, closed
	dir := t.TempDir()
	ctx := context.Background()
	s, err := OpenSQLite(dir, DefaultSQLiteConfig())
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Put(ctx, &Document{ID: id, Entity: "Users", Payload: map[string]any{"Name": id}})
		require.NoError(t, err)
	}
	_, err = s.Delete(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// When: reopening it
	s = openTestSQLite(t, dir)

	// Then: generation continues where it left off
	assert.Equal(t, Generation(4), s.CurrentGeneration())

	// And: the feed replays from zero
	changes, err := s.Changes(ctx, 0)
	require.NoError(t, err)
	require.Len(t, changes, 4)
	assert.Equal(t, OpDelete, changes[3].Op)
	assert.Equal(t, "b", changes[3].ID)
	assert.Equal(t, "a", changes[0].Payload["Name"])

	gen, err := s.Put(ctx, &Document{ID: "d"})
	require.NoError(t, err)
	assert.Equal(t, Generation(5), gen)
}

func TestSQLiteStore_LockedByAnotherOpener(t *testing.T) {
	// Given: an open store
	dir := t.TempDir()
	_ = openTestSQLite(t, dir)

	// When: opening the same directory again
	_, err := OpenSQLite(dir, DefaultSQLiteConfig())

	// Then: it fails with a lock error
	require.Error(t, err)
	assert.True(t, errors.Is(err, ierrors.ErrStoreLocked))
}

func TestSQLiteStore_CorruptDatabase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DatabaseFileName), bytes.Repeat([]byte("garbage!"), 1024), 0644))

	_, err := OpenSQLite(dir, DefaultSQLiteConfig())

	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeStoreCorrupt, ierrors.GetCode(err))
	assert.True(t, ierrors.IsFatal(err))
}

func TestSQLiteStore_ConcurrentWritersFeedInOrder(t *testing.T) {
	// Given: a subscribed store and concurrent writers
	s := openTestSQLite(t, t.TempDir())
	ctx := context.Background()

	var mu sync.Mutex
	var got []Generation
	cancel := s.Subscribe(func(c Change) {
		mu.Lock()
		got = append(got, c.Generation)
		mu.Unlock()
	})
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := s.Put(ctx, &Document{Entity: "Users"})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	// Then: the feed is gap-free and ordered
	require.Len(t, got, 100)
	for i, g := range got {
		assert.Equal(t, Generation(i+1), g)
	}
	changes, err := s.Changes(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, changes, 100)
}

func TestSQLiteStore_ClosedRejectsWrites(t *testing.T) {
	s, err := OpenSQLite(t.TempDir(), DefaultSQLiteConfig())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Put(context.Background(), &Document{ID: "a"})
	assert.True(t, errors.Is(err, ierrors.ErrStoreClosed))
}

func TestFileLock_TryLockAndUnlock(t *testing.T) {
	dir := t.TempDir()
	lock := NewFileLock(dir)
	assert.Equal(t, filepath.Join(dir, LockFileName), lock.Path())

	ok, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, lock.IsLocked())

	require.NoError(t, lock.Unlock())
	assert.False(t, lock.IsLocked())
	require.NoError(t, lock.Unlock())
}

func TestStores_Count(t *testing.T) {
	stores := map[string]interface {
		Store
		Counter
	}{
		"memory": NewMemoryStore(),
		"sqlite": openTestSQLite(t, t.TempDir()),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c"} {
				_, err := s.Put(ctx, &Document{ID: id, Entity: "Things"})
				require.NoError(t, err)
			}
			_, err := s.Delete(ctx, "b")
			require.NoError(t, err)

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}
