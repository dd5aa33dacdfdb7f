package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func write(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "orders/1", DocumentID("orders/1.json"))
	assert.Equal(t, "top", DocumentID("top.json"))
	assert.Equal(t, "a/b/c.d", DocumentID("a/b/c.d.json"))
}

func TestSource_Load(t *testing.T) {
	// Given: a directory with documents, a bad file and ignored files
	dir := t.TempDir()
	write(t, dir, "orders/1.json", `{"Customer":"c1","Total":10}`)
	write(t, dir, "orders/eu/2.json", `{"Customer":"c2"}`)
	write(t, dir, "misc.json", `{"@entity":"Users","Name":"ada"}`)
	write(t, dir, "broken.json", `[1,2`)
	write(t, dir, "notes.txt", `hello`)
	write(t, dir, ".docindex/x.json", `{}`)

	st := store.NewMemoryStore()
	defer st.Close()
	src := NewSource(nil, dir, st, nil, quietLogger())

	// When: loading
	require.NoError(t, src.Load(context.Background()))

	// Then: documents are written with ids and entities derived from paths
	ctx := context.Background()
	doc, err := st.Get(ctx, "orders/1")
	require.NoError(t, err)
	assert.Equal(t, "orders", doc.Entity)
	assert.Equal(t, "c1", doc.Payload["Customer"])

	doc, err = st.Get(ctx, "orders/eu/2")
	require.NoError(t, err)
	assert.Equal(t, "orders", doc.Entity)

	doc, err = st.Get(ctx, "misc")
	require.NoError(t, err)
	assert.Equal(t, "Users", doc.Entity)
	assert.NotContains(t, doc.Payload, EntityKey)

	_, err = st.Get(ctx, ".docindex/x")
	assert.True(t, errors.Is(err, ierrors.ErrDocumentNotFound))

	assert.Equal(t, SourceStats{Puts: 3, Errors: 1}, src.Stats())
	assert.Equal(t, 3, st.Len())
}

func TestSource_DeleteMissingIsNotAnError(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	src := NewSource(nil, t.TempDir(), st, nil, quietLogger())

	src.apply(context.Background(), FileEvent{Path: "orders/9.json", Operation: OpDelete})

	assert.Equal(t, SourceStats{Deletes: 1}, src.Stats())
}

func TestSource_Run_FollowsDirectory(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "orders/1.json", `{"Total":1}`)

	st := store.NewMemoryStore()
	defer st.Close()
	w, err := New(Options{DebounceWindow: 20 * time.Millisecond})
	require.NoError(t, err)
	src := NewSource(w, dir, st, nil, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	// Given: the initial load happened
	require.Eventually(t, func() bool { return st.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	// When: a document is added and another removed
	write(t, dir, "orders/2.json", `{"Total":2}`)
	require.NoError(t, os.Remove(filepath.Join(dir, "orders", "1.json")))

	// Then: the store follows
	require.Eventually(t, func() bool {
		_, err1 := st.Get(context.Background(), "orders/1")
		_, err2 := st.Get(context.Background(), "orders/2")
		return errors.Is(err1, ierrors.ErrDocumentNotFound) && err2 == nil
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop")
	}
}
