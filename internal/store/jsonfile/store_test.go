package jsonfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/colonyops/daybook/internal/core/docstore"
	"github.com/colonyops/daybook/internal/core/docstore/docstoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStore_Backend(t *testing.T) {
	docstoretest.RunBackendTests(t, func(t *testing.T) docstore.Backend {
		return newTestStore(t)
	})
}

func TestStore_Layout(t *testing.T) {
	s := newTestStore(t)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.Claim(ctx, "items", docstore.AccessReadWrite))
	require.NoError(t, s.Put(ctx, "items", "abc.json", json.RawMessage(`{"item_text":"x"}`)))

	data, err := os.ReadFile(filepath.Join(s.Root(), "items", "abc.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"item_text":"x"}`, string(data))

	entries, err := os.ReadDir(filepath.Join(s.Root(), "items"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestStore_ListSkipsTempFiles(t *testing.T) {
	s := newTestStore(t)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	require.NoError(t, s.Claim(ctx, "items", docstore.AccessReadWrite))

	dir := filepath.Join(s.Root(), "items")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".a.json.123.tmp"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json.lock"), []byte(``), 0o644))

	keys, err := s.List(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json"}, keys)
}

func TestStore_PutRejectsInvalidJSON(t *testing.T) {
	s := newTestStore(t)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	require.NoError(t, s.Claim(ctx, "items", docstore.AccessReadWrite))

	require.Error(t, s.Put(ctx, "items", "a.json", json.RawMessage(`{nope`)))
}

func TestStore_WatchTagsOwnWrites(t *testing.T) {
	s := newTestStore(t)
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Claim(ctx, "items", docstore.AccessReadWrite))

	changes, err := s.Watch(ctx, "items")
	require.NoError(t, err)

	require.NoError(t, s.Put(docstore.WithOrigin(ctx, "me"), "items", "a.json", json.RawMessage(`{}`)))

	select {
	case c := <-changes:
		assert.Equal(t, "me", c.Origin)
		assert.Equal(t, []string{"a.json"}, c.Keys)
	case <-ctx.Done():
		t.Fatal("timeout waiting for change")
	}
}

func TestStore_Closed(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.List(context.Background(), "items")
	require.ErrorIs(t, err, docstore.ErrClosed)
	_, err = s.Watch(context.Background(), "items")
	require.ErrorIs(t, err, docstore.ErrClosed)
}
