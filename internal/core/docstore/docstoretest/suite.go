package docstoretest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/colonyops/daybook/internal/core/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) docstore.Backend

// WatchTimeout bounds how long the suite waits for a change notification.
var WatchTimeout = 5 * time.Second

const suiteNS = "items"

// RunBackendTests runs the Backend contract against backends built by newBackend.
func RunBackendTests(t *testing.T, newBackend Factory) {
	t.Helper()

	open := func(t *testing.T) docstore.Backend {
		t.Helper()
		b := newBackend(t)
		t.Cleanup(func() { _ = b.Close() })
		require.NoError(t, b.Claim(context.Background(), suiteNS, docstore.AccessReadWrite))
		return b
	}

	t.Run("get absent", func(t *testing.T) {
		b := open(t)
		doc, ok, err := b.Get(context.Background(), suiteNS, "missing.json")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, doc)
	})

	t.Run("put get list", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()

		require.NoError(t, b.Put(ctx, suiteNS, "a.json", json.RawMessage(`{"item_text":"a"}`)))
		require.NoError(t, b.Put(ctx, suiteNS, "b.json", json.RawMessage(`{"item_text":"b"}`)))

		doc, ok, err := b.Get(ctx, suiteNS, "a.json")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"item_text":"a"}`, string(doc))

		keys, err := b.List(ctx, suiteNS)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a.json", "b.json"}, keys)
	})

	t.Run("put overwrites", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()

		require.NoError(t, b.Put(ctx, suiteNS, "a.json", json.RawMessage(`{"v":1}`)))
		require.NoError(t, b.Put(ctx, suiteNS, "a.json", json.RawMessage(`{"v":2}`)))

		doc, ok, err := b.Get(ctx, suiteNS, "a.json")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"v":2}`, string(doc))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()

		require.NoError(t, b.Put(ctx, suiteNS, "a.json", json.RawMessage(`{}`)))
		require.NoError(t, b.Delete(ctx, suiteNS, "a.json"))
		require.NoError(t, b.Delete(ctx, suiteNS, "a.json"))
		require.NoError(t, b.Delete(ctx, suiteNS, "never.json"))

		keys, err := b.List(ctx, suiteNS)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		b := open(t)
		ctx := context.Background()
		require.NoError(t, b.Claim(ctx, "other", docstore.AccessReadWrite))

		require.NoError(t, b.Put(ctx, suiteNS, "a.json", json.RawMessage(`{}`)))

		keys, err := b.List(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("watch reports writes", func(t *testing.T) {
		b := open(t)
		ctx, cancel := context.WithTimeout(context.Background(), WatchTimeout)
		defer cancel()

		changes, err := b.Watch(ctx, suiteNS)
		require.NoError(t, err)

		writeCtx := docstore.WithOrigin(ctx, "writer-1")
		require.NoError(t, b.Put(writeCtx, suiteNS, "w.json", json.RawMessage(`{}`)))

		select {
		case change, ok := <-changes:
			require.True(t, ok, "channel closed before a change arrived")
			assert.Equal(t, suiteNS, change.Namespace)
			if len(change.Keys) > 0 {
				assert.Contains(t, change.Keys, "w.json")
			}
			if change.Origin != "" {
				assert.Equal(t, "writer-1", change.Origin)
			}
		case <-ctx.Done():
			t.Fatal("timeout waiting for change")
		}
	})

	t.Run("watch closes on cancel", func(t *testing.T) {
		b := open(t)
		ctx, cancel := context.WithCancel(context.Background())

		changes, err := b.Watch(ctx, suiteNS)
		require.NoError(t, err)
		cancel()

		deadline := time.After(WatchTimeout)
		for {
			select {
			case _, ok := <-changes:
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("watch channel not closed after cancel")
			}
		}
	})
}
