package redisstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/colonyops/daybook/internal/core/docstore"
	"github.com/colonyops/daybook/internal/core/docstore/docstoretest"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestStore_Backend(t *testing.T) {
	docstoretest.RunBackendTests(t, func(t *testing.T) docstore.Backend {
		_, client := newTestClient(t)
		return New(client, "test")
	})
}

func TestStore_Layout(t *testing.T) {
	mr, client := newTestClient(t)
	s := New(client, "")
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.Claim(ctx, "items", docstore.AccessReadWrite))
	require.NoError(t, s.Put(ctx, "items", "a.json", json.RawMessage(`{"item_text":"a"}`)))

	assert.Equal(t, `{"item_text":"a"}`, mr.HGet("daybook:items", "a.json"))
}

func TestStore_WriteRequiresClaim(t *testing.T) {
	_, client := newTestClient(t)
	s := New(client, "")
	t.Cleanup(func() { _ = s.Close() })

	err := s.Put(context.Background(), "items", "a.json", json.RawMessage(`{}`))
	require.ErrorIs(t, err, docstore.ErrAccessDenied)
}

func TestStore_ChangesCrossClients(t *testing.T) {
	mr, clientA := newTestClient(t)
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = clientB.Close() })

	deviceA := New(clientA, "")
	deviceB := New(clientB, "")
	t.Cleanup(func() {
		_ = deviceA.Close()
		_ = deviceB.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, deviceA.Claim(ctx, "items", docstore.AccessReadWrite))
	require.NoError(t, deviceB.Claim(ctx, "items", docstore.AccessReadWrite))

	changes, err := deviceB.Watch(ctx, "items")
	require.NoError(t, err)

	require.NoError(t, deviceA.Put(docstore.WithOrigin(ctx, "device-a"), "items", "x.json", json.RawMessage(`{}`)))

	select {
	case c := <-changes:
		assert.Equal(t, "device-a", c.Origin)
		assert.Equal(t, []string{"x.json"}, c.Keys)
	case <-ctx.Done():
		t.Fatal("device B did not observe device A's write")
	}

	keys, err := deviceB.List(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.json"}, keys)
}

func TestOpen_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Open(ctx, Options{Addr: "127.0.0.1:1"})
	require.Error(t, err)
}

func TestOpen_OwnsClient(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := Open(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.client.Ping(context.Background()).Err()
	require.Error(t, err, "owned client should be closed")
}
