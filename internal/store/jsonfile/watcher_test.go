package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := NewWatcher()
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	require.NoError(t, w.Add("items", dir))
	return w, dir
}

func TestWatcher_Watch(t *testing.T) {
	t.Parallel()

	w, dir := newTestWatcher(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := w.Watch(ctx, "items")
	require.NoError(t, err)

	err = os.WriteFile(filepath.Join(dir, "abc.json"), []byte(`{"item_text":"x"}`), 0o644)
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, "items", event.Namespace)
		assert.Equal(t, []string{"abc.json"}, event.Keys)
		assert.Empty(t, event.Origin, "external edits carry no origin")
		assert.False(t, event.At.IsZero())
	case <-ctx.Done():
		t.Fatal("timeout waiting for event")
	}
}

func TestWatcher_Remove(t *testing.T) {
	t.Parallel()

	w, dir := newTestWatcher(t)
	path := filepath.Join(dir, "gone.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	time.Sleep(100 * time.Millisecond) // Let the create settle before subscribing
	events, err := w.Watch(ctx, "items")
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))

	select {
	case event := <-events:
		assert.Equal(t, []string{"gone.json"}, event.Keys)
	case <-ctx.Done():
		t.Fatal("timeout waiting for remove event")
	}
}

func TestWatcher_ExpectTagsOrigin(t *testing.T) {
	t.Parallel()

	w, dir := newTestWatcher(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := w.Watch(ctx, "items")
	require.NoError(t, err)

	w.Expect("items", "mine.json", "origin-1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mine.json"), []byte(`{}`), 0o644))

	select {
	case event := <-events:
		assert.Equal(t, "origin-1", event.Origin)
	case <-ctx.Done():
		t.Fatal("timeout waiting for event")
	}
}

func TestWatcher_IgnoreTmpAndLockFiles(t *testing.T) {
	t.Parallel()

	w, dir := newTestWatcher(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := w.Watch(ctx, "items")
	require.NoError(t, err)

	err = os.WriteFile(filepath.Join(dir, "test.json.tmp"), []byte(`{}`), 0o644)
	require.NoError(t, err)

	err = os.WriteFile(filepath.Join(dir, "test.json.lock"), []byte(`{}`), 0o644)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond) // Ensure tmp/lock events processed first
	err = os.WriteFile(filepath.Join(dir, "real.json"), []byte(`{}`), 0o644)
	require.NoError(t, err)

	timeout := time.After(300 * time.Millisecond)
	var keys []string
	for {
		select {
		case event := <-events:
			keys = append(keys, event.Keys...)
		case <-timeout:
			assert.Equal(t, []string{"real.json"}, keys)
			return
		}
	}
}

func TestWatcher_Debounce(t *testing.T) {
	t.Parallel()

	w, dir := newTestWatcher(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := w.Watch(ctx, "items")
	require.NoError(t, err)

	path := filepath.Join(dir, "debounce.json")

	// Rapidly write to the same file multiple times
	for i := 0; i < 5; i++ {
		err = os.WriteFile(path, []byte(`{}`), 0o644)
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond) // Less than debounce delay
	}

	timeout := time.After(300 * time.Millisecond)
	eventCount := 0
	for {
		select {
		case <-events:
			eventCount++
		case <-timeout:
			assert.Equal(t, 1, eventCount, "should receive exactly one debounced event")
			return
		}
	}
}

func TestWatcher_ContextCancellation(t *testing.T) {
	t.Parallel()

	w, _ := newTestWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := w.Watch(ctx, "items")
	require.NoError(t, err)

	cancel()

	time.Sleep(100 * time.Millisecond) // Give time for cleanup goroutine
	_, ok := <-events
	assert.False(t, ok, "channel should be closed after context cancellation")
}

func TestWatcher_Close(t *testing.T) {
	t.Parallel()

	w, err := NewWatcher()
	require.NoError(t, err)

	events, err := w.Watch(context.Background(), "items")
	require.NoError(t, err)

	require.NoError(t, w.Close())

	_, ok := <-events
	assert.False(t, ok, "channel should be closed after watcher close")
}
