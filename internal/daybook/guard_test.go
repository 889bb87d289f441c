package daybook

import (
	"testing"
	"time"

	"github.com/colonyops/daybook/internal/core/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) (*Guard, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	g := NewGuard(100*time.Millisecond, clock.Now)
	g.MarkInitialized()
	return g, clock
}

func TestGuard_IgnoresBeforeInitialized(t *testing.T) {
	g := NewGuard(0, nil)

	v, _ := g.Check(docstore.Change{Origin: "other"}, "self")
	assert.Equal(t, Ignore, v)
	assert.False(t, g.Initialized())
}

func TestGuard_ReloadsOutsideWindow(t *testing.T) {
	g, _ := newTestGuard(t)

	// No self write has happened yet.
	assert.True(t, g.ShouldReload(docstore.Change{}, "self"))
	assert.True(t, g.ShouldReload(docstore.Change{Origin: "other"}, "self"))
}

func TestGuard_SuppressesInsideWindow(t *testing.T) {
	g, clock := newTestGuard(t)

	g.Begin()
	assert.True(t, g.Persisting())
	assert.False(t, g.ShouldReload(docstore.Change{}, "self"), "write in flight")

	g.End()
	clock.Advance(50 * time.Millisecond)
	assert.True(t, g.Persisting())
	assert.False(t, g.ShouldReload(docstore.Change{}, "self"), "inside settle window")

	clock.Advance(50 * time.Millisecond)
	assert.False(t, g.Persisting())
	assert.True(t, g.ShouldReload(docstore.Change{}, "self"), "window closed")
}

func TestGuard_SelfOriginAlwaysIgnored(t *testing.T) {
	g, clock := newTestGuard(t)

	v, _ := g.Check(docstore.Change{Origin: "self"}, "self")
	assert.Equal(t, Ignore, v)

	g.Begin()
	g.End()
	clock.Advance(time.Hour)
	v, _ = g.Check(docstore.Change{Origin: "self"}, "self")
	assert.Equal(t, Ignore, v)
}

func TestGuard_DefersForeignOriginInsideWindow(t *testing.T) {
	g, clock := newTestGuard(t)

	g.Begin()
	v, wait := g.Check(docstore.Change{Origin: "other"}, "self")
	assert.Equal(t, Defer, v)
	assert.Equal(t, 100*time.Millisecond, wait)

	g.End()
	clock.Advance(30 * time.Millisecond)
	v, wait = g.Check(docstore.Change{Origin: "other"}, "self")
	assert.Equal(t, Defer, v)
	assert.Equal(t, 70*time.Millisecond, wait)

	// Unknown origins inside the window are assumed to be our own echo.
	v, _ = g.Check(docstore.Change{}, "self")
	assert.Equal(t, Ignore, v)

	clock.Advance(70 * time.Millisecond)
	v, _ = g.Check(docstore.Change{Origin: "other"}, "self")
	assert.Equal(t, Reload, v)
}

func TestGuard_OverlappingWrites(t *testing.T) {
	g, clock := newTestGuard(t)

	g.Begin()
	g.Begin()
	g.End()
	clock.Advance(time.Second)
	assert.True(t, g.Persisting(), "second write still in flight")

	g.End()
	clock.Advance(99 * time.Millisecond)
	assert.True(t, g.Persisting())
	clock.Advance(time.Millisecond)
	assert.False(t, g.Persisting())
}

func TestGuard_EndWithoutBeginDoesNotGoNegative(t *testing.T) {
	g, clock := newTestGuard(t)

	g.End()
	clock.Advance(time.Second)
	g.Begin()
	assert.True(t, g.Persisting())
}

func TestGuard_ReloadSlot(t *testing.T) {
	g, _ := newTestGuard(t)

	require.True(t, g.BeginReload())
	assert.False(t, g.BeginReload())

	v, _ := g.Check(docstore.Change{Origin: "other"}, "self")
	assert.Equal(t, Ignore, v, "reload already running")

	g.EndReload()
	assert.True(t, g.BeginReload())
}

func TestGuard_WindowProperty(t *testing.T) {
	const settle = 100 * time.Millisecond

	offsets := []time.Duration{0, time.Millisecond, 50 * time.Millisecond, 99 * time.Millisecond, settle, 101 * time.Millisecond, time.Second}
	for _, off := range offsets {
		t.Run(off.String(), func(t *testing.T) {
			clock := newFakeClock()
			g := NewGuard(settle, clock.Now)
			g.MarkInitialized()

			g.Begin()
			g.End()
			clock.Advance(off)

			want := off >= settle
			assert.Equal(t, want, g.ShouldReload(docstore.Change{}, "self"))
		})
	}
}

func TestVerdict_String(t *testing.T) {
	assert.Equal(t, "ignore", Ignore.String())
	assert.Equal(t, "reload", Reload.String())
	assert.Equal(t, "defer", Defer.String())
}
