package daybook

import (
	"sync"
	"time"

	"github.com/colonyops/daybook/internal/core/docstore"
)

// DefaultSettleDelay is how long after a write completes that change
// notifications are still attributed to it.
const DefaultSettleDelay = 300 * time.Millisecond

// Verdict is the guard's decision about a change notification.
type Verdict int

const (
	// Ignore drops the notification.
	Ignore Verdict = iota
	// Reload reloads the collection now.
	Reload
	// Defer rechecks the notification once the settle window ends.
	Defer
)

func (v Verdict) String() string {
	switch v {
	case Reload:
		return "reload"
	case Defer:
		return "defer"
	default:
		return "ignore"
	}
}

// Guard suppresses reloads caused by the engine's own writes reflecting
// back through the change channel. It is a timing heuristic: writes mark
// the namespace as persisting until a settle delay after they finish, and
// notifications inside that window are not treated as external. When the
// backend reports an origin the guard also drops notifications carrying
// the engine's own origin, and defers ones from another origin until the
// window closes instead of dropping them.
type Guard struct {
	settle time.Duration
	now    func() time.Time

	mu          sync.Mutex
	inFlight    int
	quietUntil  time.Time
	initialized bool
	reloading   bool
}

// NewGuard creates a guard. A zero settle means DefaultSettleDelay; a nil
// now means time.Now.
func NewGuard(settle time.Duration, now func() time.Time) *Guard {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	if now == nil {
		now = time.Now
	}
	return &Guard{settle: settle, now: now}
}

// Begin marks the start of a store write.
func (g *Guard) Begin() {
	g.mu.Lock()
	g.inFlight++
	g.mu.Unlock()
}

// End marks the end of a store write, successful or not, and opens the
// settle window.
func (g *Guard) End() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight > 0 {
		g.inFlight--
	}
	if until := g.now().Add(g.settle); until.After(g.quietUntil) {
		g.quietUntil = until
	}
}

// MarkInitialized records that the first load completed.
func (g *Guard) MarkInitialized() {
	g.mu.Lock()
	g.initialized = true
	g.mu.Unlock()
}

// Initialized reports whether the first load completed.
func (g *Guard) Initialized() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initialized
}

// Persisting reports whether a write is in flight or its settle window is
// still open.
func (g *Guard) Persisting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.persistingLocked()
}

// BeginReload claims the reload slot. It reports false when a reload is
// already running.
func (g *Guard) BeginReload() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reloading {
		return false
	}
	g.reloading = true
	return true
}

// EndReload releases the reload slot.
func (g *Guard) EndReload() {
	g.mu.Lock()
	g.reloading = false
	g.mu.Unlock()
}

// Check decides what to do with change. self is the engine's origin id.
// For Defer the returned duration is how long to wait before checking
// again.
func (g *Guard) Check(change docstore.Change, self string) (Verdict, time.Duration) {
	if change.Origin != "" && change.Origin == self {
		return Ignore, 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.initialized || g.reloading {
		return Ignore, 0
	}
	if !g.persistingLocked() {
		return Reload, 0
	}
	if change.Origin == "" {
		return Ignore, 0
	}

	if g.inFlight > 0 {
		return Defer, g.settle
	}
	return Defer, g.quietUntil.Sub(g.now())
}

// ShouldReload reports whether change should trigger a reload right now.
func (g *Guard) ShouldReload(change docstore.Change, self string) bool {
	v, _ := g.Check(change, self)
	return v == Reload
}

func (g *Guard) persistingLocked() bool {
	return g.inFlight > 0 || g.now().Before(g.quietUntil)
}
