// Package daybook holds the services that keep the todo collection in sync
// with the document store and apply structured actions to it.
package daybook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/colonyops/daybook/internal/core/action"
	"github.com/colonyops/daybook/internal/core/docstore"
	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultRoutineMaxAge bounds the cache age for routine loads.
	DefaultRoutineMaxAge = 24 * time.Hour

	fetchConcurrency = 8
	writeConcurrency = 8
)

// ErrBulkInFlight is returned when a bulk operation could not start
// because another one held the slot until the context ended.
var ErrBulkInFlight = errors.New("bulk operation already in flight")

// Store is the part of the document store adapter the engine uses.
type Store interface {
	List(ctx context.Context, maxAge time.Duration) ([]string, error)
	Get(ctx context.Context, key string, maxAge time.Duration) (json.RawMessage, bool, error)
	Put(ctx context.Context, key string, doc json.RawMessage) error
	Delete(ctx context.Context, key string) error
	OnChange(fn func(docstore.Change)) (unsubscribe func())
	Origin() string
}

var _ Store = (*docstore.Adapter)(nil)

// EngineOptions configures an Engine.
type EngineOptions struct {
	// RoutineMaxAge is the cache age accepted by Load. Zero means
	// DefaultRoutineMaxAge.
	RoutineMaxAge time.Duration
	// SettleDelay is passed to the guard. Zero means DefaultSettleDelay.
	SettleDelay time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine owns the authoritative in-memory collection. Every mutation is
// applied locally first, then persisted, and rolled back when the store
// write fails.
type Engine struct {
	store         Store
	guard         *Guard
	log           zerolog.Logger
	now           func() time.Time
	routineMaxAge time.Duration

	mu    sync.RWMutex
	items []todo.Item

	bulk chan struct{}

	subMu   sync.RWMutex
	subs    map[int]func([]todo.Item)
	nextSub int

	watchOnce   sync.Once
	unsubscribe func()
	bgMu        sync.Mutex
	pending     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an engine over store. Call Load before use.
func NewEngine(store Store, log zerolog.Logger, opts EngineOptions) *Engine {
	if opts.RoutineMaxAge <= 0 {
		opts.RoutineMaxAge = DefaultRoutineMaxAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:         store,
		guard:         NewGuard(opts.SettleDelay, opts.Now),
		log:           log.With().Str("component", "engine").Logger(),
		now:           opts.Now,
		routineMaxAge: opts.RoutineMaxAge,
		bulk:          make(chan struct{}, 1),
		subs:          make(map[int]func([]todo.Item)),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Guard returns the engine's change-loop guard.
func (e *Engine) Guard() *Guard { return e.guard }

// Load performs the first load from the store, accepting cached reads up to
// the routine max age, and starts reacting to change notifications.
func (e *Engine) Load(ctx context.Context) error {
	items, err := e.fetch(ctx, e.routineMaxAge)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	e.mu.Lock()
	e.items = items
	e.mu.Unlock()

	e.guard.MarkInitialized()
	e.watchOnce.Do(func() {
		e.unsubscribe = e.store.OnChange(e.handleChange)
	})

	e.log.Debug().Int("items", len(items)).Msg("collection loaded")
	e.notify()
	return nil
}

// Reload replaces the collection with a fresh read of the store. It is a
// no-op while another reload is running.
func (e *Engine) Reload(ctx context.Context) error {
	if !e.guard.BeginReload() {
		return nil
	}
	defer e.guard.EndReload()

	items, err := e.fetch(ctx, 0)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	e.mu.Lock()
	e.items = items
	e.mu.Unlock()

	e.log.Debug().Int("items", len(items)).Msg("collection reloaded")
	e.notify()
	return nil
}

// Close stops reacting to change notifications. It does not close the
// store.
func (e *Engine) Close() error {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.bgMu.Lock()
	e.cancel()
	e.bgMu.Unlock()
	e.wg.Wait()
	return nil
}

// Items returns a copy of the collection, tombstones included.
func (e *Engine) Items() []todo.Item {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return todo.Clone(e.items)
}

// Get returns the item with id.
func (e *Engine) Get(id string) (todo.Item, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx := todo.IndexOf(e.items, id)
	if idx < 0 {
		return todo.Item{}, fmt.Errorf("%w: %s", todo.ErrNotFound, id)
	}
	return e.items[idx], nil
}

// Subscribe registers fn to receive the collection after every change,
// rollbacks included. The returned func unsubscribes.
func (e *Engine) Subscribe(fn func([]todo.Item)) (unsubscribe func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subs, id)
			e.subMu.Unlock()
		})
	}
}

// Add appends item and writes its document.
func (e *Engine) Add(ctx context.Context, item todo.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if item.Removed {
		return &todo.ValidationError{Field: "removed", Message: "cannot add a removed item"}
	}
	doc, err := todo.Marshal(item)
	if err != nil {
		return err
	}

	return e.transact(ctx, "add",
		func(items []todo.Item) ([]todo.Item, error) {
			if todo.IndexOf(items, item.ID) >= 0 {
				return nil, &todo.ValidationError{Field: "id", Message: fmt.Sprintf("%s already exists", item.ID)}
			}
			return append(items, item), nil
		},
		func(ctx context.Context, _, _ []todo.Item) error {
			return e.store.Put(ctx, todo.Key(item.ID), doc)
		},
	)
}

// Update replaces the item with the same id and writes its full document.
// A removed item has its document deleted instead.
func (e *Engine) Update(ctx context.Context, item todo.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	doc, err := todo.Marshal(item)
	if err != nil {
		return err
	}

	return e.transact(ctx, "update",
		func(items []todo.Item) ([]todo.Item, error) {
			idx := todo.IndexOf(items, item.ID)
			if idx < 0 {
				return nil, fmt.Errorf("%w: %s", todo.ErrNotFound, item.ID)
			}
			items[idx] = item
			return items, nil
		},
		func(ctx context.Context, _, _ []todo.Item) error {
			if item.Removed {
				return e.store.Delete(ctx, todo.Key(item.ID))
			}
			return e.store.Put(ctx, todo.Key(item.ID), doc)
		},
	)
}

// Edit applies patch to the item with id and returns the updated item.
func (e *Engine) Edit(ctx context.Context, id string, patch todo.Patch) (todo.Item, error) {
	current, err := e.Get(id)
	if err != nil {
		return todo.Item{}, err
	}
	if patch.IsEmpty() {
		return current, nil
	}

	updated := patch.Apply(current)
	if err := e.Update(ctx, updated); err != nil {
		return todo.Item{}, err
	}
	return updated, nil
}

// Toggle flips the completion state of the item with id.
func (e *Engine) Toggle(ctx context.Context, id string) (todo.Item, error) {
	current, err := e.Get(id)
	if err != nil {
		return todo.Item{}, err
	}
	completed := !current.Completed
	return e.Edit(ctx, id, todo.Patch{Completed: &completed})
}

// Remove deletes the item with id locally and in the store.
func (e *Engine) Remove(ctx context.Context, id string) error {
	return e.transact(ctx, "remove",
		func(items []todo.Item) ([]todo.Item, error) {
			idx := todo.IndexOf(items, id)
			if idx < 0 {
				return nil, fmt.Errorf("%w: %s", todo.ErrNotFound, id)
			}
			return append(items[:idx], items[idx+1:]...), nil
		},
		func(ctx context.Context, _, _ []todo.Item) error {
			return e.store.Delete(ctx, todo.Key(id))
		},
	)
}

// ReplaceAll makes the collection exactly items and the remote document set
// exactly its active subset. The remote listing is read fresh and diffed
// against the collection; puts and deletes run concurrently, and any
// failure rolls the collection back.
func (e *Engine) ReplaceAll(ctx context.Context, items []todo.Item) error {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return err
		}
		if _, dup := seen[it.ID]; dup {
			return &todo.ValidationError{Field: "id", Message: fmt.Sprintf("%s appears twice", it.ID)}
		}
		seen[it.ID] = struct{}{}
	}

	release, err := e.acquireBulk(ctx)
	if err != nil {
		return err
	}
	defer release()

	return e.replaceAll(ctx, todo.Clone(items), nil)
}

// replaceAll swaps the collection for items. fetched lists items just read
// from the store that the collection did not hold; they count as already
// stored so unchanged ones are not written back.
func (e *Engine) replaceAll(ctx context.Context, items, fetched []todo.Item) error {
	return e.transact(ctx, "replace all",
		func([]todo.Item) ([]todo.Item, error) {
			return items, nil
		},
		func(ctx context.Context, before, after []todo.Item) error {
			keys, err := e.store.List(ctx, 0)
			if err != nil {
				return err
			}
			delta := Diff(keys, append(slices.Clip(before), fetched...), after)
			e.log.Debug().
				Int("puts", len(delta.Puts)).
				Int("deletes", len(delta.Deletes)).
				Msg("replace all")
			return e.apply(ctx, delta)
		},
	)
}

// apply runs every write in delta concurrently and joins their errors.
func (e *Engine) apply(ctx context.Context, delta Delta) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(writeConcurrency)

	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, it := range delta.Puts {
		g.Go(func() error {
			doc, err := todo.Marshal(it)
			if err != nil {
				record(err)
				return nil
			}
			record(e.store.Put(ctx, todo.Key(it.ID), doc))
			return nil
		})
	}
	for _, key := range delta.Deletes {
		g.Go(func() error {
			record(e.store.Delete(ctx, key))
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Clear removes the items on date whose completion state falls in scope.
// A zero date clears every date. The remote set is fetched fresh and merged
// with the collection first, so items this engine has not seen yet are
// cleared too. It returns the ids that were cleared.
func (e *Engine) Clear(ctx context.Context, scope action.Scope, date todo.Date) ([]string, error) {
	if _, err := action.ParseScope(string(scope)); err != nil {
		return nil, &todo.ValidationError{Field: "scope", Message: err.Error()}
	}

	release, err := e.acquireBulk(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	remote, err := e.fetch(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("clear: %w", err)
	}

	merged := e.Items()
	var fetched []todo.Item
	for _, it := range remote {
		if todo.IndexOf(merged, it.ID) < 0 {
			fetched = append(fetched, it)
		}
	}
	merged = append(merged, fetched...)

	var (
		next    = make([]todo.Item, 0, len(merged))
		cleared []string
	)
	for _, it := range merged {
		if (date.IsZero() || it.Date == date) && scope.Matches(it.Completed) {
			if !it.Removed {
				cleared = append(cleared, it.ID)
			}
			continue
		}
		next = append(next, it)
	}

	if err := e.replaceAll(ctx, next, fetched); err != nil {
		return nil, err
	}
	e.log.Debug().
		Str("scope", string(scope)).
		Stringer("date", date).
		Int("cleared", len(cleared)).
		Msg("cleared items")
	return cleared, nil
}

// Purge drops local tombstones and makes sure none of them has a remote
// document. It returns the number of tombstones purged.
func (e *Engine) Purge(ctx context.Context) (int, error) {
	release, err := e.acquireBulk(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	var purged int
	err = e.transact(ctx, "purge",
		func(items []todo.Item) ([]todo.Item, error) {
			out := items[:0]
			for _, it := range items {
				if it.Removed {
					purged++
					continue
				}
				out = append(out, it)
			}
			return out, nil
		},
		func(ctx context.Context, before, _ []todo.Item) error {
			var delta Delta
			for _, it := range before {
				if it.Removed {
					delta.Deletes = append(delta.Deletes, todo.Key(it.ID))
				}
			}
			return e.apply(ctx, delta)
		},
	)
	if err != nil {
		return 0, err
	}
	return purged, nil
}

// transact is the single write path: snapshot, apply locally, persist, and
// restore the snapshot when persist fails. apply receives a private copy of
// the collection; persist receives the collection before and after.
func (e *Engine) transact(
	ctx context.Context,
	op string,
	apply func(items []todo.Item) ([]todo.Item, error),
	persist func(ctx context.Context, before, after []todo.Item) error,
) error {
	e.mu.Lock()
	snapshot := todo.Clone(e.items)
	next, err := apply(todo.Clone(e.items))
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.items = next
	after := todo.Clone(next)
	e.mu.Unlock()
	e.notify()

	e.guard.Begin()
	err = persist(ctx, snapshot, after)
	e.guard.End()

	if err != nil {
		e.mu.Lock()
		e.items = snapshot
		e.mu.Unlock()
		e.notify()

		e.log.Warn().Err(err).Str("op", op).Msg("store write failed, rolled back")
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (e *Engine) acquireBulk(ctx context.Context) (release func(), err error) {
	select {
	case e.bulk <- struct{}{}:
		return func() { <-e.bulk }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrBulkInFlight, ctx.Err())
	}
}

// fetch reads every item document. Documents that fail to decode are
// skipped; keys that vanish between the listing and the read are ignored.
func (e *Engine) fetch(ctx context.Context, maxAge time.Duration) ([]todo.Item, error) {
	keys, err := e.store.List(ctx, maxAge)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if id, ok := todo.IDFromKey(key); ok {
			ids = append(ids, id)
		}
	}

	var (
		slots = make([]*todo.Item, len(ids))
		now   = e.now()
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			body, ok, err := e.store.Get(gctx, todo.Key(id), maxAge)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			it, err := todo.Unmarshal(id, body, now)
			if err != nil {
				e.log.Warn().Err(err).Str("id", id).Msg("skipping undecodable document")
				return nil
			}
			slots[i] = &it
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]todo.Item, 0, len(slots))
	for _, it := range slots {
		if it != nil {
			items = append(items, *it)
		}
	}
	return items, nil
}

func (e *Engine) handleChange(change docstore.Change) {
	verdict, wait := e.guard.Check(change, e.store.Origin())

	e.log.Debug().
		Strs("keys", change.Keys).
		Str("origin", change.Origin).
		Stringer("verdict", verdict).
		Msg("change received")

	switch verdict {
	case Reload:
		e.spawn(func(ctx context.Context) {
			if err := e.Reload(ctx); err != nil {
				e.log.Error().Err(err).Msg("reload after change failed")
			}
		})
	case Defer:
		e.bgMu.Lock()
		if e.pending {
			e.bgMu.Unlock()
			return
		}
		e.pending = true
		e.bgMu.Unlock()

		e.spawn(func(ctx context.Context) {
			if waitWithContext(ctx, wait) != nil {
				return
			}
			e.bgMu.Lock()
			e.pending = false
			e.bgMu.Unlock()
			e.handleChange(change)
		})
	}
}

func (e *Engine) spawn(fn func(ctx context.Context)) {
	e.bgMu.Lock()
	defer e.bgMu.Unlock()
	if e.ctx.Err() != nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}

func (e *Engine) notify() {
	items := e.Items()

	e.subMu.RLock()
	subs := make([]func([]todo.Item), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subMu.RUnlock()

	for _, fn := range subs {
		fn(todo.Clone(items))
	}
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
