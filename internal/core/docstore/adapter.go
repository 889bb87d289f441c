package docstore

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configures an Adapter.
type Options struct {
	// Namespace defaults to DefaultNamespace.
	Namespace string
	// Origin identifies this adapter's writes. A fresh id is minted when
	// empty.
	Origin string
	// Now defaults to time.Now.
	Now func() time.Time
}

type cachedList struct {
	keys []string
	at   time.Time
}

type cachedDoc struct {
	body  json.RawMessage
	found bool
	at    time.Time
}

// Adapter binds a Backend to one namespace. It owns the bounded-age read
// cache and fans change notifications out to OnChange subscribers.
type Adapter struct {
	backend Backend
	ns      string
	origin  string
	now     func() time.Time
	log     zerolog.Logger

	mu      sync.Mutex
	opened  bool
	closed  bool
	listing *cachedList
	docs    map[string]cachedDoc
	gen     uint64 // bumped by invalidate; reads started before a bump are not cached

	subMu   sync.RWMutex
	subs    map[int]func(Change)
	nextSub int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAdapter creates an adapter over backend. Call Open before use.
func NewAdapter(backend Backend, log zerolog.Logger, opts Options) *Adapter {
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.Origin == "" {
		opts.Origin = NewOrigin()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Adapter{
		backend: backend,
		ns:      opts.Namespace,
		origin:  opts.Origin,
		now:     opts.Now,
		log:     log.With().Str("component", "docstore").Str("namespace", opts.Namespace).Logger(),
		docs:    make(map[string]cachedDoc),
		subs:    make(map[int]func(Change)),
	}
}

// Namespace returns the namespace this adapter is bound to.
func (a *Adapter) Namespace() string { return a.ns }

// Origin returns the origin id stamped on this adapter's writes.
func (a *Adapter) Origin() string { return a.origin }

// Open claims read-write access on the namespace and starts delivering
// change notifications. It is a no-op when already open.
func (a *Adapter) Open(ctx context.Context) error {
	if err := ValidateNamespace(a.ns); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.opened {
		return nil
	}

	if err := a.backend.Claim(ctx, a.ns, AccessReadWrite); err != nil {
		return wrap("claim", a.ns, err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	changes, err := a.backend.Watch(watchCtx, a.ns)
	if err != nil {
		cancel()
		return wrap("watch", a.ns, err)
	}

	a.cancel = cancel
	a.done = make(chan struct{})
	a.opened = true

	go a.run(changes)

	a.log.Debug().Str("origin", a.origin).Msg("document store opened")
	return nil
}

// Close stops change delivery and closes the backend.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return a.backend.Close()
}

// List returns the keys in the namespace. A cached listing younger than
// maxAge is returned without touching the backend; maxAge of zero forces a
// fresh listing.
func (a *Adapter) List(ctx context.Context, maxAge time.Duration) ([]string, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	if l := a.listing; l != nil && maxAge > 0 && a.now().Sub(l.at) < maxAge {
		keys := slices.Clone(l.keys)
		a.mu.Unlock()
		return keys, nil
	}
	gen := a.gen
	a.mu.Unlock()

	keys, err := a.backend.List(ctx, a.ns)
	if err != nil {
		return nil, wrap("list", a.ns, err)
	}
	slices.Sort(keys)

	a.mu.Lock()
	if a.gen == gen {
		a.listing = &cachedList{keys: slices.Clone(keys), at: a.now()}
	}
	a.mu.Unlock()

	return keys, nil
}

// Get returns the document stored under key. It reports false with a nil
// error when the key is absent. Cached reads follow the same maxAge rule as
// List.
func (a *Adapter) Get(ctx context.Context, key string, maxAge time.Duration) (json.RawMessage, bool, error) {
	if err := a.ready(); err != nil {
		return nil, false, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, false, &StoreError{Op: "get", Key: key, Err: err}
	}

	a.mu.Lock()
	if d, ok := a.docs[key]; ok && maxAge > 0 && a.now().Sub(d.at) < maxAge {
		a.mu.Unlock()
		return slices.Clone(d.body), d.found, nil
	}
	gen := a.gen
	a.mu.Unlock()

	body, found, err := a.backend.Get(ctx, a.ns, key)
	if err != nil {
		return nil, false, wrap("get", key, err)
	}

	a.mu.Lock()
	if a.gen == gen {
		a.docs[key] = cachedDoc{body: slices.Clone(body), found: found, at: a.now()}
	}
	a.mu.Unlock()

	if !found {
		return nil, false, nil
	}
	return body, true, nil
}

// Put upserts the document stored under key.
func (a *Adapter) Put(ctx context.Context, key string, doc json.RawMessage) error {
	if err := a.ready(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return &StoreError{Op: "put", Key: key, Err: err}
	}

	err := a.backend.Put(WithOrigin(ctx, a.origin), a.ns, key, doc)
	a.invalidate(key)
	if err != nil {
		return wrap("put", key, err)
	}
	return nil
}

// Delete removes the document stored under key. Deleting an absent key
// succeeds.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := a.ready(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return &StoreError{Op: "delete", Key: key, Err: err}
	}

	err := a.backend.Delete(WithOrigin(ctx, a.origin), a.ns, key)
	a.invalidate(key)
	if err != nil {
		return wrap("delete", key, err)
	}
	return nil
}

// OnChange registers fn for every change notification on the namespace,
// self-originated ones included. fn runs on the adapter's delivery
// goroutine and must not block for long. The returned func unsubscribes.
func (a *Adapter) OnChange(fn func(Change)) (unsubscribe func()) {
	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.subMu.Lock()
			delete(a.subs, id)
			a.subMu.Unlock()
		})
	}
}

func (a *Adapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return ErrClosed
	case !a.opened:
		return ErrNotOpen
	default:
		return nil
	}
}

// invalidate drops the cached document for key and the cached listing.
// Passing no keys drops every cached document.
func (a *Adapter) invalidate(keys ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.gen++
	a.listing = nil
	if len(keys) == 0 {
		clear(a.docs)
		return
	}
	for _, k := range keys {
		delete(a.docs, k)
	}
}

func (a *Adapter) run(changes <-chan Change) {
	defer close(a.done)

	for change := range changes {
		a.invalidate(change.Keys...)

		if change.Namespace == "" {
			change.Namespace = a.ns
		}
		if change.At.IsZero() {
			change.At = a.now()
		}

		a.log.Debug().
			Strs("keys", change.Keys).
			Str("origin", change.Origin).
			Bool("self", change.Origin == a.origin).
			Msg("change notification")

		a.subMu.RLock()
		subs := make([]func(Change), 0, len(a.subs))
		for _, fn := range a.subs {
			subs = append(subs, fn)
		}
		a.subMu.RUnlock()

		for _, fn := range subs {
			fn(change)
		}
	}
}
