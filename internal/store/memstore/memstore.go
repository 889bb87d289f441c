// Package memstore is an in-process document store backend.
package memstore

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/colonyops/daybook/internal/core/docstore"
)

const eventBufferSize = 100

// Store keeps documents in memory. Several adapters may share one Store to
// simulate devices syncing through the same remote.
type Store struct {
	mu       sync.RWMutex
	spaces   map[string]map[string]json.RawMessage
	claims   map[string]docstore.Access
	watchers map[string][]chan docstore.Change
	closed   bool
}

var _ docstore.Backend = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		spaces:   make(map[string]map[string]json.RawMessage),
		claims:   make(map[string]docstore.Access),
		watchers: make(map[string][]chan docstore.Change),
	}
}

// Claim records the access level for ns. A read-write claim is never
// downgraded.
func (s *Store) Claim(_ context.Context, ns string, access docstore.Access) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return docstore.ErrClosed
	}
	if s.claims[ns].CanWrite() {
		return nil
	}
	s.claims[ns] = access
	return nil
}

// List returns the keys in ns.
func (s *Store) List(_ context.Context, ns string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, docstore.ErrClosed
	}
	return slices.Sorted(maps.Keys(s.spaces[ns])), nil
}

// Get returns the document for key.
func (s *Store) Get(_ context.Context, ns, key string) (json.RawMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, docstore.ErrClosed
	}
	doc, ok := s.spaces[ns][key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(doc), true, nil
}

// Put upserts the document for key.
func (s *Store) Put(ctx context.Context, ns, key string, doc json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(ns); err != nil {
		return err
	}
	space := s.spaces[ns]
	if space == nil {
		space = make(map[string]json.RawMessage)
		s.spaces[ns] = space
	}
	space[key] = slices.Clone(doc)

	s.notifyLocked(ns, key, docstore.OriginFrom(ctx))
	return nil
}

// Delete removes the document for key.
func (s *Store) Delete(ctx context.Context, ns, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(ns); err != nil {
		return err
	}
	if _, ok := s.spaces[ns][key]; !ok {
		return nil
	}
	delete(s.spaces[ns], key)

	s.notifyLocked(ns, key, docstore.OriginFrom(ctx))
	return nil
}

// Watch returns a channel of changes to ns.
func (s *Store) Watch(ctx context.Context, ns string) (<-chan docstore.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, docstore.ErrClosed
	}

	ch := make(chan docstore.Change, eventBufferSize)
	s.watchers[ns] = append(s.watchers[ns], ch)

	go func() {
		<-ctx.Done()
		s.unsubscribe(ns, ch)
	}()

	return ch, nil
}

// Close closes every watch channel. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for _, subs := range s.watchers {
		for _, ch := range subs {
			close(ch)
		}
	}
	s.watchers = make(map[string][]chan docstore.Change)
	return nil
}

// Snapshot returns a copy of every document in ns.
func (s *Store) Snapshot(ns string) map[string]json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.spaces[ns])
}

func (s *Store) writable(ns string) error {
	if s.closed {
		return docstore.ErrClosed
	}
	if !s.claims[ns].CanWrite() {
		return docstore.ErrAccessDenied
	}
	return nil
}

func (s *Store) unsubscribe(ns string, ch chan docstore.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.watchers[ns]
	for i, sub := range subs {
		if sub == ch {
			s.watchers[ns] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(s.watchers[ns]) == 0 {
		delete(s.watchers, ns)
	}
}

func (s *Store) notifyLocked(ns, key, origin string) {
	change := docstore.Change{
		Namespace: ns,
		Keys:      []string{key},
		Origin:    origin,
		At:        time.Now(),
	}
	for _, ch := range s.watchers[ns] {
		select {
		case ch <- change:
		default:
			// Channel full, drop event to prevent blocking
		}
	}
}
