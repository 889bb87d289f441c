// Package redisstore is a document store backend on Redis. Each namespace
// is a hash; changes are announced on a pub/sub channel so every device
// sharing the server observes every other device's writes.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/colonyops/daybook/internal/core/docstore"
	"github.com/go-redis/redis/v8"
)

// DefaultPrefix namespaces every key this backend creates.
const DefaultPrefix = "daybook"

const eventBufferSize = 100

// Options configures a connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// message is the pub/sub payload announcing a change.
type message struct {
	Keys   []string  `json:"keys"`
	Origin string    `json:"origin,omitempty"`
	At     time.Time `json:"at"`
}

// Store implements docstore.Backend on a Redis server.
type Store struct {
	client *redis.Client
	prefix string
	owned  bool

	mu     sync.Mutex
	claims map[string]docstore.Access
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ docstore.Backend = (*Store)(nil)

// Open connects to the server described by opts and verifies the
// connection. The returned store owns the client.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	s := New(client, opts.Prefix)
	s.owned = true
	return s, nil
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		client: client,
		prefix: prefix,
		claims: make(map[string]docstore.Access),
		ctx:    ctx,
		cancel: cancel,
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
	if !s.claims[ns].CanWrite() {
		s.claims[ns] = access
	}
	return nil
}

// List returns the keys in ns.
func (s *Store) List(ctx context.Context, ns string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	keys, err := s.client.HKeys(ctx, s.hashKey(ns)).Result()
	if err != nil {
		return nil, fmt.Errorf("hkeys: %w", err)
	}
	return keys, nil
}

// Get returns the document for key.
func (s *Store) Get(ctx context.Context, ns, key string) (json.RawMessage, bool, error) {
	if err := s.check(); err != nil {
		return nil, false, err
	}
	body, err := s.client.HGet(ctx, s.hashKey(ns), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("hget: %w", err)
	}
	return body, true, nil
}

// Put upserts the document and publishes the change in one transaction.
func (s *Store) Put(ctx context.Context, ns, key string, doc json.RawMessage) error {
	if err := s.writable(ns); err != nil {
		return err
	}
	if !json.Valid(doc) {
		return fmt.Errorf("document %s is not valid json", key)
	}

	payload, err := s.message(ctx, key)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.hashKey(ns), key, []byte(doc))
		pipe.Publish(ctx, s.channel(ns), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("hset: %w", err)
	}
	return nil
}

// Delete removes the document. A change is published only when a document
// was actually removed.
func (s *Store) Delete(ctx context.Context, ns, key string) error {
	if err := s.writable(ns); err != nil {
		return err
	}

	n, err := s.client.HDel(ctx, s.hashKey(ns), key).Result()
	if err != nil {
		return fmt.Errorf("hdel: %w", err)
	}
	if n == 0 {
		return nil
	}

	payload, err := s.message(ctx, key)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel(ns), payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Watch subscribes to the change channel of ns. The subscription is
// confirmed before Watch returns, so writes made afterwards are observed.
func (s *Store) Watch(ctx context.Context, ns string) (<-chan docstore.Change, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	ps := s.client.Subscribe(ctx, s.channel(ns))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan docstore.Change, eventBufferSize)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ps.Close()
		return nil, docstore.ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(out)
		defer func() { _ = ps.Close() }()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var m message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					// Unknown publishers still signal that something changed.
					m = message{At: time.Now()}
				}
				select {
				case out <- docstore.Change{Namespace: ns, Keys: m.Keys, Origin: m.Origin, At: m.At}:
				default:
					// Channel full, drop event to prevent blocking
				}
			}
		}
	}()

	return out, nil
}

// Close ends every subscription and closes the client when owned.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	if s.owned {
		return s.client.Close()
	}
	return nil
}

func (s *Store) hashKey(ns string) string {
	return s.prefix + ":" + ns
}

func (s *Store) channel(ns string) string {
	return s.prefix + ":" + ns + ":changes"
}

func (s *Store) message(ctx context.Context, key string) ([]byte, error) {
	data, err := json.Marshal(message{
		Keys:   []string{key},
		Origin: docstore.OriginFrom(ctx),
		At:     time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal change: %w", err)
	}
	return data, nil
}

func (s *Store) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrClosed
	}
	return nil
}

func (s *Store) writable(ns string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrClosed
	}
	if !s.claims[ns].CanWrite() {
		return docstore.ErrAccessDenied
	}
	return nil
}
