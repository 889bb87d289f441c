// Package stores implements the SQLite document store backend.
package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/colonyops/daybook/internal/core/docstore"
	"github.com/colonyops/daybook/internal/data/db"
)

const (
	// DefaultPollInterval is how often watchers look for writes made by
	// other processes sharing the database file.
	DefaultPollInterval = 500 * time.Millisecond

	changeRetention = time.Hour
	changeBatch     = 500
	eventBufferSize = 100
)

// DocumentStore implements docstore.Backend using SQLite. Every write
// appends to a change log; watchers tail the log by sequence number, so
// writes from other processes are observed and carry their origin.
type DocumentStore struct {
	db           *db.DB
	pollInterval time.Duration

	mu       sync.Mutex
	claims   map[string]docstore.Access
	watchers map[*watcher]struct{}
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type watcher struct {
	ns   string
	ch   chan docstore.Change
	wake chan struct{}
}

var _ docstore.Backend = (*DocumentStore)(nil)

// NewDocumentStore creates a SQLite-backed document store. A zero
// pollInterval means DefaultPollInterval. The store does not own database;
// the caller closes it after the store.
func NewDocumentStore(database *db.DB, pollInterval time.Duration) *DocumentStore {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DocumentStore{
		db:           database,
		pollInterval: pollInterval,
		claims:       make(map[string]docstore.Access),
		watchers:     make(map[*watcher]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Claim records the access level for ns. A read-write claim is never
// downgraded.
func (s *DocumentStore) Claim(ctx context.Context, ns string, access docstore.Access) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	if s.claims[ns].CanWrite() {
		s.mu.Unlock()
		return nil
	}
	s.claims[ns] = access
	s.mu.Unlock()

	return retryBusy(ctx, func() error {
		_, err := s.db.Conn().ExecContext(ctx, `
			INSERT INTO namespace_claims (namespace, access, claimed_at) VALUES (?, ?, ?)
			ON CONFLICT (namespace) DO UPDATE SET access = excluded.access, claimed_at = excluded.claimed_at
		`, ns, string(access), time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("claim %s: %w", ns, err)
		}
		return nil
	})
}

// List returns the keys in ns.
func (s *DocumentStore) List(ctx context.Context, ns string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.Conn().QueryContext(ctx,
		"SELECT key FROM documents WHERE namespace = ? ORDER BY key", ns)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Get returns the document for key.
func (s *DocumentStore) Get(ctx context.Context, ns, key string) (json.RawMessage, bool, error) {
	if err := s.check(); err != nil {
		return nil, false, err
	}

	var body []byte
	err := s.db.Conn().QueryRowContext(ctx,
		"SELECT body FROM documents WHERE namespace = ? AND key = ?", ns, key).Scan(&body)
	if IsNotFoundError(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get document: %w", err)
	}
	return body, true, nil
}

// Put upserts the document for key and appends a change record.
func (s *DocumentStore) Put(ctx context.Context, ns, key string, doc json.RawMessage) error {
	if err := s.writable(ns); err != nil {
		return err
	}
	if !json.Valid(doc) {
		return fmt.Errorf("document %s is not valid json", key)
	}

	err := retryBusy(ctx, func() error {
		return s.db.WithTx(ctx, func(tx *sql.Tx) error {
			now := time.Now().UnixNano()
			_, err := tx.ExecContext(ctx, `
				INSERT INTO documents (namespace, key, body, updated_at) VALUES (?, ?, ?, ?)
				ON CONFLICT (namespace, key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
			`, ns, key, []byte(doc), now)
			if err != nil {
				return fmt.Errorf("put document: %w", err)
			}
			return recordChange(ctx, tx, ns, key, docstore.OriginFrom(ctx), now)
		})
	})
	if err != nil {
		return err
	}

	s.wakeWatchers(ns)
	return nil
}

// Delete removes the document for key. A change is recorded only when a
// document was actually removed.
func (s *DocumentStore) Delete(ctx context.Context, ns, key string) error {
	if err := s.writable(ns); err != nil {
		return err
	}

	var removed bool
	err := retryBusy(ctx, func() error {
		return s.db.WithTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx,
				"DELETE FROM documents WHERE namespace = ? AND key = ?", ns, key)
			if err != nil {
				return fmt.Errorf("delete document: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("delete document: %w", err)
			}
			removed = n > 0
			if !removed {
				return nil
			}
			return recordChange(ctx, tx, ns, key, docstore.OriginFrom(ctx), time.Now().UnixNano())
		})
	})
	if err != nil {
		return err
	}

	if removed {
		s.wakeWatchers(ns)
	}
	return nil
}

// Watch tails the change log for ns, starting after the latest change at
// the time of the call.
func (s *DocumentStore) Watch(ctx context.Context, ns string) (<-chan docstore.Change, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	var last int64
	err := s.db.Conn().QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM document_changes WHERE namespace = ?", ns).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("read change cursor: %w", err)
	}

	w := &watcher{
		ns:   ns,
		ch:   make(chan docstore.Change, eventBufferSize),
		wake: make(chan struct{}, 1),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, docstore.ErrClosed
	}
	s.watchers[w] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.tail(ctx, w, last)

	return w.ch, nil
}

// Close stops every watcher. It does not close the database.
func (s *DocumentStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *DocumentStore) tail(ctx context.Context, w *watcher, last int64) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()
		close(w.ch)
	}()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}

		changes, next, err := s.changesSince(ctx, w.ns, last)
		if err != nil {
			// Transient read failures are retried on the next tick.
			continue
		}
		last = next

		for _, c := range changes {
			select {
			case w.ch <- c:
			default:
				// Channel full, drop event to prevent blocking
			}
		}
	}
}

func (s *DocumentStore) changesSince(ctx context.Context, ns string, after int64) ([]docstore.Change, int64, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT seq, key, origin, changed_at FROM document_changes
		WHERE namespace = ? AND seq > ?
		ORDER BY seq
		LIMIT ?
	`, ns, after, changeBatch)
	if err != nil {
		return nil, after, err
	}
	defer func() { _ = rows.Close() }()

	var changes []docstore.Change
	last := after
	for rows.Next() {
		var (
			seq       int64
			key       string
			origin    string
			changedAt int64
		)
		if err := rows.Scan(&seq, &key, &origin, &changedAt); err != nil {
			return nil, after, err
		}
		last = seq
		changes = append(changes, docstore.Change{
			Namespace: ns,
			Keys:      []string{key},
			Origin:    origin,
			At:        time.Unix(0, changedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, after, err
	}
	return changes, last, nil
}

func (s *DocumentStore) wakeWatchers(ns string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers {
		if w.ns != ns {
			continue
		}
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

func (s *DocumentStore) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrClosed
	}
	return nil
}

func (s *DocumentStore) writable(ns string) error {
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

func recordChange(ctx context.Context, tx *sql.Tx, ns, key, origin string, at int64) error {
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO document_changes (namespace, key, origin, changed_at) VALUES (?, ?, ?, ?)",
		ns, key, origin, at,
	); err != nil {
		return fmt.Errorf("record change: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM document_changes WHERE changed_at < ?",
		at-changeRetention.Nanoseconds(),
	); err != nil {
		return fmt.Errorf("prune changes: %w", err)
	}
	return nil
}
