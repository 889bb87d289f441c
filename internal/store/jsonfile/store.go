// Package jsonfile is a document store backend that keeps one JSON file per
// document under <root>/<namespace>/.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/colonyops/daybook/internal/core/docstore"
)

const tmpSuffix = ".tmp"

// Store implements docstore.Backend on the local filesystem. Other
// processes editing the same directory are observed through fsnotify.
type Store struct {
	root string

	mu      sync.Mutex
	watcher *Watcher
	closed  bool
}

var _ docstore.Backend = (*Store)(nil)

// New creates a store rooted at dir. The directory is created if it doesn't
// exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Claim creates the namespace directory. The filesystem enforces access.
func (s *Store) Claim(_ context.Context, ns string, _ docstore.Access) error {
	if err := s.check(); err != nil {
		return err
	}
	return os.MkdirAll(s.dir(ns), 0o755)
}

// List returns the document keys in ns, skipping temp files.
func (s *Store) List(_ context.Context, ns string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir(ns))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || isIgnored(e.Name()) {
			continue
		}
		keys = append(keys, e.Name())
	}
	slices.Sort(keys)
	return keys, nil
}

// Get reads the document for key.
func (s *Store) Get(_ context.Context, ns, key string) (json.RawMessage, bool, error) {
	if err := s.check(); err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(s.path(ns, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Put writes the document for key atomically.
func (s *Store) Put(ctx context.Context, ns, key string, doc json.RawMessage) error {
	if err := s.check(); err != nil {
		return err
	}
	if !json.Valid(doc) {
		return fmt.Errorf("document %s is not valid json", key)
	}

	dir := s.dir(ns)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	s.expect(ns, key, docstore.OriginFrom(ctx))

	tmp, err := os.CreateTemp(dir, "."+key+".*"+tmpSuffix)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(doc); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, s.path(ns, key)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Delete removes the document for key.
func (s *Store) Delete(ctx context.Context, ns, key string) error {
	if err := s.check(); err != nil {
		return err
	}

	s.expect(ns, key, docstore.OriginFrom(ctx))

	err := os.Remove(s.path(ns, key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Watch reports changes to files in ns, including edits made by other
// processes.
func (s *Store) Watch(ctx context.Context, ns string) (<-chan docstore.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, docstore.ErrClosed
	}
	if s.watcher == nil {
		w, err := NewWatcher()
		if err != nil {
			return nil, err
		}
		s.watcher = w
	}

	dir := s.dir(ns)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := s.watcher.Add(ns, dir); err != nil {
		return nil, err
	}
	return s.watcher.Watch(ctx, ns)
}

// Close stops the watcher and closes every watch channel.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Store) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrClosed
	}
	return nil
}

// expect tags the next change to key with origin so the engine can tell
// its own writes from external edits.
func (s *Store) expect(ns, key, origin string) {
	s.mu.Lock()
	w := s.watcher
	s.mu.Unlock()
	if w != nil && origin != "" {
		w.Expect(ns, key, origin)
	}
}

func (s *Store) dir(ns string) string {
	return filepath.Join(s.root, ns)
}

func (s *Store) path(ns, key string) string {
	return filepath.Join(s.root, ns, key)
}

// isIgnored reports whether a file name is a temp or lock file rather
// than a document.
func isIgnored(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, tmpSuffix) ||
		strings.HasSuffix(name, ".lock")
}
