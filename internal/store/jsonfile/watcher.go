package jsonfile

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/colonyops/daybook/internal/core/docstore"
	"github.com/fsnotify/fsnotify"
)

const (
	debounceDelay   = 50 * time.Millisecond
	eventBufferSize = 100
	expectTTL       = 2 * time.Second
)

type expectation struct {
	origin string
	until  time.Time
}

// Watcher watches namespace directories for document changes using
// fsnotify. Events are debounced per document.
type Watcher struct {
	watcher *fsnotify.Watcher

	mu          sync.Mutex
	dirs        map[string]string                 // dir -> namespace
	subscribers map[string][]chan docstore.Change // namespace -> channels
	debounce    map[string]*time.Timer            // namespace/key -> debounce timer
	expected    map[string]expectation            // namespace/key -> writer origin

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher with no directories.
func NewWatcher() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		watcher:     fw,
		dirs:        make(map[string]string),
		subscribers: make(map[string][]chan docstore.Change),
		debounce:    make(map[string]*time.Timer),
		expected:    make(map[string]expectation),
		ctx:         ctx,
		cancel:      cancel,
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// Add starts watching dir as the directory of namespace ns.
func (w *Watcher) Add(ns, dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = ns
	return nil
}

// Watch returns a channel that receives changes to documents in ns.
func (w *Watcher) Watch(ctx context.Context, ns string) (<-chan docstore.Change, error) {
	ch := make(chan docstore.Change, eventBufferSize)

	w.mu.Lock()
	w.subscribers[ns] = append(w.subscribers[ns], ch)
	w.mu.Unlock()

	// Handle context cancellation to unsubscribe
	go func() {
		select {
		case <-ctx.Done():
			w.unsubscribe(ns, ch)
		case <-w.ctx.Done():
			// Watcher is closing, channel will be closed by Close()
		}
	}()

	return ch, nil
}

// Expect records that the next change to key was written by origin.
func (w *Watcher) Expect(ns, key, origin string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expected[ns+"/"+key] = expectation{origin: origin, until: time.Now().Add(expectTTL)}
}

// Close stops watching and closes all subscriber channels.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	for _, timer := range w.debounce {
		timer.Stop()
	}

	for _, subs := range w.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	w.subscribers = make(map[string][]chan docstore.Change)
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) unsubscribe(ns string, ch chan docstore.Change) {
	w.mu.Lock()
	defer w.mu.Unlock()

	subs := w.subscribers[ns]
	for i, sub := range subs {
		if sub == ch {
			w.subscribers[ns] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(w.subscribers[ns]) == 0 {
		delete(w.subscribers, ns)
	}
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}

	key := filepath.Base(event.Name)
	if isIgnored(key) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	ns, ok := w.dirs[filepath.Dir(event.Name)]
	if !ok {
		return
	}

	id := ns + "/" + key
	if timer, exists := w.debounce[id]; exists {
		timer.Stop()
	}
	w.debounce[id] = time.AfterFunc(debounceDelay, func() {
		w.notifySubscribers(ns, key)
	})
}

func (w *Watcher) notifySubscribers(ns, key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := ns + "/" + key
	delete(w.debounce, id)

	change := docstore.Change{
		Namespace: ns,
		Keys:      []string{key},
		At:        time.Now(),
	}
	if exp, ok := w.expected[id]; ok {
		delete(w.expected, id)
		if change.At.Before(exp.until) {
			change.Origin = exp.origin
		}
	}

	for _, ch := range w.subscribers[ns] {
		select {
		case ch <- change:
		default:
			// Channel full, drop event to prevent blocking
		}
	}
}
