// Package docstore defines the namespaced JSON document store contract and
// the Adapter the reconciliation engine talks to.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// DefaultNamespace is the namespace todo items live in.
const DefaultNamespace = "items"

var (
	// ErrAccessDenied is returned when a namespace is written without a
	// read-write claim.
	ErrAccessDenied = errors.New("namespace access denied")
	// ErrClosed is returned by operations on a closed backend or adapter.
	ErrClosed = errors.New("document store closed")
	// ErrNotOpen is returned by adapter operations before Open.
	ErrNotOpen = errors.New("document store not open")
)

// Access is a capability requested on a namespace.
type Access string

const (
	AccessRead      Access = "read"
	AccessReadWrite Access = "read-write"
)

// CanWrite reports whether the access level permits writes.
func (a Access) CanWrite() bool { return a == AccessReadWrite }

// Change notifies that documents in a namespace changed. Keys is empty when
// the backend cannot tell which documents changed. Origin is the writer's
// origin id when the backend can carry it.
type Change struct {
	Namespace string    `json:"namespace"`
	Keys      []string  `json:"keys,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	At        time.Time `json:"at"`
}

// FeedFrame is one message on a network change feed. The first frame a
// server sends has Ready set, once its watch is registered.
type FeedFrame struct {
	Ready  bool    `json:"ready,omitempty"`
	Change *Change `json:"change,omitempty"`
}

// Backend is one storage technology. Implementations must be safe for
// concurrent use.
//
// Get returns (nil, false, nil) for an absent key. Delete of an absent key
// is not an error. Watch delivers changes until ctx is done or the backend
// is closed, then closes the channel. Writers read their origin id from
// the context (see WithOrigin) so changes can be tagged with it.
type Backend interface {
	Claim(ctx context.Context, ns string, access Access) error
	List(ctx context.Context, ns string) ([]string, error)
	Get(ctx context.Context, ns, key string) (json.RawMessage, bool, error)
	Put(ctx context.Context, ns, key string, doc json.RawMessage) error
	Delete(ctx context.Context, ns, key string) error
	Watch(ctx context.Context, ns string) (<-chan Change, error)
	Close() error
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateNamespace checks that ns is usable as a path segment and key
// prefix by every backend.
func ValidateNamespace(ns string) error {
	if !validName.MatchString(ns) {
		return fmt.Errorf("invalid namespace %q", ns)
	}
	return nil
}

// ValidateKey checks that key is a single flat document name.
func ValidateKey(key string) error {
	if !validName.MatchString(key) || key == "." || key == ".." {
		return fmt.Errorf("invalid document key %q", key)
	}
	return nil
}

// NewOrigin mints an origin id for a writer.
func NewOrigin() string {
	return uuid.NewString()
}

type originKey struct{}

// WithOrigin returns a context carrying the writer origin id.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the writer origin id carried by ctx, or "".
func OriginFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}
