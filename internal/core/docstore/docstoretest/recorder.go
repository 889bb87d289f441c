// Package docstoretest provides backend wrappers and a conformance suite for
// testing code that writes through docstore.
package docstoretest

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"

	"github.com/colonyops/daybook/internal/core/docstore"
)

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("injected failure")

// OpKind names a recorded backend write.
type OpKind string

const (
	OpPut    OpKind = "put"
	OpDelete OpKind = "delete"
	OpList   OpKind = "list"
	OpGet    OpKind = "get"
)

// Op is one recorded backend call.
type Op struct {
	Kind      OpKind
	Namespace string
	Key       string
	Body      json.RawMessage
	Origin    string
}

type failure struct {
	kind OpKind
	key  string
	err  error
}

// Recorder wraps a Backend, recording every call and failing the ones
// registered with FailOn.
type Recorder struct {
	docstore.Backend

	mu       sync.Mutex
	ops      []Op
	failures []failure
}

var _ docstore.Backend = (*Recorder)(nil)

// New wraps b.
func New(b docstore.Backend) *Recorder {
	return &Recorder{Backend: b}
}

// FailOn makes calls of kind fail with err. An empty key matches every
// key. A nil err means ErrInjected.
func (r *Recorder) FailOn(kind OpKind, key string, err error) {
	if err == nil {
		err = ErrInjected
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, failure{kind: kind, key: key, err: err})
}

// ClearFailures removes every injected failure.
func (r *Recorder) ClearFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = nil
}

// Reset clears recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}

// Ops returns every recorded call.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ops)
}

// Puts returns the recorded put calls.
func (r *Recorder) Puts() []Op { return r.filter(OpPut) }

// Deletes returns the recorded delete calls.
func (r *Recorder) Deletes() []Op { return r.filter(OpDelete) }

// Writes returns the recorded put and delete calls.
func (r *Recorder) Writes() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Op
	for _, op := range r.ops {
		if op.Kind == OpPut || op.Kind == OpDelete {
			out = append(out, op)
		}
	}
	return out
}

func (r *Recorder) List(ctx context.Context, ns string) ([]string, error) {
	if err := r.record(ctx, Op{Kind: OpList, Namespace: ns}); err != nil {
		return nil, err
	}
	return r.Backend.List(ctx, ns)
}

func (r *Recorder) Get(ctx context.Context, ns, key string) (json.RawMessage, bool, error) {
	if err := r.record(ctx, Op{Kind: OpGet, Namespace: ns, Key: key}); err != nil {
		return nil, false, err
	}
	return r.Backend.Get(ctx, ns, key)
}

func (r *Recorder) Put(ctx context.Context, ns, key string, doc json.RawMessage) error {
	if err := r.record(ctx, Op{Kind: OpPut, Namespace: ns, Key: key, Body: slices.Clone(doc)}); err != nil {
		return err
	}
	return r.Backend.Put(ctx, ns, key, doc)
}

func (r *Recorder) Delete(ctx context.Context, ns, key string) error {
	if err := r.record(ctx, Op{Kind: OpDelete, Namespace: ns, Key: key}); err != nil {
		return err
	}
	return r.Backend.Delete(ctx, ns, key)
}

func (r *Recorder) filter(kind OpKind) []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Op
	for _, op := range r.ops {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

// record stores op and returns the injected failure for it, if any. Failed
// calls are recorded too so tests can assert they were attempted.
func (r *Recorder) record(ctx context.Context, op Op) error {
	op.Origin = docstore.OriginFrom(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.ops = append(r.ops, op)
	for _, f := range r.failures {
		if f.kind == op.Kind && (f.key == "" || f.key == op.Key) {
			return f.err
		}
	}
	return nil
}
