package daybook

import (
	"github.com/colonyops/daybook/internal/core/todo"
)

// Delta is the set of store writes that turns the remote document set into
// a new active set.
type Delta struct {
	// Puts are the items whose document must be written.
	Puts []todo.Item
	// Deletes are the document keys that must be removed.
	Deletes []string
}

// IsEmpty reports whether the delta writes nothing.
func (d Delta) IsEmpty() bool {
	return len(d.Puts) == 0 && len(d.Deletes) == 0
}

// Diff computes the writes that make the remote store hold exactly the
// active items of next. remoteKeys is a fresh listing; current is the
// collection the remote documents are assumed to mirror.
//
// An active item is put when it has no remote document, when current has
// no active copy of it, or when its document differs from current's. A
// remote item key whose id is not active in next is deleted. Keys that are
// not item documents are left alone.
func Diff(remoteKeys []string, current, next []todo.Item) Delta {
	known := make(map[string]todo.Item, len(current))
	for _, it := range current {
		if !it.Removed {
			known[it.ID] = it
		}
	}

	remote := make(map[string]struct{}, len(remoteKeys))
	for _, key := range remoteKeys {
		if id, ok := todo.IDFromKey(key); ok {
			remote[id] = struct{}{}
		}
	}

	var delta Delta
	active := make(map[string]struct{}, len(next))
	for _, it := range next {
		if it.Removed {
			continue
		}
		if _, dup := active[it.ID]; dup {
			continue
		}
		active[it.ID] = struct{}{}

		_, stored := remote[it.ID]
		prev, ok := known[it.ID]
		if !stored || !ok || !todo.Equal(prev, it) {
			delta.Puts = append(delta.Puts, it)
		}
	}

	for _, key := range remoteKeys {
		id, ok := todo.IDFromKey(key)
		if !ok {
			continue
		}
		if _, keep := active[id]; !keep {
			delta.Deletes = append(delta.Deletes, key)
		}
	}

	return delta
}
