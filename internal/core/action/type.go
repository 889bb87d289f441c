package action

import "fmt"

// Kind identifies the variant of an Action.
type Kind string

const (
	KindAdd    Kind = "add"
	KindDelete Kind = "delete"
	KindMark   Kind = "mark"
	KindEdit   Kind = "edit"
	KindSort   Kind = "sort"
	KindClear  Kind = "clear"
)

// MarkState is the desired completion state of a Mark action.
type MarkState string

const (
	MarkComplete   MarkState = "complete"
	MarkIncomplete MarkState = "incomplete"
	MarkToggle     MarkState = "toggle"
)

// ParseMarkState parses a mark state string.
func ParseMarkState(s string) (MarkState, error) {
	switch st := MarkState(s); st {
	case MarkComplete, MarkIncomplete, MarkToggle:
		return st, nil
	default:
		return "", fmt.Errorf("unknown mark state %q", s)
	}
}

// Scope selects which items a Clear action removes.
type Scope string

const (
	ScopeAll        Scope = "all"
	ScopeCompleted  Scope = "completed"
	ScopeIncomplete Scope = "incomplete"
)

// ParseScope parses a clear scope string.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(s); sc {
	case ScopeAll, ScopeCompleted, ScopeIncomplete:
		return sc, nil
	default:
		return "", fmt.Errorf("unknown clear scope %q", s)
	}
}

// Matches reports whether an item with the given completion state falls in
// the scope.
func (s Scope) Matches(completed bool) bool {
	switch s {
	case ScopeAll:
		return true
	case ScopeCompleted:
		return completed
	case ScopeIncomplete:
		return !completed
	default:
		return false
	}
}
