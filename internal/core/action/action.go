// Package action defines the structured mutation commands produced from a
// single user utterance.
package action

import (
	"github.com/colonyops/daybook/internal/core/todo"
)

// Action is one structured mutation command. The set of variants is closed;
// every variant is dispatched through Visitor.
type Action interface {
	Kind() Kind
	Accept(v Visitor) error

	sealed()
}

// Visitor has one handler per Action variant. Adding a variant without a
// handler is a compile error for every implementation.
type Visitor interface {
	VisitAdd(Add) error
	VisitDelete(Delete) error
	VisitMark(Mark) error
	VisitEdit(Edit) error
	VisitSort(Sort) error
	VisitClear(Clear) error
}

// Add creates a new item. A zero Date means the submission's active date.
// Ref is an optional batch-local label; later actions in the same batch may
// use it as their ItemID to reference the item this action creates.
type Add struct {
	Text  string
	Emoji string
	Date  todo.Date
	Time  string
	Ref   string
}

// Delete removes an item by id.
type Delete struct {
	ItemID string
}

// Mark sets or toggles completion by id.
type Mark struct {
	ItemID string
	State  MarkState
}

// Edit changes fields of an item by id. Nil fields are left unchanged.
type Edit struct {
	ItemID    string
	Text      *string
	Emoji     *string
	Date      *todo.Date
	Time      *string
	Completed *bool
}

// Patch returns the item patch this edit describes.
func (e Edit) Patch() todo.Patch {
	return todo.Patch{
		Text:      e.Text,
		Emoji:     e.Emoji,
		Date:      e.Date,
		Time:      e.Time,
		Completed: e.Completed,
	}
}

// Sort changes the view sort preference. It is never persisted.
type Sort struct {
	Order todo.SortOrder
}

// Clear removes every item of the active date that falls in Scope.
type Clear struct {
	Scope Scope
}

func (Add) Kind() Kind    { return KindAdd }
func (Delete) Kind() Kind { return KindDelete }
func (Mark) Kind() Kind   { return KindMark }
func (Edit) Kind() Kind   { return KindEdit }
func (Sort) Kind() Kind   { return KindSort }
func (Clear) Kind() Kind  { return KindClear }

func (a Add) Accept(v Visitor) error    { return v.VisitAdd(a) }
func (a Delete) Accept(v Visitor) error { return v.VisitDelete(a) }
func (a Mark) Accept(v Visitor) error   { return v.VisitMark(a) }
func (a Edit) Accept(v Visitor) error   { return v.VisitEdit(a) }
func (a Sort) Accept(v Visitor) error   { return v.VisitSort(a) }
func (a Clear) Accept(v Visitor) error  { return v.VisitClear(a) }

func (Add) sealed()    {}
func (Delete) sealed() {}
func (Mark) sealed()   {}
func (Edit) sealed()   {}
func (Sort) sealed()   {}
func (Clear) sealed()  {}

// Target returns the item id an action references, or "" for actions that
// do not reference an item.
func Target(a Action) string {
	switch a := a.(type) {
	case Delete:
		return a.ItemID
	case Mark:
		return a.ItemID
	case Edit:
		return a.ItemID
	default:
		return ""
	}
}
