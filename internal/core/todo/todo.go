// Package todo defines the todo item domain model and its storage codec.
package todo

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Item is a single entry on the todo list.
type Item struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	Emoji     string `json:"emoji,omitempty"`
	Date      Date   `json:"date"`
	Time      string `json:"time,omitempty"` // HH:mm, 24-hour
	// Removed marks a local tombstone. Removed items never have a remote
	// document; they are dropped on the next reload or purge.
	Removed bool `json:"removed,omitempty"`
}

// New returns an incomplete item with a freshly minted ID.
func New(text string, date Date) Item {
	return Item{
		ID:   NewID(),
		Text: strings.TrimSpace(text),
		Date: date,
	}
}

// NewID mints a new item identifier.
func NewID() string {
	return uuid.NewString()
}

// Validate checks the fields a public operation requires before any I/O.
func (it Item) Validate() error {
	if strings.TrimSpace(it.ID) == "" {
		return &ValidationError{Field: "id", Message: "is required"}
	}
	if strings.TrimSpace(it.Text) == "" {
		return &ValidationError{Field: "text", Message: "is required"}
	}
	if it.Time != "" && !ValidTime(it.Time) {
		return &ValidationError{Field: "time", Message: fmt.Sprintf("%q is not HH:mm", it.Time)}
	}
	if it.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "is required"}
	}
	return nil
}

// ValidTime reports whether s is a 24-hour HH:mm time.
func ValidTime(s string) bool {
	if len(s) != 5 {
		return false
	}
	_, err := time.Parse("15:04", s)
	return err == nil
}

// Equal compares the fields owned by the storage codec. Removed is local
// state and is not compared.
func Equal(a, b Item) bool {
	return a.ID == b.ID &&
		a.Text == b.Text &&
		a.Completed == b.Completed &&
		a.Emoji == b.Emoji &&
		a.Date == b.Date &&
		a.Time == b.Time
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Text      *string
	Emoji     *string
	Date      *Date
	Time      *string
	Completed *bool
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Text == nil && p.Emoji == nil && p.Date == nil && p.Time == nil && p.Completed == nil
}

// Apply returns a copy of it with the patch applied.
func (p Patch) Apply(it Item) Item {
	if p.Text != nil {
		it.Text = strings.TrimSpace(*p.Text)
	}
	if p.Emoji != nil {
		it.Emoji = *p.Emoji
	}
	if p.Date != nil {
		it.Date = *p.Date
	}
	if p.Time != nil {
		it.Time = *p.Time
	}
	if p.Completed != nil {
		it.Completed = *p.Completed
	}
	return it
}

// Clone returns a copy of items that shares no backing array.
func Clone(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// IndexOf returns the position of the item with the given id, or -1.
func IndexOf(items []Item, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

// Visible returns the items on date that are not removed, in collection
// order. A zero date matches every date.
func Visible(items []Item, date Date) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Removed {
			continue
		}
		if !date.IsZero() && it.Date != date {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Active returns the items that are not removed.
func Active(items []Item) []Item {
	return Visible(items, Date{})
}
