package todo

import (
	"slices"
	"strings"
)

// SortOrder is a view-level ordering preference. It is never persisted.
type SortOrder string

const (
	SortNewest       SortOrder = "newest"
	SortOldest       SortOrder = "oldest"
	SortAlphabetical SortOrder = "alphabetical"
	SortCompleted    SortOrder = "completed"
)

// IsValid reports whether o is a known sort order.
func (o SortOrder) IsValid() bool {
	switch o {
	case SortNewest, SortOldest, SortAlphabetical, SortCompleted:
		return true
	default:
		return false
	}
}

// Sort returns a sorted copy of items. Collection order is insertion
// order, so newest and oldest are defined by position. Completed puts
// finished items last.
func Sort(items []Item, order SortOrder) []Item {
	out := Clone(items)
	switch order {
	case SortNewest:
		slices.Reverse(out)
	case SortAlphabetical:
		slices.SortStableFunc(out, func(a, b Item) int {
			return strings.Compare(strings.ToLower(a.Text), strings.ToLower(b.Text))
		})
	case SortCompleted:
		slices.SortStableFunc(out, func(a, b Item) int {
			switch {
			case a.Completed == b.Completed:
				return 0
			case a.Completed:
				return 1
			default:
				return -1
			}
		})
	}
	return out
}
