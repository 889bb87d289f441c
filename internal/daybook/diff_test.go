package daybook

import (
	"testing"

	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	a := testItem("a", "one")
	b := testItem("b", "two")
	c := testItem("c", "three")

	aDone := a
	aDone.Completed = true
	bGone := b
	bGone.Removed = true

	tests := []struct {
		name    string
		remote  []string
		current []todo.Item
		next    []todo.Item
		puts    []string
		deletes []string
	}{
		{
			name: "nothing changes",
			remote: []string{"a.json", "b.json"}, current: []todo.Item{a, b}, next: []todo.Item{a, b},
		},
		{
			name: "dropped item is deleted",
			remote: []string{"a.json", "b.json"}, current: []todo.Item{a, b}, next: []todo.Item{a},
			deletes: []string{"b.json"},
		},
		{
			name: "tombstone is deleted",
			remote: []string{"a.json", "b.json"}, current: []todo.Item{a, b}, next: []todo.Item{a, bGone},
			deletes: []string{"b.json"},
		},
		{
			name: "new item is put",
			remote: []string{"a.json"}, current: []todo.Item{a}, next: []todo.Item{a, c},
			puts: []string{"c"},
		},
		{
			name: "changed item is put",
			remote: []string{"a.json"}, current: []todo.Item{a}, next: []todo.Item{aDone},
			puts: []string{"a"},
		},
		{
			name: "missing remote document is put",
			remote: nil, current: []todo.Item{a}, next: []todo.Item{a},
			puts: []string{"a"},
		},
		{
			name: "unknown remote document is deleted",
			remote: []string{"a.json", "zzz.json"}, current: []todo.Item{a}, next: []todo.Item{a},
			deletes: []string{"zzz.json"},
		},
		{
			name: "non-item keys are left alone",
			remote: []string{"a.json", "README", ".json"}, current: []todo.Item{a}, next: []todo.Item{a},
		},
		{
			name: "item revived from tombstone is put",
			remote: nil, current: []todo.Item{bGone}, next: []todo.Item{b},
			puts: []string{"b"},
		},
		{
			name: "duplicate id is put once",
			remote: nil, current: nil, next: []todo.Item{c, c},
			puts: []string{"c"},
		},
		{
			name: "empty next deletes everything",
			remote: []string{"a.json", "b.json"}, current: []todo.Item{a, b}, next: nil,
			deletes: []string{"a.json", "b.json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta := Diff(tt.remote, tt.current, tt.next)

			assert.ElementsMatch(t, tt.puts, ids(delta.Puts))
			assert.ElementsMatch(t, tt.deletes, delta.Deletes)
			assert.Equal(t, len(tt.puts) == 0 && len(tt.deletes) == 0, delta.IsEmpty())
		})
	}
}
