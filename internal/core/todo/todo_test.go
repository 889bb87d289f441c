package todo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItem_Validate(t *testing.T) {
	day := Date{Year: 2025, Month: time.May, Day: 1}

	tests := []struct {
		name    string
		item    Item
		wantErr string
	}{
		{name: "valid", item: Item{ID: "1", Text: "ok", Date: day}},
		{name: "valid with time", item: Item{ID: "1", Text: "ok", Date: day, Time: "07:30"}},
		{name: "empty text", item: Item{ID: "1", Text: "   ", Date: day}, wantErr: "invalid text"},
		{name: "missing id", item: Item{Text: "ok", Date: day}, wantErr: "invalid id"},
		{name: "bad time", item: Item{ID: "1", Text: "ok", Date: day, Time: "7pm"}, wantErr: "invalid time"},
		{name: "hour out of range", item: Item{ID: "1", Text: "ok", Date: day, Time: "25:00"}, wantErr: "invalid time"},
		{name: "missing date", item: Item{ID: "1", Text: "ok"}, wantErr: "invalid date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew(t *testing.T) {
	day := Date{Year: 2025, Month: time.May, Day: 1}
	a := New("  call mom ", day)
	b := New("call mom", day)

	assert.Equal(t, "call mom", a.Text)
	assert.False(t, a.Completed)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestPatch_Apply(t *testing.T) {
	orig := Item{ID: "1", Text: "old", Date: Date{Year: 2025, Month: time.May, Day: 1}}
	text := " new "
	done := true
	next := Date{Year: 2025, Month: time.May, Day: 2}

	got := Patch{Text: &text, Completed: &done, Date: &next}.Apply(orig)

	assert.Equal(t, "new", got.Text)
	assert.True(t, got.Completed)
	assert.Equal(t, next, got.Date)
	assert.Equal(t, "old", orig.Text, "original must not change")
	assert.True(t, Patch{}.IsEmpty())
}

func TestVisible(t *testing.T) {
	d1 := Date{Year: 2025, Month: time.May, Day: 1}
	d2 := Date{Year: 2025, Month: time.May, Day: 2}
	items := []Item{
		{ID: "a", Text: "a", Date: d1},
		{ID: "b", Text: "b", Date: d2},
		{ID: "c", Text: "c", Date: d1, Removed: true},
	}

	got := Visible(items, d1)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	assert.Len(t, Active(items), 2)
}

func TestSort(t *testing.T) {
	items := []Item{
		{ID: "1", Text: "banana", Completed: true},
		{ID: "2", Text: "Apple"},
		{ID: "3", Text: "cherry"},
	}

	ids := func(items []Item) []string {
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = it.ID
		}
		return out
	}

	assert.Equal(t, []string{"1", "2", "3"}, ids(Sort(items, SortOldest)))
	assert.Equal(t, []string{"3", "2", "1"}, ids(Sort(items, SortNewest)))
	assert.Equal(t, []string{"2", "1", "3"}, ids(Sort(items, SortAlphabetical)))
	assert.Equal(t, []string{"2", "3", "1"}, ids(Sort(items, SortCompleted)))
	assert.Equal(t, "1", items[0].ID, "input must not be reordered")
}

func TestDate_AddDays(t *testing.T) {
	d := Date{Year: 2024, Month: time.February, Day: 28}
	assert.Equal(t, Date{Year: 2024, Month: time.February, Day: 29}, d.AddDays(1))
	assert.Equal(t, Date{Year: 2024, Month: time.March, Day: 1}, d.AddDays(2))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.Equal(t, "2024-02-28", d.String())
}
