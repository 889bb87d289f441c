package daybook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/colonyops/daybook/internal/core/action"
	"github.com/colonyops/daybook/internal/core/docstore"
	"github.com/colonyops/daybook/internal/core/docstore/docstoretest"
	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/colonyops/daybook/internal/interpreter"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedInterpreter returns a fixed answer and records the request.
type scriptedInterpreter struct {
	actions []action.Action
	err     error
	block   bool

	requests []interpreter.Request
}

func (s *scriptedInterpreter) Interpret(ctx context.Context, req interpreter.Request) ([]action.Action, error) {
	s.requests = append(s.requests, req)
	if s.block {
		<-ctx.Done()
		return nil, &interpreter.InterpreterError{Reason: interpreter.ReasonTimeout, Err: ctx.Err()}
	}
	return s.actions, s.err
}

func newTestApplicator(t *testing.T, interp interpreter.Interpreter, seed ...todo.Item) (*Applicator, *harness) {
	t.Helper()
	h := newTestEngine(t, seed...)
	app := NewApplicator(h.engine, interp, zerolog.Nop(), ApplicatorOptions{Now: h.clock.Now})
	return app, h
}

func submit(t *testing.T, app *Applicator, text string) Result {
	t.Helper()
	res, err := app.Submit(context.Background(), Submission{Text: text, Emoji: "📝", Date: testDate})
	require.NoError(t, err)
	return res
}

func TestApplicator_MarkByID(t *testing.T) {
	milk := testItem("milk", "Buy milk")
	other := testItem("other", "Walk dog")
	interp := &scriptedInterpreter{actions: []action.Action{
		action.Mark{ItemID: "milk", State: action.MarkComplete},
	}}
	app, h := newTestApplicator(t, interp, milk, other)

	res := submit(t, app, "mark buy milk as done")
	assert.False(t, res.Fallback)
	assert.Empty(t, res.Skipped)

	got, err := h.engine.Get("milk")
	require.NoError(t, err)
	assert.True(t, got.Completed)

	untouched, err := h.engine.Get("other")
	require.NoError(t, err)
	assert.Equal(t, other, untouched)

	puts := h.rec.Puts()
	require.Len(t, puts, 1)
	assert.Equal(t, "milk.json", puts[0].Key)
	assert.Empty(t, h.rec.Deletes())
}

func TestApplicator_FallbackOnInterpreterFailure(t *testing.T) {
	interp := &scriptedInterpreter{err: &interpreter.InterpreterError{Reason: interpreter.ReasonGeneration, Err: errors.New("boom")}}
	app, h := newTestApplicator(t, interp, testItem("a", "existing"))

	res := submit(t, app, "  call mom ")
	assert.True(t, res.Fallback)
	assert.True(t, interpreter.IsInterpreterError(res.Cause))

	items := h.engine.Items()
	require.Len(t, items, 2)
	added := items[1]
	assert.Equal(t, "call mom", added.Text)
	assert.False(t, added.Completed)
	assert.Equal(t, "📝", added.Emoji)
	assert.Equal(t, testDate, added.Date)
	assert.Equal(t, []todo.Item{added}, res.Added)
}

func TestApplicator_FallbackOnTimeout(t *testing.T) {
	interp := &scriptedInterpreter{block: true}
	h := newTestEngine(t)
	app := NewApplicator(h.engine, interp, zerolog.Nop(), ApplicatorOptions{Timeout: 20 * time.Millisecond})

	res, err := app.Submit(context.Background(), Submission{Text: "water plants", Date: testDate})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	require.Len(t, h.engine.Items(), 1)
	assert.Equal(t, "water plants", h.engine.Items()[0].Text)
}

func TestApplicator_FallbackOnPersistFailure(t *testing.T) {
	interp := &scriptedInterpreter{actions: []action.Action{
		action.Add{Text: "one"},
		action.Add{Text: "two"},
	}}
	app, h := newTestApplicator(t, interp)

	// ReplaceAll cannot list; the fallback add only puts.
	h.rec.FailOn(docstoretest.OpList, "", nil)

	res := submit(t, app, "one and two")
	assert.True(t, res.Fallback)
	assert.ErrorIs(t, res.Cause, docstoretest.ErrInjected)

	items := h.engine.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "one and two", items[0].Text)
}

func TestApplicator_FallbackFailureIsReturned(t *testing.T) {
	interp := &scriptedInterpreter{err: errors.New("offline")}
	app, h := newTestApplicator(t, interp)
	h.rec.FailOn(docstoretest.OpPut, "", nil)

	_, err := app.Submit(context.Background(), Submission{Text: "call mom", Date: testDate})
	require.Error(t, err)
	assert.ErrorIs(t, err, docstoretest.ErrInjected)
	assert.Empty(t, h.engine.Items())
}

func TestApplicator_EmptyTextIsRejected(t *testing.T) {
	interp := &scriptedInterpreter{}
	app, h := newTestApplicator(t, interp)

	_, err := app.Submit(context.Background(), Submission{Text: "   "})
	require.Error(t, err)
	assert.True(t, todo.IsValidation(err))
	assert.Empty(t, interp.requests)
	assert.Empty(t, h.rec.Ops())
}

func TestApplicator_VisibleItemsOnly(t *testing.T) {
	today := testItem("today", "on date")
	tomorrow := todo.Item{ID: "tomorrow", Text: "later", Date: testDate.AddDays(1)}
	interp := &scriptedInterpreter{}
	app, _ := newTestApplicator(t, interp, today, tomorrow)

	submit(t, app, "anything")

	require.Len(t, interp.requests, 1)
	req := interp.requests[0]
	assert.Equal(t, []string{"today"}, ids(req.Visible))
	assert.Equal(t, "📝", req.DefaultEmoji)
	assert.Equal(t, "anything", req.Text)
}

func TestApplicator_AddThenMarkByRef(t *testing.T) {
	interp := &scriptedInterpreter{actions: []action.Action{
		action.Add{Text: "a", Ref: "new-a"},
		action.Mark{ItemID: "new-a", State: action.MarkComplete},
	}}
	app, h := newTestApplicator(t, interp)

	res := submit(t, app, "bought a")
	assert.Empty(t, res.Skipped)
	require.Len(t, res.Added, 1)

	items := h.engine.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].Text)
	assert.True(t, items[0].Completed)
	assert.Equal(t, res.Added[0].ID, items[0].ID)

	// One ReplaceAll, one put.
	assert.Len(t, h.rec.Puts(), 1)
}

func TestApplicator_BatchIsAppliedInOrder(t *testing.T) {
	a := testItem("a", "one")
	b := testItem("b", "two")
	interp := &scriptedInterpreter{actions: []action.Action{
		action.Mark{ItemID: "a", State: action.MarkToggle},
		action.Mark{ItemID: "a", State: action.MarkToggle},
		action.Mark{ItemID: "a", State: action.MarkToggle},
		action.Delete{ItemID: "b"},
		action.Add{Text: "three", Time: "15:00"},
	}}
	app, h := newTestApplicator(t, interp, a, b)

	res := submit(t, app, "shuffle")
	assert.Empty(t, res.Skipped)

	gotA, err := h.engine.Get("a")
	require.NoError(t, err)
	assert.True(t, gotA.Completed)

	gotB, err := h.engine.Get("b")
	require.NoError(t, err)
	assert.True(t, gotB.Removed)

	visible := todo.Visible(h.engine.Items(), testDate)
	require.Len(t, visible, 2)
	assert.Equal(t, "three", visible[1].Text)
	assert.Equal(t, "15:00", visible[1].Time)
	assert.Equal(t, "📝", visible[1].Emoji)

	assert.Equal(t, []string{"b.json"}, keys(h.rec.Deletes()))
	assert.Len(t, h.rec.Puts(), 2)
}

func TestApplicator_UnknownReferenceIsSkipped(t *testing.T) {
	a := testItem("a", "one")
	interp := &scriptedInterpreter{actions: []action.Action{
		action.Mark{ItemID: "ghost", State: action.MarkComplete},
		action.Delete{ItemID: "ghost"},
		action.Mark{ItemID: "a", State: action.MarkComplete},
	}}
	app, h := newTestApplicator(t, interp, a)

	res := submit(t, app, "done")
	assert.False(t, res.Fallback)
	require.Len(t, res.Skipped, 2)

	var refErr *ReferenceError
	require.ErrorAs(t, res.Skipped[0], &refErr)
	assert.Equal(t, action.KindMark, refErr.Kind)
	assert.Equal(t, "ghost", refErr.ItemID)

	got, err := h.engine.Get("a")
	require.NoError(t, err)
	assert.True(t, got.Completed)
}

func TestApplicator_InvalidAddIsSkipped(t *testing.T) {
	interp := &scriptedInterpreter{actions: []action.Action{
		action.Add{Text: "   "},
		action.Add{Text: "ok"},
	}}
	app, h := newTestApplicator(t, interp)

	res := submit(t, app, "two things")
	require.Len(t, res.Skipped, 1)
	assert.True(t, todo.IsValidation(res.Skipped[0]))
	require.Len(t, h.engine.Items(), 1)
	assert.Equal(t, "ok", h.engine.Items()[0].Text)
}

func TestApplicator_EditGoesThroughEngine(t *testing.T) {
	a := testItem("a", "dentist")
	text := "dentist at 3"
	at := "15:00"
	interp := &scriptedInterpreter{actions: []action.Action{
		action.Edit{ItemID: "a", Text: &text, Time: &at},
	}}
	app, h := newTestApplicator(t, interp, a)

	res := submit(t, app, "move dentist to 3pm")
	assert.False(t, res.Fallback)

	got, err := h.engine.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "dentist at 3", got.Text)
	assert.Equal(t, "15:00", got.Time)

	// The edit is the only write; nothing is dirty afterwards.
	assert.Len(t, h.rec.Puts(), 1)
	for _, op := range h.rec.Ops() {
		assert.NotEqual(t, docstoretest.OpList, op.Kind, "no ReplaceAll expected")
	}
}

func TestApplicator_EditOfItemAddedInBatch(t *testing.T) {
	text := "renamed"
	interp := &scriptedInterpreter{actions: []action.Action{
		action.Add{Text: "draft", Ref: "r"},
		action.Edit{ItemID: "r", Text: &text},
	}}
	app, h := newTestApplicator(t, interp)

	submit(t, app, "add and rename")

	items := h.engine.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "renamed", items[0].Text)
	assert.Len(t, h.rec.Puts(), 1)
}

func TestApplicator_ClearUsesRemoteAwareEngineClear(t *testing.T) {
	done := testItem("done", "finished")
	done.Completed = true
	open := testItem("open", "pending")
	interp := &scriptedInterpreter{actions: []action.Action{
		action.Add{Text: "fresh"},
		action.Clear{Scope: action.ScopeCompleted},
		action.Mark{ItemID: "open", State: action.MarkComplete},
	}}
	app, h := newTestApplicator(t, interp, done, open)

	res := submit(t, app, "clear done then finish pending")
	assert.Empty(t, res.Skipped)

	items := h.engine.Items()
	assert.ElementsMatch(t, []string{"open", res.Added[0].ID}, ids(items))

	got, err := h.engine.Get("open")
	require.NoError(t, err)
	assert.True(t, got.Completed)

	assert.Contains(t, keys(h.rec.Deletes()), "done.json")
}

func TestApplicator_ClearDropsItemsAddedEarlierInBatch(t *testing.T) {
	interp := &scriptedInterpreter{actions: []action.Action{
		action.Add{Text: "temp"},
		action.Clear{Scope: action.ScopeAll},
	}}
	app, h := newTestApplicator(t, interp, testItem("a", "one"))

	res := submit(t, app, "add then clear")
	assert.Empty(t, res.Added)
	assert.Empty(t, h.engine.Items())
	assert.Empty(t, h.mem.Snapshot(docstore.DefaultNamespace))
}

func TestApplicator_ClearSeesEarlierChangesInBatch(t *testing.T) {
	done := testItem("done", "finished")
	done.Completed = true

	tests := []struct {
		name    string
		seed    []todo.Item
		actions []action.Action
		left    []string
		puts    []string
		deletes []string
	}{
		{
			name: "completed then clear completed",
			seed: []todo.Item{testItem("a", "one"), testItem("b", "two")},
			actions: []action.Action{
				action.Mark{ItemID: "a", State: action.MarkComplete},
				action.Clear{Scope: action.ScopeCompleted},
			},
			left:    []string{"b"},
			puts:    []string{"a.json"},
			deletes: []string{"a.json"},
		},
		{
			name: "reopened then clear completed",
			seed: []todo.Item{done},
			actions: []action.Action{
				action.Mark{ItemID: "done", State: action.MarkIncomplete},
				action.Clear{Scope: action.ScopeCompleted},
			},
			left: []string{"done"},
			puts: []string{"done.json"},
		},
		{
			name: "deleted then clear incomplete",
			seed: []todo.Item{testItem("a", "one"), done},
			actions: []action.Action{
				action.Delete{ItemID: "a"},
				action.Clear{Scope: action.ScopeIncomplete},
			},
			left:    []string{"done"},
			deletes: []string{"a.json"},
		},
		{
			name: "edited then clear completed",
			seed: []todo.Item{testItem("a", "one")},
			actions: []action.Action{
				action.Mark{ItemID: "a", State: action.MarkComplete},
				action.Edit{ItemID: "a", Text: ptr("one, edited")},
				action.Clear{Scope: action.ScopeCompleted},
			},
			puts:    []string{"a.json"},
			deletes: []string{"a.json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interp := &scriptedInterpreter{actions: tt.actions}
			app, h := newTestApplicator(t, interp, tt.seed...)

			res := submit(t, app, tt.name)
			assert.False(t, res.Fallback)
			assert.Empty(t, res.Skipped)

			visible := todo.Visible(h.engine.Items(), testDate)
			assert.ElementsMatch(t, tt.left, ids(visible))
			assert.ElementsMatch(t, tt.puts, keys(h.rec.Puts()))
			assert.ElementsMatch(t, tt.deletes, keys(h.rec.Deletes()))

			snap := h.mem.Snapshot(docstore.DefaultNamespace)
			assert.Len(t, snap, len(tt.left))
			for _, id := range tt.left {
				assert.Contains(t, snap, todo.Key(id))
			}
		})
	}
}

func TestApplicator_ReferencesOutsideActiveDateAreSkipped(t *testing.T) {
	today := testItem("today", "on date")
	tomorrow := todo.Item{ID: "tomorrow", Text: "later", Date: testDate.AddDays(1)}
	text := "renamed"
	interp := &scriptedInterpreter{actions: []action.Action{
		action.Mark{ItemID: "tomorrow", State: action.MarkComplete},
		action.Edit{ItemID: "tomorrow", Text: &text},
		action.Delete{ItemID: "tomorrow"},
		action.Mark{ItemID: "today", State: action.MarkComplete},
	}}
	app, h := newTestApplicator(t, interp, today, tomorrow)

	res := submit(t, app, "finish everything")
	assert.False(t, res.Fallback)
	require.Len(t, res.Skipped, 3)
	for _, err := range res.Skipped {
		var refErr *ReferenceError
		require.ErrorAs(t, err, &refErr)
		assert.Equal(t, "tomorrow", refErr.ItemID)
	}

	got, err := h.engine.Get("tomorrow")
	require.NoError(t, err)
	assert.Equal(t, tomorrow, got)

	got, err = h.engine.Get("today")
	require.NoError(t, err)
	assert.True(t, got.Completed)
	assert.Equal(t, []string{"today.json"}, keys(h.rec.Writes()))
}

func ptr[T any](v T) *T { return &v }

func TestApplicator_SortIsViewOnly(t *testing.T) {
	interp := &scriptedInterpreter{actions: []action.Action{
		action.Sort{Order: todo.SortAlphabetical},
	}}
	app, h := newTestApplicator(t, interp, testItem("a", "one"))
	assert.Equal(t, todo.SortNewest, app.SortOrder())

	res := submit(t, app, "sort alphabetically")
	assert.Equal(t, todo.SortAlphabetical, res.Sort)
	assert.Equal(t, todo.SortAlphabetical, app.SortOrder())
	assert.Empty(t, h.rec.Writes())
}

func TestApplicator_ZeroDateMeansTodayInZone(t *testing.T) {
	interp := &scriptedInterpreter{err: errors.New("offline")}
	app, h := newTestApplicator(t, interp)

	// 09:30 UTC on Nov 8 is still Nov 7 in Honolulu.
	res, err := app.Submit(context.Background(), Submission{Text: "poke", Timezone: "Pacific/Honolulu"})
	require.NoError(t, err)
	require.Len(t, res.Added, 1)
	assert.Equal(t, testDate.AddDays(-1), h.engine.Items()[0].Date)
}
