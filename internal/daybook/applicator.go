package daybook

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/colonyops/daybook/internal/core/action"
	"github.com/colonyops/daybook/internal/core/logging"
	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/colonyops/daybook/internal/interpreter"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReferenceError is an action that names an item id absent from the
// working copy. The action is skipped and the batch continues.
type ReferenceError struct {
	Kind   action.Kind
	ItemID string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s references unknown item %q", e.Kind, e.ItemID)
}

// Submission is one utterance from the user.
type Submission struct {
	Text  string
	Emoji string
	// Date is the active date. Zero means today in Timezone.
	Date     todo.Date
	Timezone string
	Model    string
}

// Result describes what a submission did.
type Result struct {
	Actions []action.Action
	// Added are the items created by the submission.
	Added []todo.Item
	// Skipped holds one error per action that was not applied.
	Skipped []error
	// Fallback is set when the raw text was added directly instead.
	Fallback bool
	// Cause is the error that forced the fallback.
	Cause error
	Sort  todo.SortOrder
}

// ApplicatorOptions configures an Applicator.
type ApplicatorOptions struct {
	// Timeout bounds the interpreter call. Zero leaves it to the caller's
	// context.
	Timeout time.Duration
	// Sort is the initial view sort preference.
	Sort todo.SortOrder
	// Now defaults to time.Now.
	Now func() time.Time
}

// Applicator turns an utterance into its final effect on the collection.
type Applicator struct {
	engine  *Engine
	interp  interpreter.Interpreter
	log     zerolog.Logger
	timeout time.Duration
	now     func() time.Time

	submitMu sync.Mutex

	sortMu sync.RWMutex
	sort   todo.SortOrder
}

// NewApplicator creates an applicator.
func NewApplicator(engine *Engine, interp interpreter.Interpreter, log zerolog.Logger, opts ApplicatorOptions) *Applicator {
	if !opts.Sort.IsValid() {
		opts.Sort = todo.SortNewest
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Applicator{
		engine:  engine,
		interp:  interp,
		log:     log.With().Str("component", "applicator").Logger(),
		timeout: opts.Timeout,
		now:     opts.Now,
		sort:    opts.Sort,
	}
}

// SortOrder returns the current view sort preference.
func (a *Applicator) SortOrder() todo.SortOrder {
	a.sortMu.RLock()
	defer a.sortMu.RUnlock()
	return a.sort
}

// Submit interprets sub and applies the resulting actions. Submissions are
// serialized. When interpretation or application fails the raw text is
// added as a new item; an error is returned only when that fallback add
// fails too.
func (a *Applicator) Submit(ctx context.Context, sub Submission) (Result, error) {
	sub.Text = strings.TrimSpace(sub.Text)
	if sub.Text == "" {
		return Result{}, &todo.ValidationError{Field: "text", Message: "is required"}
	}

	a.submitMu.Lock()
	defer a.submitMu.Unlock()

	ctx = logging.WithSubmissionID(ctx, uuid.NewString())
	log := a.log.With().Ctx(ctx).Logger()

	if sub.Date.IsZero() {
		sub.Date = a.today(sub.Timezone)
	}

	visible := todo.Visible(a.engine.Items(), sub.Date)

	actions, err := a.interpret(ctx, sub, visible)
	if err != nil {
		log.Warn().Err(err).Msg("interpretation failed, adding raw text")
		return a.fallback(ctx, sub, err)
	}

	b := newBatch(ctx, a, sub, visible)
	for _, act := range actions {
		err := act.Accept(b)

		var refErr *ReferenceError
		var valErr *todo.ValidationError
		switch {
		case err == nil:
		case errors.As(err, &refErr), errors.As(err, &valErr):
			log.Debug().Err(err).Str("kind", string(act.Kind())).Msg("skipping action")
			b.result.Skipped = append(b.result.Skipped, err)
		default:
			log.Warn().Err(err).Str("kind", string(act.Kind())).Msg("applying actions failed, adding raw text")
			return a.fallback(ctx, sub, err)
		}
	}

	if err := b.persist(); err != nil {
		log.Warn().Err(err).Msg("persisting actions failed, adding raw text")
		return a.fallback(ctx, sub, err)
	}

	b.result.Actions = actions
	b.result.Sort = a.SortOrder()
	log.Debug().
		Int("actions", len(actions)).
		Int("added", len(b.result.Added)).
		Int("skipped", len(b.result.Skipped)).
		Msg("submission applied")
	return b.result, nil
}

func (a *Applicator) interpret(ctx context.Context, sub Submission, visible []todo.Item) ([]action.Action, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return a.interp.Interpret(ctx, interpreter.Request{
		Text:         sub.Text,
		DefaultEmoji: sub.Emoji,
		Visible:      visible,
		Timezone:     sub.Timezone,
		Model:        sub.Model,
		Now:          a.now(),
	})
}

func (a *Applicator) fallback(ctx context.Context, sub Submission, cause error) (Result, error) {
	item := todo.New(sub.Text, sub.Date)
	item.Emoji = sub.Emoji
	if err := a.engine.Add(ctx, item); err != nil {
		return Result{}, fmt.Errorf("fallback add: %w", errors.Join(cause, err))
	}
	return Result{
		Added:    []todo.Item{item},
		Fallback: true,
		Cause:    cause,
		Sort:     a.SortOrder(),
	}, nil
}

func (a *Applicator) today(zone string) todo.Date {
	now := a.now()
	if zone != "" {
		if loc, err := time.LoadLocation(zone); err == nil {
			now = now.In(loc)
		}
	}
	return todo.DateOf(now)
}

// batch applies one submission's actions to a working copy of the
// collection. Items the batch changes are tracked as dirty and written with
// a single ReplaceAll at the end; Edit and Clear go to the engine directly.
// Actions may only reference items the interpreter was shown or items the
// batch added.
type batch struct {
	ctx    context.Context
	app    *Applicator
	sub    Submission
	result Result

	working []todo.Item
	dirty   map[string]bool
	refs    map[string]string
	inScope map[string]bool
}

var _ action.Visitor = (*batch)(nil)

func newBatch(ctx context.Context, app *Applicator, sub Submission, visible []todo.Item) *batch {
	inScope := make(map[string]bool, len(visible))
	for _, it := range visible {
		inScope[it.ID] = true
	}
	return &batch{
		ctx:     ctx,
		app:     app,
		sub:     sub,
		working: app.engine.Items(),
		dirty:   make(map[string]bool),
		refs:    make(map[string]string),
		inScope: inScope,
	}
}

func (b *batch) resolve(kind action.Kind, id string) (int, error) {
	if real, ok := b.refs[id]; ok {
		id = real
	}
	if !b.inScope[id] {
		return -1, &ReferenceError{Kind: kind, ItemID: id}
	}
	idx := todo.IndexOf(b.working, id)
	if idx < 0 || b.working[idx].Removed {
		return -1, &ReferenceError{Kind: kind, ItemID: id}
	}
	return idx, nil
}

func (b *batch) VisitAdd(act action.Add) error {
	date := act.Date
	if date.IsZero() {
		date = b.sub.Date
	}
	item := todo.New(act.Text, date)
	item.Emoji = act.Emoji
	if item.Emoji == "" {
		item.Emoji = b.sub.Emoji
	}
	item.Time = act.Time
	if err := item.Validate(); err != nil {
		return err
	}

	b.working = append(b.working, item)
	b.dirty[item.ID] = true
	b.inScope[item.ID] = true
	if act.Ref != "" {
		b.refs[act.Ref] = item.ID
	}
	b.result.Added = append(b.result.Added, item)
	return nil
}

func (b *batch) VisitDelete(act action.Delete) error {
	idx, err := b.resolve(action.KindDelete, act.ItemID)
	if err != nil {
		return err
	}
	b.working[idx].Removed = true
	b.dirty[b.working[idx].ID] = true
	return nil
}

func (b *batch) VisitMark(act action.Mark) error {
	idx, err := b.resolve(action.KindMark, act.ItemID)
	if err != nil {
		return err
	}
	it := &b.working[idx]
	switch act.State {
	case action.MarkComplete:
		it.Completed = true
	case action.MarkIncomplete:
		it.Completed = false
	default:
		it.Completed = !it.Completed
	}
	b.dirty[it.ID] = true
	return nil
}

func (b *batch) VisitEdit(act action.Edit) error {
	idx, err := b.resolve(action.KindEdit, act.ItemID)
	if err != nil {
		return err
	}
	patch := act.Patch()
	patched := patch.Apply(b.working[idx])
	if err := patched.Validate(); err != nil {
		return err
	}

	// Items this batch already touched are not in the engine yet, or would
	// be overwritten by the final ReplaceAll anyway.
	if b.dirty[patched.ID] {
		b.working[idx] = patched
		return nil
	}

	updated, err := b.app.engine.Edit(b.ctx, patched.ID, patch)
	if err != nil {
		if errors.Is(err, todo.ErrNotFound) {
			return &ReferenceError{Kind: action.KindEdit, ItemID: patched.ID}
		}
		return err
	}
	b.working[idx] = updated
	return nil
}

func (b *batch) VisitSort(act action.Sort) error {
	b.app.sortMu.Lock()
	b.app.sort = act.Order
	b.app.sortMu.Unlock()
	return nil
}

// VisitClear writes the batch's pending changes before clearing, so the
// clear sees completion states set earlier in the same submission.
func (b *batch) VisitClear(act action.Clear) error {
	if err := b.persist(); err != nil {
		return err
	}
	clear(b.dirty)

	cleared, err := b.app.engine.Clear(b.ctx, act.Scope, b.sub.Date)
	if err != nil {
		return err
	}
	b.working = b.app.engine.Items()
	b.result.Added = slices.DeleteFunc(b.result.Added, func(it todo.Item) bool {
		return slices.Contains(cleared, it.ID)
	})
	return nil
}

// persist overlays the dirty items on the engine's current collection and
// writes the result with one ReplaceAll.
func (b *batch) persist() error {
	if len(b.dirty) == 0 {
		return nil
	}

	next := b.app.engine.Items()
	for _, it := range b.working {
		if !b.dirty[it.ID] {
			continue
		}
		if idx := todo.IndexOf(next, it.ID); idx >= 0 {
			next[idx] = it
		} else {
			next = append(next, it)
		}
	}
	return b.app.engine.ReplaceAll(b.ctx, next)
}
