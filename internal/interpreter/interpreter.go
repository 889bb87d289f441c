// Package interpreter translates free text into structured actions using a
// text-generation model constrained to a fixed JSON output schema.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/colonyops/daybook/internal/core/action"
	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tmc/langchaingo/llms"
)

// DefaultTimeout bounds one generation call.
const DefaultTimeout = 20 * time.Second

// Request is one utterance to interpret.
type Request struct {
	Text         string
	DefaultEmoji string
	// Visible are the items of the active date the model may reference.
	Visible []todo.Item
	// Timezone is an IANA zone name used to resolve relative dates. Empty
	// means UTC.
	Timezone string
	// Model optionally overrides the provider's default model.
	Model string
	// Now defaults to time.Now.
	Now time.Time
}

// Interpreter maps a request to an ordered list of actions. It never
// mutates local state.
type Interpreter interface {
	Interpret(ctx context.Context, req Request) ([]action.Action, error)
}

// Disabled is an Interpreter for installations without a model. Every
// request fails, so submissions fall back to adding the raw text.
type Disabled struct{}

var _ Interpreter = Disabled{}

func (Disabled) Interpret(context.Context, Request) ([]action.Action, error) {
	return nil, &InterpreterError{Reason: ReasonDisabled, Err: ErrNoModel}
}

// Reason classifies an interpreter failure.
type Reason string

const (
	ReasonGeneration Reason = "generation"
	ReasonTimeout    Reason = "timeout"
	ReasonEmpty      Reason = "empty_response"
	ReasonSchema     Reason = "schema"
	ReasonTimezone   Reason = "timezone"
	ReasonDisabled   Reason = "disabled"
)

// ErrNoModel is returned by Disabled.
var ErrNoModel = errors.New("no model configured")

// InterpreterError reports a failed interpretation. No partial results
// accompany it.
type InterpreterError struct {
	Reason Reason
	Err    error
}

func (e *InterpreterError) Error() string {
	return fmt.Sprintf("interpreter %s: %v", e.Reason, e.Err)
}

func (e *InterpreterError) Unwrap() error { return e.Err }

// IsInterpreterError reports whether err is or wraps an InterpreterError.
func IsInterpreterError(err error) bool {
	var ie *InterpreterError
	return errors.As(err, &ie)
}

// Options configures an LLM interpreter.
type Options struct {
	// Timeout bounds each call. Zero means DefaultTimeout; negative
	// disables the bound.
	Timeout     time.Duration
	Temperature float64
}

// LLM interprets requests with a langchaingo model.
type LLM struct {
	model   llms.Model
	schema  *jsonschema.Schema
	log     zerolog.Logger
	timeout time.Duration
	temp    float64
}

var _ Interpreter = (*LLM)(nil)

// NewLLM creates an interpreter over model.
func NewLLM(model llms.Model, log zerolog.Logger, opts Options) (*LLM, error) {
	sch, err := compileSchema()
	if err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	return &LLM{
		model:   model,
		schema:  sch,
		log:     log.With().Str("component", "interpreter").Logger(),
		timeout: opts.Timeout,
		temp:    opts.Temperature,
	}, nil
}

// Interpret sends the request to the model and validates its answer.
func (l *LLM) Interpret(ctx context.Context, req Request) ([]action.Action, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, &todo.ValidationError{Field: "text", Message: "is required"}
	}

	loc := time.UTC
	if req.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(req.Timezone)
		if err != nil {
			return nil, &InterpreterError{Reason: ReasonTimezone, Err: err}
		}
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	messages, err := buildMessages(text, req.Visible, now.In(loc), loc.String())
	if err != nil {
		return nil, &InterpreterError{Reason: ReasonGeneration, Err: err}
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	opts := []llms.CallOption{
		llms.WithTemperature(l.temp),
		llms.WithJSONMode(),
	}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}

	started := time.Now()
	resp, err := l.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &InterpreterError{Reason: ReasonTimeout, Err: err}
		}
		return nil, &InterpreterError{Reason: ReasonGeneration, Err: err}
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return nil, &InterpreterError{Reason: ReasonEmpty, Err: errors.New("model returned no content")}
	}

	actions, err := l.decode(resp.Choices[0].Content, req.DefaultEmoji)
	if err != nil {
		return nil, &InterpreterError{Reason: ReasonSchema, Err: err}
	}

	l.log.Debug().
		Int("actions", len(actions)).
		Int("visible", len(req.Visible)).
		Dur("elapsed", time.Since(started)).
		Msg("interpreted")
	return actions, nil
}
