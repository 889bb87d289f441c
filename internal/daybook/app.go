package daybook

import (
	"context"
	"fmt"
	"time"

	"github.com/colonyops/daybook/internal/core/config"
	"github.com/colonyops/daybook/internal/core/doctor"
	"github.com/colonyops/daybook/internal/core/docstore"
	"github.com/colonyops/daybook/internal/core/logging"
	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/colonyops/daybook/internal/interpreter"
	"github.com/rs/zerolog"
)

// App is the central entry point for all daybook operations.
// Commands consume App instead of cherry-picking raw dependencies.
type App struct {
	Config     *config.Config
	Store      *docstore.Adapter
	Engine     *Engine
	Applicator *Applicator
	Location   *time.Location

	now func() time.Time
}

// NewApp opens the document store over backend, loads the collection and
// wires the applicator. The app owns backend from here on, including when
// NewApp fails.
func NewApp(
	ctx context.Context,
	cfg *config.Config,
	backend docstore.Backend,
	interp interpreter.Interpreter,
	log zerolog.Logger,
) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	store := docstore.NewAdapter(backend, log, docstore.Options{
		Namespace: cfg.Namespace,
		Origin:    cfg.Device,
	})
	if err := store.Open(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open document store: %w", err)
	}

	engine := NewEngine(store, log, EngineOptions{
		RoutineMaxAge: cfg.Sync.RoutineMaxAge,
		SettleDelay:   cfg.Sync.SettleDelay,
	})
	if err := engine.Load(ctx); err != nil {
		_ = engine.Close()
		_ = store.Close()
		return nil, err
	}

	if interp == nil {
		interp = interpreter.Disabled{}
	}

	return &App{
		Config: cfg,
		Store:  store,
		Engine: engine,
		Applicator: NewApplicator(engine, interp, log, ApplicatorOptions{
			Timeout: cfg.LLM.Timeout,
			Sort:    todo.SortOrder(cfg.Sort),
		}),
		Location: loc,
		now:      time.Now,
	}, nil
}

// Today is the current date in the configured timezone.
func (a *App) Today() todo.Date {
	return todo.DateOf(a.now().In(a.Location))
}

// Submit runs text through the applicator for date with the configured
// emoji, zone and model. A zero date means today.
func (a *App) Submit(ctx context.Context, text string, date todo.Date) (Result, error) {
	if date.IsZero() {
		date = a.Today()
	}
	if a.Config.Device != "" {
		ctx = logging.WithDevice(ctx, a.Config.Device)
	}
	return a.Applicator.Submit(ctx, Submission{
		Text:     text,
		Emoji:    a.Config.DefaultEmoji,
		Date:     date,
		Timezone: a.Location.String(),
		Model:    a.Config.LLM.Model,
	})
}

// Doctor runs the health checks. With autofix, problems that can be
// repaired in place are repaired.
func (a *App) Doctor(ctx context.Context, configPath string, autofix bool) []doctor.Result {
	results := doctor.RunAll(ctx, []doctor.Check{
		doctor.NewConfigCheck(a.Config, configPath),
		doctor.NewCollectionCheck(a.Store, autofix),
	})
	if autofix {
		if err := a.Engine.Reload(ctx); err != nil {
			results = append(results, doctor.Result{
				Name:  "Reload",
				Items: []doctor.CheckItem{{Label: "collection", Status: doctor.StatusFail, Detail: err.Error()}},
			})
		}
	}
	return results
}

// Close stops the engine and closes the store and its backend.
func (a *App) Close() error {
	if err := a.Engine.Close(); err != nil {
		return err
	}
	return a.Store.Close()
}

// NewInterpreter builds the LLM interpreter from cfg, or Disabled when no
// token is configured.
func NewInterpreter(cfg config.LLMConfig, log zerolog.Logger) (interpreter.Interpreter, error) {
	if cfg.Token == "" {
		return interpreter.Disabled{}, nil
	}

	model, err := interpreter.NewOpenAI(interpreter.OpenAIConfig{
		Token:   cfg.Token,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, err
	}

	return interpreter.NewLLM(model, log, interpreter.Options{
		Timeout:     cfg.Timeout,
		Temperature: cfg.Temperature,
	})
}
