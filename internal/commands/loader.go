package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/colonyops/daybook/internal/daybook"
	"github.com/rs/zerolog/log"
)

// AppLoader opens the daybook App the first time a command asks for it.
// Commands that never touch the store run without a reachable backend.
type AppLoader struct {
	flags *Flags

	mu  sync.Mutex
	app *daybook.App
}

// NewAppLoader creates a loader reading configuration from flags.
func NewAppLoader(flags *Flags) *AppLoader {
	return &AppLoader{flags: flags}
}

// Open returns the App, opening the backend and loading the collection on
// first use.
func (l *AppLoader) Open(ctx context.Context) (*daybook.App, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.app != nil {
		return l.app, nil
	}

	cfg := l.flags.Config
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}

	interp, err := daybook.NewInterpreter(cfg.LLM, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("create interpreter: %w", err)
	}

	backend, err := daybook.OpenBackend(ctx, cfg, log.Logger)
	if err != nil {
		return nil, err
	}

	app, err := daybook.NewApp(ctx, cfg, backend, interp, log.Logger)
	if err != nil {
		return nil, err
	}

	l.app = app
	return app, nil
}

// Close closes the App when it was opened.
func (l *AppLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.app == nil {
		return nil
	}
	err := l.app.Close()
	l.app = nil
	return err
}
