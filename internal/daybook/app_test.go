package daybook

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/colonyops/daybook/internal/core/config"
	"github.com/colonyops/daybook/internal/core/doctor"
	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/colonyops/daybook/internal/httpapi"
	"github.com/colonyops/daybook/internal/interpreter"
	"github.com/colonyops/daybook/internal/store/memstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T, backend config.BackendType) *config.Config {
	t.Helper()
	cfg, err := config.Load("", t.TempDir())
	require.NoError(t, err)
	cfg.Backend.Type = backend
	cfg.Device = "test-device"
	cfg.Timezone = "UTC"
	return cfg
}

func openTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	ctx := context.Background()

	backend, err := OpenBackend(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)

	app, err := NewApp(ctx, cfg, backend, nil, zerolog.Nop())
	require.NoError(t, err)
	return app
}

func TestApp_BackendsPersistAcrossOpens(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) *config.Config
	}{
		{
			name:  "jsonfile",
			setup: func(t *testing.T) *config.Config { return newTestConfig(t, config.BackendJSONFile) },
		},
		{
			name:  "sqlite",
			setup: func(t *testing.T) *config.Config { return newTestConfig(t, config.BackendSQLite) },
		},
		{
			name: "redis",
			setup: func(t *testing.T) *config.Config {
				mr := miniredis.RunT(t)
				cfg := newTestConfig(t, config.BackendRedis)
				cfg.Backend.Redis.Addr = mr.Addr()
				return cfg
			},
		},
		{
			name: "remote",
			setup: func(t *testing.T) *config.Config {
				srv := httptest.NewServer(httpapi.NewServer(memstore.New(), zerolog.Nop(), httpapi.ServerConfig{MaxBodyBytes: 1 << 20}))
				t.Cleanup(srv.Close)
				cfg := newTestConfig(t, config.BackendRemote)
				cfg.Backend.Remote.URL = srv.URL
				return cfg
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.setup(t)
			ctx := context.Background()

			first := openTestApp(t, cfg)
			item := todo.New("Buy milk", first.Today())
			require.NoError(t, first.Engine.Add(ctx, item))
			require.NoError(t, first.Close())

			second := openTestApp(t, cfg)
			t.Cleanup(func() { _ = second.Close() })

			got, err := second.Engine.Get(item.ID)
			require.NoError(t, err)
			assert.Equal(t, "Buy milk", got.Text)
		})
	}
}

func TestApp_MemoryBackendStartsEmpty(t *testing.T) {
	app := openTestApp(t, newTestConfig(t, config.BackendMemory))
	t.Cleanup(func() { _ = app.Close() })

	assert.Empty(t, app.Engine.Items())
}

func TestApp_SubmitWithoutModelAddsRawText(t *testing.T) {
	app := openTestApp(t, newTestConfig(t, config.BackendMemory))
	t.Cleanup(func() { _ = app.Close() })

	res, err := app.Submit(context.Background(), "  water the plants ", todo.Date{})
	require.NoError(t, err)

	assert.True(t, res.Fallback)
	require.ErrorIs(t, res.Cause, interpreter.ErrNoModel)
	require.Len(t, res.Added, 1)
	assert.Equal(t, "water the plants", res.Added[0].Text)
	assert.Equal(t, "📝", res.Added[0].Emoji)
	assert.Equal(t, app.Today(), res.Added[0].Date)
}

func TestApp_Today(t *testing.T) {
	cfg := newTestConfig(t, config.BackendMemory)
	cfg.Timezone = "Pacific/Honolulu"
	app := openTestApp(t, cfg)
	t.Cleanup(func() { _ = app.Close() })

	app.now = func() time.Time { return time.Date(2025, 11, 8, 9, 30, 0, 0, time.UTC) }
	assert.Equal(t, todo.Date{Year: 2025, Month: time.November, Day: 7}, app.Today())
}

func TestNewApp_BadTimezoneClosesBackend(t *testing.T) {
	cfg := newTestConfig(t, config.BackendMemory)
	cfg.Timezone = "Mars/Olympus"
	mem := memstore.New()

	_, err := NewApp(context.Background(), cfg, mem, nil, zerolog.Nop())
	require.Error(t, err)

	_, err = mem.List(context.Background(), "items")
	require.Error(t, err, "backend is closed")
}

func TestNewInterpreter(t *testing.T) {
	interp, err := NewInterpreter(config.LLMConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, interpreter.Disabled{}, interp)

	interp, err = NewInterpreter(config.LLMConfig{Token: "sk-test", BaseURL: "http://127.0.0.1:1/v1", Model: "gpt-test"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &interpreter.LLM{}, interp)
}

func TestApp_DoctorAutofix(t *testing.T) {
	cfg := newTestConfig(t, config.BackendMemory)
	app := openTestApp(t, cfg)
	t.Cleanup(func() { _ = app.Close() })
	ctx := context.Background()

	require.NoError(t, app.Store.Put(ctx, "broken.json", []byte(`{"item_text":`)))
	require.NoError(t, app.Engine.Add(ctx, todo.New("Buy milk", app.Today())))

	results := app.Doctor(ctx, "", false)
	assert.Equal(t, 1, doctor.CountFixable(results))

	results = app.Doctor(ctx, "", true)
	assert.Zero(t, doctor.CountFixable(results))

	keys, err := app.Store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.Len(t, app.Engine.Items(), 1)
}
