package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/colonyops/daybook/internal/core/config"
	"github.com/colonyops/daybook/internal/core/logging"
	"github.com/colonyops/daybook/internal/daybook"
	"github.com/colonyops/daybook/internal/httpapi"
	"github.com/colonyops/daybook/internal/profiler"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type ServeCmd struct {
	flags *Flags

	// flags
	addr      string
	pprofPort int
}

// NewServeCmd creates a new serve command
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Share the local backend with other devices",
		UsageText: "daybook serve [--addr host:port] [--pprof-port <port>]",
		Description: `Serves the configured backend over HTTP so other installations can use it
with backend.type: remote. Changes are pushed to clients over a websocket.

Set server.token (read-write) and server.read_token (read-only) to require
a bearer token.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address (defaults to server.addr)",
				Destination: &cmd.addr,
			},
			&cli.IntFlag{
				Name:        "pprof-port",
				Usage:       "serve pprof on 127.0.0.1:<port>",
				Sources:     cli.EnvVars("DAYBOOK_PPROF_PORT"),
				Destination: &cmd.pprofPort,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ServeCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config
	if cfg.Backend.Type == config.BackendRemote {
		return errors.New("serve needs a local backend; backend.type is remote")
	}

	addr := cmd.addr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	backend, err := daybook.OpenBackend(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	handler := httpapi.NewServer(backend, log.Logger, httpapi.ServerConfig{
		Token:        cfg.Server.Token,
		ReadToken:    cfg.Server.ReadToken,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.IsSet("pprof-port") {
		prof := profiler.New(cmd.pprofPort, log.Logger)
		if err := prof.Start(ctx); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = prof.Shutdown(shutdownCtx)
		}()
	}

	return serveUntilDone(ctx, listener, handler)
}

// serveUntilDone serves handler on listener until ctx is done, then shuts
// down gracefully. Open change feeds are cut when the grace period ends.
func serveUntilDone(ctx context.Context, listener net.Listener, handler http.Handler) error {
	logger := logging.Component("serve")
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", listener.Addr().String()).Msg("document server listening")
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down document server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		return nil
	})

	return g.Wait()
}
