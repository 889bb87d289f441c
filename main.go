package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/daybook/internal/commands"
	"github.com/colonyops/daybook/internal/core/config"
	"github.com/colonyops/daybook/internal/core/logging"
	"github.com/colonyops/daybook/internal/core/styles"
	"github.com/colonyops/daybook/pkg/logutils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	// When installed via `go install module@version`, init() populates
	// these from runtime/debug.BuildInfo instead.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	v, c, d := version, commit, date

	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}

	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

func main() {
	ctx := context.Background()

	var logCloser func()

	flags := &commands.Flags{}
	loader := commands.NewAppLoader(flags)

	app := &cli.Command{
		Name:      "daybook",
		Usage:     "A synced daily todo list you can talk to",
		UsageText: "daybook [global options] command [command options]",
		Description: `Daybook keeps one todo list per day in a document store shared by all of
your devices. Edits made elsewhere show up here as they land.

Run 'daybook say "buy milk and call mom tomorrow"' to change the list in
plain language, or use add, done, edit and rm for direct edits.`,
		Version:               build(),
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("DAYBOOK_LOG_LEVEL"),
				Value:       "warn",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to stderr)",
				Sources:     cli.EnvVars("DAYBOOK_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("DAYBOOK_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("DAYBOOK_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
			&cli.StringFlag{
				Name:        "llm-token",
				Usage:       "API token for the language model",
				Sources:     cli.EnvVars("DAYBOOK_LLM_TOKEN"),
				Hidden:      true,
				Destination: &flags.LLMToken,
			},
			&cli.StringFlag{
				Name:        "remote-token",
				Usage:       "bearer token for the remote backend",
				Sources:     cli.EnvVars("DAYBOOK_REMOTE_TOKEN"),
				Hidden:      true,
				Destination: &flags.RemoteToken,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, closer, err := logutils.New(flags.LogLevel, flags.LogFile)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger.Hook(logging.ContextHook{})
			logCloser = closer

			cfg, err := config.Load(flags.ConfigPath, flags.DataDir)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}

			if flags.LLMToken != "" {
				cfg.LLM.Token = flags.LLMToken
			}
			if flags.RemoteToken != "" {
				cfg.Backend.Remote.Token = flags.RemoteToken
			}

			// Apply configured theme (validation ensures name is valid)
			palette, _ := styles.GetPalette(cfg.Theme)
			styles.SetTheme(palette)

			flags.Config = cfg
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if err := loader.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close daybook")
				return err
			}

			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	app = commands.NewAddCmd(flags, loader).Register(app)
	app = commands.NewLsCmd(flags, loader).Register(app)
	app = commands.NewItemCmd(flags, loader).Register(app)
	app = commands.NewClearCmd(flags, loader).Register(app)
	app = commands.NewSayCmd(flags, loader).Register(app)
	app = commands.NewWatchCmd(flags, loader).Register(app)
	app = commands.NewTransferCmd(flags, loader).Register(app)
	app = commands.NewDoctorCmd(flags, loader).Register(app)
	app = commands.NewServeCmd(flags).Register(app)
	app = commands.NewConfigValidateCmd(flags).Register(app)

	exitCode := 0
	runErr := app.Run(ctx, os.Args)
	if runErr != nil {
		fmt.Println()
		fmt.Println(runErr.Error())
		exitCode = 1
	}

	os.Exit(exitCode)
}
