package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/colonyops/daybook/internal/core/config"
	"github.com/colonyops/daybook/internal/core/styles"
	"github.com/colonyops/daybook/pkg/iojson"
	"github.com/hay-kot/criterio"
	"github.com/urfave/cli/v3"
)

type ConfigValidateCmd struct {
	flags  *Flags
	format string
}

// NewConfigValidateCmd creates a new config validate command.
func NewConfigValidateCmd(flags *Flags) *ConfigValidateCmd {
	return &ConfigValidateCmd{flags: flags}
}

// Register adds the config validate command to the application.
func (cmd *ConfigValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:        "validate",
				Usage:       "Validate configuration file",
				UsageText:   "daybook config validate [options]",
				Description: "Validates the configuration file, checking backend settings, URLs, addresses, the timezone, and file paths.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "format",
						Usage:       "output format (text, json)",
						Value:       "text",
						Destination: &cmd.format,
					},
				},
				Action: cmd.run,
			},
		},
	})

	return app
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (cmd *ConfigValidateCmd) run(_ context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config
	errs := fieldErrors(cfg.ValidateDeep(cmd.flags.ConfigPath))
	warnings := cfg.Warnings()

	if cmd.format == "json" {
		out := struct {
			Valid    bool                       `json:"valid"`
			Errors   []fieldError               `json:"errors,omitempty"`
			Warnings []config.ValidationWarning `json:"warnings,omitempty"`
		}{
			Valid:    len(errs) == 0,
			Errors:   errs,
			Warnings: warnings,
		}
		if err := iojson.WriteWith(c.Root().Writer, os.Stderr, out); err != nil {
			return err
		}
		if len(errs) > 0 {
			return cli.Exit("", 1)
		}
		return nil
	}

	w := c.Root().Writer
	for _, warn := range warnings {
		_, _ = fmt.Fprintf(w, "%s %s: %s\n", styles.TextWarningStyle.Render("●"), warn.Category, warn.Message)
		if warn.Item != "" {
			_, _ = fmt.Fprintf(w, "  Item: %s\n", warn.Item)
		}
	}
	for _, fe := range errs {
		_, _ = fmt.Fprintf(w, "%s %s: %s\n", styles.TextErrorStyle.Render("✘"), fe.Field, fe.Message)
	}

	_, _ = fmt.Fprintln(w)
	if len(errs) == 0 {
		_, _ = fmt.Fprintln(w, styles.TextSuccessStyle.Render("Configuration is valid"))
		return nil
	}

	_, _ = fmt.Fprintln(w, styles.TextErrorStyle.Render(fmt.Sprintf("%d error(s) found", len(errs))))
	return cli.Exit("", 1)
}

// fieldErrors flattens a validation error into per-field messages.
func fieldErrors(err error) []fieldError {
	if err == nil {
		return nil
	}
	var fes criterio.FieldErrors
	if !errors.As(err, &fes) {
		return []fieldError{{Field: "config", Message: err.Error()}}
	}
	out := make([]fieldError, 0, len(fes))
	for _, fe := range fes {
		out = append(out, fieldError{Field: fe.Field, Message: fe.Err.Error()})
	}
	return out
}
