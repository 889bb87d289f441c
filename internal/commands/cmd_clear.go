package commands

import (
	"context"
	"fmt"

	"github.com/colonyops/daybook/internal/core/action"
	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/urfave/cli/v3"
)

type ClearCmd struct {
	flags  *Flags
	loader *AppLoader

	// clear flags
	scope    string
	date     string
	allDates bool
}

// NewClearCmd creates the clear and purge commands.
func NewClearCmd(flags *Flags, loader *AppLoader) *ClearCmd {
	return &ClearCmd{flags: flags, loader: loader}
}

// Register adds the clear and purge commands to the application.
func (cmd *ClearCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "clear",
			Usage:     "Remove items in bulk",
			UsageText: "daybook clear [--scope all|completed|incomplete] [--date <date> | --all-dates]",
			Description: `Removes the items of one day whose completion state matches --scope.

The store is read fresh first, so items written by other devices that
this one has not seen yet are cleared too.`,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:        "scope",
					Usage:       "which items to clear (all, completed, incomplete)",
					Value:       string(action.ScopeCompleted),
					Destination: &cmd.scope,
				},
				&cli.StringFlag{
					Name:        "date",
					Aliases:     []string{"d"},
					Usage:       "date to clear (YYYY-MM-DD, today, tomorrow, yesterday)",
					Destination: &cmd.date,
				},
				&cli.BoolFlag{
					Name:        "all-dates",
					Usage:       "clear matching items of every date",
					Destination: &cmd.allDates,
				},
			},
			Action: cmd.runClear,
		},
		&cli.Command{
			Name:        "purge",
			Usage:       "Drop removed items",
			UsageText:   "daybook purge",
			Description: "Drops local tombstones and deletes any document still stored for them.",
			Action:      cmd.runPurge,
		},
	)
	return app
}

func (cmd *ClearCmd) runClear(ctx context.Context, c *cli.Command) error {
	scope, err := action.ParseScope(cmd.scope)
	if err != nil {
		return err
	}

	app, err := cmd.loader.Open(ctx)
	if err != nil {
		return err
	}

	var date todo.Date
	if !cmd.allDates {
		date, err = parseDate(cmd.date, app.Today())
		if err != nil {
			return err
		}
	}

	cleared, err := app.Engine.Clear(ctx, scope, date)
	if err != nil {
		return fmt.Errorf("clear items: %w", err)
	}

	_, _ = fmt.Fprintf(c.Root().Writer, "cleared %d item(s)\n", len(cleared))
	return nil
}

func (cmd *ClearCmd) runPurge(ctx context.Context, c *cli.Command) error {
	app, err := cmd.loader.Open(ctx)
	if err != nil {
		return err
	}

	n, err := app.Engine.Purge(ctx)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}

	_, _ = fmt.Fprintf(c.Root().Writer, "purged %d item(s)\n", n)
	return nil
}
