package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/colonyops/daybook/internal/core/logging"
	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/colonyops/daybook/pkg/iojson"
	"github.com/urfave/cli/v3"
)

type WatchCmd struct {
	flags  *Flags
	loader *AppLoader

	// flags
	date       string
	jsonOutput bool
}

// NewWatchCmd creates a new watch command
func NewWatchCmd(flags *Flags, loader *AppLoader) *WatchCmd {
	return &WatchCmd{flags: flags, loader: loader}
}

// Register adds the watch command to the application
func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "watch",
		Usage:     "Follow the list as it changes",
		UsageText: "daybook watch [--date <date>] [--json]",
		Description: `Prints the items of the day, then prints them again every time the
collection changes, including changes made by other devices. Stop with Ctrl-C.

With --json each snapshot is one JSON array per line.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "date",
				Aliases:     []string{"d"},
				Usage:       "date to follow (YYYY-MM-DD, today, tomorrow, yesterday)",
				Destination: &cmd.date,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output each snapshot as a JSON line",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *WatchCmd) run(ctx context.Context, c *cli.Command) error {
	app, err := cmd.loader.Open(ctx)
	if err != nil {
		return err
	}

	date, err := parseDate(cmd.date, app.Today())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshots := make(chan []todo.Item, 1)
	unsubscribe := app.Engine.Subscribe(func(items []todo.Item) {
		// Keep only the newest snapshot when the printer falls behind.
		for {
			select {
			case snapshots <- items:
				return
			default:
			}
			select {
			case <-snapshots:
			default:
			}
		}
	})
	defer unsubscribe()

	order := app.Applicator.SortOrder()
	out := c.Root().Writer
	show := func(items []todo.Item) error {
		visible := todo.Sort(todo.Visible(items, date), order)
		if cmd.jsonOutput {
			return iojson.WriteLine(out, visible)
		}
		_, _ = fmt.Fprintf(out, "── %s ──\n", date)
		printItems(out, visible, false)
		return nil
	}

	if err := show(app.Engine.Items()); err != nil {
		return err
	}

	logger := logging.Component("watch")
	logger.Debug().Stringer("date", date).Msg("watching collection")
	for {
		select {
		case <-ctx.Done():
			return nil
		case items := <-snapshots:
			if err := show(items); err != nil {
				return err
			}
		}
	}
}
