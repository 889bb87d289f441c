package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/colonyops/daybook/pkg/iojson"
	"github.com/urfave/cli/v3"
)

type LsCmd struct {
	flags  *Flags
	loader *AppLoader

	// flags
	date       string
	all        bool
	sort       string
	jsonOutput bool
}

// NewLsCmd creates a new ls command
func NewLsCmd(flags *Flags, loader *AppLoader) *LsCmd {
	return &LsCmd{flags: flags, loader: loader}
}

// Register adds the ls command to the application
func (cmd *LsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "ls",
		Usage:     "List items",
		UsageText: "daybook ls [--date <date> | --all] [--sort <order>] [--json]",
		Description: `Displays the items of one day, today by default.

Use --all to list every date and --json for one JSON object per line.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "date",
				Aliases:     []string{"d"},
				Usage:       "date to list (YYYY-MM-DD, today, tomorrow, yesterday)",
				Destination: &cmd.date,
			},
			&cli.BoolFlag{
				Name:        "all",
				Aliases:     []string{"a"},
				Usage:       "list items of every date",
				Destination: &cmd.all,
			},
			&cli.StringFlag{
				Name:        "sort",
				Aliases:     []string{"s"},
				Usage:       "sort order (newest, oldest, alphabetical, completed); defaults to the configured sort",
				Destination: &cmd.sort,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON lines",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *LsCmd) run(ctx context.Context, c *cli.Command) error {
	app, err := cmd.loader.Open(ctx)
	if err != nil {
		return err
	}

	order := app.Applicator.SortOrder()
	if cmd.sort != "" {
		order = todo.SortOrder(cmd.sort)
		if !order.IsValid() {
			return fmt.Errorf("invalid sort %q: must be one of newest, oldest, alphabetical, completed", cmd.sort)
		}
	}

	var date todo.Date
	if !cmd.all {
		date, err = parseDate(cmd.date, app.Today())
		if err != nil {
			return err
		}
	}

	items := todo.Sort(todo.Visible(app.Engine.Items(), date), order)
	out := c.Root().Writer

	if cmd.jsonOutput {
		for _, it := range items {
			if err := iojson.WriteLine(out, it); err != nil {
				return fmt.Errorf("encode item: %w", err)
			}
		}
		return nil
	}

	if len(items) == 0 {
		fmt.Fprintf(os.Stderr, "No items found\n")
		return nil
	}

	printItems(out, items, cmd.all)
	return nil
}
