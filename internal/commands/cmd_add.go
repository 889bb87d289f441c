package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/urfave/cli/v3"
)

type AddCmd struct {
	flags  *Flags
	loader *AppLoader

	// flags
	date  string
	time  string
	emoji string
}

// NewAddCmd creates a new add command
func NewAddCmd(flags *Flags, loader *AppLoader) *AddCmd {
	return &AddCmd{flags: flags, loader: loader}
}

// Register adds the add command to the application
func (cmd *AddCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "add",
		Usage:     "Add an item verbatim",
		UsageText: "daybook add [--date <date>] [--time HH:mm] [--emoji <emoji>] <text...>",
		Description: `Adds one item with the given text, without asking the model.

Use 'daybook say' to have the text interpreted instead.

Examples:
  daybook add Buy milk
  daybook add --date tomorrow --time 15:00 Call the dentist`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "date",
				Aliases:     []string{"d"},
				Usage:       "date of the item (YYYY-MM-DD, today, tomorrow, yesterday)",
				Destination: &cmd.date,
			},
			&cli.StringFlag{
				Name:        "time",
				Aliases:     []string{"t"},
				Usage:       "time of day (HH:mm, 24-hour)",
				Destination: &cmd.time,
			},
			&cli.StringFlag{
				Name:        "emoji",
				Aliases:     []string{"e"},
				Usage:       "emoji shown next to the item (defaults to default_emoji)",
				Destination: &cmd.emoji,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *AddCmd) run(ctx context.Context, c *cli.Command) error {
	text := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("usage: daybook add <text...>")
	}

	app, err := cmd.loader.Open(ctx)
	if err != nil {
		return err
	}

	date, err := parseDate(cmd.date, app.Today())
	if err != nil {
		return err
	}

	item := todo.New(text, date)
	item.Time = cmd.time
	item.Emoji = cmd.emoji
	if item.Emoji == "" {
		item.Emoji = app.Config.DefaultEmoji
	}

	if err := app.Engine.Add(ctx, item); err != nil {
		return fmt.Errorf("add item: %w", err)
	}

	_, _ = fmt.Fprintln(c.Root().Writer, item.ID)
	return nil
}
