package commands

import (
	"context"
	"fmt"

	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/colonyops/daybook/internal/daybook"
	"github.com/urfave/cli/v3"
)

// ItemCmd implements the commands that change a single item.
type ItemCmd struct {
	flags  *Flags
	loader *AppLoader

	// edit flags
	editText      string
	editDate      string
	editTime      string
	editEmoji     string
	editCompleted bool
}

// NewItemCmd creates the done, edit and rm commands.
func NewItemCmd(flags *Flags, loader *AppLoader) *ItemCmd {
	return &ItemCmd{flags: flags, loader: loader}
}

// Register adds the item commands to the application.
func (cmd *ItemCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		cmd.doneCmd(),
		cmd.editCmd(),
		cmd.rmCmd(),
	)
	return app
}

func (cmd *ItemCmd) doneCmd() *cli.Command {
	return &cli.Command{
		Name:          "done",
		Aliases:       []string{"toggle"},
		Usage:         "Toggle an item's completion",
		UsageText:     "daybook done <id>",
		Description:   "Flips the completed flag of the item. Any unique id prefix works.",
		ShellComplete: ItemIDCompleter(cmd.loader),
		Action: func(ctx context.Context, c *cli.Command) error {
			return cmd.withItem(ctx, c, func(app *daybook.App, id string) error {
				it, err := app.Engine.Toggle(ctx, id)
				if err != nil {
					return fmt.Errorf("toggle item: %w", err)
				}
				state := "incomplete"
				if it.Completed {
					state = "completed"
				}
				_, _ = fmt.Fprintln(c.Root().Writer, state)
				return nil
			})
		},
	}
}

func (cmd *ItemCmd) editCmd() *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Change fields of an item",
		UsageText: "daybook edit <id> [--text <text>] [--date <date>] [--time HH:mm] [--emoji <emoji>] [--completed]",
		Description: `Changes only the fields that are given.

Examples:
  daybook edit 3f2a --text "Buy oat milk"
  daybook edit 3f2a --date tomorrow --time ""`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "text", Usage: "new text", Destination: &cmd.editText},
			&cli.StringFlag{Name: "date", Usage: "new date (YYYY-MM-DD, today, tomorrow, yesterday)", Destination: &cmd.editDate},
			&cli.StringFlag{Name: "time", Usage: "new time of day (HH:mm); empty clears it", Destination: &cmd.editTime},
			&cli.StringFlag{Name: "emoji", Usage: "new emoji", Destination: &cmd.editEmoji},
			&cli.BoolFlag{Name: "completed", Usage: "set the completed flag", Destination: &cmd.editCompleted},
		},
		ShellComplete: ItemIDCompleter(cmd.loader),
		Action: func(ctx context.Context, c *cli.Command) error {
			return cmd.withItem(ctx, c, func(app *daybook.App, id string) error {
				patch, err := cmd.patch(c, app.Today())
				if err != nil {
					return err
				}
				if patch.IsEmpty() {
					return fmt.Errorf("nothing to change: pass at least one of --text, --date, --time, --emoji, --completed")
				}
				if _, err := app.Engine.Edit(ctx, id, patch); err != nil {
					return fmt.Errorf("edit item: %w", err)
				}
				_, _ = fmt.Fprintln(c.Root().Writer, "updated")
				return nil
			})
		},
	}
}

func (cmd *ItemCmd) rmCmd() *cli.Command {
	return &cli.Command{
		Name:          "rm",
		Usage:         "Remove an item",
		UsageText:     "daybook rm <id>",
		ShellComplete: ItemIDCompleter(cmd.loader),
		Action: func(ctx context.Context, c *cli.Command) error {
			return cmd.withItem(ctx, c, func(app *daybook.App, id string) error {
				if err := app.Engine.Remove(ctx, id); err != nil {
					return fmt.Errorf("remove item: %w", err)
				}
				_, _ = fmt.Fprintln(c.Root().Writer, "removed")
				return nil
			})
		},
	}
}

// patch builds a Patch from the flags that were set on the command line.
func (cmd *ItemCmd) patch(c *cli.Command, today todo.Date) (todo.Patch, error) {
	var p todo.Patch
	if c.IsSet("text") {
		p.Text = &cmd.editText
	}
	if c.IsSet("date") {
		d, err := parseDate(cmd.editDate, today)
		if err != nil {
			return p, err
		}
		p.Date = &d
	}
	if c.IsSet("time") {
		p.Time = &cmd.editTime
	}
	if c.IsSet("emoji") {
		p.Emoji = &cmd.editEmoji
	}
	if c.IsSet("completed") {
		p.Completed = &cmd.editCompleted
	}
	return p, nil
}

func (cmd *ItemCmd) withItem(ctx context.Context, c *cli.Command, fn func(app *daybook.App, id string) error) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: %s", c.UsageText)
	}

	app, err := cmd.loader.Open(ctx)
	if err != nil {
		return err
	}

	id, err := resolveID(app.Engine.Items(), c.Args().First())
	if err != nil {
		return err
	}
	return fn(app, id)
}
