package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/colonyops/daybook/internal/core/action"
	"github.com/colonyops/daybook/internal/core/styles"
	"github.com/colonyops/daybook/internal/daybook"
	"github.com/colonyops/daybook/pkg/iojson"
	"github.com/urfave/cli/v3"
)

type SayCmd struct {
	flags  *Flags
	loader *AppLoader

	// flags
	date       string
	jsonOutput bool
}

// NewSayCmd creates a new say command
func NewSayCmd(flags *Flags, loader *AppLoader) *SayCmd {
	return &SayCmd{flags: flags, loader: loader}
}

// Register adds the say command to the application
func (cmd *SayCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "say",
		Usage:     "Tell daybook what to do in plain words",
		UsageText: "daybook say [--date <date>] <text...>",
		Description: `Sends the text and the items of the active day to the model, then applies
the actions it returns in order: add, delete, mark, edit, sort and clear.

When the model is not configured, fails, or returns something unusable, the
text is added as a new item instead.

Examples:
  daybook say "bought the milk, and remind me to call mom at 6pm"
  daybook say --date tomorrow clear everything I finished`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "date",
				Aliases:     []string{"d"},
				Usage:       "active date (YYYY-MM-DD, today, tomorrow, yesterday)",
				Destination: &cmd.date,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output the result as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *SayCmd) run(ctx context.Context, c *cli.Command) error {
	text := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("usage: daybook say <text...>")
	}

	app, err := cmd.loader.Open(ctx)
	if err != nil {
		return err
	}

	date, err := parseDate(cmd.date, app.Today())
	if err != nil {
		return err
	}

	res, err := app.Submit(ctx, text, date)
	if err != nil {
		return err
	}

	if cmd.jsonOutput {
		return iojson.WriteWith(c.Root().Writer, os.Stderr, newSayOutput(res))
	}

	out := c.Root().Writer
	if res.Fallback {
		_, _ = fmt.Fprintln(os.Stderr, styles.TextWarningStyle.Render("not interpreted: "+res.Cause.Error()))
		printItems(out, res.Added, false)
		return nil
	}

	for _, act := range res.Actions {
		line := string(act.Kind())
		if target := action.Target(act); target != "" {
			line += " " + shortID(target)
		}
		_, _ = fmt.Fprintln(out, styles.TextMutedStyle.Render(line))
	}
	if len(res.Added) > 0 {
		printItems(out, res.Added, false)
	}
	for _, skipped := range res.Skipped {
		_, _ = fmt.Fprintln(os.Stderr, styles.TextWarningStyle.Render("skipped: "+skipped.Error()))
	}

	return nil
}

type sayOutput struct {
	Actions  []string `json:"actions"`
	Added    []string `json:"added"`
	Skipped  []string `json:"skipped,omitempty"`
	Fallback bool     `json:"fallback"`
	Cause    string   `json:"cause,omitempty"`
	Sort     string   `json:"sort"`
}

func newSayOutput(res daybook.Result) sayOutput {
	out := sayOutput{
		Actions:  make([]string, 0, len(res.Actions)),
		Added:    make([]string, 0, len(res.Added)),
		Fallback: res.Fallback,
		Sort:     string(res.Sort),
	}
	for _, act := range res.Actions {
		out.Actions = append(out.Actions, string(act.Kind()))
	}
	for _, it := range res.Added {
		out.Added = append(out.Added, it.ID)
	}
	for _, err := range res.Skipped {
		out.Skipped = append(out.Skipped, err.Error())
	}
	if res.Cause != nil {
		out.Cause = res.Cause.Error()
	}
	return out
}
