package commands

import (
	"context"
	"fmt"

	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/urfave/cli/v3"
)

// ItemIDCompleter returns a ShellCompleteFunc that suggests the ids of
// today's items as positional completions, with the item text as the
// description.
//
// When the user's last typed argument starts with "-", it falls back to the
// default flag completion behavior.
func ItemIDCompleter(loader *AppLoader) cli.ShellCompleteFunc {
	return func(ctx context.Context, cmd *cli.Command) {
		// Delegate to default flag completion when typing a flag
		if args := cmd.Args(); args.Present() {
			last := args.Slice()[args.Len()-1]
			if len(last) > 0 && last[0] == '-' {
				cli.DefaultCompleteWithFlags(ctx, cmd)
				return
			}
		}

		app, err := loader.Open(ctx)
		if err != nil {
			return
		}

		w := cmd.Root().Writer
		for _, it := range todo.Visible(app.Engine.Items(), app.Today()) {
			_, _ = fmt.Fprintf(w, "%s:%s\n", it.ID, it.Text)
		}
	}
}
