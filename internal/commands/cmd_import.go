package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/colonyops/daybook/internal/core/todo"
	"github.com/colonyops/daybook/pkg/iojson"
	"github.com/urfave/cli/v3"
)

type TransferCmd struct {
	flags  *Flags
	loader *AppLoader

	// import flags
	input   iojson.FileReader[[]todo.Item]
	replace bool

	// export flags
	exportAll bool
}

// NewTransferCmd creates the import and export commands.
func NewTransferCmd(flags *Flags, loader *AppLoader) *TransferCmd {
	return &TransferCmd{flags: flags, loader: loader}
}

// Register adds the import and export commands to the application.
func (cmd *TransferCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "export",
			Usage:     "Write every item as a JSON array",
			UsageText: "daybook export [--all] > items.json",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:        "all",
					Usage:       "include removed items",
					Destination: &cmd.exportAll,
				},
			},
			Action: cmd.runExport,
		},
		&cli.Command{
			Name:      "import",
			Usage:     "Add items from a JSON array",
			UsageText: "daybook import [-f items.json] [--replace]",
			Description: `Reads a JSON array of items, as written by 'daybook export', from a file
or stdin.

Items keep their ids. Without --replace, items whose id already exists are
skipped. With --replace the collection becomes exactly the imported items
and everything else is deleted from the store.`,
			Flags: []cli.Flag{
				cmd.input.Flag(),
				&cli.BoolFlag{
					Name:        "replace",
					Usage:       "replace the whole collection",
					Destination: &cmd.replace,
				},
			},
			Action: cmd.runImport,
		},
	)
	return app
}

func (cmd *TransferCmd) runExport(ctx context.Context, c *cli.Command) error {
	app, err := cmd.loader.Open(ctx)
	if err != nil {
		return err
	}

	items := app.Engine.Items()
	if !cmd.exportAll {
		items = todo.Active(items)
	}
	return iojson.WriteWith(c.Root().Writer, os.Stderr, items)
}

func (cmd *TransferCmd) runImport(ctx context.Context, c *cli.Command) error {
	items, err := cmd.input.Read()
	if err != nil {
		return err
	}

	app, err := cmd.loader.Open(ctx)
	if err != nil {
		return err
	}

	for i := range items {
		if items[i].ID == "" {
			items[i].ID = todo.NewID()
		}
	}

	if cmd.replace {
		if err := app.Engine.ReplaceAll(ctx, items); err != nil {
			return fmt.Errorf("replace collection: %w", err)
		}
		_, _ = fmt.Fprintf(c.Root().Writer, "replaced collection with %d item(s)\n", len(items))
		return nil
	}

	var added, skipped int
	for _, it := range items {
		if it.Removed {
			skipped++
			continue
		}
		if _, err := app.Engine.Get(it.ID); err == nil {
			skipped++
			continue
		} else if !errors.Is(err, todo.ErrNotFound) {
			return err
		}
		if err := app.Engine.Add(ctx, it); err != nil {
			return fmt.Errorf("import %s: %w", it.ID, err)
		}
		added++
	}

	_, _ = fmt.Fprintf(c.Root().Writer, "imported %d item(s), skipped %d\n", added, skipped)
	return nil
}
