package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/colonyops/daybook/internal/core/styles"
	"github.com/colonyops/daybook/internal/core/todo"
)

// shortIDLen is how much of an item id the table shows. Commands accept any
// unique prefix.
const shortIDLen = 8

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

// parseDate resolves a --date value against today. Empty means today.
func parseDate(s string, today todo.Date) (todo.Date, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "today":
		return today, nil
	case "tomorrow":
		return today.AddDays(1), nil
	case "yesterday":
		return today.AddDays(-1), nil
	}
	d, err := todo.ParseDate(s)
	if err != nil {
		return todo.Date{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD, today, tomorrow or yesterday", s)
	}
	return d, nil
}

// resolveID expands a unique id prefix to the full id of an active item.
func resolveID(items []todo.Item, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("item id is required")
	}

	var matches []string
	for _, it := range todo.Active(items) {
		if it.ID == prefix {
			return it.ID, nil
		}
		if strings.HasPrefix(it.ID, prefix) {
			matches = append(matches, it.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", todo.ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("id prefix %q is ambiguous (%d items)", prefix, len(matches))
	}
}

// printItems writes items as a table. showDate adds a date column for
// listings that span several days.
func printItems(w io.Writer, items []todo.Item, showDate bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, it := range items {
		check := styles.TextMutedStyle.Render("○")
		text := styles.TextForegroundStyle.Render(it.Text)
		if it.Completed {
			check = styles.TextSuccessStyle.Render("✔")
			text = styles.ItemDoneStyle.Render(it.Text)
		}

		cols := []string{check, styles.ItemIDStyle.Render(shortID(it.ID))}
		if showDate {
			cols = append(cols, it.Date.String())
		}
		cols = append(cols, styles.ItemTimeStyle.Render(it.Time), it.Emoji, text)
		_, _ = fmt.Fprintln(tw, strings.Join(cols, "\t"))
	}
	_ = tw.Flush()
}
