// Package styles provides shared lipgloss styles for CLI output.
package styles

import (
	"sort"

	"github.com/charmbracelet/lipgloss"
)

// Palette defines a minimal semantic theme palette.
type Palette struct {
	Primary    lipgloss.Color
	Foreground lipgloss.Color
	Muted      lipgloss.Color
	Success    lipgloss.Color
	Warning    lipgloss.Color
	Error      lipgloss.Color
}

// DefaultTheme is the name of the default theme.
const DefaultTheme = "tokyo-night"

// themes holds the built-in named palettes.
var themes = map[string]Palette{
	"tokyo-night": {
		Primary:    lipgloss.Color("#7aa2f7"),
		Foreground: lipgloss.Color("#c0caf5"),
		Muted:      lipgloss.Color("#565f89"),
		Success:    lipgloss.Color("#9ece6a"),
		Warning:    lipgloss.Color("#e0af68"),
		Error:      lipgloss.Color("#f7768e"),
	},
	"gruvbox": {
		Primary:    lipgloss.Color("#83a598"),
		Foreground: lipgloss.Color("#ebdbb2"),
		Muted:      lipgloss.Color("#665c54"),
		Success:    lipgloss.Color("#b8bb26"),
		Warning:    lipgloss.Color("#fabd2f"),
		Error:      lipgloss.Color("#fb4934"),
	},
	"plain": {},
}

// ThemeNames returns sorted names of all built-in themes.
func ThemeNames() []string {
	names := make([]string, 0, len(themes))
	for name := range themes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPalette returns the palette for the given theme name.
func GetPalette(name string) (Palette, bool) {
	p, ok := themes[name]
	return p, ok
}

// Style exports.
var (
	TextPrimaryBoldStyle    lipgloss.Style
	TextForegroundStyle     lipgloss.Style
	TextForegroundBoldStyle lipgloss.Style
	TextMutedStyle          lipgloss.Style
	TextSuccessStyle        lipgloss.Style
	TextWarningStyle        lipgloss.Style
	TextErrorStyle          lipgloss.Style

	// Item list styles.
	ItemDoneStyle lipgloss.Style
	ItemTimeStyle lipgloss.Style
	ItemIDStyle   lipgloss.Style
)

func init() {
	SetTheme(themes[DefaultTheme])
}

// SetTheme rebuilds all global styles from p. Empty colors leave the
// terminal default.
func SetTheme(p Palette) {
	fg := func(c lipgloss.Color) lipgloss.Style {
		s := lipgloss.NewStyle()
		if c != "" {
			s = s.Foreground(c)
		}
		return s
	}

	TextPrimaryBoldStyle = fg(p.Primary).Bold(true)
	TextForegroundStyle = fg(p.Foreground)
	TextForegroundBoldStyle = fg(p.Foreground).Bold(true)
	TextMutedStyle = fg(p.Muted)
	TextSuccessStyle = fg(p.Success)
	TextWarningStyle = fg(p.Warning)
	TextErrorStyle = fg(p.Error)

	ItemDoneStyle = fg(p.Muted).Strikethrough(true)
	ItemTimeStyle = fg(p.Primary)
	ItemIDStyle = fg(p.Muted)
}
