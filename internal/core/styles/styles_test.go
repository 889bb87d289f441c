package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThemeNames(t *testing.T) {
	assert.Equal(t, []string{"gruvbox", "plain", "tokyo-night"}, ThemeNames())
}

func TestGetPalette(t *testing.T) {
	p, ok := GetPalette(DefaultTheme)
	assert.True(t, ok)
	assert.NotEmpty(t, p.Primary)

	_, ok = GetPalette("solarized")
	assert.False(t, ok)
}

func TestSetTheme_PlainKeepsText(t *testing.T) {
	t.Cleanup(func() { SetTheme(themes[DefaultTheme]) })

	SetTheme(themes["plain"])
	assert.Contains(t, TextSuccessStyle.Render("ok"), "ok")
	assert.Contains(t, ItemDoneStyle.Render("done"), "done")
}
