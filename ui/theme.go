package ui

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// Rosé Pine Moon palette
// https://rosepinetheme.com/palette/
var (
	// Base tones
	ColorBase    = lipgloss.Color("#232136")
	ColorSurface = lipgloss.Color("#2a273f")
	ColorOverlay = lipgloss.Color("#393552")
	ColorMuted   = lipgloss.Color("#6e6a86")
	ColorSubtle  = lipgloss.Color("#908caa")
	ColorText    = lipgloss.Color("#e0def4")

	// Semantic colors
	ColorLove = lipgloss.Color("#eb6f92") // error, danger
	ColorGold = lipgloss.Color("#f6c177") // warning
	ColorRose = lipgloss.Color("#ea9a97") // accent, secondary
	ColorPine = lipgloss.Color("#3e8fb0") // link
	ColorFoam = lipgloss.Color("#9ccfd8") // info, running
	ColorIris = lipgloss.Color("#c4a7e7") // highlight, primary
)

// StatusColor maps a board column status to its accent color.
func StatusColor(label string) lipgloss.Color {
	switch label {
	case "Planned":
		return ColorMuted
	case "Queued":
		return ColorSubtle
	case "In Progress":
		return ColorFoam
	case "Testing":
		return ColorGold
	case "Needs Work":
		return ColorLove
	case "Review":
		return ColorIris
	case "Done":
		return ColorPine
	}
	return ColorText
}

// ThemeRosePine returns a huh theme matching the palette above, used by every
// form overlay.
func ThemeRosePine() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Base = t.Focused.Base.BorderForeground(ColorIris)
	t.Focused.Title = t.Focused.Title.Foreground(ColorIris).Bold(true)
	t.Focused.Description = t.Focused.Description.Foreground(ColorMuted)
	t.Focused.ErrorIndicator = t.Focused.ErrorIndicator.Foreground(ColorLove)
	t.Focused.ErrorMessage = t.Focused.ErrorMessage.Foreground(ColorLove)
	t.Focused.FocusedButton = t.Focused.FocusedButton.Foreground(ColorBase).Background(ColorIris)
	t.Focused.BlurredButton = t.Focused.BlurredButton.Foreground(ColorSubtle).Background(ColorOverlay)

	t.Focused.TextInput.Cursor = t.Focused.TextInput.Cursor.Foreground(ColorFoam)
	t.Focused.TextInput.Placeholder = t.Focused.TextInput.Placeholder.Foreground(ColorMuted)
	t.Focused.TextInput.Prompt = t.Focused.TextInput.Prompt.Foreground(ColorIris)
	t.Focused.TextInput.Text = t.Focused.TextInput.Text.Foreground(ColorText)

	t.Blurred = t.Focused
	t.Blurred.Base = t.Blurred.Base.BorderStyle(lipgloss.HiddenBorder())

	t.Group.Title = t.Focused.Title
	t.Group.Description = t.Focused.Description

	return t
}

// overlayBox frames every modal overlay.
var overlayBox = lipgloss.NewStyle().
	Border(lipgloss.DoubleBorder()).
	BorderForeground(ColorIris).
	Padding(1, 2)
