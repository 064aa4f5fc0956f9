package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

var (
	statusBarStyle = lipgloss.NewStyle().
			Background(ColorSurface).
			Foreground(ColorSubtle).
			Padding(0, 1)
	statusProjectStyle = lipgloss.NewStyle().
				Background(ColorSurface).
				Foreground(ColorIris).
				Bold(true)
	statusFlashStyle = lipgloss.NewStyle().
				Background(ColorSurface).
				Foreground(ColorFoam)
	statusErrStyle = lipgloss.NewStyle().
			Background(ColorSurface).
			Foreground(ColorLove)
	statusSidecarUp = lipgloss.NewStyle().
			Background(ColorSurface).
			Foreground(ColorPine).
			Render("● sdk")
	statusSidecarDown = lipgloss.NewStyle().
				Background(ColorSurface).
				Foreground(ColorMuted).
				Render("○ cli")
)

const statusHint = "n new · s start · enter attach · a apply · m merge · ? help"

// StatusBar is the single-line footer: project name, co-process health, a
// transient flash message, and the key hint.
type StatusBar struct {
	project   string
	sidecarUp bool
	flash     string
	flashErr  bool
	width     int
}

func NewStatusBar() *StatusBar {
	return &StatusBar{}
}

func (s *StatusBar) SetProject(name string) {
	s.project = name
}

// SetSidecar flips the co-process health indicator.
func (s *StatusBar) SetSidecar(up bool) {
	s.sidecarUp = up
}

// Flash shows a transient message until ClearFlash or the next Flash.
func (s *StatusBar) Flash(text string, isErr bool) {
	s.flash = text
	s.flashErr = isErr
}

func (s *StatusBar) ClearFlash() {
	s.flash = ""
	s.flashErr = false
}

func (s *StatusBar) SetSize(width int) {
	s.width = width
}

func (s *StatusBar) View() string {
	left := statusProjectStyle.Render(s.project)
	indicator := statusSidecarDown
	if s.sidecarUp {
		indicator = statusSidecarUp
	}

	middle := statusHint
	style := statusBarStyle
	if s.flash != "" {
		middle = s.flash
		style = statusFlashStyle
		if s.flashErr {
			style = statusErrStyle
		}
	}

	avail := s.width - lipgloss.Width(left) - lipgloss.Width(indicator) - 4
	if avail < 0 {
		avail = 0
	}
	middle = runewidth.Truncate(middle, avail, "…")
	pad := avail - runewidth.StringWidth(middle)
	if pad < 0 {
		pad = 0
	}

	return statusBarStyle.Render(left) +
		style.Render(" "+middle+strings.Repeat(" ", pad)+" ") +
		statusBarStyle.Render(indicator)
}
