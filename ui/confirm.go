package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

const confirmWidth = 56

var (
	confirmPromptStyle = lipgloss.NewStyle().Foreground(ColorText)
	confirmActiveStyle = lipgloss.NewStyle().
				Foreground(ColorBase).
				Background(ColorIris).
				Padding(0, 2)
	confirmIdleStyle = lipgloss.NewStyle().
				Foreground(ColorSubtle).
				Background(ColorOverlay).
				Padding(0, 2)
)

// Confirm is a yes/no modal gating a destructive action. It defaults to no;
// y answers yes directly, esc answers no.
type Confirm struct {
	prompt    string
	yes       bool
	completed bool
}

func NewConfirm(prompt string) *Confirm {
	return &Confirm{prompt: prompt}
}

func (c *Confirm) Init() tea.Cmd {
	return nil
}

func (c *Confirm) Update(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "y", "Y":
		c.yes = true
		c.completed = true
	case "n", "N", "esc", "q":
		c.yes = false
		c.completed = true
	case "left", "h", "right", "l", "tab":
		c.yes = !c.yes
	case "enter":
		c.completed = true
	}
	return nil
}

func (c *Confirm) Completed() bool { return c.completed }

// Accepted reports whether the user answered yes.
func (c *Confirm) Accepted() bool { return c.yes }

func (c *Confirm) View() string {
	yes, no := confirmIdleStyle, confirmActiveStyle
	if c.yes {
		yes, no = confirmActiveStyle, confirmIdleStyle
	}
	buttons := lipgloss.JoinHorizontal(lipgloss.Top,
		yes.Render("Yes"), "  ", no.Render("No"))
	content := confirmPromptStyle.Render(wordwrap.String(c.prompt, confirmWidth-6)) +
		"\n\n" + buttons + "\n" +
		formHintStyle.Render("y/n answer · ←/→ switch · enter confirm")
	return overlayBox.Width(confirmWidth).Render(content)
}
