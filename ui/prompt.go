package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const promptWidth = 72

// PromptInput is the follow-up overlay: free text pushed into a running
// task's session. Enter submits, esc cancels.
type PromptInput struct {
	input     textarea.Model
	title     string
	completed bool
	cancelled bool
}

func NewPromptInput(title string) *PromptInput {
	ti := textarea.New()
	ti.Focus()
	ti.ShowLineNumbers = false
	ti.Prompt = ""
	ti.CharLimit = 0
	ti.SetWidth(promptWidth - 6)
	ti.SetHeight(5)
	ti.FocusedStyle.CursorLine = lipgloss.NewStyle()
	return &PromptInput{input: ti, title: title}
}

func (p *PromptInput) Init() tea.Cmd {
	return textarea.Blink
}

func (p *PromptInput) Update(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc:
		p.cancelled = true
		return nil
	case tea.KeyEnter:
		p.completed = true
		return nil
	default:
		var cmd tea.Cmd
		p.input, cmd = p.input.Update(msg)
		return cmd
	}
}

func (p *PromptInput) Cancelled() bool { return p.cancelled }
func (p *PromptInput) Completed() bool { return p.completed }

// Value returns the trimmed text.
func (p *PromptInput) Value() string { return strings.TrimSpace(p.input.Value()) }

func (p *PromptInput) View() string {
	content := formTitleStyle.Render(p.title) + "\n" +
		p.input.View() + "\n" +
		formHintStyle.Render("enter send · esc cancel")
	return overlayBox.Width(promptWidth).Render(content)
}
