package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

const formWidth = 64

var (
	formTitleStyle = lipgloss.NewStyle().
			Foreground(ColorIris).
			Bold(true).
			MarginBottom(1)
	formHintStyle = lipgloss.NewStyle().
			Foreground(ColorMuted).
			MarginTop(1)
)

// TaskForm is the new-task / edit-task overlay: a title input and a free-form
// description, backed by huh.
type TaskForm struct {
	form      *huh.Form
	title     string
	desc      string
	heading   string
	completed bool
	cancelled bool
}

// NewTaskForm builds the overlay, prefilled when editing.
func NewTaskForm(title, description string) *TaskForm {
	f := &TaskForm{
		title:   title,
		desc:    description,
		heading: "New task",
	}
	if title != "" {
		f.heading = "Edit task"
	}
	f.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("title").
				Title("title").
				Value(&f.title),
			huh.NewInput().
				Key("description").
				Title("description (optional)").
				Value(&f.desc),
		),
	).
		WithTheme(ThemeRosePine()).
		WithWidth(formWidth - 6).
		WithShowHelp(false).
		WithShowErrors(false)
	return f
}

func (f *TaskForm) Init() tea.Cmd {
	return f.form.Init()
}

func (f *TaskForm) updateForm(msg tea.Msg) tea.Cmd {
	updated, cmd := f.form.Update(msg)
	if form, ok := updated.(*huh.Form); ok {
		f.form = form
	}
	return cmd
}

// Update consumes one key. Esc cancels; enter submits once the title is
// non-empty; everything else feeds the form.
func (f *TaskForm) Update(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc:
		f.cancelled = true
		return nil
	case tea.KeyEnter:
		if strings.TrimSpace(f.title) == "" {
			return nil
		}
		f.completed = true
		return nil
	case tea.KeyTab, tea.KeyDown:
		return f.updateForm(huh.NextField())
	case tea.KeyShiftTab, tea.KeyUp:
		return f.updateForm(huh.PrevField())
	default:
		return f.updateForm(msg)
	}
}

func (f *TaskForm) Cancelled() bool { return f.cancelled }
func (f *TaskForm) Completed() bool { return f.completed }

// Title returns the trimmed title field.
func (f *TaskForm) Title() string { return strings.TrimSpace(f.title) }

// Description returns the trimmed description field.
func (f *TaskForm) Description() string { return strings.TrimSpace(f.desc) }

func (f *TaskForm) View() string {
	content := formTitleStyle.Render(f.heading) + "\n" +
		f.form.View() + "\n" +
		formHintStyle.Render("tab navigate · enter save · esc cancel")
	return overlayBox.Width(formWidth).Render(content)
}
