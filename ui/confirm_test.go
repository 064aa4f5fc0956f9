package ui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
)

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestConfirmDefaultsToNo(t *testing.T) {
	c := NewConfirm("Discard task?")
	c.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, c.Completed())
	assert.False(t, c.Accepted())
}

func TestConfirmYesKeyAnswersDirectly(t *testing.T) {
	c := NewConfirm("Discard task?")
	c.Update(keyRune('y'))
	assert.True(t, c.Completed())
	assert.True(t, c.Accepted())
}

func TestConfirmEscAnswersNo(t *testing.T) {
	c := NewConfirm("Discard task?")
	c.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.True(t, c.Completed())
	assert.False(t, c.Accepted())
}

func TestConfirmToggleThenEnter(t *testing.T) {
	c := NewConfirm("Merge now?")
	c.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.False(t, c.Completed())
	c.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, c.Completed())
	assert.True(t, c.Accepted())

	c = NewConfirm("Merge now?")
	c.Update(tea.KeyMsg{Type: tea.KeyLeft})
	c.Update(tea.KeyMsg{Type: tea.KeyRight})
	c.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, c.Accepted())
}

func TestConfirmViewShowsPromptAndButtons(t *testing.T) {
	c := NewConfirm("Reset all tasks?")
	view := ansi.Strip(c.View())
	assert.Contains(t, view, "Reset all tasks?")
	assert.Contains(t, view, "Yes")
	assert.Contains(t, view, "No")
}
