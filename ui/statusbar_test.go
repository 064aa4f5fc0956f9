package ui

import (
	"testing"

	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
)

func TestStatusBarShowsProjectAndHint(t *testing.T) {
	s := NewStatusBar()
	s.SetProject("kanblam")
	s.SetSize(120)

	view := ansi.Strip(s.View())
	assert.Contains(t, view, "kanblam")
	assert.Contains(t, view, "n new")
	assert.Contains(t, view, "○ cli")
}

func TestStatusBarSidecarIndicator(t *testing.T) {
	s := NewStatusBar()
	s.SetSize(120)
	s.SetSidecar(true)
	assert.Contains(t, ansi.Strip(s.View()), "● sdk")

	s.SetSidecar(false)
	assert.Contains(t, ansi.Strip(s.View()), "○ cli")
}

func TestStatusBarFlashReplacesHint(t *testing.T) {
	s := NewStatusBar()
	s.SetProject("demo")
	s.SetSize(120)

	s.Flash("patch applied", false)
	view := ansi.Strip(s.View())
	assert.Contains(t, view, "patch applied")
	assert.NotContains(t, view, "n new")

	s.ClearFlash()
	assert.Contains(t, ansi.Strip(s.View()), "n new")
}

func TestStatusBarTruncatesNarrowWidth(t *testing.T) {
	s := NewStatusBar()
	s.SetProject("demo")
	s.SetSize(30)
	view := ansi.Strip(s.View())
	assert.Contains(t, view, "demo")
	assert.NotContains(t, view, "? help")
}
