package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"

	"github.com/kanblam/kanblam/config/auditlog"
)

func TestAuditPaneEmpty(t *testing.T) {
	a := NewAuditPane()
	a.SetSize(100, 20)
	assert.Contains(t, ansi.Strip(a.View()), "nothing recorded yet")
}

func TestAuditPaneTransitionFormatting(t *testing.T) {
	a := NewAuditPane()
	a.SetSize(120, 20)
	a.SetEvents([]auditlog.Event{{
		Kind:      auditlog.EventTaskTransition,
		Timestamp: time.Now(),
		TaskTitle: "dark mode",
		FromState: "In Progress",
		ToState:   "Testing",
	}})

	view := ansi.Strip(a.View())
	assert.Contains(t, view, "task_transition")
	assert.Contains(t, view, "dark mode: In Progress → Testing")
}

func TestAuditPaneQaAttemptSuffix(t *testing.T) {
	a := NewAuditPane()
	a.SetSize(120, 20)
	a.SetEvents([]auditlog.Event{{
		Kind:      auditlog.EventQaFailed,
		Timestamp: time.Now(),
		Message:   "dark mode",
		QaAttempt: 2,
		Level:     "warn",
	}})

	assert.Contains(t, ansi.Strip(a.View()), "dark mode (attempt 2)")
}

func TestAuditPaneClampsToHeight(t *testing.T) {
	a := NewAuditPane()
	a.SetSize(120, 10)
	events := make([]auditlog.Event, 20)
	for i := range events {
		events[i] = auditlog.Event{
			Kind:      auditlog.EventError,
			Timestamp: time.Now(),
			Message:   "boom",
			Level:     "error",
		}
	}
	a.SetEvents(events)

	view := ansi.Strip(a.View())
	// height 10 leaves 4 rows of events
	assert.Equal(t, 4, strings.Count(view, "boom"))
}
