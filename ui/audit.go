package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/kanblam/kanblam/config/auditlog"
)

var (
	auditTimeStyle = lipgloss.NewStyle().Foreground(ColorMuted)
	auditKindStyle = lipgloss.NewStyle().Foreground(ColorSubtle).Width(18)
	auditInfoStyle = lipgloss.NewStyle().Foreground(ColorText)
	auditWarnStyle = lipgloss.NewStyle().Foreground(ColorGold)
	auditErrStyle  = lipgloss.NewStyle().Foreground(ColorLove)
)

// AuditPane is the audit-trail overlay: recent task transitions, QA attempts,
// and git outcomes, newest first.
type AuditPane struct {
	events []auditlog.Event
	width  int
	height int
}

func NewAuditPane() *AuditPane {
	return &AuditPane{}
}

// SetEvents replaces the displayed events. The query already orders them
// newest first.
func (a *AuditPane) SetEvents(events []auditlog.Event) {
	a.events = events
}

func (a *AuditPane) SetSize(width, height int) {
	a.width = width
	a.height = height
}

func (a *AuditPane) View() string {
	inner := a.width - 6
	if inner < 32 {
		inner = 32
	}
	rows := a.height - 6
	if rows < 4 {
		rows = 4
	}

	var b strings.Builder
	b.WriteString(formTitleStyle.Render("Audit trail"))
	b.WriteString("\n")
	if len(a.events) == 0 {
		b.WriteString(auditTimeStyle.Render("nothing recorded yet"))
	}
	for i, ev := range a.events {
		if i >= rows {
			break
		}
		b.WriteString(a.renderEvent(ev, inner))
		b.WriteString("\n")
	}
	b.WriteString(formHintStyle.Render("any key to close"))
	return overlayBox.Width(a.width).Render(strings.TrimRight(b.String(), "\n"))
}

func (a *AuditPane) renderEvent(ev auditlog.Event, width int) string {
	msgStyle := auditInfoStyle
	switch ev.Level {
	case "warn":
		msgStyle = auditWarnStyle
	case "error":
		msgStyle = auditErrStyle
	}

	msg := ev.Message
	if ev.Kind == auditlog.EventTaskTransition && ev.FromState != "" {
		msg = fmt.Sprintf("%s: %s → %s", ev.TaskTitle, ev.FromState, ev.ToState)
	}
	if ev.QaAttempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d)", msg, ev.QaAttempt)
	}

	line := auditTimeStyle.Render(ev.Timestamp.Local().Format("15:04:05")) + " " +
		auditKindStyle.Render(string(ev.Kind)) + " " +
		msgStyle.Render(msg)
	return ansi.Truncate(line, width, "…")
}
