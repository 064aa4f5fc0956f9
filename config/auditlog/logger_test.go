package auditlog_test

import (
	"testing"

	"github.com/kanblam/kanblam/config/auditlog"
	"github.com/stretchr/testify/assert"
)

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "task_created", auditlog.EventTaskCreated.String())
	assert.Equal(t, "qa_exhausted", auditlog.EventQaExhausted.String())
}

func TestNopLogger_DoesNotPanic(t *testing.T) {
	l := auditlog.NopLogger()
	assert.NotPanics(t, func() {
		l.Emit(auditlog.Event{Kind: auditlog.EventTaskCreated})
	})
}

func TestNewEventAppliesOptions(t *testing.T) {
	e := auditlog.NewEvent(auditlog.EventTaskTransition, "proj", "moved",
		auditlog.WithTask("abc12345", "Dark mode toggle"),
		auditlog.WithBranch("claude/abc12345"),
		auditlog.WithTransition("in_progress", "testing"),
		auditlog.WithQaAttempt(2),
		auditlog.WithLevel("warn"),
	)
	assert.Equal(t, "abc12345", e.TaskID)
	assert.Equal(t, "Dark mode toggle", e.TaskTitle)
	assert.Equal(t, "claude/abc12345", e.Branch)
	assert.Equal(t, "in_progress", e.FromState)
	assert.Equal(t, "testing", e.ToState)
	assert.Equal(t, 2, e.QaAttempt)
	assert.Equal(t, "warn", e.Level)
}
