package ui

import (
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"

	"github.com/kanblam/kanblam/session"
	"github.com/kanblam/kanblam/session/git"
)

func TestDetailPaneBlankWithoutTask(t *testing.T) {
	d := NewDetailPane()
	d.SetSize(50, 20)
	assert.Contains(t, ansi.Strip(d.View()), "no task selected")
}

func TestDetailPaneShowsTaskFields(t *testing.T) {
	d := NewDetailPane()
	d.SetSize(60, 40)

	task := taskWithStatus("fix flaky login test", session.StatusInProgress)
	task.Branch = "kanblam/fix-flaky-login-test"
	task.SessionMode = session.ModeSdkManaged
	task.Usage.InputTokens = 8_200
	task.Usage.OutputTokens = 950
	task.TotalCostUSD = 1.25
	d.SetTask(task)
	d.SetStats(git.DiffStats{FilesChanged: 3, Insertions: 40, Deletions: 7, Commits: 2}, true)

	view := ansi.Strip(d.View())
	assert.Contains(t, view, task.DisplayID())
	assert.Contains(t, view, "In Progress")
	assert.Contains(t, view, "kanblam/fix-flaky-login-test")
	assert.Contains(t, view, "sdk")
	assert.Contains(t, view, "8.2k in / 950 out")
	assert.Contains(t, view, "$1.25")
	assert.Contains(t, view, "3 files +40 -7")
	assert.Contains(t, view, "rebase advised")
}

func TestDetailPaneQaBudgetWarning(t *testing.T) {
	d := NewDetailPane()
	d.SetSize(60, 40)
	task := taskWithStatus("x", session.StatusNeedsWork)
	task.QAAttempts = 3
	task.QAExceededWarning = true
	d.SetTask(task)

	assert.Contains(t, ansi.Strip(d.View()), "budget exhausted")
}

func TestDetailPaneClearsStatsOnNilTask(t *testing.T) {
	d := NewDetailPane()
	d.SetSize(60, 40)
	d.SetTask(taskWithStatus("x", session.StatusReview))
	d.SetStats(git.DiffStats{FilesChanged: 1, Commits: 1}, true)

	d.SetTask(nil)
	d.SetTask(taskWithStatus("y", session.StatusPlanned))
	view := ansi.Strip(d.View())
	assert.NotContains(t, view, "files +")
	assert.NotContains(t, view, "rebase advised")
}

func TestFormatTokens(t *testing.T) {
	assert.Equal(t, "950", formatTokens(950))
	assert.Equal(t, "8.2k", formatTokens(8_200))
	assert.Equal(t, "1.3M", formatTokens(1_300_000))
}

func TestClampLines(t *testing.T) {
	assert.Equal(t, "a\nb", clampLines("a\nb\nc", 2))
	assert.Equal(t, "a\nb", clampLines("a\nb", 5))
	assert.Equal(t, "a\nb", clampLines("a\nb", 0))
}

func TestDetailPaneStartedTimestamp(t *testing.T) {
	d := NewDetailPane()
	d.SetSize(60, 40)
	task := taskWithStatus("x", session.StatusInProgress)
	started := time.Date(2025, time.March, 4, 10, 30, 0, 0, time.UTC)
	task.StartedAt = &started
	d.SetTask(task)

	assert.Contains(t, ansi.Strip(d.View()), "started")
}
