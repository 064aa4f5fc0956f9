package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/kanblam/kanblam/session"
	"github.com/kanblam/kanblam/session/git"
)

var (
	detailBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorOverlay).
			Padding(0, 1)
	detailTitleStyle = lipgloss.NewStyle().Foreground(ColorIris).Bold(true)
	detailLabelStyle = lipgloss.NewStyle().Foreground(ColorMuted).Width(10)
	detailValueStyle = lipgloss.NewStyle().Foreground(ColorText)
	detailWarnStyle  = lipgloss.NewStyle().Foreground(ColorGold)
	detailDimStyle   = lipgloss.NewStyle().Foreground(ColorSubtle)
)

// DetailPane renders the selected task beside the board: identity, artifacts,
// QA state, usage totals, diff stats, and the description or generated spec.
type DetailPane struct {
	task   *session.Task
	stats  git.DiffStats
	behind bool

	width  int
	height int
}

func NewDetailPane() *DetailPane {
	return &DetailPane{}
}

// SetTask points the pane at a task; nil blanks it.
func (d *DetailPane) SetTask(t *session.Task) {
	d.task = t
	if t == nil {
		d.stats = git.DiffStats{}
		d.behind = false
	}
}

// SetStats refreshes the cached diff stats and rebase advisory.
func (d *DetailPane) SetStats(stats git.DiffStats, behind bool) {
	d.stats = stats
	d.behind = behind
}

func (d *DetailPane) SetSize(width, height int) {
	d.width = width
	d.height = height
}

func (d *DetailPane) View() string {
	inner := d.width - 4
	if inner < 16 {
		inner = 16
	}
	if d.task == nil {
		return detailBoxStyle.Width(d.width - 2).Height(d.height - 2).
			Render(detailDimStyle.Render("no task selected"))
	}
	t := d.task

	var b strings.Builder
	b.WriteString(detailTitleStyle.Render(wordwrap.String(t.BoardTitle(), inner)))
	b.WriteString("\n\n")

	row := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(detailLabelStyle.Render(label))
		b.WriteString(detailValueStyle.Render(value))
		b.WriteString("\n")
	}

	row("id", t.DisplayID())
	row("status", t.Status.Label())
	row("branch", t.Branch)
	row("worktree", t.WorktreePath)
	if t.SessionMode != session.ModeNone {
		row("session", sessionModeLabel(t.SessionMode))
	}
	if t.QAAttempts > 0 || t.InQASession {
		qa := fmt.Sprintf("%d attempt(s)", t.QAAttempts)
		if t.QAExceededWarning {
			qa = detailWarnStyle.Render(qa + " — budget exhausted")
		}
		row("qa", qa)
	}
	if t.TotalCostUSD > 0 || t.Usage.InputTokens > 0 {
		row("usage", fmt.Sprintf("%s in / %s out · $%.2f",
			formatTokens(t.Usage.InputTokens), formatTokens(t.Usage.OutputTokens), t.TotalCostUSD))
	}
	if !d.stats.Empty() {
		row("diff", d.stats.String())
	}
	if d.behind {
		row("base", detailWarnStyle.Render("behind default branch, rebase advised"))
	}
	if n := len(t.FeedbackHistory); n > 0 {
		row("feedback", fmt.Sprintf("%d round(s)", n))
	}
	row("created", t.CreatedAt.Local().Format("Jan 2 15:04"))
	if t.StartedAt != nil {
		row("started", t.StartedAt.Local().Format("Jan 2 15:04"))
	}

	if body := t.Prompt(); body != "" {
		b.WriteString("\n")
		b.WriteString(detailDimStyle.Render(wordwrap.String(body, inner)))
	}

	return detailBoxStyle.Width(d.width - 2).Height(d.height - 2).
		Render(clampLines(b.String(), d.height-4))
}

func sessionModeLabel(m session.SessionMode) string {
	switch m {
	case session.ModeSdkManaged:
		return "sdk"
	case session.ModeCliInteractive:
		return "cli"
	case session.ModeCliActivelyWorking:
		return "cli (working)"
	case session.ModeWaitingForCliExit:
		return "cli (handoff pending)"
	}
	return string(m)
}

// formatTokens renders token counts compactly: 950, 8.2k, 1.3M.
func formatTokens(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// clampLines cuts the rendered body to at most max lines.
func clampLines(s string, max int) string {
	if max <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= max {
		return s
	}
	return strings.Join(lines[:max], "\n")
}
