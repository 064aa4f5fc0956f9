package session

import (
	"regexp"
	"strings"
)

// AgentDialog is a permission or question dialog detected in a task's pane.
// Hook signals are the primary needs-input channel; pane scanning covers
// CLI-interactive sessions whose hooks are not installed yet.
type AgentDialog struct {
	// Question is the dialog's prompt line, e.g. "Do you want to run this command?".
	Question string
	// Options are the numbered choices, stripped of their markers.
	Options []string
}

// ansiStripRe strips ANSI escape sequences before dialog parsing.
var ansiStripRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

var dialogOptionRe = regexp.MustCompile(`^(?:❯\s*)?(\d+)\.\s+(.+)$`)

// ParseAgentDialog scans captured pane content for an agent permission
// dialog: a "Do you want" question followed by numbered options. Returns nil
// when no dialog is on screen.
func ParseAgentDialog(content string) *AgentDialog {
	clean := ansiStripRe.ReplaceAllString(content, "")
	lines := strings.Split(clean, "\n")

	questionIdx := -1
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(trimBoxChars(lines[i]))
		if strings.HasPrefix(trimmed, "Do you want") && strings.HasSuffix(trimmed, "?") {
			questionIdx = i
			break
		}
	}
	if questionIdx < 0 {
		return nil
	}

	dialog := &AgentDialog{
		Question: strings.TrimSpace(trimBoxChars(lines[questionIdx])),
	}
	for i := questionIdx + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(trimBoxChars(lines[i]))
		if trimmed == "" {
			continue
		}
		m := dialogOptionRe.FindStringSubmatch(trimmed)
		if m == nil {
			if len(dialog.Options) > 0 {
				break
			}
			continue
		}
		dialog.Options = append(dialog.Options, strings.TrimSpace(m[2]))
	}
	if len(dialog.Options) == 0 {
		return nil
	}
	return dialog
}

// trimBoxChars removes the border glyphs tmux captures around boxed dialogs.
func trimBoxChars(line string) string {
	return strings.Trim(line, "│┃|╎╏┆┇┊┋ \t")
}
