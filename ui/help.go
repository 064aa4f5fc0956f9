package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kanblam/kanblam/keys"
)

var (
	helpKeyStyle  = lipgloss.NewStyle().Foreground(ColorFoam).Width(8)
	helpDescStyle = lipgloss.NewStyle().Foreground(ColorText)
	helpColStyle  = lipgloss.NewStyle().PaddingRight(4)
)

// helpGroups lays the bindings out in three themed columns.
var helpGroups = [][]keys.KeyName{
	{
		keys.KeyUp, keys.KeyDown, keys.KeyLeft, keys.KeyRight,
		keys.KeyEnter, keys.KeyNew, keys.KeyEdit,
	},
	{
		keys.KeyStart, keys.KeyPrompt, keys.KeyFeedback,
		keys.KeyApply, keys.KeyUnapply, keys.KeyMerge, keys.KeyMergeKeep, keys.KeyRebase,
	},
	{
		keys.KeyDiscard, keys.KeyReset, keys.KeyCopyBranch,
		keys.KeyToggleQA, keys.KeyAudit, keys.KeyHelp, keys.KeyQuit,
	},
}

// HelpView renders the keybinding overlay.
func HelpView() string {
	cols := make([]string, 0, len(helpGroups))
	for _, group := range helpGroups {
		var b strings.Builder
		for _, name := range group {
			binding := keys.GlobalkeyBindings[name]
			b.WriteString(helpKeyStyle.Render(binding.Help().Key))
			b.WriteString(helpDescStyle.Render(binding.Help().Desc))
			b.WriteString("\n")
		}
		cols = append(cols, helpColStyle.Render(strings.TrimRight(b.String(), "\n")))
	}

	content := formTitleStyle.Render("Keys") + "\n" +
		lipgloss.JoinHorizontal(lipgloss.Top, cols...) + "\n" +
		formHintStyle.Render("any key to close")
	return overlayBox.Render(content)
}
