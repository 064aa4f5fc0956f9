package keys

import (
	"github.com/charmbracelet/bubbles/key"
)

type KeyName int

const (
	KeyUp KeyName = iota
	KeyDown
	KeyLeft
	KeyRight
	KeyEnter // attach to the selected task's window

	KeyNew
	KeyEdit
	KeyStart
	KeyPrompt // send a follow-up prompt to a running task
	KeyFeedback

	KeyApply
	KeyUnapply
	KeyMerge
	KeyMergeKeep
	KeyRebase
	KeyDiscard
	KeyReset

	KeyCopyBranch
	KeyToggleQA
	KeyAudit

	KeyHelp
	KeyQuit
	KeyEsc
)

// GlobalKeyStringsMap is a global, immutable map string to keybinding.
var GlobalKeyStringsMap = map[string]KeyName{
	"up":    KeyUp,
	"k":     KeyUp,
	"down":  KeyDown,
	"j":     KeyDown,
	"left":  KeyLeft,
	"h":     KeyLeft,
	"right": KeyRight,
	"l":     KeyRight,
	"enter": KeyEnter,
	"o":     KeyEnter,
	"n":     KeyNew,
	"e":     KeyEdit,
	"s":     KeyStart,
	"p":     KeyPrompt,
	"f":     KeyFeedback,
	"a":     KeyApply,
	"u":     KeyUnapply,
	"m":     KeyMerge,
	"M":     KeyMergeKeep,
	"b":     KeyRebase,
	"D":     KeyDiscard,
	"R":     KeyReset,
	"y":     KeyCopyBranch,
	"Q":     KeyToggleQA,
	"A":     KeyAudit,
	"?":     KeyHelp,
	"q":     KeyQuit,
	"esc":   KeyEsc,
}

// GlobalkeyBindings is a global, immutable map of KeyName to keybinding.
var GlobalkeyBindings = map[KeyName]key.Binding{
	KeyUp: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	KeyDown: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	KeyLeft: key.NewBinding(
		key.WithKeys("left", "h"),
		key.WithHelp("←/h", "prev column"),
	),
	KeyRight: key.NewBinding(
		key.WithKeys("right", "l"),
		key.WithHelp("→/l", "next column"),
	),
	KeyEnter: key.NewBinding(
		key.WithKeys("enter", "o"),
		key.WithHelp("↵/o", "attach"),
	),
	KeyNew: key.NewBinding(
		key.WithKeys("n"),
		key.WithHelp("n", "new task"),
	),
	KeyEdit: key.NewBinding(
		key.WithKeys("e"),
		key.WithHelp("e", "edit"),
	),
	KeyStart: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "start"),
	),
	KeyPrompt: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "prompt"),
	),
	KeyFeedback: key.NewBinding(
		key.WithKeys("f"),
		key.WithHelp("f", "feedback"),
	),
	KeyApply: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "apply"),
	),
	KeyUnapply: key.NewBinding(
		key.WithKeys("u"),
		key.WithHelp("u", "unapply"),
	),
	KeyMerge: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "merge"),
	),
	KeyMergeKeep: key.NewBinding(
		key.WithKeys("M"),
		key.WithHelp("M", "merge, keep worktree"),
	),
	KeyRebase: key.NewBinding(
		key.WithKeys("b"),
		key.WithHelp("b", "rebase"),
	),
	KeyDiscard: key.NewBinding(
		key.WithKeys("D"),
		key.WithHelp("D", "discard"),
	),
	KeyReset: key.NewBinding(
		key.WithKeys("R"),
		key.WithHelp("R", "reset"),
	),
	KeyCopyBranch: key.NewBinding(
		key.WithKeys("y"),
		key.WithHelp("y", "copy branch"),
	),
	KeyToggleQA: key.NewBinding(
		key.WithKeys("Q"),
		key.WithHelp("Q", "toggle qa"),
	),
	KeyAudit: key.NewBinding(
		key.WithKeys("A"),
		key.WithHelp("A", "audit log"),
	),
	KeyHelp: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	KeyQuit: key.NewBinding(
		key.WithKeys("q"),
		key.WithHelp("q", "quit"),
	),
	KeyEsc: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "back"),
	),
}
