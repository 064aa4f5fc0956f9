package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgentDialog_PermissionPrompt(t *testing.T) {
	content := `
│ Bash(rm -rf build/)                                    │
│                                                        │
│ Do you want to proceed?                                │
│ ❯ 1. Yes                                               │
│   2. Yes, and don't ask again for rm commands          │
│   3. No, and tell Claude what to do differently (esc)  │
`
	dialog := ParseAgentDialog(content)
	require.NotNil(t, dialog)
	assert.Equal(t, "Do you want to proceed?", dialog.Question)
	require.Len(t, dialog.Options, 3)
	assert.Equal(t, "Yes", dialog.Options[0])
	assert.Equal(t, "No, and tell Claude what to do differently (esc)", dialog.Options[2])
}

func TestParseAgentDialog_StripsAnsi(t *testing.T) {
	content := "\x1b[1mDo you want to make this edit to main.go?\x1b[0m\n" +
		"\x1b[36m❯ 1. Yes\x1b[0m\n" +
		"  2. No\n"

	dialog := ParseAgentDialog(content)
	require.NotNil(t, dialog)
	assert.Equal(t, "Do you want to make this edit to main.go?", dialog.Question)
	assert.Equal(t, []string{"Yes", "No"}, dialog.Options)
}

func TestParseAgentDialog_NoDialog(t *testing.T) {
	assert.Nil(t, ParseAgentDialog("$ make test\nok  \t0.42s\n"))
	assert.Nil(t, ParseAgentDialog("Do you want to continue?\nno options follow here"))
	assert.Nil(t, ParseAgentDialog(""))
}

func TestParseAgentDialog_UsesLastDialogOnScreen(t *testing.T) {
	content := `
Do you want to run go vet?
 1. Yes
 2. No

... later output ...

Do you want to run the tests?
 1. Yes
 2. No
`
	dialog := ParseAgentDialog(content)
	require.NotNil(t, dialog)
	assert.Equal(t, "Do you want to run the tests?", dialog.Question)
}
