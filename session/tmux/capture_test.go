package tmux

import (
	"fmt"
	"os/exec"
	"testing"

	"github.com/kanblam/kanblam/cmd/cmd_test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaneShowsPrompt(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    bool
	}{
		{"bare prompt", "some output\n❯ \n", true},
		{"shell prompt", "done\n$ hi\n> \n", true},
		{"boxed prompt", "output\n│ ❯ │\n╰───╯\n", true},
		{"ansi styled prompt", "\x1b[1mtool output\x1b[0m\n\x1b[36m❯\x1b[0m \n", true},
		{"still running", "Running tests...\n[3/9] compiling\n", false},
		{"empty pane", "\n\n\n", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, paneShowsPrompt(tc.content))
		})
	}
}

func TestHasUpdated_DebouncesUnchangedContent(t *testing.T) {
	content := "static output\n"
	cmdExec := cmd_test.MockCmdExec{
		RunFunc: func(c *exec.Cmd) error { return nil },
		OutputFunc: func(c *exec.Cmd) ([]byte, error) {
			return []byte(content), nil
		},
	}
	s := NewProjectSessionWithDeps("myproj", "claude", NewMockPtyFactory(t), cmdExec)

	updated, _ := s.HasUpdated("task-abc12345")
	assert.True(t, updated, "first capture counts as a change")

	// Unchanged content stays "updated" through the debounce window.
	for i := 0; i < 5; i++ {
		updated, _ = s.HasUpdated("task-abc12345")
		assert.True(t, updated, "tick %d should still debounce", i)
	}
	updated, _ = s.HasUpdated("task-abc12345")
	assert.False(t, updated, "stable content past the debounce reads as settled")

	content = "static output\nnew line\n"
	updated, _ = s.HasUpdated("task-abc12345")
	assert.True(t, updated, "new content resets the monitor")
}

func TestHasUpdated_AnsiOnlyChangesAreIgnored(t *testing.T) {
	contents := []string{
		"\x1b[31moutput\x1b[0m\n",
		"\x1b[32moutput\x1b[0m\n",
	}
	call := 0
	cmdExec := cmd_test.MockCmdExec{
		RunFunc: func(c *exec.Cmd) error { return nil },
		OutputFunc: func(c *exec.Cmd) ([]byte, error) {
			out := contents[call%len(contents)]
			call++
			return []byte(out), nil
		},
	}
	s := NewProjectSessionWithDeps("myproj", "claude", NewMockPtyFactory(t), cmdExec)

	s.HasUpdated("task-abc12345")
	for i := 0; i < 6; i++ {
		s.HasUpdated("task-abc12345")
	}
	updated, _ := s.HasUpdated("task-abc12345")
	assert.False(t, updated, "color-only changes must not read as activity")
}

func TestHasUpdated_CaptureFailure(t *testing.T) {
	cmdExec := cmd_test.MockCmdExec{
		RunFunc: func(c *exec.Cmd) error { return nil },
		OutputFunc: func(c *exec.Cmd) ([]byte, error) {
			return nil, fmt.Errorf("pane gone")
		},
	}
	s := NewProjectSessionWithDeps("myproj", "claude", NewMockPtyFactory(t), cmdExec)

	updated, idle := s.HasUpdated("task-abc12345")
	assert.False(t, updated)
	assert.False(t, idle)
	require.Equal(t, 1, s.monitorFor("task-abc12345").captureFailures)
}
