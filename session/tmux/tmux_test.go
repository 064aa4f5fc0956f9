package tmux

import (
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	kbcmd "github.com/kanblam/kanblam/cmd"
	"github.com/kanblam/kanblam/cmd/cmd_test"
	"github.com/kanblam/kanblam/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Initialize()
	code := m.Run()
	log.Close()
	os.Exit(code)
}

type MockPtyFactory struct {
	t *testing.T

	cmds  []*exec.Cmd
	files []*os.File
}

func (pt *MockPtyFactory) Start(cmd *exec.Cmd) (*os.File, error) {
	filePath := filepath.Join(pt.t.TempDir(), fmt.Sprintf("pty-%s-%d", pt.t.Name(), rand.Int31()))
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0644)
	if err == nil {
		pt.cmds = append(pt.cmds, cmd)
		pt.files = append(pt.files, f)
	}
	return f, err
}

func (pt *MockPtyFactory) Close() {}

func NewMockPtyFactory(t *testing.T) *MockPtyFactory {
	return &MockPtyFactory{t: t}
}

func TestToSessionName(t *testing.T) {
	s := NewProjectSession("myproj", "claude")
	require.Equal(t, SessionPrefix+"myproj", s.Name())

	s = NewProjectSession("my proj . v2", "claude")
	require.Equal(t, SessionPrefix+"myproj_v2", s.Name())
}

func TestWindowName(t *testing.T) {
	assert.Equal(t, "task-abc12345", WindowName("abc12345"))
}

// recordingExec returns a MockCmdExec that records every Run command line and
// answers Output calls with the given string.
func recordingExec(runs *[]string, output string, runErr func(cmdLine string) error) cmd_test.MockCmdExec {
	return cmd_test.MockCmdExec{
		RunFunc: func(c *exec.Cmd) error {
			line := kbcmd.ToString(c)
			*runs = append(*runs, line)
			if runErr != nil {
				return runErr(line)
			}
			return nil
		},
		OutputFunc: func(c *exec.Cmd) ([]byte, error) {
			return []byte(output), nil
		},
	}
}

func TestEnsure_CreatesSessionOnce(t *testing.T) {
	var runs []string
	created := false
	cmdExec := recordingExec(&runs, "", func(line string) error {
		if strings.Contains(line, "has-session") && !created {
			created = true
			return fmt.Errorf("no session")
		}
		return nil
	})

	s := NewProjectSessionWithDeps("myproj", "claude", NewMockPtyFactory(t), cmdExec)
	require.NoError(t, s.Ensure())

	require.Contains(t, runs, "tmux new-session -d -s kc-myproj -n main")

	// Second Ensure is a no-op: has-session now succeeds.
	runs = runs[:0]
	require.NoError(t, s.Ensure())
	for _, line := range runs {
		assert.NotContains(t, line, "new-session")
	}
}

func TestCreateWindow_SetsWorktreeAndEnv(t *testing.T) {
	var runs []string
	cmdExec := cmd_test.MockCmdExec{
		RunFunc: func(c *exec.Cmd) error {
			runs = append(runs, kbcmd.ToString(c))
			return nil
		},
		OutputFunc: func(c *exec.Cmd) ([]byte, error) {
			// list-windows shows only the placeholder window.
			return []byte("main\n"), nil
		},
	}

	s := NewProjectSessionWithDeps("myproj", "claude", NewMockPtyFactory(t), cmdExec)
	window, err := s.CreateWindow("abc12345", "task-uuid-1", "/work/tree")
	require.NoError(t, err)
	assert.Equal(t, "task-abc12345", window)

	var createLine string
	for _, line := range runs {
		if strings.Contains(line, "new-window") {
			createLine = line
		}
	}
	require.NotEmpty(t, createLine)
	assert.Contains(t, createLine, "-n task-abc12345")
	assert.Contains(t, createLine, "-c /work/tree")
	assert.Contains(t, createLine, EnvTaskID+"=task-uuid-1")
	assert.Contains(t, createLine, EnvProject+"=myproj")
	assert.Contains(t, createLine, EnvManaged+"=1")
}

func TestCreateWindow_ExistingWindowIsReused(t *testing.T) {
	var runs []string
	cmdExec := cmd_test.MockCmdExec{
		RunFunc: func(c *exec.Cmd) error {
			runs = append(runs, kbcmd.ToString(c))
			return nil
		},
		OutputFunc: func(c *exec.Cmd) ([]byte, error) {
			return []byte("main\ntask-abc12345\n"), nil
		},
	}

	s := NewProjectSessionWithDeps("myproj", "claude", NewMockPtyFactory(t), cmdExec)
	window, err := s.CreateWindow("abc12345", "task-uuid-1", "/work/tree")
	require.NoError(t, err)
	assert.Equal(t, "task-abc12345", window)

	for _, line := range runs {
		assert.NotContains(t, line, "new-window")
	}
}

func TestWindowExistsAndTaskWindows(t *testing.T) {
	cmdExec := cmd_test.MockCmdExec{
		RunFunc: func(c *exec.Cmd) error { return nil },
		OutputFunc: func(c *exec.Cmd) ([]byte, error) {
			return []byte("main\ntask-aaaa1111\ntask-bbbb2222\n"), nil
		},
	}

	s := NewProjectSessionWithDeps("myproj", "claude", NewMockPtyFactory(t), cmdExec)
	assert.True(t, s.WindowExists("task-aaaa1111"))
	assert.False(t, s.WindowExists("task-cccc3333"))

	shortIDs, err := s.TaskWindows()
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa1111", "bbbb2222"}, shortIDs)
}

func TestStartAgent_ResumeFlag(t *testing.T) {
	var runs []string
	cmdExec := recordingExec(&runs, "❯ \n", nil)

	s := NewProjectSessionWithDeps("myproj", "claude", NewMockPtyFactory(t), cmdExec)
	require.NoError(t, s.StartAgent("task-abc12345", "sess-42"))

	var startLine string
	for _, line := range runs {
		if strings.Contains(line, "send-keys") {
			startLine = line
		}
	}
	require.NotEmpty(t, startLine)
	assert.Contains(t, startLine, "claude --resume sess-42")
	assert.Contains(t, startLine, "-t kc-myproj:task-abc12345")
}

func TestSendPrompt_UsesPasteBuffer(t *testing.T) {
	var runs []string
	cmdExec := recordingExec(&runs, "", nil)

	s := NewProjectSessionWithDeps("myproj", "claude", NewMockPtyFactory(t), cmdExec)
	require.NoError(t, s.SendPrompt("task-abc12345", "fix the login bug"))

	require.Len(t, runs, 3)
	assert.Contains(t, runs[0], "set-buffer")
	assert.Contains(t, runs[0], "fix the login bug")
	assert.Contains(t, runs[1], "paste-buffer -t kc-myproj:task-abc12345")
	assert.Contains(t, runs[2], "send-keys -t kc-myproj:task-abc12345 Enter")
}

func TestKillWindow_DropsMonitor(t *testing.T) {
	var runs []string
	cmdExec := recordingExec(&runs, "content", nil)

	s := NewProjectSessionWithDeps("myproj", "claude", NewMockPtyFactory(t), cmdExec)
	s.HasUpdated("task-abc12345")
	require.Len(t, s.monitors, 1)

	require.NoError(t, s.KillWindow("task-abc12345"))
	assert.Empty(t, s.monitors)
	assert.Contains(t, runs[len(runs)-1], "kill-window -t kc-myproj:task-abc12345")
}

func TestCleanupSessions(t *testing.T) {
	t.Run("kills kc sessions only", func(t *testing.T) {
		var killed []string
		cmdExec := cmd_test.MockCmdExec{
			RunFunc: func(c *exec.Cmd) error {
				args := c.Args
				if len(args) >= 2 && args[1] == "kill-session" {
					for i, arg := range args {
						if arg == "-t" && i+1 < len(args) {
							killed = append(killed, args[i+1])
						}
					}
				}
				return nil
			},
			OutputFunc: func(c *exec.Cmd) ([]byte, error) {
				output := "kc-proj1: 2 windows (created Thu Aug 6 10:00:00 2026)\n" +
					"kc-proj2: 1 windows (created Thu Aug 6 10:00:01 2026)\n" +
					"unrelated: 1 windows (created Thu Aug 6 08:00:00 2026)\n"
				return []byte(output), nil
			},
		}

		require.NoError(t, CleanupSessions(cmdExec))
		require.Len(t, killed, 2)
		assert.Contains(t, killed, "kc-proj1")
		assert.Contains(t, killed, "kc-proj2")
	})

	t.Run("leaves unrelated sessions alone", func(t *testing.T) {
		var killed []string
		cmdExec := cmd_test.MockCmdExec{
			RunFunc: func(c *exec.Cmd) error {
				if len(c.Args) >= 2 && c.Args[1] == "kill-session" {
					killed = append(killed, kbcmd.ToString(c))
				}
				return nil
			},
			OutputFunc: func(c *exec.Cmd) ([]byte, error) {
				return []byte("unrelated: 1 windows (created Thu Aug 6 08:00:00 2026)\n"), nil
			},
		}

		require.NoError(t, CleanupSessions(cmdExec))
		assert.Empty(t, killed)
	})
}
