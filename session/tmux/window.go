package tmux

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kanblam/kanblam/log"
)

// windowPrefix names task windows after the task's short id.
const windowPrefix = "task-"

// readyBudget bounds how long StartAgent waits for the agent's prompt.
const readyBudget = 30 * time.Second

// pasteDelay is the pause between paste-buffer and the Enter that submits it,
// giving the agent's TUI time to ingest the pasted text.
const pasteDelay = 50 * time.Millisecond

// WindowName derives the tmux window name from a task short id.
func WindowName(shortID string) string {
	return windowPrefix + shortID
}

func (s *ProjectSession) target(window string) string {
	return s.sessionName + ":" + window
}

// CreateWindow adds a task window rooted in the task's worktree with the task
// identity env vars set. The agent is launched separately by StartAgent.
// Idempotent: an existing window is left running.
func (s *ProjectSession) CreateWindow(shortID, taskID, worktreePath string) (string, error) {
	if err := s.Ensure(); err != nil {
		return "", err
	}

	window := WindowName(shortID)
	if s.WindowExists(window) {
		return window, nil
	}

	create := exec.Command("tmux", "new-window", "-d",
		"-t", s.sessionName,
		"-n", window,
		"-c", worktreePath,
		"-e", EnvTaskID+"="+taskID,
		"-e", EnvProject+"="+s.slug,
		"-e", EnvManaged+"=1",
	)
	if err := s.cmdExec.Run(create); err != nil {
		return "", fmt.Errorf("failed to create window %s: %w", window, err)
	}
	return window, nil
}

// WindowExists reports whether the named window is alive in the project
// session. Used by the liveness tick; a vanished window means the task's
// process died.
func (s *ProjectSession) WindowExists(window string) bool {
	names, err := s.ListWindows()
	if err != nil {
		return false
	}
	for _, name := range names {
		if name == window {
			return true
		}
	}
	return false
}

// ListWindows returns the names of all windows in the project session.
func (s *ProjectSession) ListWindows() ([]string, error) {
	listCmd := exec.Command("tmux", "list-windows", "-t", s.sessionName, "-F", "#{window_name}")
	output, err := s.cmdExec.Output(listCmd)
	if err != nil {
		return nil, fmt.Errorf("failed to list windows: %v", err)
	}
	var names []string
	for _, line := range strings.Split(string(output), "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// TaskWindows returns the short ids of all task windows currently alive.
func (s *ProjectSession) TaskWindows() ([]string, error) {
	names, err := s.ListWindows()
	if err != nil {
		return nil, err
	}
	var shortIDs []string
	for _, name := range names {
		if strings.HasPrefix(name, windowPrefix) {
			shortIDs = append(shortIDs, strings.TrimPrefix(name, windowPrefix))
		}
	}
	return shortIDs, nil
}

// KillWindow removes a task window. The last window's death also ends the
// session, which is fine.
func (s *ProjectSession) KillWindow(window string) error {
	killCmd := exec.Command("tmux", "kill-window", "-t", s.target(window))
	if err := s.cmdExec.Run(killCmd); err != nil {
		return fmt.Errorf("failed to kill window %s: %v", window, err)
	}
	s.mu.Lock()
	delete(s.monitors, window)
	s.mu.Unlock()
	return nil
}

// StartAgent launches the agent program in a task window, resuming an
// existing agent session when resumeID is set. It then waits for the agent's
// prompt with bounded backoff; readiness failure is logged, not fatal, since
// slow agents usually come up moments later.
func (s *ProjectSession) StartAgent(window, resumeID string) error {
	command := s.program
	if resumeID != "" {
		command = fmt.Sprintf("%s --resume %s", s.program, resumeID)
	}
	startCmd := exec.Command("tmux", "send-keys", "-t", s.target(window), command, "Enter")
	if err := s.cmdExec.Run(startCmd); err != nil {
		return fmt.Errorf("failed to start agent in window %s: %v", window, err)
	}
	s.waitReady(window)
	return nil
}

// waitReady polls the pane until it shows a prompt, with exponential backoff
// starting at 100ms, growing by 1.2x, capped at 1s, for at most readyBudget.
func (s *ProjectSession) waitReady(window string) {
	startTime := time.Now()
	sleepDuration := 100 * time.Millisecond

	for time.Since(startTime) < readyBudget {
		time.Sleep(sleepDuration)
		content, err := s.CaptureWindow(window)
		if err == nil && paneShowsPrompt(content) {
			return
		}

		sleepDuration = time.Duration(float64(sleepDuration) * 1.2)
		if sleepDuration > time.Second {
			sleepDuration = time.Second
		}
	}
	log.WarningLog.Printf("agent in window %s showed no prompt within %s", window, readyBudget)
}

// SendPrompt submits text to a task window's agent. set-buffer plus
// paste-buffer delivers the whole prompt atomically, unlike per-character
// send-keys, then a separate Enter submits it.
func (s *ProjectSession) SendPrompt(window, text string) error {
	setCmd := exec.Command("tmux", "set-buffer", "--", text)
	if err := s.cmdExec.Run(setCmd); err != nil {
		return fmt.Errorf("failed to set buffer: %v", err)
	}
	pasteCmd := exec.Command("tmux", "paste-buffer", "-t", s.target(window))
	if err := s.cmdExec.Run(pasteCmd); err != nil {
		return fmt.Errorf("failed to paste buffer: %v", err)
	}
	time.Sleep(pasteDelay)
	return s.TapEnter(window)
}

// TapEnter sends an Enter keystroke to a task window. send-keys is more
// reliable than raw PTY writes for TUI programs that run their own input
// loop.
func (s *ProjectSession) TapEnter(window string) error {
	enterCmd := exec.Command("tmux", "send-keys", "-t", s.target(window), "Enter")
	return s.cmdExec.Run(enterCmd)
}

// SendKeys sends literal text to a task window. The -l flag transmits each
// character verbatim without key-binding interpretation.
func (s *ProjectSession) SendKeys(window, keys string) error {
	keysCmd := exec.Command("tmux", "send-keys", "-l", "-t", s.target(window), keys)
	return s.cmdExec.Run(keysCmd)
}

// SendInterrupt sends Ctrl-C to a task window.
func (s *ProjectSession) SendInterrupt(window string) error {
	intCmd := exec.Command("tmux", "send-keys", "-t", s.target(window), "C-c")
	return s.cmdExec.Run(intCmd)
}
