package tmux

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kanblam/kanblam/cmd"
	"github.com/kanblam/kanblam/log"
)

// SessionPrefix namespaces project sessions so cleanup never touches the
// user's own tmux sessions.
const SessionPrefix = "kc-"

// EnvTaskID, EnvProject, and EnvManaged are injected into every task window
// so agents and hooks can identify their task.
const (
	EnvTaskID  = "KANBLAM_TASK_ID"
	EnvProject = "KANBLAM_PROJECT"
	EnvManaged = "KANBLAM_MANAGED"
)

var whiteSpaceRegex = regexp.MustCompile(`\s+`)

// cleanupSessionsRe matches kc- sessions in tmux ls output.
var cleanupSessionsRe = regexp.MustCompile(`kc-.*?:`)

func toSessionName(slug string) string {
	slug = whiteSpaceRegex.ReplaceAllString(slug, "")
	slug = strings.ReplaceAll(slug, ".", "_") // tmux replaces all . with _
	slug = strings.ReplaceAll(slug, ":", "_")
	return SessionPrefix + slug
}

// ProjectSession is the single tmux session holding one window per running
// task. Windows are named task-<short-id>.
type ProjectSession struct {
	sessionName string
	slug        string
	program     string

	ptyFactory PtyFactory
	cmdExec    cmd.Executor

	// monitors tracks per-window pane content between ticks.
	mu       sync.Mutex
	monitors map[string]*paneMonitor

	// ptmx is the PTY running an attach during Attach; nil otherwise.
	ptmx *os.File
}

// NewProjectSession builds the session handle for a project. program is the
// agent command launched in task windows.
func NewProjectSession(slug, program string) *ProjectSession {
	return newProjectSession(slug, program, MakePtyFactory(), cmd.MakeExecutor())
}

// NewProjectSessionWithDeps builds a session with injected dependencies for
// testing.
func NewProjectSessionWithDeps(slug, program string, ptyFactory PtyFactory, cmdExec cmd.Executor) *ProjectSession {
	return newProjectSession(slug, program, ptyFactory, cmdExec)
}

func newProjectSession(slug, program string, ptyFactory PtyFactory, cmdExec cmd.Executor) *ProjectSession {
	return &ProjectSession{
		sessionName: toSessionName(slug),
		slug:        slug,
		program:     program,
		ptyFactory:  ptyFactory,
		cmdExec:     cmdExec,
		monitors:    make(map[string]*paneMonitor),
	}
}

// Name returns the tmux session name.
func (s *ProjectSession) Name() string { return s.sessionName }

// Ensure creates the project session when it does not exist yet. The session
// is detached with a placeholder "main" window; task windows are added later.
func (s *ProjectSession) Ensure() error {
	if s.Exists() {
		return nil
	}

	create := exec.Command("tmux", "new-session", "-d", "-s", s.sessionName, "-n", "main")
	if err := s.cmdExec.Run(create); err != nil {
		return fmt.Errorf("failed to create tmux session %s: %w", s.sessionName, err)
	}

	// Poll for session existence with exponential backoff.
	timeout := time.After(2 * time.Second)
	sleepDuration := 5 * time.Millisecond
	for !s.Exists() {
		select {
		case <-timeout:
			return fmt.Errorf("timed out waiting for tmux session %s", s.sessionName)
		default:
			time.Sleep(sleepDuration)
			if sleepDuration < 50*time.Millisecond {
				sleepDuration *= 2
			}
		}
	}

	historyCmd := exec.Command("tmux", "set-option", "-t", s.sessionName, "history-limit", "10000")
	if err := s.cmdExec.Run(historyCmd); err != nil {
		log.InfoLog.Printf("failed to set history-limit for session %s: %v", s.sessionName, err)
	}
	mouseCmd := exec.Command("tmux", "set-option", "-t", s.sessionName, "mouse", "on")
	if err := s.cmdExec.Run(mouseCmd); err != nil {
		log.InfoLog.Printf("failed to enable mouse for session %s: %v", s.sessionName, err)
	}

	return nil
}

// Exists reports whether the project session is present on the tmux server.
func (s *ProjectSession) Exists() bool {
	// "-t name" does a prefix match, which is wrong. "-t=" is exact.
	existsCmd := exec.Command("tmux", "has-session", fmt.Sprintf("-t=%s", s.sessionName))
	return s.cmdExec.Run(existsCmd) == nil
}

// Kill terminates the project session and every task window in it.
func (s *ProjectSession) Kill() error {
	var errs []error

	if s.ptmx != nil {
		if err := s.ptmx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing PTY: %w", err))
		}
		s.ptmx = nil
	}

	killCmd := exec.Command("tmux", "kill-session", "-t", s.sessionName)
	if err := s.cmdExec.Run(killCmd); err != nil {
		errs = append(errs, fmt.Errorf("error killing tmux session: %w", err))
	}

	return errors.Join(errs...)
}

// CleanupSessions kills every kc- session on the tmux server, used by the
// reset subcommand.
func CleanupSessions(cmdExec cmd.Executor) error {
	lsCmd := exec.Command("tmux", "ls")
	output, err := cmdExec.Output(lsCmd)
	if err != nil {
		// Exit code 1 means no server or no sessions.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil
		}
		return fmt.Errorf("failed to list tmux sessions: %v", err)
	}

	matches := cleanupSessionsRe.FindAllString(string(output), -1)
	for i, match := range matches {
		matches[i] = match[:strings.Index(match, ":")]
	}

	for _, match := range matches {
		log.InfoLog.Printf("cleaning up session: %s", match)
		if err := cmdExec.Run(exec.Command("tmux", "kill-session", "-t", match)); err != nil {
			return fmt.Errorf("failed to kill tmux session %s: %v", match, err)
		}
	}
	return nil
}
