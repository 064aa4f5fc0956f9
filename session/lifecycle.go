package session

import (
	"errors"
	"fmt"

	"github.com/kanblam/kanblam/log"
	"github.com/kanblam/kanblam/session/git"
	"github.com/kanblam/kanblam/session/tmux"
)

// ErrBranchExists surfaces a leftover task branch from a crashed run. The
// orchestrator asks the user whether to reclaim it.
var ErrBranchExists = git.ErrBranchExists

// Manager materializes and tears down a task's physical artifacts: git
// worktree, branch, and tmux window. It never touches task status; the
// orchestrator transitions tasks from the outcomes.
type Manager struct {
	project *Project
	tmux    *tmux.ProjectSession
}

// NewManager wires the project to its tmux session, launching agents with
// the given program.
func NewManager(p *Project, agentProgram string) *Manager {
	return &Manager{
		project: p,
		tmux:    tmux.NewProjectSession(p.Slug, agentProgram),
	}
}

// Tmux exposes the project session for attach, capture, and prompt sends.
func (m *Manager) Tmux() *tmux.ProjectSession { return m.tmux }

// Worktree builds the git handle for a task, from stored fields when the
// task is materialized.
func (m *Manager) Worktree(t *Task) *git.GitWorktree {
	if t.WorktreePath != "" {
		return git.NewGitWorktreeFromStorage(m.project.Path, t.WorktreePath, t.ShortID(), t.Branch, "")
	}
	return git.NewGitWorktree(m.project.Path, t.ShortID())
}

// StartTask creates the task's worktree, branch, and window, then records
// them on the task. reclaim adopts an existing task branch instead of
// failing on it. On any later step's failure the earlier artifacts are torn
// down so a retry starts clean.
func (m *Manager) StartTask(t *Task, mode SessionMode, reclaim bool) (err error) {
	wt := m.Worktree(t)

	if reclaim {
		err = wt.Reclaim(t.ID)
	} else {
		err = wt.Setup(t.ID)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if cleanupErr := wt.Cleanup(); cleanupErr != nil {
				log.ErrorLog.Printf("cleanup after failed start of %s: %v", t.DisplayID(), cleanupErr)
			}
		}
	}()

	window, err := m.tmux.CreateWindow(t.ShortID(), t.ID, wt.Path())
	if err != nil {
		return err
	}

	if mode.CliDriven() {
		if err = m.tmux.StartAgent(window, t.SessionID); err != nil {
			if killErr := m.tmux.KillWindow(window); killErr != nil {
				log.ErrorLog.Printf("kill window after failed agent start: %v", killErr)
			}
			return err
		}
	}

	t.Materialize(wt.Path(), wt.Branch(), window, mode)
	return nil
}

// OpenTerminal launches the interactive agent CLI in an already-materialized
// task's window, resuming the programmatic session when one exists. Used for
// the SDK-to-CLI handoff.
func (m *Manager) OpenTerminal(t *Task) error {
	if t.TmuxWindow == "" {
		return fmt.Errorf("task %s has no window", t.DisplayID())
	}
	return m.tmux.StartAgent(t.TmuxWindow, t.SessionID)
}

// CleanupTask removes the task's window, worktree, and branch. Idempotent:
// missing artifacts are fine, every failure is collected.
func (m *Manager) CleanupTask(t *Task) error {
	var errs []error

	if t.TmuxWindow != "" && m.tmux.WindowExists(t.TmuxWindow) {
		if err := m.tmux.KillWindow(t.TmuxWindow); err != nil {
			errs = append(errs, err)
		}
	}
	if t.WorktreePath != "" {
		if err := m.Worktree(t).Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to clean up task %s: %w", t.DisplayID(), err)
	}
	t.Dematerialize()
	return nil
}

// DeadWindows returns the tasks whose window disappeared out-of-band. The
// liveness tick calls this; the orchestrator moves the owners to NeedsWork.
func (m *Manager) DeadWindows() []*Task {
	if !m.tmux.Exists() {
		// The whole session is gone; every windowed non-terminal task lost
		// its window.
		var dead []*Task
		for _, t := range m.project.NonTerminalTasks() {
			if t.TmuxWindow != "" {
				dead = append(dead, t)
			}
		}
		return dead
	}

	alive, err := m.tmux.TaskWindows()
	if err != nil {
		log.WarningLog.Printf("failed to list task windows: %v", err)
		return nil
	}
	aliveSet := make(map[string]bool, len(alive))
	for _, w := range alive {
		aliveSet[w] = true
	}

	var dead []*Task
	for _, t := range m.project.NonTerminalTasks() {
		if t.TmuxWindow != "" && !aliveSet[t.TmuxWindow] {
			dead = append(dead, t)
		}
	}
	return dead
}

// Shutdown kills the project's tmux session. Task artifacts stay on disk so
// the next run reconciles them.
func (m *Manager) Shutdown() error {
	if !m.tmux.Exists() {
		return nil
	}
	return m.tmux.Kill()
}
