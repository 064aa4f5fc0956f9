package session

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kanblam/kanblam/config"
)

const defaultMaxQAAttempts = 3

var slugRe = regexp.MustCompile(`[^a-z0-9-]+`)

// Slugify turns a directory name into the filesystem- and tmux-safe project
// slug used in session names and signal correlation.
func Slugify(name string) string {
	slug := strings.ToLower(name)
	slug = slugRe.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "project"
	}
	return slug
}

// TrackedStash is a stash this tool created in the main worktree that the
// user may still want back.
type TrackedStash struct {
	Ref       string    `json:"ref"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// Project holds one repository's tasks plus the per-project settings and the
// main-worktree apply bookkeeping. The orchestrator is the only mutator.
type Project struct {
	Name  string  `json:"name"`
	Slug  string  `json:"slug"`
	Path  string  `json:"path"`
	Tasks []*Task `json:"tasks"`

	// AppliedTaskID and AppliedStashRef persist so unapply still works after
	// a crash mid-test.
	AppliedTaskID   string         `json:"applied_task_id,omitempty"`
	AppliedStashRef string         `json:"applied_stash_ref,omitempty"`
	TrackedStashes  []TrackedStash `json:"tracked_stashes,omitempty"`

	QAEnabled     *bool `json:"qa_enabled,omitempty"`
	MaxQAAttempts int   `json:"max_qa_attempts,omitempty"`

	Commands config.ProjectCommands `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// NewProject opens a project rooted at path. Project commands are read from
// .kanblam/commands.toml here; a missing file leaves them empty.
func NewProject(path string) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path %s: %w", path, err)
	}
	name := filepath.Base(abs)
	commands, err := config.LoadProjectCommands(abs)
	if err != nil {
		return nil, err
	}
	return &Project{
		Name:      name,
		Slug:      Slugify(name),
		Path:      abs,
		Commands:  commands,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// QAIsEnabled resolves the project toggle with its default of true.
func (p *Project) QAIsEnabled() bool {
	if p.QAEnabled == nil {
		return true
	}
	return *p.QAEnabled
}

// QAMaxAttempts resolves the attempt budget with its default.
func (p *Project) QAMaxAttempts() int {
	if p.MaxQAAttempts <= 0 {
		return defaultMaxQAAttempts
	}
	return p.MaxQAAttempts
}

// AddTask appends a task, enforcing branch uniqueness across non-terminal
// tasks.
func (p *Project) AddTask(t *Task) error {
	for _, existing := range p.Tasks {
		if existing.ID == t.ID {
			return fmt.Errorf("task %s already exists", t.ID)
		}
		if t.Branch != "" && existing.Branch == t.Branch && !existing.Status.Terminal() {
			return fmt.Errorf("branch %s already claimed by task %s", t.Branch, existing.DisplayID())
		}
	}
	p.Tasks = append(p.Tasks, t)
	return nil
}

// RemoveTask drops a task from the board entirely.
func (p *Project) RemoveTask(id string) {
	for i, t := range p.Tasks {
		if t.ID == id {
			p.Tasks = append(p.Tasks[:i], p.Tasks[i+1:]...)
			return
		}
	}
}

// TaskByID finds a task, nil when unknown.
func (p *Project) TaskByID(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// TaskByShortID resolves the 8-char prefix hook signals carry.
func (p *Project) TaskByShortID(shortID string) *Task {
	for _, t := range p.Tasks {
		if t.ShortID() == shortID {
			return t
		}
	}
	return nil
}

// TaskByWindow resolves a tmux window name to its owning task.
func (p *Project) TaskByWindow(window string) *Task {
	if window == "" {
		return nil
	}
	for _, t := range p.Tasks {
		if t.TmuxWindow == window {
			return t
		}
	}
	return nil
}

// TaskByWorktree correlates a signal's project directory to the task whose
// worktree contains it.
func (p *Project) TaskByWorktree(dir string) *Task {
	if dir == "" {
		return nil
	}
	dir = filepath.Clean(dir)
	for _, t := range p.Tasks {
		if t.WorktreePath == "" {
			continue
		}
		wt := filepath.Clean(t.WorktreePath)
		if dir == wt || strings.HasPrefix(dir, wt+string(filepath.Separator)) {
			return t
		}
	}
	return nil
}

// NonTerminalTasks returns every task still on the board's live columns.
func (p *Project) NonTerminalTasks() []*Task {
	var out []*Task
	for _, t := range p.Tasks {
		if !t.Status.Terminal() {
			out = append(out, t)
		}
	}
	return out
}

// TasksInColumn returns the tasks rendered in the given column, in board
// order. Transient statuses land in the Review column.
func (p *Project) TasksInColumn(col int) []*Task {
	var out []*Task
	for _, t := range p.Tasks {
		if t.Status.ColumnIndex() == col {
			out = append(out, t)
		}
	}
	return out
}

// ClaimedWorktrees maps short task ids to true for every task holding a
// worktree. Used to spot orphaned worktrees at startup.
func (p *Project) ClaimedWorktrees() map[string]bool {
	claimed := make(map[string]bool)
	for _, t := range p.Tasks {
		if t.WorktreePath != "" {
			claimed[t.ShortID()] = true
		}
	}
	return claimed
}

// AppliedTask returns the task whose changes sit on the main worktree, nil
// when none is applied.
func (p *Project) AppliedTask() *Task {
	if p.AppliedTaskID == "" {
		return nil
	}
	return p.TaskByID(p.AppliedTaskID)
}

// MarkApplied records the apply bookkeeping that unapply depends on.
func (p *Project) MarkApplied(taskID, stashRef string) {
	p.AppliedTaskID = taskID
	p.AppliedStashRef = stashRef
}

// ClearApplied resets the bookkeeping after a successful unapply.
func (p *Project) ClearApplied() {
	p.AppliedTaskID = ""
	p.AppliedStashRef = ""
}

// TrackStash remembers a stash this tool created so the UI can offer to pop
// or drop it.
func (p *Project) TrackStash(ref, label string) {
	p.TrackedStashes = append(p.TrackedStashes, TrackedStash{
		Ref:       ref,
		Label:     label,
		CreatedAt: time.Now().UTC(),
	})
}

// UntrackStash forgets a stash once popped or dropped.
func (p *Project) UntrackStash(ref string) {
	for i, s := range p.TrackedStashes {
		if s.Ref == ref {
			p.TrackedStashes = append(p.TrackedStashes[:i], p.TrackedStashes[i+1:]...)
			return
		}
	}
}

// StashWarning reports an apply stash left behind without a matching applied
// task, which means a crash interrupted an apply or unapply.
func (p *Project) StashWarning() string {
	if p.AppliedStashRef != "" && p.AppliedTask() == nil {
		return fmt.Sprintf("stash %s from an interrupted apply is still present; pop it manually to recover your changes", p.AppliedStashRef)
	}
	return ""
}
