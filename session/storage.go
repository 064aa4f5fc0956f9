package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kanblam/kanblam/config"
	"github.com/kanblam/kanblam/log"
	"github.com/kanblam/kanblam/session/git"
)

const stateVersion = 1

// stateFile is the on-disk shape of <project>/.kanblam/tasks.json.
type stateFile struct {
	Version int      `json:"version"`
	Project *Project `json:"project"`
}

// Storage reads and writes a project's task metadata. Writes are atomic so a
// crash never leaves a truncated state file behind.
type Storage struct {
	path string
}

// NewStorage points at the project's state file without touching disk.
func NewStorage(projectPath string) *Storage {
	return &Storage{
		path: filepath.Join(projectPath, git.ProtectedDir, "tasks.json"),
	}
}

// Path returns the state file location.
func (s *Storage) Path() string { return s.path }

// Save writes the project state via a temp file, fsync, and rename.
func (s *Storage) Save(p *Project) error {
	data, err := json.MarshalIndent(stateFile{Version: stateVersion, Project: p}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode task state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write task state: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync task state: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close task state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace task state: %w", err)
	}
	return nil
}

// Load reads the project state. A missing file returns (nil, nil): the
// caller starts a fresh project. Unknown fields in the file are ignored so
// newer versions of the file still load.
func (s *Storage) Load() (*Project, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if state.Project == nil {
		return nil, fmt.Errorf("%s has no project payload", s.path)
	}
	if state.Version > stateVersion {
		log.WarningLog.Printf("task state version %d is newer than %d, loading best-effort", state.Version, stateVersion)
	}
	return state.Project, nil
}

// ReconcileResult is what Reconcile found wrong at startup.
type ReconcileResult struct {
	// Demoted tasks had a materialized status but their worktree or branch
	// is gone; they were moved back to Planned.
	Demoted []*Task
	// Orphans are worktree paths with no owning task. The user decides
	// whether to reclaim or discard them.
	Orphans []string
	// StashWarning is non-empty when an apply stash survived a crash.
	StashWarning string
}

// Reconcile checks the loaded model against the repository's actual
// worktrees and branches. Tasks missing their artifacts demote to Planned;
// transient statuses left over from an interrupted main-worktree operation
// settle back to Review.
func Reconcile(p *Project) (ReconcileResult, error) {
	var result ReconcileResult

	for _, t := range p.Tasks {
		if t.Status.Transient() {
			log.WarningLog.Printf("task %s was %s at shutdown, settling to review", t.DisplayID(), t.Status)
			t.Status = StatusReview
		}
		if !t.Status.Materialized() {
			continue
		}

		missing := t.WorktreePath == "" || t.Branch == ""
		if !missing {
			if _, err := os.Stat(t.WorktreePath); err != nil {
				missing = true
			}
		}
		if !missing {
			wt := git.NewGitWorktreeFromStorage(p.Path, t.WorktreePath, t.ShortID(), t.Branch, "")
			exists, err := wt.BranchExists()
			if err != nil {
				return result, fmt.Errorf("failed to check branch %s: %w", t.Branch, err)
			}
			missing = !exists
		}
		if missing {
			log.WarningLog.Printf("task %s lost its worktree or branch, back to planned", t.DisplayID())
			t.Dematerialize()
			t.Status = StatusPlanned
			t.QAAttempts = 0
			t.InQASession = false
			result.Demoted = append(result.Demoted, t)
		}
	}

	// QA attempt counters must respect the project budget even if the file
	// was edited or the budget was lowered.
	budget := p.QAMaxAttempts()
	for _, t := range p.Tasks {
		if t.QAAttempts > budget {
			t.QAAttempts = budget
		}
	}

	orphans, err := git.OrphanedWorktrees(p.Path, p.ClaimedWorktrees())
	if err != nil {
		return result, err
	}
	result.Orphans = orphans
	result.StashWarning = p.StashWarning()
	return result, nil
}

// Open loads (or creates) the project at projectPath and reconciles it
// against the repository.
func Open(projectPath string) (*Project, ReconcileResult, error) {
	storage := NewStorage(projectPath)
	p, err := storage.Load()
	if err != nil {
		return nil, ReconcileResult{}, err
	}
	if p == nil {
		p, err = NewProject(projectPath)
		if err != nil {
			return nil, ReconcileResult{}, err
		}
		return p, ReconcileResult{}, nil
	}

	// Path and derived fields follow the directory the user opened, not
	// whatever machine wrote the file.
	p.Path = projectPath
	if p.Name == "" {
		p.Name = filepath.Base(projectPath)
	}
	if p.Slug == "" {
		p.Slug = Slugify(p.Name)
	}
	commands, err := config.LoadProjectCommands(projectPath)
	if err != nil {
		return nil, ReconcileResult{}, err
	}
	p.Commands = commands

	result, err := Reconcile(p)
	if err != nil {
		return nil, ReconcileResult{}, err
	}
	return p, result, nil
}

// Delete removes the state file. Used by the reset subcommand.
func (s *Storage) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", s.path, err)
	}
	return nil
}
