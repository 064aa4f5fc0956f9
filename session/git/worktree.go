package git

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// BranchPrefix is the namespace for task branches. Branch names derive only
// from the task's short id, so a branch is never reused across tasks.
const BranchPrefix = "claude/"

// worktreesDirName is the directory under the project root holding task
// worktrees.
const worktreesDirName = "worktrees"

var invalidBranchChars = regexp.MustCompile(`[^a-zA-Z0-9/_-]`)

// GitWorktree tracks the git state of a single task: its branch, its worktree
// directory, and the commit the branch forked from.
type GitWorktree struct {
	repoPath      string
	worktreePath  string
	shortID       string
	branchName    string
	baseCommitSHA string
}

// NewGitWorktree constructs the worktree handle for a task. repoPath is the
// project's main worktree; shortID is the task's 8-char id prefix.
func NewGitWorktree(repoPath, shortID string) *GitWorktree {
	return &GitWorktree{
		repoPath:     repoPath,
		worktreePath: TaskWorktreePath(repoPath, shortID),
		shortID:      shortID,
		branchName:   TaskBranchName(shortID),
	}
}

// NewGitWorktreeFromStorage restores a handle from persisted task state.
func NewGitWorktreeFromStorage(repoPath, worktreePath, shortID, branchName, baseCommitSHA string) *GitWorktree {
	return &GitWorktree{
		repoPath:      repoPath,
		worktreePath:  worktreePath,
		shortID:       shortID,
		branchName:    branchName,
		baseCommitSHA: baseCommitSHA,
	}
}

// TaskBranchName derives the branch name from a task short id.
func TaskBranchName(shortID string) string {
	return BranchPrefix + sanitizeBranchName(shortID)
}

// TaskWorktreePath returns the deterministic worktree path for a task.
func TaskWorktreePath(repoPath, shortID string) string {
	return filepath.Join(repoPath, worktreesDirName, "task-"+shortID)
}

// WorktreesDir returns <project>/worktrees.
func WorktreesDir(repoPath string) string {
	return filepath.Join(repoPath, worktreesDirName)
}

func sanitizeBranchName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = invalidBranchChars.ReplaceAllString(name, "-")
	return strings.Trim(name, "-")
}

// Path returns the worktree directory.
func (g *GitWorktree) Path() string { return g.worktreePath }

// Branch returns the task branch name.
func (g *GitWorktree) Branch() string { return g.branchName }

// BaseCommit returns the commit the branch forked from, if known.
func (g *GitWorktree) BaseCommit() string { return g.baseCommitSHA }

// runGitCommand runs git in dir and returns combined output. Errors carry the
// output so callers can pattern-match on git's messages.
func (g *GitWorktree) runGitCommand(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %v failed: %s (%w)", args, strings.TrimSpace(string(output)), err)
	}
	return string(output), nil
}

// IsGitRepo reports whether dir is inside a git repository.
func IsGitRepo(dir string) bool {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--git-dir")
	return cmd.Run() == nil
}

// FindBaseBranch returns the branch task branches fork from: main if it
// exists, then master, else the current HEAD branch.
func FindBaseBranch(repoPath string) (string, error) {
	repo, err := gogit.PlainOpen(repoPath)
	if err != nil {
		return "", fmt.Errorf("failed to open repository: %w", err)
	}
	for _, candidate := range []string{"main", "master"} {
		ref := plumbing.NewBranchReferenceName(candidate)
		if _, err := repo.Reference(ref, false); err == nil {
			return candidate, nil
		}
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached and neither main nor master exists")
	}
	return head.Name().Short(), nil
}

// BranchExists reports whether the task branch exists in the repository.
func (g *GitWorktree) BranchExists() (bool, error) {
	repo, err := gogit.PlainOpen(g.repoPath)
	if err != nil {
		return false, fmt.Errorf("failed to open repository: %w", err)
	}
	ref := plumbing.NewBranchReferenceName(g.branchName)
	if _, err := repo.Reference(ref, false); err == nil {
		return true, nil
	} else if err == plumbing.ErrReferenceNotFound {
		return false, nil
	} else {
		return false, fmt.Errorf("failed to check branch %s: %w", g.branchName, err)
	}
}

// deleteBranchRef removes the branch reference through go-git.
func (g *GitWorktree) deleteBranchRef() error {
	repo, err := gogit.PlainOpen(g.repoPath)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}
	ref := plumbing.NewBranchReferenceName(g.branchName)
	if _, err := repo.Reference(ref, false); err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return nil
		}
		return fmt.Errorf("failed to check branch %s: %w", g.branchName, err)
	}
	if err := repo.Storer.RemoveReference(ref); err != nil {
		return fmt.Errorf("failed to remove branch %s: %w", g.branchName, err)
	}
	return nil
}

// IsDirty reports whether the main worktree has uncommitted changes.
func (g *GitWorktree) IsDirty() (bool, error) {
	output, err := g.runGitCommand(g.repoPath, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(output) != "", nil
}

// worktreeExists reports whether the worktree directory is present on disk.
func (g *GitWorktree) worktreeExists() bool {
	info, err := os.Stat(g.worktreePath)
	return err == nil && info.IsDir()
}
