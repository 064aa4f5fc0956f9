package git

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kanblam/kanblam/log"
)

// ErrBranchExists is returned by Setup when the task branch already exists,
// usually a leftover from a crashed run. The caller decides whether to
// Reclaim it or surface an error.
var ErrBranchExists = errors.New("task branch already exists")

// Setup creates the task worktree on a fresh branch forked from the project's
// default branch, then installs the per-worktree agent settings.
func (g *GitWorktree) Setup(taskID string) error {
	// Create the worktrees directory and check branch existence in parallel.
	errChan := make(chan error, 2)
	var branchExists bool

	go func() {
		errChan <- os.MkdirAll(WorktreesDir(g.repoPath), 0o755)
	}()

	go func() {
		exists, err := g.BranchExists()
		branchExists = exists
		errChan <- err
	}()

	for i := 0; i < 2; i++ {
		if err := <-errChan; err != nil {
			return err
		}
	}

	if branchExists {
		return fmt.Errorf("%w: %s", ErrBranchExists, g.branchName)
	}

	base, err := FindBaseBranch(g.repoPath)
	if err != nil {
		return err
	}

	output, err := g.runGitCommand(g.repoPath, "rev-parse", base)
	if err != nil {
		if strings.Contains(err.Error(), "not a valid object name") ||
			strings.Contains(err.Error(), "ambiguous argument") {
			return fmt.Errorf("this appears to be a brand new repository: create an initial commit before starting a task")
		}
		return fmt.Errorf("failed to resolve %s: %w", base, err)
	}
	g.baseCommitSHA = strings.TrimSpace(output)

	// Remove leftover registry entries so a half-deleted directory cannot
	// block the add.
	_, _ = g.runGitCommand(g.repoPath, "worktree", "remove", "-f", g.worktreePath)
	_, _ = g.runGitCommand(g.repoPath, "worktree", "prune")

	if _, err := g.runGitCommand(g.repoPath, "worktree", "add", "-b", g.branchName, g.worktreePath, g.baseCommitSHA); err != nil {
		return fmt.Errorf("failed to create worktree from %s: %w", base, err)
	}

	if err := WriteAgentSettings(g.worktreePath, taskID); err != nil {
		cleanupErr := g.Cleanup()
		return errors.Join(fmt.Errorf("failed to write agent settings: %w", err), cleanupErr)
	}

	return nil
}

// Reclaim recreates the worktree from an already-existing task branch,
// adopting state left behind by a previous run.
func (g *GitWorktree) Reclaim(taskID string) error {
	if err := os.MkdirAll(WorktreesDir(g.repoPath), 0o755); err != nil {
		return fmt.Errorf("failed to create worktrees directory: %w", err)
	}

	_, _ = g.runGitCommand(g.repoPath, "worktree", "remove", "-f", g.worktreePath)
	_, _ = g.runGitCommand(g.repoPath, "worktree", "prune")

	if _, err := g.runGitCommand(g.repoPath, "worktree", "add", g.worktreePath, g.branchName); err != nil {
		return fmt.Errorf("failed to create worktree from branch %s: %w", g.branchName, err)
	}

	// Resolve a base commit for diff computation. Try merge-base with the
	// default branch first; fall back to the branch's own HEAD.
	if g.baseCommitSHA == "" {
		base, err := FindBaseBranch(g.repoPath)
		if err == nil {
			if out, mbErr := g.runGitCommand(g.repoPath, "merge-base", base, g.branchName); mbErr == nil {
				g.baseCommitSHA = strings.TrimSpace(out)
			}
		}
		if g.baseCommitSHA == "" {
			if out, err := g.runGitCommand(g.worktreePath, "rev-parse", "HEAD"); err == nil {
				g.baseCommitSHA = strings.TrimSpace(out)
			}
		}
	}

	if err := WriteAgentSettings(g.worktreePath, taskID); err != nil {
		return fmt.Errorf("failed to write agent settings: %w", err)
	}

	return nil
}

// Cleanup removes the worktree and deletes the task branch. Idempotent:
// partial state is removed without error.
func (g *GitWorktree) Cleanup() error {
	var errs []error

	if _, err := os.Stat(g.worktreePath); err == nil {
		if _, err := g.runGitCommand(g.repoPath, "worktree", "remove", "-f", g.worktreePath); err != nil {
			// The registry entry may already be gone; fall back to a
			// plain directory removal.
			log.WarningLog.Printf("git worktree remove failed for %s: %v", g.worktreePath, err)
			if rmErr := os.RemoveAll(g.worktreePath); rmErr != nil {
				errs = append(errs, fmt.Errorf("failed to remove worktree directory: %w", rmErr))
			}
		}
	} else if !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to check worktree path: %w", err))
	}

	if err := g.deleteBranchRef(); err != nil {
		errs = append(errs, err)
	}

	if err := g.Prune(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Remove removes the worktree but keeps the branch.
func (g *GitWorktree) Remove() error {
	if _, err := g.runGitCommand(g.repoPath, "worktree", "remove", "-f", g.worktreePath); err != nil {
		return fmt.Errorf("failed to remove worktree: %w", err)
	}
	return nil
}

// Prune removes stale worktree administrative entries from the registry.
func (g *GitWorktree) Prune() error {
	if _, err := g.runGitCommand(g.repoPath, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}

// OrphanedWorktrees lists worktree directories under <project>/worktrees that
// no task in claimed owns. These are surfaced as reclaimable, never deleted
// automatically.
func OrphanedWorktrees(repoPath string, claimed map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(WorktreesDir(repoPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read worktrees directory: %w", err)
	}

	var orphans []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		shortID := strings.TrimPrefix(entry.Name(), "task-")
		if shortID == entry.Name() || claimed[shortID] {
			continue
		}
		orphans = append(orphans, filepath.Join(WorktreesDir(repoPath), entry.Name()))
	}
	return orphans, nil
}

// CleanupWorktrees removes all task worktrees and their branches.
// repoPath is the root of the git repository whose worktrees/ to clean.
func CleanupWorktrees(repoPath string) error {
	worktreesDir := WorktreesDir(repoPath)

	entries, err := os.ReadDir(worktreesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read worktree directory: %w", err)
	}

	run := func(args ...string) (string, error) {
		cmd := exec.Command("git", append([]string{"-C", repoPath}, args...)...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return "", fmt.Errorf("git %v: %s (%w)", args, out, err)
		}
		return string(out), nil
	}

	output, err := run("worktree", "list", "--porcelain")
	if err != nil {
		return fmt.Errorf("failed to list worktrees: %w", err)
	}

	worktreeBranches := make(map[string]string)
	currentWorktree := ""
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "worktree ") {
			currentWorktree = strings.TrimPrefix(line, "worktree ")
		} else if strings.HasPrefix(line, "branch ") {
			branchName := strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			if currentWorktree != "" {
				worktreeBranches[currentWorktree] = branchName
			}
		}
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		worktreePath := filepath.Join(worktreesDir, entry.Name())

		if _, err := run("worktree", "remove", "-f", worktreePath); err != nil {
			log.WarningLog.Printf("git worktree remove failed for %s, falling back to os.RemoveAll: %v", worktreePath, err)
			if rmErr := os.RemoveAll(worktreePath); rmErr != nil {
				log.ErrorLog.Printf("failed to remove worktree path %s: %v", worktreePath, rmErr)
			}
		}

		for path, branch := range worktreeBranches {
			if strings.Contains(path, entry.Name()) {
				if _, err := run("branch", "-D", branch); err != nil {
					log.ErrorLog.Printf("failed to delete branch %s: %v", branch, err)
				}
				break
			}
		}
	}

	if _, err = run("worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}

	return nil
}
