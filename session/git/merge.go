package git

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kanblam/kanblam/log"
)

// ProtectedDir is the per-project state directory. It is excluded from every
// patch, diff, and merge so task branches can never touch board state.
const ProtectedDir = ".kanblam"

// MergeMode selects what happens to the task branch's history on merge.
type MergeMode int

const (
	// MergeSquash collapses the task branch into a single commit on the
	// default branch.
	MergeSquash MergeMode = iota
	// MergeKeep merges with --no-ff, preserving the task branch's commits.
	MergeKeep
)

// ErrMergeConflict is returned by Merge when git reported conflicts. The merge
// has been aborted and the user's stash restored; the main worktree is back in
// its pre-merge state.
var ErrMergeConflict = errors.New("merge conflicted")

// Merge lands the task branch on the default branch in the main worktree.
// The user's uncommitted work is stashed around the merge. Any .kanblam/
// content staged by the merge is dropped before committing.
func (g *GitWorktree) Merge(title string, mode MergeMode) error {
	base, err := FindBaseBranch(g.repoPath)
	if err != nil {
		return err
	}
	if head, err := g.currentBranch(); err != nil {
		return err
	} else if head != base {
		return fmt.Errorf("main worktree is on %s, expected %s", head, base)
	}

	stashRef, err := g.stashUserChanges(g.stashLabel("merge"))
	if err != nil {
		return err
	}

	restoreStash := func() {
		if stashRef == "" {
			return
		}
		if _, popErr := g.runGitCommand(g.repoPath, "stash", "pop"); popErr != nil {
			log.WarningLog.Printf("failed to restore stash %s after merge failure: %v", stashRef, popErr)
		}
	}

	switch mode {
	case MergeSquash:
		if _, err := g.runGitCommand(g.repoPath, "merge", "--squash", g.branchName); err != nil {
			// A conflicted squash leaves no MERGE_HEAD, so abort is a reset.
			_, _ = g.runGitCommand(g.repoPath, "reset", "--merge")
			restoreStash()
			return fmt.Errorf("%w: %v", ErrMergeConflict, err)
		}
		if err := g.dropProtectedFromIndex(); err != nil {
			restoreStash()
			return err
		}
		// A squash of an empty branch stages nothing; skip the commit.
		if _, err := g.runGitCommand(g.repoPath, "diff", "--cached", "--quiet"); err != nil {
			if _, err := g.runGitCommand(g.repoPath, "commit", "-m", g.mergeMessage(title)); err != nil {
				restoreStash()
				return fmt.Errorf("failed to commit squash merge: %w", err)
			}
		}
	case MergeKeep:
		if _, err := g.runGitCommand(g.repoPath, "merge", "--no-ff", "--no-commit", g.branchName); err != nil {
			_, _ = g.runGitCommand(g.repoPath, "merge", "--abort")
			restoreStash()
			return fmt.Errorf("%w: %v", ErrMergeConflict, err)
		}
		if err := g.dropProtectedFromIndex(); err != nil {
			_, _ = g.runGitCommand(g.repoPath, "merge", "--abort")
			restoreStash()
			return err
		}
		if _, err := g.runGitCommand(g.repoPath, "commit", "-m", g.mergeMessage(title)); err != nil {
			_, _ = g.runGitCommand(g.repoPath, "merge", "--abort")
			restoreStash()
			return fmt.Errorf("failed to commit merge: %w", err)
		}
	default:
		restoreStash()
		return fmt.Errorf("unknown merge mode %d", mode)
	}

	if stashRef != "" {
		if _, err := g.runGitCommand(g.repoPath, "stash", "pop"); err != nil {
			return fmt.Errorf("merge committed but restoring your changes conflicted (resolve, then the stash is already popped or recover with 'git stash pop'): %w", err)
		}
	}
	return nil
}

func (g *GitWorktree) mergeMessage(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = g.branchName
	}
	return fmt.Sprintf("%s (%s)", title, g.branchName)
}

// dropProtectedFromIndex unstages and restores the protected directory so a
// merge can never change board state.
func (g *GitWorktree) dropProtectedFromIndex() error {
	out, err := g.runGitCommand(g.repoPath, "diff", "--cached", "--name-only", "--", ProtectedDir)
	if err != nil {
		return fmt.Errorf("failed to inspect staged %s entries: %w", ProtectedDir, err)
	}
	if strings.TrimSpace(out) == "" {
		return nil
	}
	if _, err := g.runGitCommand(g.repoPath, "reset", "--", ProtectedDir); err != nil {
		return fmt.Errorf("failed to unstage %s: %w", ProtectedDir, err)
	}
	for _, f := range strings.Split(out, "\n") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, err := g.runGitCommand(g.repoPath, "checkout", "HEAD", "--", f); err != nil {
			// Files new in the merge have no HEAD version; remove them.
			if _, rmErr := g.runGitCommand(g.repoPath, "clean", "-f", "--", f); rmErr != nil {
				return fmt.Errorf("failed to restore %s: %w", f, errors.Join(err, rmErr))
			}
		}
	}
	return nil
}

func (g *GitWorktree) currentBranch() (string, error) {
	out, err := g.runGitCommand(g.repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// NeedsRebase reports whether the default branch has commits the task branch
// has not been rebased onto.
func (g *GitWorktree) NeedsRebase() (bool, error) {
	base, err := FindBaseBranch(g.repoPath)
	if err != nil {
		return false, err
	}
	tip, err := g.runGitCommand(g.repoPath, "rev-parse", base)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", base, err)
	}
	mergeBase, err := g.runGitCommand(g.repoPath, "merge-base", base, g.branchName)
	if err != nil {
		return false, fmt.Errorf("failed to compute merge base: %w", err)
	}
	return strings.TrimSpace(mergeBase) != strings.TrimSpace(tip), nil
}

// Rebase rebases the task branch onto the default branch tip, inside the task
// worktree. On conflict the rebase is aborted and an error returned; the
// branch is left untouched.
func (g *GitWorktree) Rebase() error {
	base, err := FindBaseBranch(g.repoPath)
	if err != nil {
		return err
	}
	if _, err := g.runGitCommand(g.worktreePath, "rebase", base); err != nil {
		if _, abortErr := g.runGitCommand(g.worktreePath, "rebase", "--abort"); abortErr != nil {
			return errors.Join(fmt.Errorf("rebase onto %s failed: %w", base, err),
				fmt.Errorf("additionally failed to abort rebase: %w", abortErr))
		}
		return fmt.Errorf("rebase onto %s failed and was aborted: %w", base, err)
	}

	out, err := g.runGitCommand(g.repoPath, "rev-parse", base)
	if err == nil {
		g.baseCommitSHA = strings.TrimSpace(out)
	}
	return nil
}

// AlreadyMerged reports whether every commit on the task branch is already
// contained in the default branch, as after a squash merge.
func (g *GitWorktree) AlreadyMerged() (bool, error) {
	base, err := FindBaseBranch(g.repoPath)
	if err != nil {
		return false, err
	}
	out, err := g.runGitCommand(g.repoPath, "cherry", base, g.branchName)
	if err != nil {
		return false, fmt.Errorf("failed to compare branch with %s: %w", base, err)
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "+") {
			return false, nil
		}
	}
	return true, nil
}
