package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kanblam/kanblam/log"
)

// ErrStashPopConflict is returned by Apply when restoring the user's stash on
// top of the task patch hit conflicts. The stash is retained; the caller
// resolves or calls AbortApply.
var ErrStashPopConflict = errors.New("stash pop conflicted")

// ErrReverseConflict is returned by Unapply when the task patch no longer
// reverse-applies cleanly (the user edited the patched regions). The caller
// resolves or calls ForceUnapply.
var ErrReverseConflict = errors.New("patch does not reverse cleanly")

// ApplyResult records what Apply did to the main worktree, so the operation
// can be aborted or inverted later.
type ApplyResult struct {
	// StashRef is the user stash taken before applying, "" when the main
	// worktree was clean. The stash is dropped only by a successful pop.
	StashRef string
	// Files are the paths the task patch touches.
	Files []string
	// Conflicted is set when the stash pop left conflict markers. The
	// stash is still held.
	Conflicted bool
}

func (g *GitWorktree) stashLabel(op string) string {
	return fmt.Sprintf("kanblam-%s-%s", op, g.shortID)
}

// stashUserChanges stashes the main worktree's uncommitted state under a
// recognizable label. Returns "" when there was nothing to stash.
func (g *GitWorktree) stashUserChanges(label string) (string, error) {
	out, err := g.runGitCommand(g.repoPath, "stash", "push", "--include-untracked", "-m", label)
	if err != nil {
		return "", fmt.Errorf("failed to stash local changes: %w", err)
	}
	if strings.Contains(out, "No local changes to save") {
		return "", nil
	}
	ref, err := g.runGitCommand(g.repoPath, "stash", "list", "-1", "--format=%gd")
	if err != nil {
		return "", fmt.Errorf("failed to read stash ref: %w", err)
	}
	return strings.TrimSpace(ref), nil
}

// popStash restores the most recent stash. The stash is dropped only when the
// pop succeeds.
func (g *GitWorktree) popStash() error {
	if _, err := g.runGitCommand(g.repoPath, "stash", "pop"); err != nil {
		return err
	}
	return nil
}

// taskPatch returns the unified diff between the main worktree's HEAD and the
// task branch, excluding the protected .kanblam directory.
func (g *GitWorktree) taskPatch() (string, error) {
	out, err := g.runGitCommand(g.repoPath, "diff", "HEAD", g.branchName, "--", ".", ":(exclude)"+ProtectedDir)
	if err != nil {
		return "", fmt.Errorf("failed to compute task patch: %w", err)
	}
	return out, nil
}

// taskPatchFiles returns the paths the task patch touches.
func (g *GitWorktree) taskPatchFiles() ([]string, error) {
	out, err := g.runGitCommand(g.repoPath, "diff", "--name-only", "HEAD", g.branchName, "--", ".", ":(exclude)"+ProtectedDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list task patch files: %w", err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if f := strings.TrimSpace(line); f != "" {
			files = append(files, f)
		}
	}
	return files, nil
}

// applyPatch pipes a diff into git apply in the main worktree.
func (g *GitWorktree) applyPatch(patch string, reverse bool) error {
	args := []string{"-C", g.repoPath, "apply", "--3way"}
	if reverse {
		args = append(args, "-R")
	}
	cmd := exec.Command("git", args...)
	cmd.Stdin = strings.NewReader(patch)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git apply failed: %s (%w)", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// Apply lands the task's changes in the main worktree for user testing.
// The user's uncommitted work is stashed first, the task patch is applied
// uncommitted, then the stash is popped back on top. On a pop conflict the
// result is returned with Conflicted set alongside ErrStashPopConflict; the
// stash is never dropped until it pops cleanly.
func (g *GitWorktree) Apply() (*ApplyResult, error) {
	stashRef, err := g.stashUserChanges(g.stashLabel("apply"))
	if err != nil {
		return nil, err
	}
	result := &ApplyResult{StashRef: stashRef}

	patch, err := g.taskPatch()
	if err != nil {
		return nil, g.restoreOnFailure(result, err)
	}
	if strings.TrimSpace(patch) == "" {
		// Nothing to apply; put the user's tree back as it was.
		if stashRef != "" {
			if popErr := g.popStash(); popErr != nil {
				result.Conflicted = true
				return result, fmt.Errorf("%w: %v", ErrStashPopConflict, popErr)
			}
			result.StashRef = ""
		}
		return result, nil
	}

	result.Files, err = g.taskPatchFiles()
	if err != nil {
		return nil, g.restoreOnFailure(result, err)
	}

	if err := g.applyPatch(patch, false); err != nil {
		return nil, g.restoreOnFailure(result, err)
	}

	if stashRef != "" {
		if err := g.popStash(); err != nil {
			log.WarningLog.Printf("stash pop conflicted after apply for task %s: %v", g.shortID, err)
			result.Conflicted = true
			return result, fmt.Errorf("%w: %v", ErrStashPopConflict, err)
		}
	}
	return result, nil
}

// restoreOnFailure pops the stash taken by Apply when a later step failed
// before the patch landed, so the worktree returns to its pre-op state.
func (g *GitWorktree) restoreOnFailure(result *ApplyResult, cause error) error {
	if result.StashRef == "" {
		return cause
	}
	if popErr := g.popStash(); popErr != nil {
		return errors.Join(cause,
			fmt.Errorf("additionally failed to restore stash %s (recover with 'git stash pop'): %w", result.StashRef, popErr))
	}
	return cause
}

// AbortApply backs out a conflicted Apply: the patch is reversed on exactly
// the files it touched, which also clears the pop's conflict markers, then
// the held stash pops cleanly.
func (g *GitWorktree) AbortApply(result *ApplyResult) error {
	if _, err := g.runGitCommand(g.repoPath, "reset", "--", "."); err != nil {
		return fmt.Errorf("failed to unstage conflicted state: %w", err)
	}

	for _, f := range result.Files {
		if _, err := g.runGitCommand(g.repoPath, "checkout", "HEAD", "--", f); err != nil {
			// New files added by the patch have no HEAD version.
			if _, rmErr := g.runGitCommand(g.repoPath, "clean", "-f", "--", f); rmErr != nil {
				return fmt.Errorf("failed to reverse patch on %s: %w", f, errors.Join(err, rmErr))
			}
		}
	}

	if result.StashRef != "" {
		if err := g.popStash(); err != nil {
			return fmt.Errorf("failed to restore stash %s after abort (recover with 'git stash pop'): %w", result.StashRef, err)
		}
	}
	return nil
}

// Unapply reverses the task's patch in the main worktree, leaving the user's
// own edits in place. When the patch regions were edited since Apply, it
// returns ErrReverseConflict without touching anything; the caller may then
// use ForceUnapply.
func (g *GitWorktree) Unapply() error {
	patch, err := g.taskPatch()
	if err != nil {
		return err
	}
	if strings.TrimSpace(patch) == "" {
		return nil
	}
	if err := g.applyPatch(patch, true); err != nil {
		return fmt.Errorf("%w: %v", ErrReverseConflict, err)
	}
	return nil
}

// ForceUnapply clears the main worktree back to HEAD after capturing
// everything in a labeled stash. The stash is deliberately kept so the user
// can recover their edits manually; its ref is returned.
func (g *GitWorktree) ForceUnapply() (string, error) {
	stashRef, err := g.stashUserChanges(g.stashLabel("unapply"))
	if err != nil {
		return "", err
	}
	return stashRef, nil
}

// StashList returns the labels of kanblam stashes currently held in the main
// worktree, used at startup to warn about unrecovered state.
func (g *GitWorktree) StashList() ([]string, error) {
	out, err := g.runGitCommand(g.repoPath, "stash", "list", "--format=%gd %gs")
	if err != nil {
		return nil, fmt.Errorf("failed to list stashes: %w", err)
	}
	var entries []string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "kanblam-") {
			entries = append(entries, strings.TrimSpace(line))
		}
	}
	return entries, nil
}
