package git

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DiffStats summarizes the task branch's divergence from the main worktree's
// HEAD, for card decorations.
type DiffStats struct {
	FilesChanged int
	Insertions   int
	Deletions    int
	Commits      int
}

// Empty reports whether the branch carries no changes at all.
func (s DiffStats) Empty() bool {
	return s.FilesChanged == 0 && s.Commits == 0
}

// String renders the stats the way git's shortstat does.
func (s DiffStats) String() string {
	if s.FilesChanged == 0 {
		return "no changes"
	}
	return fmt.Sprintf("%d files +%d -%d", s.FilesChanged, s.Insertions, s.Deletions)
}

var shortstatRe = regexp.MustCompile(`(\d+) files? changed(?:, (\d+) insertions?\(\+\))?(?:, (\d+) deletions?\(-\))?`)

// Diff returns the task patch against the main worktree's HEAD, excluding the
// protected directory.
func (g *GitWorktree) Diff() (string, error) {
	return g.taskPatch()
}

// DiffFiles returns the paths the task patch touches.
func (g *GitWorktree) DiffFiles() ([]string, error) {
	return g.taskPatchFiles()
}

// Stats computes the branch's diff stats and commit count relative to HEAD.
func (g *GitWorktree) Stats() (DiffStats, error) {
	var stats DiffStats

	out, err := g.runGitCommand(g.repoPath, "diff", "--shortstat", "HEAD", g.branchName, "--", ".", ":(exclude)"+ProtectedDir)
	if err != nil {
		return stats, fmt.Errorf("failed to compute diff stats: %w", err)
	}
	if m := shortstatRe.FindStringSubmatch(out); m != nil {
		stats.FilesChanged, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			stats.Insertions, _ = strconv.Atoi(m[2])
		}
		if m[3] != "" {
			stats.Deletions, _ = strconv.Atoi(m[3])
		}
	}

	commits, err := g.runGitCommand(g.repoPath, "rev-list", "--count", "HEAD.."+g.branchName)
	if err != nil {
		return stats, fmt.Errorf("failed to count branch commits: %w", err)
	}
	stats.Commits, _ = strconv.Atoi(strings.TrimSpace(commits))

	return stats, nil
}

// WorktreeDirty reports whether the task worktree itself has uncommitted
// changes, which blocks cleanup of a merged task.
func (g *GitWorktree) WorktreeDirty() (bool, error) {
	if !g.worktreeExists() {
		return false, nil
	}
	out, err := g.runGitCommand(g.worktreePath, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}
