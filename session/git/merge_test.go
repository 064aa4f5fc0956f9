package git

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_Squash(t *testing.T) {
	g, repo := setupTaskWithCommit(t)

	require.NoError(t, g.Merge("Add feature", MergeSquash))

	assert.FileExists(t, filepath.Join(repo, "feature.txt"))

	out := gitRun(t, repo, "log", "-1", "--format=%s")
	assert.Contains(t, out, "Add feature")
	assert.Contains(t, out, g.Branch())

	out = gitRun(t, repo, "status", "--porcelain")
	assert.Empty(t, strings.TrimSpace(out), "merge leaves a clean tree")
}

func TestMerge_Keep(t *testing.T) {
	g, repo := setupTaskWithCommit(t)

	require.NoError(t, g.Merge("Add feature", MergeKeep))

	assert.FileExists(t, filepath.Join(repo, "feature.txt"))

	// --no-ff keeps the branch commit plus a merge commit.
	out := gitRun(t, repo, "log", "--format=%s")
	assert.Contains(t, out, "add feature")
	assert.Contains(t, out, "Add feature")
}

func TestMerge_StashesDirtyTree(t *testing.T) {
	g, repo := setupTaskWithCommit(t)

	userFile := filepath.Join(repo, "user.txt")
	require.NoError(t, os.WriteFile(userFile, []byte("mine\n"), 0644))

	require.NoError(t, g.Merge("Add feature", MergeSquash))

	assert.FileExists(t, filepath.Join(repo, "feature.txt"))
	content, err := os.ReadFile(userFile)
	require.NoError(t, err)
	assert.Equal(t, "mine\n", string(content), "user edits survive the merge")
}

func TestMerge_ConflictAborts(t *testing.T) {
	repo := initTestRepo(t)
	g := NewGitWorktree(repo, "abc12345")
	require.NoError(t, g.Setup("task-uuid-1"))

	require.NoError(t, os.WriteFile(filepath.Join(g.Path(), "README.md"), []byte("task version\n"), 0644))
	gitRun(t, g.Path(), "add", ".")
	gitRun(t, g.Path(), "commit", "-m", "edit readme")

	// A conflicting commit on the default branch.
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("main version\n"), 0644))
	gitRun(t, repo, "add", ".")
	gitRun(t, repo, "commit", "-m", "main edit")

	err := g.Merge("Edit readme", MergeSquash)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMergeConflict))

	content, err := os.ReadFile(filepath.Join(repo, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "main version\n", string(content), "failed merge leaves the tree untouched")

	out := gitRun(t, repo, "status", "--porcelain")
	assert.Empty(t, strings.TrimSpace(out))
}

func TestMerge_ProtectedDirExcluded(t *testing.T) {
	g, repo := setupTaskWithCommit(t)

	require.NoError(t, os.MkdirAll(filepath.Join(g.Path(), ProtectedDir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(g.Path(), ProtectedDir, "tasks.json"), []byte("{}\n"), 0644))
	gitRun(t, g.Path(), "add", ".")
	gitRun(t, g.Path(), "commit", "-m", "board state")

	require.NoError(t, g.Merge("Add feature", MergeSquash))

	assert.FileExists(t, filepath.Join(repo, "feature.txt"))
	_, err := os.Stat(filepath.Join(repo, ProtectedDir, "tasks.json"))
	assert.True(t, os.IsNotExist(err), "board state never lands in the main worktree")
}

func TestNeedsRebaseAndRebase(t *testing.T) {
	g, repo := setupTaskWithCommit(t)

	needs, err := g.NeedsRebase()
	require.NoError(t, err)
	assert.False(t, needs)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "other.txt"), []byte("x\n"), 0644))
	gitRun(t, repo, "add", ".")
	gitRun(t, repo, "commit", "-m", "main moves on")

	needs, err = g.NeedsRebase()
	require.NoError(t, err)
	assert.True(t, needs)

	require.NoError(t, g.Rebase())

	needs, err = g.NeedsRebase()
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestAlreadyMerged(t *testing.T) {
	g, _ := setupTaskWithCommit(t)

	merged, err := g.AlreadyMerged()
	require.NoError(t, err)
	assert.False(t, merged)

	require.NoError(t, g.Merge("Add feature", MergeSquash))

	merged, err = g.AlreadyMerged()
	require.NoError(t, err)
	assert.True(t, merged)
}

func TestStats(t *testing.T) {
	g, _ := setupTaskWithCommit(t)

	stats, err := g.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesChanged)
	assert.Equal(t, 1, stats.Insertions)
	assert.Equal(t, 0, stats.Deletions)
	assert.Equal(t, 1, stats.Commits)
	assert.False(t, stats.Empty())
	assert.Equal(t, "1 files +1 -0", stats.String())
}

func TestStats_NoChanges(t *testing.T) {
	repo := initTestRepo(t)
	g := NewGitWorktree(repo, "abc12345")
	require.NoError(t, g.Setup("task-uuid-1"))

	stats, err := g.Stats()
	require.NoError(t, err)
	assert.True(t, stats.Empty())
	assert.Equal(t, "no changes", stats.String())
}

func TestWorktreeDirty(t *testing.T) {
	g, _ := setupTaskWithCommit(t)

	dirty, err := g.WorktreeDirty()
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(g.Path(), "wip.txt"), []byte("x\n"), 0644))
	dirty, err = g.WorktreeDirty()
	require.NoError(t, err)
	assert.True(t, dirty)
}
