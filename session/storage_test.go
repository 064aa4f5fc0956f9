package session

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/kanblam/kanblam/session/git"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initTestRepo(t *testing.T) string {
	t.Helper()

	repo := t.TempDir()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@test.com"},
		{"config", "user.name", "test"},
	} {
		cmd := exec.Command("git", append([]string{"-C", repo}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("init\n"), 0644))
	gitRun(t, repo, "add", ".")
	gitRun(t, repo, "commit", "-m", "initial")

	return repo
}

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

func TestStorage_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProject(dir)
	require.NoError(t, err)

	task := NewTask("fix login", "the login form 500s")
	task.Abbreviation = "AUTH"
	task.QAAttempts = 2
	task.AddUsage(100, 20, 5, 1, 0.12)
	task.RecordFeedback("use bcrypt")
	require.NoError(t, p.AddTask(task))
	p.MarkApplied(task.ID, "stash@{0}")

	storage := NewStorage(dir)
	require.NoError(t, storage.Save(p))

	loaded, err := storage.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Tasks, 1)

	got := loaded.Tasks[0]
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "AUTH", got.Abbreviation)
	assert.Equal(t, 2, got.QAAttempts)
	assert.Equal(t, int64(100), got.Usage.InputTokens)
	assert.InDelta(t, 0.12, got.TotalCostUSD, 1e-9)
	require.Len(t, got.FeedbackHistory, 1)
	assert.Equal(t, task.ID, loaded.AppliedTaskID)
	assert.Equal(t, "stash@{0}", loaded.AppliedStashRef)
}

func TestStorage_LoadMissingFile(t *testing.T) {
	storage := NewStorage(t.TempDir())
	p, err := storage.Load()
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestStorage_SaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProject(dir)
	require.NoError(t, err)

	storage := NewStorage(dir)
	require.NoError(t, storage.Save(p))

	_, err = os.Stat(storage.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestStorage_LoadToleratesUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, git.ProtectedDir, "tasks.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{
		"version": 9,
		"some_future_field": true,
		"project": {
			"name": "demo",
			"slug": "demo",
			"path": "/elsewhere",
			"tasks": [{"id": "t1", "title": "x", "status": "planned", "session_mode": "none", "flux_capacitor": 1}]
		}
	}`), 0o644))

	loaded, err := NewStorage(dir).Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Tasks, 1)
	assert.Equal(t, StatusPlanned, loaded.Tasks[0].Status)
}

func TestStorage_LoadRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, git.ProtectedDir, "tasks.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewStorage(dir).Load()
	require.Error(t, err)
}

func TestStorage_WrittenFileReparses(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProject(dir)
	require.NoError(t, err)
	require.NoError(t, p.AddTask(NewTask("one", "")))

	storage := NewStorage(dir)
	require.NoError(t, storage.Save(p))

	data, err := os.ReadFile(storage.Path())
	require.NoError(t, err)
	var state map[string]any
	require.NoError(t, json.Unmarshal(data, &state))
	assert.EqualValues(t, 1, state["version"])
}

func TestReconcile_DemotesTaskWithMissingWorktree(t *testing.T) {
	repo := initTestRepo(t)
	p, err := NewProject(repo)
	require.NoError(t, err)

	task := NewTask("fix login", "")
	require.NoError(t, task.Transition(StatusInProgress))
	task.Materialize(
		git.TaskWorktreePath(repo, task.ShortID()),
		git.TaskBranchName(task.ShortID()),
		"task-"+task.ShortID(),
		ModeSdkManaged,
	)
	require.NoError(t, p.AddTask(task))

	// Neither the worktree directory nor the branch was ever created.
	result, err := Reconcile(p)
	require.NoError(t, err)

	require.Len(t, result.Demoted, 1)
	assert.Equal(t, StatusPlanned, task.Status)
	assert.Empty(t, task.WorktreePath)
	assert.Empty(t, task.Branch)
}

func TestReconcile_KeepsHealthyTask(t *testing.T) {
	repo := initTestRepo(t)
	p, err := NewProject(repo)
	require.NoError(t, err)

	task := NewTask("fix login", "")
	wt := git.NewGitWorktree(repo, task.ShortID())
	require.NoError(t, wt.Setup(task.ID))
	require.NoError(t, task.Transition(StatusInProgress))
	task.Materialize(wt.Path(), wt.Branch(), "task-"+task.ShortID(), ModeCliInteractive)
	require.NoError(t, p.AddTask(task))

	result, err := Reconcile(p)
	require.NoError(t, err)

	assert.Empty(t, result.Demoted)
	assert.Empty(t, result.Orphans)
	assert.Equal(t, StatusInProgress, task.Status)
}

func TestReconcile_SettlesTransientStatus(t *testing.T) {
	repo := initTestRepo(t)
	p, err := NewProject(repo)
	require.NoError(t, err)

	task := NewTask("fix login", "")
	wt := git.NewGitWorktree(repo, task.ShortID())
	require.NoError(t, wt.Setup(task.ID))
	task.Materialize(wt.Path(), wt.Branch(), "task-"+task.ShortID(), ModeSdkManaged)
	task.Status = StatusApplying
	require.NoError(t, p.AddTask(task))

	result, err := Reconcile(p)
	require.NoError(t, err)

	assert.Empty(t, result.Demoted)
	assert.Equal(t, StatusReview, task.Status, "an interrupted apply settles back to review")
}

func TestReconcile_ReportsOrphanedWorktrees(t *testing.T) {
	repo := initTestRepo(t)
	p, err := NewProject(repo)
	require.NoError(t, err)

	// A worktree from a crashed run that no task claims.
	orphan := git.NewGitWorktree(repo, "dead1234")
	require.NoError(t, orphan.Setup("task-dead"))

	result, err := Reconcile(p)
	require.NoError(t, err)

	require.Len(t, result.Orphans, 1)
	assert.Equal(t, git.TaskWorktreePath(repo, "dead1234"), result.Orphans[0])
}

func TestReconcile_ClampsQAAttempts(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProject(dir)
	require.NoError(t, err)

	task := NewTask("fix login", "")
	task.QAAttempts = 99
	require.NoError(t, p.AddTask(task))

	_, err = Reconcile(p)
	require.NoError(t, err)
	assert.Equal(t, p.QAMaxAttempts(), task.QAAttempts)
}

func TestReconcile_SurfacesStashWarning(t *testing.T) {
	repo := initTestRepo(t)
	p, err := NewProject(repo)
	require.NoError(t, err)
	p.AppliedStashRef = "stash@{0}"

	result, err := Reconcile(p)
	require.NoError(t, err)
	assert.NotEmpty(t, result.StashWarning)
}

func TestOpen_FreshProject(t *testing.T) {
	repo := initTestRepo(t)

	p, result, err := Open(repo)
	require.NoError(t, err)
	assert.Empty(t, p.Tasks)
	assert.Empty(t, result.Demoted)
	assert.Equal(t, repo, p.Path)
}

func TestOpen_ReloadsSavedState(t *testing.T) {
	repo := initTestRepo(t)
	p, err := NewProject(repo)
	require.NoError(t, err)
	require.NoError(t, p.AddTask(NewTask("one", "")))
	require.NoError(t, NewStorage(repo).Save(p))

	reloaded, _, err := Open(repo)
	require.NoError(t, err)
	require.Len(t, reloaded.Tasks, 1)
	assert.Equal(t, "one", reloaded.Tasks[0].Title)
}

func TestStorage_Delete(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProject(dir)
	require.NoError(t, err)

	storage := NewStorage(dir)
	require.NoError(t, storage.Save(p))
	require.NoError(t, storage.Delete())
	require.NoError(t, storage.Delete(), "deleting twice is fine")

	_, err = os.Stat(storage.Path())
	assert.True(t, os.IsNotExist(err))
}
