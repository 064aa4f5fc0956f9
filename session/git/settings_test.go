package git

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readSettings(t *testing.T, worktreePath string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(worktreePath, ".claude", "settings.json"))
	require.NoError(t, err)
	var settings map[string]any
	require.NoError(t, json.Unmarshal(raw, &settings))
	return settings
}

func TestWriteAgentSettings(t *testing.T) {
	project := t.TempDir()
	worktree := filepath.Join(project, "worktrees", "task-abc12345")
	require.NoError(t, os.MkdirAll(worktree, 0755))

	require.NoError(t, WriteAgentSettings(worktree, "task-uuid-1"))

	settings := readSettings(t, worktree)

	hooks, ok := settings["hooks"].(map[string]any)
	require.True(t, ok)
	for _, event := range []string{"Stop", "SessionEnd", "Notification", "PreToolUse", "UserPromptSubmit"} {
		assert.Contains(t, hooks, event)
	}

	stop, ok := hooks["Stop"].([]any)
	require.True(t, ok)
	require.Len(t, stop, 1)
	group := stop[0].(map[string]any)
	hook := group["hooks"].([]any)[0].(map[string]any)
	assert.Equal(t, "command", hook["type"])
	assert.Contains(t, hook["command"], "signal stop task-uuid-1")

	notification, ok := hooks["Notification"].([]any)
	require.True(t, ok)
	require.Len(t, notification, 2)
	assert.Equal(t, "permission_prompt", notification[0].(map[string]any)["matcher"])
	assert.Equal(t, "idle_prompt", notification[1].(map[string]any)["matcher"])

	perms, ok := settings["permissions"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, perms["allow"], "Edit")

	assert.True(t, AgentSettingsCurrent(worktree))
}

func TestWriteAgentSettings_MergesProjectSettings(t *testing.T) {
	project := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(project, ".claude"), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(project, ".claude", "settings.json"),
		[]byte(`{"model":"opus","hooks":{"Stop":[{"hooks":[{"type":"command","command":"project-hook"}]}]}}`),
		0644))

	worktree := filepath.Join(project, "worktrees", "task-abc12345")
	require.NoError(t, os.MkdirAll(worktree, 0755))
	require.NoError(t, WriteAgentSettings(worktree, "task-uuid-1"))

	settings := readSettings(t, worktree)
	assert.Equal(t, "opus", settings["model"], "non-hook project settings carry over")

	hooks := settings["hooks"].(map[string]any)
	stop := hooks["Stop"].([]any)[0].(map[string]any)
	hook := stop["hooks"].([]any)[0].(map[string]any)
	assert.NotEqual(t, "project-hook", hook["command"], "task hooks are never replaced by project hooks")
}

func TestAgentSettingsCurrent(t *testing.T) {
	worktree := t.TempDir()
	assert.False(t, AgentSettingsCurrent(worktree), "missing file is stale")

	claudeDir := filepath.Join(worktree, ".claude")
	require.NoError(t, os.MkdirAll(claudeDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(claudeDir, "settings.json"),
		[]byte(`{"_kanblam_hooks_version":0}`), 0644))
	assert.False(t, AgentSettingsCurrent(worktree), "old version is stale")

	require.NoError(t, WriteAgentSettings(worktree, "task-uuid-1"))
	assert.True(t, AgentSettingsCurrent(worktree))
}
