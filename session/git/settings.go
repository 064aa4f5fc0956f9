package git

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// agentSettingsVersion marks the hook wiring written into a worktree's agent
// settings. Bump it when the hook set changes so Reclaim rewrites stale files.
const agentSettingsVersion = 1

const settingsVersionKey = "_kanblam_hooks_version"

// WriteAgentSettings writes <worktree>/.claude/settings.json: tool permissions
// for unattended work plus hooks that report the agent's lifecycle back
// through the signal subcommand. Project-level settings from the main worktree
// are merged in, except hooks, which are always the task's own.
func WriteAgentSettings(worktreePath, taskID string) error {
	claudeDir := filepath.Join(worktreePath, ".claude")
	if err := os.MkdirAll(claudeDir, 0o755); err != nil {
		return fmt.Errorf("failed to create agent settings dir: %w", err)
	}

	bin, err := os.Executable()
	if err != nil {
		bin = "kanblam"
	}

	signalHook := func(event string, extra ...string) []any {
		cmd := fmt.Sprintf("%s signal %s %s", bin, event, taskID)
		for _, e := range extra {
			cmd += " " + e
		}
		return []any{map[string]any{
			"hooks": []any{map[string]any{"type": "command", "command": cmd}},
		}}
	}

	settings := map[string]any{
		"permissions": map[string]any{
			"allow": []any{"Bash", "Read", "Edit", "Write", "Grep", "Glob"},
			"deny":  []any{},
		},
		"includeCoAuthoredBy": true,
		"hooks": map[string]any{
			"Stop":       signalHook("stop"),
			"SessionEnd": signalHook("end"),
			"Notification": []any{
				map[string]any{
					"matcher": "permission_prompt",
					"hooks": []any{map[string]any{
						"type":    "command",
						"command": fmt.Sprintf("%s signal needs-input %s --type=permission", bin, taskID),
					}},
				},
				map[string]any{
					"matcher": "idle_prompt",
					"hooks": []any{map[string]any{
						"type":    "command",
						"command": fmt.Sprintf("%s signal needs-input %s --type=idle", bin, taskID),
					}},
				},
			},
			"PreToolUse":       signalHook("working"),
			"UserPromptSubmit": signalHook("input-provided"),
		},
		settingsVersionKey: agentSettingsVersion,
	}

	mergeProjectSettings(settings, worktreePath)

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal agent settings: %w", err)
	}
	if err := os.WriteFile(filepath.Join(claudeDir, "settings.json"), content, 0o644); err != nil {
		return fmt.Errorf("failed to write agent settings: %w", err)
	}
	return nil
}

// mergeProjectSettings copies the project's own agent settings into the
// worktree settings. Hooks and permissions stay ours; the task's hooks report
// to kanblam and its permissions allow unattended work.
func mergeProjectSettings(settings map[string]any, worktreePath string) {
	projectPath := filepath.Join(filepath.Dir(filepath.Dir(worktreePath)), ".claude", "settings.json")
	raw, err := os.ReadFile(projectPath)
	if err != nil {
		return
	}
	var project map[string]any
	if err := json.Unmarshal(raw, &project); err != nil {
		return
	}
	for key, value := range project {
		switch key {
		case "hooks", "permissions", settingsVersionKey:
			continue
		default:
			if _, ours := settings[key]; !ours {
				settings[key] = value
			}
		}
	}
}

// AgentSettingsCurrent reports whether the worktree's settings file exists and
// carries the current hook version.
func AgentSettingsCurrent(worktreePath string) bool {
	raw, err := os.ReadFile(filepath.Join(worktreePath, ".claude", "settings.json"))
	if err != nil {
		return false
	}
	var settings map[string]any
	if err := json.Unmarshal(raw, &settings); err != nil {
		return false
	}
	version, ok := settings[settingsVersionKey].(float64)
	return ok && int(version) == agentSettingsVersion
}
