package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	assert.True(t, cfg.IsQaEnabled())
	assert.True(t, cfg.AreNotificationsEnabled())
	assert.True(t, cfg.IsTelemetryEnabled())
	assert.True(t, cfg.IsAuditEnabled())

	f := false
	cfg.QaEnabled = &f
	cfg.TelemetryEnabled = &f
	assert.False(t, cfg.IsQaEnabled())
	assert.False(t, cfg.IsTelemetryEnabled())
}

func TestResolvedAgentEnvOverride(t *testing.T) {
	t.Setenv(EnvAgent, "/opt/agents/claude-dev")
	cfg := &Config{AgentProgram: "claude"}
	assert.Equal(t, "/opt/agents/claude-dev", cfg.ResolvedAgent())

	t.Setenv(EnvAgent, "")
	assert.Equal(t, "claude", cfg.ResolvedAgent())
}

func TestSignalsDirEnvOverride(t *testing.T) {
	t.Setenv(EnvSignalsDir, "/tmp/kanblam-test-signals")
	dir, err := SignalsDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/kanblam-test-signals", dir)
}

func TestSocketPathDefault(t *testing.T) {
	t.Setenv(EnvSocket, "")
	p, err := SocketPath()
	require.NoError(t, err)
	assert.Equal(t, "sidecar.sock", filepath.Base(p))
}

func TestLoadConfigRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := LoadConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, 3, cfg.MaxQaAttempts)

	// First load writes the defaults to disk.
	_, err := os.Stat(filepath.Join(home, ".kanblam", ConfigFileName))
	require.NoError(t, err)

	cfg.MaxQaAttempts = 5
	require.NoError(t, SaveConfig(cfg))

	reloaded := LoadConfig()
	assert.Equal(t, 5, reloaded.MaxQaAttempts)
}

func TestLoadConfigBadJSONFallsBack(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".kanblam")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("{not json"), 0o644))

	cfg := LoadConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, 3, cfg.MaxQaAttempts)
}

func TestProjectCommandsRoundTrip(t *testing.T) {
	project := t.TempDir()

	// Missing file is not an error.
	cmds, err := LoadProjectCommands(project)
	require.NoError(t, err)
	assert.Empty(t, cmds.Test)

	want := ProjectCommands{Test: "go test ./...", Build: "go build ./...", Lint: "golangci-lint run"}
	require.NoError(t, SaveProjectCommands(project, want))

	got, err := LoadProjectCommands(project)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseCommandOutput(t *testing.T) {
	assert.Equal(t, "/usr/local/bin/claude", parseCommandOutput("/usr/local/bin/claude\n"))
	assert.Equal(t, "/opt/claude", parseCommandOutput("claude: aliased to /opt/claude"))
	assert.Equal(t, "", parseCommandOutput("   "))
}
