package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanblam/kanblam/config"
	"github.com/kanblam/kanblam/signals"
)

func TestSignalCommandWritesSignalFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvSignalsDir, dir)

	rootCmd.SetArgs([]string{"signal", "needs-input", "task-abc123", "--type", "permission", "--session", "sess-1"})
	require.NoError(t, rootCmd.Execute())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var sig signals.Signal
	require.NoError(t, json.Unmarshal(data, &sig))
	assert.Equal(t, "needs-input", sig.Event)
	assert.Equal(t, "task-abc123", sig.TaskID)
	assert.Equal(t, "permission", sig.NotificationType)
	assert.Equal(t, "sess-1", sig.SessionID)
	assert.NotZero(t, sig.Timestamp)
}

func TestSignalCommandWithoutTaskID(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvSignalsDir, dir)
	signalType, signalSession, signalMessage = "", "", ""

	rootCmd.SetArgs([]string{"signal", "stop"})
	require.NoError(t, rootCmd.Execute())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var sig signals.Signal
	require.NoError(t, json.Unmarshal(data, &sig))
	assert.Equal(t, "stop", sig.Event)
	assert.Empty(t, sig.TaskID)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "kanblam version "+version)
}
