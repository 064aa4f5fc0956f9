package sidecar

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kanblam/kanblam/log"
)

const (
	spawnPollInterval = 100 * time.Millisecond
	spawnPollAttempts = 50
)

// EnsureRunning makes sure a co-process is answering on socketPath, spawning
// one when it is not. command comes from the user config; when empty the
// bundled node wrapper next to the executable is used. Returns the spawned
// process when this call started one, so the caller can kill it on exit, and
// nil when the co-process was already up.
func EnsureRunning(ctx context.Context, command, socketPath string) (*exec.Cmd, error) {
	if pingSocket(ctx, socketPath) {
		return nil, nil
	}

	spawnCmd, err := resolveCommand(command)
	if err != nil {
		return nil, err
	}
	spawnCmd.Stdin = nil
	spawnCmd.Stdout = nil
	spawnCmd.Stderr = nil
	if err := spawnCmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn sidecar: %w", err)
	}
	log.InfoLog.Printf("spawned sidecar (pid %d)", spawnCmd.Process.Pid)

	for i := 0; i < spawnPollAttempts; i++ {
		select {
		case <-ctx.Done():
			_ = spawnCmd.Process.Kill()
			return nil, ctx.Err()
		case <-time.After(spawnPollInterval):
		}
		if pingSocket(ctx, socketPath) {
			return spawnCmd, nil
		}
	}

	_ = spawnCmd.Process.Kill()
	return nil, fmt.Errorf("sidecar did not answer on %s within %v",
		socketPath, spawnPollInterval*spawnPollAttempts)
}

// pingSocket dials a throwaway connection and pings over it.
func pingSocket(ctx context.Context, socketPath string) bool {
	client := NewClient(socketPath)
	if err := client.Connect(); err != nil {
		return false
	}
	defer client.Close()
	return client.Ping(ctx) == nil
}

// resolveCommand builds the spawn command from the configured command line,
// falling back to the node wrapper shipped beside the kanblam binary.
func resolveCommand(command string) (*exec.Cmd, error) {
	if command != "" {
		fields := strings.Fields(command)
		return exec.Command(fields[0], fields[1:]...), nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	bundled := filepath.Join(filepath.Dir(exePath), "sidecar", "dist", "main.cjs")
	if _, err := os.Stat(bundled); err != nil {
		return nil, fmt.Errorf("no sidecar command configured and %s not found", bundled)
	}
	return exec.Command("node", bundled), nil
}
