package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kanblam/kanblam/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Initialize()
	code := m.Run()
	log.Close()
	os.Exit(code)
}

func TestWriteSignal_AtomicFileNaming(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, WriteSignal(dir, Signal{
		Event:  EventStop,
		TaskID: "task-uuid-1",
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files may remain after publish")

	name := entries[0].Name()
	assert.True(t, isSignalFile(name), "published name %q must match the signal pattern", name)
	assert.Contains(t, name, "signal-stop-")
	assert.Greater(t, fileMillis(name), int64(0))

	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	var sig Signal
	require.NoError(t, json.Unmarshal(data, &sig))
	assert.Equal(t, EventStop, sig.Event)
	assert.Equal(t, "task-uuid-1", sig.TaskID)
	assert.Greater(t, sig.Timestamp, int64(0))
}

func TestFileMillis(t *testing.T) {
	assert.Equal(t, int64(1754470000123), fileMillis("signal-needs-input-1754470000123-ab12cd34.json"))
	assert.Equal(t, int64(0), fileMillis("signal-.json"))
	assert.Equal(t, int64(0), fileMillis("signal-stop-notanumber-ab12cd34.json"))
}

// collectEvents drains up to n events from the watcher or fails the test.
func collectEvents(t *testing.T, w *Watcher, n int) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case ev := <-w.Events():
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(got), n)
		}
	}
	return got
}

func startWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()
	w, err := NewWatcher(dir)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_DrainsPreexistingFilesInOrder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "signals")

	base := time.Now().UnixMilli()
	for i, event := range []string{EventStop, EventInputProvided, EventStop} {
		require.NoError(t, WriteSignal(dir, Signal{
			Event:     event,
			TaskID:    fmt.Sprintf("task-%d", i),
			Timestamp: base + int64(i),
		}))
	}

	w := startWatcher(t, dir)
	got := collectEvents(t, w, 3)

	assert.Equal(t, Stopped, got[0].Kind)
	assert.Equal(t, "task-0", got[0].TaskID)
	assert.Equal(t, InputProvided, got[1].Kind)
	assert.Equal(t, "task-1", got[1].TaskID)
	assert.Equal(t, Stopped, got[2].Kind)
	assert.Equal(t, "task-2", got[2].TaskID)

	// Consumed files are deleted.
	assert.Eventually(t, func() bool {
		entries, err := os.ReadDir(dir)
		return err == nil && len(entries) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_PicksUpNewFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "signals")
	w := startWatcher(t, dir)

	require.NoError(t, WriteSignal(dir, Signal{
		Event:            EventNeedsInput,
		TaskID:           "task-uuid-1",
		NotificationType: NotifyPermission,
		Message:          "agent wants to run rm",
	}))

	got := collectEvents(t, w, 1)
	assert.Equal(t, NeedsInput, got[0].Kind)
	assert.Equal(t, "task-uuid-1", got[0].TaskID)
	assert.Equal(t, NotifyPermission, got[0].NotificationType)
	assert.Equal(t, "agent wants to run rm", got[0].Message)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestWatcher_QuarantinesMalformedFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "signals")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	badJSON := filepath.Join(dir, "signal-stop-1-aaaaaaaa.json")
	require.NoError(t, os.WriteFile(badJSON, []byte("{not json"), 0o644))
	badEvent := filepath.Join(dir, "signal-reboot-2-bbbbbbbb.json")
	require.NoError(t, os.WriteFile(badEvent, []byte(`{"event":"reboot","timestamp":2}`), 0o644))

	w := startWatcher(t, dir)

	// A good file written after the bad ones still comes through.
	require.NoError(t, WriteSignal(dir, Signal{Event: EventSessionEnd, TaskID: "task-uuid-1"}))
	got := collectEvents(t, w, 1)
	assert.Equal(t, SessionEnded, got[0].Kind)

	quarantine := filepath.Join(root, "quarantine")
	assert.Eventually(t, func() bool {
		entries, err := os.ReadDir(quarantine)
		return err == nil && len(entries) == 2
	}, 2*time.Second, 20*time.Millisecond)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "quarantined files must leave the signals directory")
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "signals")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))

	w := startWatcher(t, dir)

	require.NoError(t, WriteSignal(dir, Signal{Event: EventWorking, TaskID: "task-uuid-1"}))
	got := collectEvents(t, w, 1)
	assert.Equal(t, Working, got[0].Kind)

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	_, err := os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err, "unrelated files stay untouched")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "needs-input", NeedsInput.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
