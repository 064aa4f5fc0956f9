package signals

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Hook event names as they appear in signal filenames and payloads. These are
// the event arguments the agent hooks pass to the signal subcommand.
const (
	EventStop          = "stop"
	EventSessionEnd    = "end"
	EventNeedsInput    = "needs-input"
	EventInputProvided = "input-provided"
	EventWorking       = "working"
)

// Notification subtypes carried by needs-input signals.
const (
	NotifyPermission  = "permission"
	NotifyIdle        = "idle"
	NotifyElicitation = "elicitation"
)

const (
	filePrefix = "signal-"
	fileSuffix = ".json"
)

// Signal is the on-disk payload an agent hook drops into the signals
// directory.
type Signal struct {
	Event            string `json:"event"`
	SessionID        string `json:"session_id,omitempty"`
	ProjectDir       string `json:"project_dir,omitempty"`
	TaskID           string `json:"task_id,omitempty"`
	Timestamp        int64  `json:"timestamp"`
	NotificationType string `json:"notification_type,omitempty"`
	Message          string `json:"message,omitempty"`
}

// WriteSignal persists a signal into dir. The file appears atomically: it is
// written under a hidden temp name first and renamed into place, so a drain
// never reads a partial payload.
func WriteSignal(dir string, sig Signal) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create signals directory: %w", err)
	}
	if sig.Timestamp == 0 {
		sig.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	name := fmt.Sprintf("%s%s-%d-%s%s", filePrefix, sig.Event, sig.Timestamp, uuid.NewString()[:8], fileSuffix)
	tmpPath := filepath.Join(dir, "."+name+".tmp")
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write signal file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to publish signal file: %w", err)
	}
	return nil
}

// isSignalFile reports whether a directory entry name looks like a published
// signal file.
func isSignalFile(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix)
}

// fileMillis extracts the creation timestamp embedded in a signal filename,
// the second-to-last dash-separated segment. Event names themselves contain
// dashes, so parsing runs from the end. Returns 0 when the name does not
// carry one.
func fileMillis(name string) int64 {
	base := strings.TrimSuffix(name, fileSuffix)
	parts := strings.Split(base, "-")
	if len(parts) < 3 {
		return 0
	}
	ms, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return 0
	}
	return ms
}
