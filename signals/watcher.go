package signals

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kanblam/kanblam/log"
)

// drainInterval is the fallback sweep cadence. Filesystem notifications do
// the real-time work; the timer only rescues files whose Create event was
// missed.
const drainInterval = 3 * time.Second

// Kind classifies a hook signal once parsed.
type Kind int

const (
	// Stopped means the agent finished its turn.
	Stopped Kind = iota
	// SessionEnded means the agent session terminated.
	SessionEnded
	// NeedsInput means the agent is blocked waiting on the user. The event's
	// NotificationType narrows it to permission, idle, or elicitation.
	NeedsInput
	// InputProvided means the user submitted a prompt into the interactive
	// session directly.
	InputProvided
	// Working means the agent is actively running tools.
	Working
)

func (k Kind) String() string {
	switch k {
	case Stopped:
		return "stopped"
	case SessionEnded:
		return "session-ended"
	case NeedsInput:
		return "needs-input"
	case InputProvided:
		return "input-provided"
	case Working:
		return "working"
	}
	return "unknown"
}

// kindFor maps an on-disk event name to its Kind.
func kindFor(event string) (Kind, bool) {
	switch event {
	case EventStop:
		return Stopped, true
	case EventSessionEnd:
		return SessionEnded, true
	case EventNeedsInput:
		return NeedsInput, true
	case EventInputProvided:
		return InputProvided, true
	case EventWorking:
		return Working, true
	}
	return 0, false
}

// Event is a parsed hook signal delivered to the orchestrator. TaskID may be
// empty when the hook only knew its project directory; the orchestrator
// correlates those by worktree path.
type Event struct {
	Kind             Kind
	TaskID           string
	SessionID        string
	ProjectDir       string
	NotificationType string
	Message          string
	Timestamp        time.Time
}

// Watcher turns signal files dropped into a directory into a stream of typed
// events. Files are consumed exactly once: parsed, emitted, then deleted.
// Malformed files move to a quarantine directory beside the signals dir
// instead of being retried forever.
type Watcher struct {
	dir           string
	quarantineDir string
	fs            *fsnotify.Watcher
	events        chan Event
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewWatcher prepares a watcher over dir, creating the directory if needed.
func NewWatcher(dir string) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:           dir,
		quarantineDir: filepath.Join(filepath.Dir(dir), "quarantine"),
		fs:            fs,
		events:        make(chan Event, 64),
		stop:          make(chan struct{}),
	}, nil
}

// Start begins watching. Files already present in the directory are drained
// immediately so signals written while kanblam was down are not lost.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fs.Add(w.dir); err != nil {
		return err
	}
	w.drain()
	go w.run(ctx)
	return nil
}

// Events returns the stream of parsed signals, ordered per task by file
// creation time.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop ends the watch loop and releases the filesystem watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if err := w.fs.Close(); err != nil {
			log.WarningLog.Printf("failed to close signals watcher: %v", err)
		}
	})
}

func (w *Watcher) run(ctx context.Context) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 && isSignalFile(filepath.Base(ev.Name)) {
				w.drain()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.WarningLog.Printf("signals watcher error: %v", err)
		case <-ticker.C:
			w.drain()
		}
	}
}

// drain consumes every published signal file currently in the directory,
// oldest first by the timestamp embedded in the filename.
func (w *Watcher) drain() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.WarningLog.Printf("failed to read signals directory: %v", err)
		return
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && isSignalFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		ti, tj := fileMillis(names[i]), fileMillis(names[j])
		if ti != tj {
			return ti < tj
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		w.consume(name)
	}
}

// consume parses one signal file and emits it, then deletes the file. A file
// that fails to parse or carries an unknown event is quarantined.
func (w *Watcher) consume(name string) {
	path := filepath.Join(w.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WarningLog.Printf("failed to read signal file %s: %v", name, err)
		}
		return
	}

	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		log.WarningLog.Printf("malformed signal file %s: %v", name, err)
		w.quarantine(name)
		return
	}
	kind, ok := kindFor(sig.Event)
	if !ok {
		log.WarningLog.Printf("signal file %s has unknown event %q", name, sig.Event)
		w.quarantine(name)
		return
	}

	event := Event{
		Kind:             kind,
		TaskID:           sig.TaskID,
		SessionID:        sig.SessionID,
		ProjectDir:       sig.ProjectDir,
		NotificationType: sig.NotificationType,
		Message:          sig.Message,
		Timestamp:        time.UnixMilli(sig.Timestamp),
	}

	select {
	case w.events <- event:
	case <-w.stop:
		return
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WarningLog.Printf("failed to delete consumed signal %s: %v", name, err)
	}
}

func (w *Watcher) quarantine(name string) {
	if err := os.MkdirAll(w.quarantineDir, 0o755); err != nil {
		log.ErrorLog.Printf("failed to create quarantine directory: %v", err)
		return
	}
	src := filepath.Join(w.dir, name)
	dst := filepath.Join(w.quarantineDir, name)
	if err := os.Rename(src, dst); err != nil {
		log.ErrorLog.Printf("failed to quarantine signal %s: %v", name, err)
		_ = os.Remove(src)
	}
}
