package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is a task's position in the board lifecycle. Applying and Merging
// are transient: they render in the Review column and block conflicting
// commands while a main-worktree operation is in flight.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusTesting    Status = "testing"
	StatusNeedsWork  Status = "needs_work"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusDiscarded  Status = "discarded"

	StatusApplying Status = "applying"
	StatusMerging  Status = "merging"
)

// Columns lists the statuses that have their own board column, in display
// order. Applying and Merging tasks appear in the Review column; Discarded
// tasks are hidden.
func Columns() [7]Status {
	return [7]Status{
		StatusPlanned,
		StatusQueued,
		StatusInProgress,
		StatusTesting,
		StatusNeedsWork,
		StatusReview,
		StatusDone,
	}
}

// Label returns the column/card heading for the status.
func (s Status) Label() string {
	switch s {
	case StatusPlanned:
		return "Planned"
	case StatusQueued:
		return "Queued"
	case StatusInProgress:
		return "In Progress"
	case StatusTesting:
		return "Testing"
	case StatusNeedsWork:
		return "Needs Work"
	case StatusReview:
		return "Review"
	case StatusDone:
		return "Done"
	case StatusDiscarded:
		return "Discarded"
	case StatusApplying:
		return "Applying"
	case StatusMerging:
		return "Merging"
	}
	return string(s)
}

// ColumnIndex maps the status to its board column. Transient statuses share
// the Review column. Discarded returns -1.
func (s Status) ColumnIndex() int {
	switch s {
	case StatusPlanned:
		return 0
	case StatusQueued:
		return 1
	case StatusInProgress:
		return 2
	case StatusTesting:
		return 3
	case StatusNeedsWork:
		return 4
	case StatusReview, StatusApplying, StatusMerging:
		return 5
	case StatusDone:
		return 6
	}
	return -1
}

// Terminal reports whether the status ends the task's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusDiscarded
}

// Materialized reports whether the status requires a live worktree and
// branch (and, for SDK-managed tasks, a co-process session).
func (s Status) Materialized() bool {
	switch s {
	case StatusInProgress, StatusTesting, StatusNeedsWork, StatusReview,
		StatusApplying, StatusMerging:
		return true
	}
	return false
}

// Transient reports whether the status marks an in-flight main-worktree
// operation rather than a resting state.
func (s Status) Transient() bool {
	return s == StatusApplying || s == StatusMerging
}

// SessionMode says who is driving the task's agent session.
type SessionMode string

const (
	// ModeNone means no session exists for the task.
	ModeNone SessionMode = "none"
	// ModeSdkManaged means the co-process owns the session and streams
	// events over JSON-RPC.
	ModeSdkManaged SessionMode = "sdk_managed"
	// ModeCliInteractive means the user drives the agent CLI in the task's
	// tmux window.
	ModeCliInteractive SessionMode = "cli_interactive"
	// ModeCliActivelyWorking is CLI mode while hook signals report the agent
	// mid-turn.
	ModeCliActivelyWorking SessionMode = "cli_working"
	// ModeWaitingForCliExit means an SDK handoff is pending until the user's
	// CLI session ends.
	ModeWaitingForCliExit SessionMode = "waiting_for_cli_exit"
)

// CliDriven reports whether the interactive window, not the co-process, owns
// the session.
func (m SessionMode) CliDriven() bool {
	return m == ModeCliInteractive || m == ModeCliActivelyWorking
}

// FeedbackEntry is one round of user feedback sent into the task's session.
type FeedbackEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}

// Usage totals accumulated from session events.
type Usage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
}

// Task is one card on the board. Its lifecycle is bound to a git worktree, a
// tmux window, and optionally a co-process session.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// ShortTitle and Abbreviation arrive asynchronously from summarize_title;
	// until then the card shows the raw title.
	ShortTitle   string `json:"short_title,omitempty"`
	Abbreviation string `json:"abbreviation,omitempty"`
	Spec         string `json:"spec,omitempty"`

	Status Status   `json:"status"`
	Images []string `json:"images,omitempty"`

	WorktreePath string      `json:"worktree_path,omitempty"`
	Branch       string      `json:"branch,omitempty"`
	TmuxWindow   string      `json:"tmux_window,omitempty"`
	SessionMode  SessionMode `json:"session_mode"`
	SessionID    string      `json:"session_id,omitempty"`

	SkipQA            bool            `json:"skip_qa,omitempty"`
	QAAttempts        int             `json:"qa_attempts"`
	QAExceededWarning bool            `json:"qa_exceeded_warning,omitempty"`
	InQASession       bool            `json:"-"`
	SummarizingTitle  bool            `json:"-"`
	BehindBase        bool            `json:"-"`
	PendingFeedback   bool            `json:"-"`
	FeedbackHistory   []FeedbackEntry `json:"feedback_history,omitempty"`
	Notes             []string        `json:"notes,omitempty"`

	Usage        Usage   `json:"usage"`
	TotalCostUSD float64 `json:"total_cost_usd"`

	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ReviewStartedAt *time.Time `json:"review_started_at,omitempty"`
}

// NewTask creates a Planned task with a fresh uuid.
func NewTask(title, description string) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Status:      StatusPlanned,
		SessionMode: ModeNone,
		CreatedAt:   time.Now().UTC(),
	}
}

// ShortID is the 8-char uuid prefix used in branch names, worktree paths,
// and tmux window names.
func (t *Task) ShortID() string {
	id := strings.ReplaceAll(t.ID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

// IDSuffix is a 3-char tail of the uuid, used with the abbreviation for the
// human-facing display id.
func (t *Task) IDSuffix() string {
	id := strings.ReplaceAll(t.ID, "-", "")
	if len(id) < 3 {
		return id
	}
	return id[len(id)-3:]
}

// DisplayID formats the card identifier, e.g. "AUTH-f3a". Without an
// abbreviation the uuid prefix stands in.
func (t *Task) DisplayID() string {
	abbrev := t.Abbreviation
	if abbrev == "" {
		abbrev = strings.ToUpper(t.ShortID()[:4])
	}
	return abbrev + "-" + t.IDSuffix()
}

// BoardTitle is what the card shows: the summarized short title when it has
// arrived, the raw title otherwise.
func (t *Task) BoardTitle() string {
	if t.ShortTitle != "" {
		return t.ShortTitle
	}
	return t.Title
}

// Prompt assembles the text sent to the agent when the task starts: the spec
// document when one was generated, the raw description otherwise.
func (t *Task) Prompt() string {
	if t.Spec != "" {
		return t.Spec
	}
	if t.Description != "" {
		return t.Description
	}
	return t.Title
}

var errBadTransition = fmt.Errorf("invalid status transition")

// allowedTransitions enumerates the state machine. Keys are from-status;
// values the set of reachable statuses. user-reset to Planned from any
// non-terminal status is handled separately in Transition.
var allowedTransitions = map[Status][]Status{
	StatusPlanned:    {StatusQueued, StatusInProgress},
	StatusQueued:     {StatusInProgress},
	StatusInProgress: {StatusTesting, StatusReview, StatusNeedsWork},
	StatusTesting:    {StatusReview, StatusInProgress, StatusNeedsWork},
	StatusNeedsWork:  {StatusInProgress, StatusDiscarded},
	StatusReview:     {StatusInProgress, StatusDone, StatusDiscarded, StatusApplying, StatusMerging},
	StatusApplying:   {StatusReview},
	StatusMerging:    {StatusReview, StatusDone},
}

// CanTransition reports whether the state machine permits moving to next.
func (t *Task) CanTransition(next Status) bool {
	if next == StatusPlanned {
		return !t.Status.Terminal()
	}
	for _, s := range allowedTransitions[t.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// Transition moves the task to next, stamping lifecycle timestamps. It
// refuses moves the state machine does not permit.
func (t *Task) Transition(next Status) error {
	if !t.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s for task %s", errBadTransition, t.Status, next, t.DisplayID())
	}
	now := time.Now().UTC()
	switch next {
	case StatusInProgress:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case StatusReview:
		if t.ReviewStartedAt == nil {
			t.ReviewStartedAt = &now
		}
	case StatusDone, StatusDiscarded:
		t.CompletedAt = &now
	case StatusPlanned:
		// user-reset: artifacts are gone, the task is startable again.
		t.WorktreePath = ""
		t.Branch = ""
		t.TmuxWindow = ""
		t.SessionID = ""
		t.SessionMode = ModeNone
		t.QAAttempts = 0
		t.QAExceededWarning = false
		t.InQASession = false
		t.StartedAt = nil
		t.ReviewStartedAt = nil
	}
	t.Status = next
	return nil
}

// Materialize records the physical artifacts created when the task starts.
func (t *Task) Materialize(worktreePath, branch, window string, mode SessionMode) {
	t.WorktreePath = worktreePath
	t.Branch = branch
	t.TmuxWindow = window
	t.SessionMode = mode
}

// Dematerialize clears artifact references after cleanup.
func (t *Task) Dematerialize() {
	t.WorktreePath = ""
	t.Branch = ""
	t.TmuxWindow = ""
	t.SessionID = ""
	t.SessionMode = ModeNone
}

// RecordFeedback appends one feedback round to the persisted history.
func (t *Task) RecordFeedback(content string) {
	t.FeedbackHistory = append(t.FeedbackHistory, FeedbackEntry{
		Timestamp: time.Now().UTC(),
		Content:   content,
	})
}

// AddUsage folds one session event's usage and cost into the task totals.
func (t *Task) AddUsage(input, output, cacheRead, cacheCreation int64, costUSD float64) {
	t.Usage.InputTokens += input
	t.Usage.OutputTokens += output
	t.Usage.CacheReadTokens += cacheRead
	t.Usage.CacheCreationTokens += cacheCreation
	t.TotalCostUSD += costUSD
}

// BeginQA marks the task as running a validation attempt. It reports false
// when the attempt budget is already exhausted.
func (t *Task) BeginQA(maxAttempts int) bool {
	if t.QAAttempts >= maxAttempts {
		return false
	}
	t.QAAttempts++
	t.InQASession = true
	return true
}

// EndQA clears the in-validation flag. exceeded sets the warning decoration
// shown on the card after the attempt budget ran out.
func (t *Task) EndQA(exceeded bool) {
	t.InQASession = false
	t.QAExceededWarning = exceeded
}

// ResetQA clears the attempt counter for a fresh work cycle, keeping the
// exceeded decoration until the next pass succeeds.
func (t *Task) ResetQA() {
	t.QAAttempts = 0
	t.InQASession = false
}
