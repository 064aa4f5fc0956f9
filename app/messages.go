package app

import (
	"github.com/kanblam/kanblam/session/git"
	"github.com/kanblam/kanblam/sidecar"
	"github.com/kanblam/kanblam/signals"
)

// Messages re-entering the update loop from async work. Every command the
// runtime executes terminates in exactly one of these.

// taskStartedMsg reports worktree+window materialization for a task.
type taskStartedMsg struct {
	taskID string
	// branchExists means a leftover branch blocked the start; the user is
	// asked whether to reclaim it.
	branchExists bool
	err          error
}

// sessionLaunchedMsg reports the co-process start_session/resume_session
// outcome.
type sessionLaunchedMsg struct {
	taskID    string
	sessionID string
	err       error
}

// promptSentMsg reports a send_prompt outcome.
type promptSentMsg struct {
	taskID string
	err    error
}

// summarizedMsg carries the generated short title, abbreviation, and spec.
type summarizedMsg struct {
	taskID  string
	summary sidecar.TitleSummary
	err     error
}

// sidecarEventMsg wraps one co-process notification.
type sidecarEventMsg struct {
	notification sidecar.Notification
}

// sidecarGoneMsg means the notification channel closed; the client is gone
// for good.
type sidecarGoneMsg struct{}

// sessionsListedMsg carries the co-process session inventory, fetched after a
// reconnect to reconcile tasks against sessions that died with the old
// connection.
type sessionsListedMsg struct {
	sessions []sidecar.SessionInfo
	err      error
}

// hookEventMsg wraps one hook-signal bus event.
type hookEventMsg struct {
	event signals.Event
}

// applyResultMsg reports an apply of task changes onto the main worktree.
type applyResultMsg struct {
	taskID string
	result *git.ApplyResult
	err    error
}

// unapplyResultMsg reports the inverse operation.
type unapplyResultMsg struct {
	taskID string
	err    error
}

// mergeResultMsg reports a merge of the task branch into the default branch.
type mergeResultMsg struct {
	taskID string
	mode   git.MergeMode
	err    error
}

// rebaseResultMsg reports a user-triggered rebase of the task branch.
type rebaseResultMsg struct {
	taskID string
	err    error
}

// cleanupResultMsg reports artifact teardown; next is the status the task
// settles into when cleanup succeeded.
type cleanupResultMsg struct {
	taskID string
	next   string
	err    error
}

// diffStatsMsg refreshes a task's cached diff stats for the detail pane.
type diffStatsMsg struct {
	taskID string
	stats  git.DiffStats
	behind bool
	err    error
}

// sessionStoppedCheckMsg carries the stop_session outcome during discard and
// reset flows.
type sessionStoppedCheckMsg struct {
	taskID string
	err    error
}

// opCancelledMsg is the terminal message for a queued command whose task was
// cancelled before it ran.
type opCancelledMsg struct {
	taskID string
	op     string
}

// persistedMsg reports a tasks.json write. Persistence failures are
// non-fatal; in-memory state continues.
type persistedMsg struct {
	err error
}

// windowPollTickMsg drives the low-frequency window liveness sweep.
type windowPollTickMsg struct{}

// deadWindowsMsg reports tasks whose tmux window vanished.
type deadWindowsMsg struct {
	taskIDs []string
}

// metadataTickMsg drives the periodic diff-stat refresh of the selected task.
type metadataTickMsg struct{}

// statusClearMsg expires a transient status-bar message. seq guards against
// clearing a newer message.
type statusClearMsg struct{ seq int }

// errorMsg surfaces a non-task-scoped failure on the status bar.
type errorMsg struct {
	err error
}
