package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kanblam/kanblam/config/auditlog"
	"github.com/kanblam/kanblam/log"
	"github.com/kanblam/kanblam/session"
	"github.com/kanblam/kanblam/session/git"
	"github.com/kanblam/kanblam/sidecar"
	"github.com/kanblam/kanblam/signals"
)

// -- task start and session launch --

func (h *home) onTaskStarted(msg taskStartedMsg) (tea.Model, tea.Cmd) {
	t := h.project.TaskByID(msg.taskID)
	if t == nil {
		return h, nil
	}
	if msg.err != nil {
		if msg.branchExists {
			return h.askConfirm(
				fmt.Sprintf("Branch %s already exists from an earlier run. Reclaim it?", git.TaskBranchName(t.ShortID())),
				func() tea.Cmd { return h.startTask(t, true) },
			)
		}
		if t.Status == session.StatusQueued {
			_ = t.Transition(session.StatusPlanned)
		}
		h.board.SetTasks(h.project.Tasks)
		return h, tea.Batch(h.persist(), h.flashErr(msg.err))
	}

	h.audit.Emit(auditlog.NewEvent(auditlog.EventWorktreeCreated, h.project.Slug, t.Branch,
		auditlog.WithTask(t.ID, t.Title), auditlog.WithBranch(t.Branch)))

	if t.SessionMode == session.ModeSdkManaged {
		// The task shows as queued until the session is up.
		return h, tea.Batch(h.persist(), h.launchSessionCmd(t))
	}

	// CLI-interactive: the agent is already running in the window; hand it
	// the task prompt.
	if err := t.Transition(session.StatusInProgress); err != nil {
		return h, h.flashErr(err)
	}
	h.emitTransition(t, session.StatusQueued, session.StatusInProgress)
	h.board.SetTasks(h.project.Tasks)

	taskID, window, prompt := t.ID, t.TmuxWindow, t.Prompt()
	h.runtime.Enqueue(taskID, "prompt", func(ctx context.Context) tea.Msg {
		return promptSentMsg{taskID: taskID, err: h.manager.Tmux().SendPrompt(window, prompt)}
	})
	return h, h.persist()
}

func (h *home) onSessionLaunched(msg sessionLaunchedMsg) (tea.Model, tea.Cmd) {
	t := h.project.TaskByID(msg.taskID)
	if t == nil {
		return h, nil
	}
	if msg.err != nil {
		if err := t.Transition(session.StatusNeedsWork); err != nil {
			log.ErrorLog.Printf("task %s stuck after launch failure: %v", t.DisplayID(), err)
		}
		h.board.SetTasks(h.project.Tasks)
		return h, tea.Batch(h.persist(), h.flashErr(msg.err))
	}

	t.SessionID = msg.sessionID
	if t.Status == session.StatusTesting {
		// A QA resume: the task stays in testing until the verdict arrives.
		h.board.SetTasks(h.project.Tasks)
		return h, h.persist()
	}
	from := t.Status
	if err := t.Transition(session.StatusInProgress); err != nil {
		return h, h.flashErr(err)
	}
	h.emitTransition(t, from, session.StatusInProgress)
	h.board.SetTasks(h.project.Tasks)
	return h, h.persist()
}

func (h *home) onSummarized(msg summarizedMsg) (tea.Model, tea.Cmd) {
	t := h.project.TaskByID(msg.taskID)
	if t == nil {
		return h, nil
	}
	t.SummarizingTitle = false
	if msg.err != nil {
		// The raw title stays on the card.
		log.WarningLog.Printf("summarize for %s failed: %v", t.DisplayID(), msg.err)
		return h, nil
	}
	t.ShortTitle = msg.summary.ShortTitle
	t.Abbreviation = msg.summary.Abbreviation
	t.Spec = msg.summary.Spec
	h.board.SetTasks(h.project.Tasks)
	h.refreshDetail()
	return h, h.persist()
}

// -- co-process notifications --

func (h *home) onSidecarEvent(msg sidecarEventMsg) (tea.Model, tea.Cmd) {
	switch n := msg.notification.(type) {
	case sidecar.SessionEvent:
		return h.onSessionEvent(n)
	case sidecar.Reconnected:
		h.statusBar.SetSidecar(true)
		h.audit.Emit(auditlog.NewEvent(auditlog.EventSidecarReconnected, h.project.Slug, "co-process reconnected"))
		return h, tea.Batch(
			h.flash("co-process reconnected", false),
			h.listSessionsCmd(),
		)
	case sidecar.WatcherComment:
		log.InfoLog.Printf("watcher: %s", n.Comment)
		return h, nil
	case sidecar.WatcherObserving:
		log.InfoLog.Printf("watcher observing %s: %v", n.ProjectPath, n.Observing)
		return h, nil
	}
	return h, nil
}

func (h *home) onSessionEvent(ev sidecar.SessionEvent) (tea.Model, tea.Cmd) {
	t := h.project.TaskByID(ev.TaskID)
	if t == nil {
		log.WarningLog.Printf("session event %s for unknown task %s", ev.Event, ev.TaskID)
		return h, nil
	}

	if ev.Usage != nil || ev.CostUSD != 0 {
		var in, out int64
		if ev.Usage != nil {
			in, out = ev.Usage.InputTokens, ev.Usage.OutputTokens
		}
		t.AddUsage(in, out, 0, 0, ev.CostUSD)
	}

	switch ev.Event {
	case sidecar.SessionStarted:
		if t.SessionID == "" {
			t.SessionID = ev.SessionID
		}
		return h, h.persist()
	case sidecar.SessionStopped:
		return h.onAgentStopped(t, ev.FullOutput)
	case sidecar.SessionEnded:
		return h.onSessionGone(t)
	case sidecar.SessionNeedsInput:
		t.PendingFeedback = true
		h.board.SetTasks(h.project.Tasks)
		return h, h.flash(fmt.Sprintf("%s needs input", t.DisplayID()), false)
	case sidecar.SessionWorking, sidecar.SessionToolUse:
		t.PendingFeedback = false
		return h, nil
	case sidecar.SessionOutput:
		return h, nil
	}
	return h, nil
}

// onAgentStopped routes a finished agent turn: into the QA loop, around it,
// or out of it, depending on where the task was.
func (h *home) onAgentStopped(t *session.Task, fullOutput string) (tea.Model, tea.Cmd) {
	switch t.Status {
	case session.StatusInProgress:
		if h.project.QAIsEnabled() && !t.SkipQA && t.SessionMode == session.ModeSdkManaged && h.client != nil {
			return h.beginQA(t)
		}
		return h.settleToReview(t)
	case session.StatusTesting:
		return h.onQASessionStopped(t, fullOutput)
	}
	return h, nil
}

func (h *home) settleToReview(t *session.Task) (tea.Model, tea.Cmd) {
	from := t.Status
	if err := t.Transition(session.StatusReview); err != nil {
		return h, h.flashErr(err)
	}
	h.emitTransition(t, from, session.StatusReview)
	h.board.SetTasks(h.project.Tasks)
	return h, tea.Batch(h.persist(), h.refreshStatsCmd())
}

func (h *home) beginQA(t *session.Task) (tea.Model, tea.Cmd) {
	if !t.BeginQA(h.project.QAMaxAttempts()) {
		return h.qaExhausted(t)
	}
	from := t.Status
	if t.Status != session.StatusTesting {
		if err := t.Transition(session.StatusTesting); err != nil {
			return h, h.flashErr(err)
		}
		h.emitTransition(t, from, session.StatusTesting)
	}
	h.audit.Emit(auditlog.NewEvent(auditlog.EventQaStarted, h.project.Slug, t.Title,
		auditlog.WithTask(t.ID, t.Title), auditlog.WithQaAttempt(t.QAAttempts)))
	h.board.SetTasks(h.project.Tasks)

	return h, tea.Batch(h.persist(), h.resumeWithCmd(t, qaPrompt(t, h.project.Commands)))
}

func (h *home) onQASessionStopped(t *session.Task, fullOutput string) (tea.Model, tea.Cmd) {
	switch qaOutcome(fullOutput) {
	case qaPassed:
		t.EndQA(false)
		h.audit.Emit(auditlog.NewEvent(auditlog.EventQaPassed, h.project.Slug, t.Title,
			auditlog.WithTask(t.ID, t.Title), auditlog.WithQaAttempt(t.QAAttempts)))
		return h.settleToReview(t)
	default:
		h.audit.Emit(auditlog.NewEvent(auditlog.EventQaFailed, h.project.Slug, t.Title,
			auditlog.WithTask(t.ID, t.Title), auditlog.WithQaAttempt(t.QAAttempts)))
		if !t.BeginQA(h.project.QAMaxAttempts()) {
			return h.qaExhausted(t)
		}
		h.audit.Emit(auditlog.NewEvent(auditlog.EventQaStarted, h.project.Slug, t.Title,
			auditlog.WithTask(t.ID, t.Title), auditlog.WithQaAttempt(t.QAAttempts)))
		detail := qaFailureDetail(fullOutput)
		return h, tea.Batch(h.persist(), h.resumeWithCmd(t, qaRetryPrompt(t, h.project.Commands, detail)))
	}
}

func (h *home) qaExhausted(t *session.Task) (tea.Model, tea.Cmd) {
	t.EndQA(true)
	from := t.Status
	if err := t.Transition(session.StatusNeedsWork); err != nil {
		return h, h.flashErr(err)
	}
	h.emitTransition(t, from, session.StatusNeedsWork)
	h.audit.Emit(auditlog.NewEvent(auditlog.EventQaExhausted, h.project.Slug, t.Title,
		auditlog.WithTask(t.ID, t.Title), auditlog.WithQaAttempt(t.QAAttempts)))
	h.board.SetTasks(h.project.Tasks)
	return h, tea.Batch(h.persist(),
		h.flash(fmt.Sprintf("%s failed QA %d times, needs work", t.DisplayID(), t.QAAttempts), true))
}

// resumeWithCmd resumes the task's existing session with a new directive.
func (h *home) resumeWithCmd(t *session.Task, prompt string) tea.Cmd {
	taskID, sessionID, worktree := t.ID, t.SessionID, t.WorktreePath
	h.runtime.Enqueue(taskID, "resume", func(ctx context.Context) tea.Msg {
		id, err := h.client.ResumeSession(ctx, taskID, sessionID, worktree, prompt)
		return sessionLaunchedMsg{taskID: taskID, sessionID: id, err: err}
	})
	return nil
}

// onSessionGone handles a session that ended for good: the session id is no
// longer valid and an active task has lost its agent.
func (h *home) onSessionGone(t *session.Task) (tea.Model, tea.Cmd) {
	t.SessionID = ""
	switch t.Status {
	case session.StatusInProgress, session.StatusTesting:
		t.InQASession = false
		from := t.Status
		if err := t.Transition(session.StatusNeedsWork); err != nil {
			return h, h.flashErr(err)
		}
		h.emitTransition(t, from, session.StatusNeedsWork)
		h.board.SetTasks(h.project.Tasks)
		return h, tea.Batch(h.persist(),
			h.flash(fmt.Sprintf("%s's session ended, needs work", t.DisplayID()), true))
	}
	return h, h.persist()
}

func (h *home) listSessionsCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
		defer cancel()
		sessions, err := h.client.ListSessions(ctx)
		return sessionsListedMsg{sessions: sessions, err: err}
	}
}

// onSessionsListed reconciles tasks against the co-process inventory after a
// reconnect. Active tasks whose session did not survive lose their session
// id and land in needs-work.
func (h *home) onSessionsListed(msg sessionsListedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		return h, h.flashErr(msg.err)
	}
	active := make(map[string]string, len(msg.sessions))
	for _, s := range msg.sessions {
		if s.IsActive {
			active[s.TaskID] = s.SessionID
		}
	}

	var cmds []tea.Cmd
	for _, t := range h.project.Tasks {
		if t.SessionMode != session.ModeSdkManaged {
			continue
		}
		if id, ok := active[t.ID]; ok {
			t.SessionID = id
			continue
		}
		switch t.Status {
		case session.StatusInProgress, session.StatusTesting:
			model, cmd := h.onSessionGone(t)
			_ = model
			cmds = append(cmds, cmd)
		}
	}
	h.board.SetTasks(h.project.Tasks)
	return h, tea.Batch(cmds...)
}

// -- hook signals --

// onHookEvent handles signals written by agent hooks. These matter most for
// CLI-interactive tasks, which have no programmatic session reporting.
func (h *home) onHookEvent(msg hookEventMsg) (tea.Model, tea.Cmd) {
	ev := msg.event
	t := h.taskForHook(ev)
	if t == nil {
		log.InfoLog.Printf("hook %s with no matching task", ev.Kind)
		return h, nil
	}

	switch ev.Kind {
	case signals.Stopped:
		if !t.SessionMode.CliDriven() {
			// SDK tasks report stops through the co-process.
			return h, nil
		}
		if t.Status == session.StatusInProgress {
			return h.settleToReview(t)
		}
		return h, nil
	case signals.SessionEnded:
		if !t.SessionMode.CliDriven() {
			return h, nil
		}
		if t.Status == session.StatusInProgress {
			return h.settleToReview(t)
		}
		return h, nil
	case signals.NeedsInput:
		t.PendingFeedback = true
		h.board.SetTasks(h.project.Tasks)
		return h, h.flash(fmt.Sprintf("%s needs input", t.DisplayID()), false)
	case signals.InputProvided, signals.Working:
		t.PendingFeedback = false
		return h, nil
	}
	return h, nil
}

// taskForHook resolves a hook event to a task, by id when the hook knew it,
// otherwise by the worktree the hook ran in.
func (h *home) taskForHook(ev signals.Event) *session.Task {
	if ev.TaskID != "" {
		if t := h.project.TaskByID(ev.TaskID); t != nil {
			return t
		}
		if t := h.project.TaskByShortID(ev.TaskID); t != nil {
			return t
		}
	}
	if ev.ProjectDir != "" {
		return h.project.TaskByWorktree(ev.ProjectDir)
	}
	return nil
}

// -- main-worktree outcomes --

func (h *home) onApplyResult(msg applyResultMsg) (tea.Model, tea.Cmd) {
	t := h.project.TaskByID(msg.taskID)
	if t == nil {
		return h, nil
	}
	if t.Status == session.StatusApplying {
		if err := t.Transition(session.StatusReview); err != nil {
			log.ErrorLog.Printf("task %s stuck in applying: %v", t.DisplayID(), err)
		}
	}
	h.board.SetTasks(h.project.Tasks)

	if msg.err != nil {
		if errors.Is(msg.err, git.ErrStashPopConflict) && msg.result != nil {
			// The patch is in and the stash is held; offer to back out.
			h.conflictedApply = msg.result
			h.conflictedApplyTask = t.ID
			h.project.MarkApplied(t.ID, msg.result.StashRef)
			h.audit.Emit(auditlog.NewEvent(auditlog.EventApplyConflict, h.project.Slug, t.Title,
				auditlog.WithTask(t.ID, t.Title)))
			return h.askConfirm(
				"Restoring your edits conflicted with the applied patch. Abort the apply and restore your tree?",
				func() tea.Cmd { return h.abortApplyCmd(t) },
			)
		}
		return h, tea.Batch(h.persist(), h.flashErr(msg.err))
	}

	h.project.MarkApplied(t.ID, "")
	h.audit.Emit(auditlog.NewEvent(auditlog.EventPatchApplied, h.project.Slug, t.Title,
		auditlog.WithTask(t.ID, t.Title)))
	return h, tea.Batch(h.persist(), h.flash(fmt.Sprintf("%s applied to the main worktree", t.DisplayID()), false))
}

func (h *home) abortApplyCmd(t *session.Task) tea.Cmd {
	result := h.conflictedApply
	h.conflictedApply = nil
	h.conflictedApplyTask = ""
	if result == nil {
		return nil
	}
	taskID := t.ID
	wt := h.manager.Worktree(t)
	h.runtime.EnqueueMain(taskID, "abort-apply", func(ctx context.Context) tea.Msg {
		return unapplyResultMsg{taskID: taskID, err: wt.AbortApply(result)}
	})
	return nil
}

func (h *home) onUnapplyResult(msg unapplyResultMsg) (tea.Model, tea.Cmd) {
	t := h.project.TaskByID(msg.taskID)
	if t == nil {
		return h, nil
	}
	if t.Status == session.StatusApplying {
		if err := t.Transition(session.StatusReview); err != nil {
			log.ErrorLog.Printf("task %s stuck in applying: %v", t.DisplayID(), err)
		}
	}
	h.board.SetTasks(h.project.Tasks)

	if msg.err != nil {
		if errors.Is(msg.err, git.ErrReverseConflict) {
			return h.askConfirm(
				"The patch no longer reverses cleanly; your edits overlap it. Stash everything and clear the worktree?",
				func() tea.Cmd { return h.forceUnapplyCmd(t) },
			)
		}
		return h, tea.Batch(h.persist(), h.flashErr(msg.err))
	}

	h.project.ClearApplied()
	h.audit.Emit(auditlog.NewEvent(auditlog.EventPatchUnapplied, h.project.Slug, t.Title,
		auditlog.WithTask(t.ID, t.Title)))
	return h, tea.Batch(h.persist(), h.flash("main worktree restored", false))
}

func (h *home) forceUnapplyCmd(t *session.Task) tea.Cmd {
	taskID := t.ID
	wt := h.manager.Worktree(t)
	h.runtime.EnqueueMain(taskID, "force-unapply", func(ctx context.Context) tea.Msg {
		stashRef, err := wt.ForceUnapply()
		if err == nil && stashRef != "" {
			return errorMsg{err: fmt.Errorf("worktree cleared; your edits are in %s (git stash pop to recover)", stashRef)}
		}
		return unapplyResultMsg{taskID: taskID, err: err}
	})
	return nil
}

func (h *home) onMergeResult(msg mergeResultMsg) (tea.Model, tea.Cmd) {
	t := h.project.TaskByID(msg.taskID)
	if t == nil {
		return h, nil
	}
	if msg.err != nil {
		if t.Status == session.StatusMerging {
			if err := t.Transition(session.StatusReview); err != nil {
				log.ErrorLog.Printf("task %s stuck in merging: %v", t.DisplayID(), err)
			}
		}
		h.board.SetTasks(h.project.Tasks)
		if errors.Is(msg.err, git.ErrMergeConflict) {
			return h, tea.Batch(h.persist(),
				h.flash(fmt.Sprintf("%s conflicts with the default branch, rebase it first", t.DisplayID()), true))
		}
		return h, tea.Batch(h.persist(), h.flashErr(msg.err))
	}

	h.audit.Emit(auditlog.NewEvent(auditlog.EventTaskMerged, h.project.Slug, t.Title,
		auditlog.WithTask(t.ID, t.Title), auditlog.WithBranch(t.Branch)))

	if msg.mode == git.MergeKeep {
		// The branch landed but the worktree stays for follow-up work, so the
		// task goes back to review instead of winding down.
		if err := t.Transition(session.StatusReview); err != nil {
			log.ErrorLog.Printf("task %s stuck in merging: %v", t.DisplayID(), err)
		}
		h.board.SetTasks(h.project.Tasks)
		return h, tea.Batch(h.persist(),
			h.flash(fmt.Sprintf("%s merged, worktree kept", t.DisplayID()), false))
	}

	// Artifacts go away before the task settles as done.
	return h, tea.Batch(h.persist(), h.teardownMerged(t))
}

func (h *home) teardownMerged(t *session.Task) tea.Cmd {
	taskID := t.ID
	sdk := t.SessionMode == session.ModeSdkManaged && h.client != nil
	h.runtime.Enqueue(taskID, "stop-session", func(ctx context.Context) tea.Msg {
		var err error
		if sdk {
			err = h.client.StopSession(ctx, taskID)
		}
		return sessionStoppedCheckMsg{taskID: taskID, err: err}
	})
	h.runtime.Enqueue(taskID, "cleanup", func(ctx context.Context) tea.Msg {
		err := h.manager.CleanupTask(t)
		return cleanupResultMsg{taskID: taskID, next: string(session.StatusDone), err: err}
	})
	return nil
}

func (h *home) onRebaseResult(msg rebaseResultMsg) (tea.Model, tea.Cmd) {
	t := h.project.TaskByID(msg.taskID)
	if t == nil {
		return h, nil
	}
	if msg.err != nil {
		return h, h.flashErr(msg.err)
	}
	t.BehindBase = false
	h.refreshDetail()
	return h, tea.Batch(h.refreshStatsCmd(), h.flash(fmt.Sprintf("%s rebased", t.DisplayID()), false))
}

func (h *home) onCleanupResult(msg cleanupResultMsg) (tea.Model, tea.Cmd) {
	t := h.project.TaskByID(msg.taskID)
	if t == nil {
		return h, nil
	}
	if msg.err != nil {
		return h, h.flashErr(msg.err)
	}

	next := session.Status(msg.next)
	from := t.Status
	if err := t.Transition(next); err != nil {
		return h, h.flashErr(err)
	}
	h.emitTransition(t, from, next)
	switch next {
	case session.StatusDiscarded:
		h.audit.Emit(auditlog.NewEvent(auditlog.EventTaskDiscarded, h.project.Slug, t.Title,
			auditlog.WithTask(t.ID, t.Title)))
	case session.StatusPlanned:
		h.audit.Emit(auditlog.NewEvent(auditlog.EventTaskReset, h.project.Slug, t.Title,
			auditlog.WithTask(t.ID, t.Title)))
	}
	h.audit.Emit(auditlog.NewEvent(auditlog.EventWorktreeRemoved, h.project.Slug, t.Title,
		auditlog.WithTask(t.ID, t.Title)))

	delete(h.diffStats, t.ID)
	h.board.SetTasks(h.project.Tasks)
	h.refreshDetail()
	return h, h.persist()
}

func (h *home) onOpCancelled(msg opCancelledMsg) (tea.Model, tea.Cmd) {
	log.InfoLog.Printf("cancelled %s for task %s", msg.op, msg.taskID)
	t := h.project.TaskByID(msg.taskID)
	if t == nil {
		return h, nil
	}
	// A cancelled main-worktree op leaves the task presentable again.
	if t.Status.Transient() {
		if err := t.Transition(session.StatusReview); err == nil {
			h.board.SetTasks(h.project.Tasks)
			return h, h.persist()
		}
	}
	return h, nil
}

// -- liveness and metadata --

func (h *home) onDeadWindows(msg deadWindowsMsg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	for _, id := range msg.taskIDs {
		t := h.project.TaskByID(id)
		if t == nil || t.Status.Terminal() {
			continue
		}
		switch t.Status {
		case session.StatusInProgress, session.StatusTesting:
			t.InQASession = false
			from := t.Status
			if err := t.Transition(session.StatusNeedsWork); err != nil {
				log.ErrorLog.Printf("task %s window died but cannot move: %v", t.DisplayID(), err)
				continue
			}
			h.emitTransition(t, from, session.StatusNeedsWork)
			cmds = append(cmds, h.flash(fmt.Sprintf("%s's window died, needs work", t.DisplayID()), true))
		}
	}
	if len(cmds) == 0 {
		return h, nil
	}
	h.board.SetTasks(h.project.Tasks)
	cmds = append(cmds, h.persist())
	return h, tea.Batch(cmds...)
}

func (h *home) onDiffStats(msg diffStatsMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		log.WarningLog.Printf("diff stats for %s: %v", msg.taskID, msg.err)
		return h, nil
	}
	h.diffStats[msg.taskID] = msg.stats
	if t := h.project.TaskByID(msg.taskID); t != nil {
		t.BehindBase = msg.behind
	}
	h.refreshDetail()
	return h, nil
}

// emitTransition records a status change on the audit trail.
func (h *home) emitTransition(t *session.Task, from, to session.Status) {
	h.audit.Emit(auditlog.NewEvent(auditlog.EventTaskTransition, h.project.Slug, t.Title,
		auditlog.WithTask(t.ID, t.Title),
		auditlog.WithTransition(string(from), string(to))))
}
