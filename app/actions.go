package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kanblam/kanblam/config/auditlog"
	"github.com/kanblam/kanblam/session"
	"github.com/kanblam/kanblam/session/git"
	"github.com/kanblam/kanblam/sidecar"
	"github.com/kanblam/kanblam/ui"
)

// -- task creation and editing --

func (h *home) openNewTaskForm() (tea.Model, tea.Cmd) {
	h.taskForm = ui.NewTaskForm("", "")
	h.state = stateNewTask
	return h, h.taskForm.Init()
}

func (h *home) openEditForm() (tea.Model, tea.Cmd) {
	t := h.selectedTask()
	if t == nil {
		return h, nil
	}
	if t.Status.Terminal() {
		return h, h.flash("cannot edit a finished task", true)
	}
	h.taskForm = ui.NewTaskForm(t.Title, t.Description)
	h.editTaskID = t.ID
	h.state = stateEditTask
	return h, h.taskForm.Init()
}

func (h *home) finishNewTask(title, description string) (tea.Model, tea.Cmd) {
	t := session.NewTask(title, description)
	if err := h.project.AddTask(t); err != nil {
		return h, h.flashErr(err)
	}
	h.audit.Emit(auditlog.NewEvent(auditlog.EventTaskCreated, h.project.Slug, title,
		auditlog.WithTask(t.ID, t.Title)))
	h.board.SetTasks(h.project.Tasks)
	h.refreshDetail()

	cmds := []tea.Cmd{h.persist()}
	if cmd := h.summarizeCmd(t); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return h, tea.Batch(cmds...)
}

func (h *home) finishEditTask(taskID, title, description string) (tea.Model, tea.Cmd) {
	t := h.project.TaskByID(taskID)
	if t == nil {
		return h, h.flash("task no longer exists", true)
	}
	t.Title = title
	t.Description = description
	h.refreshDetail()

	cmds := []tea.Cmd{h.persist()}
	if t.Status == session.StatusPlanned {
		// The summary derives from the description; re-derive it.
		if cmd := h.summarizeCmd(t); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return h, tea.Batch(cmds...)
}

// summarizeCmd asks the co-process for a short title, abbreviation, and
// expanded spec. The request runs on the task's queue and its outcome arrives
// as a summarizedMsg, so the returned command is always nil; without a
// co-process nothing is requested.
func (h *home) summarizeCmd(t *session.Task) tea.Cmd {
	if h.client == nil {
		return nil
	}
	t.SummarizingTitle = true
	taskID, text := t.ID, t.Prompt()
	if !h.runtime.Enqueue(taskID, "summarize", func(ctx context.Context) tea.Msg {
		summary, err := h.client.SummarizeTitle(ctx, taskID, text)
		return summarizedMsg{taskID: taskID, summary: summary, err: err}
	}) {
		t.SummarizingTitle = false
	}
	return nil
}

// -- starting and continuing work --

func (h *home) startSelected(reclaim bool) (tea.Model, tea.Cmd) {
	t := h.selectedTask()
	if t == nil {
		return h, nil
	}
	if t.Status != session.StatusPlanned && t.Status != session.StatusQueued {
		return h, h.flash("only planned tasks can be started", true)
	}
	return h, h.startTask(t, reclaim)
}

func (h *home) startTask(t *session.Task, reclaim bool) tea.Cmd {
	mode := session.ModeCliInteractive
	if h.client != nil {
		mode = session.ModeSdkManaged
	}
	if t.Status == session.StatusPlanned {
		if err := t.Transition(session.StatusQueued); err != nil {
			return h.flashErr(err)
		}
	}
	h.board.SetTasks(h.project.Tasks)

	taskID := t.ID
	h.runtime.Enqueue(taskID, "start", func(ctx context.Context) tea.Msg {
		err := h.manager.StartTask(t, mode, reclaim)
		return taskStartedMsg{
			taskID:       taskID,
			branchExists: errors.Is(err, session.ErrBranchExists),
			err:          err,
		}
	})
	return h.persist()
}

// launchSessionCmd starts (or adopts) the task's programmatic session. A
// session that already exists for the task is reused, never an error.
func (h *home) launchSessionCmd(t *session.Task) tea.Cmd {
	taskID, worktree := t.ID, t.WorktreePath
	prompt, images := t.Prompt(), t.Images
	h.runtime.Enqueue(taskID, "launch", func(ctx context.Context) tea.Msg {
		id, err := h.client.StartSession(ctx, taskID, worktree, prompt, images)
		var rpcErr *sidecar.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == sidecar.CodeSessionAlreadyExists {
			if info, getErr := h.client.GetSession(ctx, taskID); getErr == nil && info != nil {
				return sessionLaunchedMsg{taskID: taskID, sessionID: info.SessionID}
			}
		}
		return sessionLaunchedMsg{taskID: taskID, sessionID: id, err: err}
	})
	return nil
}

func (h *home) attachSelected() (tea.Model, tea.Cmd) {
	t := h.selectedTask()
	if t == nil {
		return h, nil
	}
	if t.TmuxWindow == "" {
		return h, h.flash("task has no window to attach to", true)
	}
	h.state = stateAttached
	window := t.TmuxWindow
	attach := func() tea.Msg {
		detached, err := h.manager.Tmux().Attach(window)
		if err != nil {
			return errorMsg{err: fmt.Errorf("attach failed: %w", err)}
		}
		<-detached
		return attachDetachedMsg{}
	}
	return h, tea.Sequence(tea.ExitAltScreen, attach)
}

func (h *home) openPromptInput() (tea.Model, tea.Cmd) {
	return h.openInput(false)
}

func (h *home) openFeedbackInput() (tea.Model, tea.Cmd) {
	return h.openInput(true)
}

func (h *home) openInput(isFeedback bool) (tea.Model, tea.Cmd) {
	t := h.selectedTask()
	if t == nil {
		return h, nil
	}
	if !t.Status.Materialized() {
		return h, h.flash("start the task before prompting it", true)
	}
	title := "Send prompt"
	if isFeedback {
		title = "Send feedback"
	}
	h.promptIn = ui.NewPromptInput(title)
	h.promptTaskID = t.ID
	h.promptIsFeedback = isFeedback
	h.state = statePrompt
	return h, h.promptIn.Init()
}

// sendFollowUp pushes user text into the task's session. A task resting in
// review or needs-work goes back to in-progress; its QA budget starts over.
func (h *home) sendFollowUp(taskID, text string) (tea.Model, tea.Cmd) {
	t := h.project.TaskByID(taskID)
	if t == nil {
		return h, h.flash("task no longer exists", true)
	}
	if h.promptIsFeedback {
		t.RecordFeedback(text)
	}
	h.promptIsFeedback = false

	switch t.Status {
	case session.StatusReview, session.StatusNeedsWork, session.StatusTesting:
		if err := t.Transition(session.StatusInProgress); err != nil {
			return h, h.flashErr(err)
		}
		t.ResetQA()
		h.board.SetTasks(h.project.Tasks)
	}

	window, sessionID := t.TmuxWindow, t.SessionID
	sdk := t.SessionMode == session.ModeSdkManaged && h.client != nil
	images := t.Images
	h.runtime.Enqueue(taskID, "prompt", func(ctx context.Context) tea.Msg {
		var err error
		if sdk && sessionID != "" {
			err = h.client.SendPrompt(ctx, taskID, text, images)
		} else {
			err = h.manager.Tmux().SendPrompt(window, text)
		}
		return promptSentMsg{taskID: taskID, err: err}
	})
	return h, h.persist()
}

// -- main-worktree operations --

func (h *home) applySelected() (tea.Model, tea.Cmd) {
	t := h.selectedTask()
	if t == nil {
		return h, nil
	}
	if t.Status != session.StatusReview {
		return h, h.flash("only tasks in review can be applied", true)
	}
	if applied := h.project.AppliedTask(); applied != nil && applied.ID != t.ID {
		return h, h.flash(fmt.Sprintf("unapply %s first", applied.DisplayID()), true)
	}
	if h.project.AppliedTaskID == t.ID {
		return h, h.flash("task is already applied", true)
	}
	if err := t.Transition(session.StatusApplying); err != nil {
		return h, h.flashErr(err)
	}
	h.board.SetTasks(h.project.Tasks)

	taskID := t.ID
	wt := h.manager.Worktree(t)
	h.runtime.EnqueueMain(taskID, "apply", func(ctx context.Context) tea.Msg {
		result, err := wt.Apply()
		return applyResultMsg{taskID: taskID, result: result, err: err}
	})
	return h, h.persist()
}

func (h *home) unapplySelected() (tea.Model, tea.Cmd) {
	t := h.selectedTask()
	if t == nil {
		return h, nil
	}
	if h.project.AppliedTaskID != t.ID {
		return h, h.flash("task is not applied", true)
	}
	if t.Status != session.StatusReview {
		return h, h.flash("task is busy", true)
	}
	if err := t.Transition(session.StatusApplying); err != nil {
		return h, h.flashErr(err)
	}
	h.board.SetTasks(h.project.Tasks)

	taskID := t.ID
	wt := h.manager.Worktree(t)
	h.runtime.EnqueueMain(taskID, "unapply", func(ctx context.Context) tea.Msg {
		err := wt.Unapply()
		return unapplyResultMsg{taskID: taskID, err: err}
	})
	return h, h.persist()
}

func (h *home) mergeSelected(mode git.MergeMode) (tea.Model, tea.Cmd) {
	t := h.selectedTask()
	if t == nil {
		return h, nil
	}
	if t.Status != session.StatusReview {
		return h, h.flash("only tasks in review can be merged", true)
	}
	if h.project.AppliedTaskID == t.ID {
		return h, h.flash("unapply the task before merging", true)
	}
	prompt := fmt.Sprintf("Merge %s into the default branch?", t.DisplayID())
	if mode == git.MergeKeep {
		prompt = fmt.Sprintf("Merge %s into the default branch? (keeps worktree)", t.DisplayID())
	}
	return h.askConfirm(prompt, func() tea.Cmd {
		if err := t.Transition(session.StatusMerging); err != nil {
			return h.flashErr(err)
		}
		h.board.SetTasks(h.project.Tasks)

		taskID, title := t.ID, t.BoardTitle()
		wt := h.manager.Worktree(t)
		h.runtime.EnqueueMain(taskID, "merge", func(ctx context.Context) tea.Msg {
			err := wt.Merge(title, mode)
			return mergeResultMsg{taskID: taskID, mode: mode, err: err}
		})
		return h.persist()
	})
}

func (h *home) rebaseSelected() (tea.Model, tea.Cmd) {
	t := h.selectedTask()
	if t == nil {
		return h, nil
	}
	if !t.Status.Materialized() || t.Status.Transient() {
		return h, h.flash("task has no branch to rebase", true)
	}
	taskID := t.ID
	wt := h.manager.Worktree(t)
	h.runtime.Enqueue(taskID, "rebase", func(ctx context.Context) tea.Msg {
		return rebaseResultMsg{taskID: taskID, err: wt.Rebase()}
	})
	return h, nil
}

// -- teardown --

func (h *home) discardSelected() (tea.Model, tea.Cmd) {
	t := h.selectedTask()
	if t == nil {
		return h, nil
	}
	if t.Status.Terminal() {
		return h, nil
	}
	if t.Status == session.StatusPlanned || t.Status == session.StatusQueued {
		return h.askConfirm(fmt.Sprintf("Delete task %s?", t.DisplayID()), func() tea.Cmd {
			h.project.RemoveTask(t.ID)
			h.board.SetTasks(h.project.Tasks)
			h.refreshDetail()
			return h.persist()
		})
	}
	if !t.CanTransition(session.StatusDiscarded) {
		return h, h.flash("reset the task before discarding it", true)
	}
	return h.askConfirm(fmt.Sprintf("Discard %s? Its branch and worktree will be deleted.", t.DisplayID()), func() tea.Cmd {
		return h.teardownTask(t, session.StatusDiscarded)
	})
}

func (h *home) resetSelected() (tea.Model, tea.Cmd) {
	t := h.selectedTask()
	if t == nil {
		return h, nil
	}
	if t.Status.Terminal() || t.Status == session.StatusPlanned {
		return h, nil
	}
	if t.Status == session.StatusQueued {
		if err := t.Transition(session.StatusPlanned); err != nil {
			return h, h.flashErr(err)
		}
		h.board.SetTasks(h.project.Tasks)
		return h, h.persist()
	}
	return h.askConfirm(fmt.Sprintf("Reset %s to planned? All work on its branch is lost.", t.DisplayID()), func() tea.Cmd {
		return h.teardownTask(t, session.StatusPlanned)
	})
}

// teardownTask cancels the task's pending work, stops its session, and
// removes its artifacts. The status change happens when the cleanup outcome
// arrives.
func (h *home) teardownTask(t *session.Task, next session.Status) tea.Cmd {
	h.runtime.CancelTask(t.ID)

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
		return cleanupResultMsg{taskID: taskID, next: string(next), err: err}
	})
	return nil
}

// -- small intents --

func (h *home) copyBranch() (tea.Model, tea.Cmd) {
	t := h.selectedTask()
	if t == nil {
		return h, nil
	}
	if t.Branch == "" {
		return h, h.flash("task has no branch yet", true)
	}
	if err := clipboard.WriteAll(t.Branch); err != nil {
		return h, h.flashErr(err)
	}
	return h, h.flash("copied "+t.Branch, false)
}

func (h *home) toggleQA() (tea.Model, tea.Cmd) {
	enabled := !h.project.QAIsEnabled()
	h.project.QAEnabled = &enabled
	label := "QA disabled"
	if enabled {
		label = "QA enabled"
	}
	return h, tea.Batch(h.persist(), h.flash(label, false))
}

// -- periodic commands --

func (h *home) pollWindowsCmd() tea.Cmd {
	return func() tea.Msg {
		dead := h.manager.DeadWindows()
		if len(dead) == 0 {
			return nil
		}
		ids := make([]string, len(dead))
		for i, t := range dead {
			ids[i] = t.ID
		}
		return deadWindowsMsg{taskIDs: ids}
	}
}

func (h *home) refreshStatsCmd() tea.Cmd {
	t := h.board.Selected()
	if t == nil || !t.Status.Materialized() || t.Status.Transient() {
		return nil
	}
	taskID := t.ID
	wt := h.manager.Worktree(t)
	return func() tea.Msg {
		stats, err := wt.Stats()
		if err != nil {
			return diffStatsMsg{taskID: taskID, err: err}
		}
		behind, err := wt.NeedsRebase()
		return diffStatsMsg{taskID: taskID, stats: stats, behind: behind, err: err}
	}
}
