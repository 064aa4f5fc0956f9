package app

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kanblam/kanblam/config/auditlog"
	"github.com/kanblam/kanblam/keys"
	"github.com/kanblam/kanblam/log"
	"github.com/kanblam/kanblam/session"
	"github.com/kanblam/kanblam/session/git"
	"github.com/kanblam/kanblam/ui"
)

func (h *home) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		h.width, h.height = msg.Width, msg.Height
		h.layout()
		return h, nil

	case tea.KeyMsg:
		return h.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		h.spinner, cmd = h.spinner.Update(msg)
		return h, cmd

	case taskStartedMsg:
		return h.onTaskStarted(msg)
	case sessionLaunchedMsg:
		return h.onSessionLaunched(msg)
	case promptSentMsg:
		if msg.err != nil {
			return h, h.flashErr(msg.err)
		}
		return h, nil
	case summarizedMsg:
		return h.onSummarized(msg)

	case sidecarEventMsg:
		return h.onSidecarEvent(msg)
	case sidecarGoneMsg:
		h.statusBar.SetSidecar(false)
		return h, h.flash("agent co-process is gone, tasks continue in CLI mode", true)
	case sessionsListedMsg:
		return h.onSessionsListed(msg)
	case hookEventMsg:
		return h.onHookEvent(msg)

	case applyResultMsg:
		return h.onApplyResult(msg)
	case unapplyResultMsg:
		return h.onUnapplyResult(msg)
	case mergeResultMsg:
		return h.onMergeResult(msg)
	case rebaseResultMsg:
		return h.onRebaseResult(msg)
	case cleanupResultMsg:
		return h.onCleanupResult(msg)
	case sessionStoppedCheckMsg:
		if msg.err != nil {
			// The session may already be gone; teardown continues.
			log.WarningLog.Printf("stop_session for %s: %v", msg.taskID, msg.err)
		}
		return h, nil
	case opCancelledMsg:
		return h.onOpCancelled(msg)

	case diffStatsMsg:
		return h.onDiffStats(msg)
	case persistedMsg:
		if msg.err != nil {
			return h, h.flash("state save failed: "+msg.err.Error(), true)
		}
		return h, nil

	case windowPollTickMsg:
		return h, tea.Batch(h.pollWindowsCmd(), tickAfter(windowPollInterval, windowPollTickMsg{}))
	case deadWindowsMsg:
		return h.onDeadWindows(msg)
	case metadataTickMsg:
		return h, tea.Batch(h.refreshStatsCmd(), tickAfter(metadataInterval, metadataTickMsg{}))

	case statusClearMsg:
		if msg.seq == h.statusSeq {
			h.statusBar.ClearFlash()
		}
		return h, nil
	case errorMsg:
		return h, h.flashErr(msg.err)

	case attachDetachedMsg:
		h.state = stateDefault
		return h, tea.EnterAltScreen
	}

	return h, nil
}

// attachDetachedMsg is posted when the user detaches from the tmux window.
type attachDetachedMsg struct{}

func (h *home) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return h, tea.Quit
	}

	switch h.state {
	case stateNewTask, stateEditTask:
		return h.handleFormKey(msg)
	case statePrompt:
		return h.handlePromptKey(msg)
	case stateConfirm:
		return h.handleConfirmKey(msg)
	case stateHelp, stateAudit:
		// Any key dismisses an informational overlay.
		h.state = stateDefault
		return h, nil
	case stateAttached:
		return h, nil
	}

	name, ok := keys.GlobalKeyStringsMap[msg.String()]
	if !ok {
		return h, nil
	}

	switch name {
	case keys.KeyUp:
		h.board.Up()
	case keys.KeyDown:
		h.board.Down()
	case keys.KeyLeft:
		h.board.Left()
	case keys.KeyRight:
		h.board.Right()
	case keys.KeyQuit:
		return h, tea.Quit
	case keys.KeyHelp:
		h.state = stateHelp
		return h, nil
	case keys.KeyAudit:
		return h.openAudit()
	case keys.KeyNew:
		return h.openNewTaskForm()
	case keys.KeyEdit:
		return h.openEditForm()
	case keys.KeyStart:
		return h.startSelected(false)
	case keys.KeyEnter:
		return h.attachSelected()
	case keys.KeyPrompt:
		return h.openPromptInput()
	case keys.KeyFeedback:
		return h.openFeedbackInput()
	case keys.KeyApply:
		return h.applySelected()
	case keys.KeyUnapply:
		return h.unapplySelected()
	case keys.KeyMerge:
		return h.mergeSelected(git.MergeSquash)
	case keys.KeyMergeKeep:
		return h.mergeSelected(git.MergeKeep)
	case keys.KeyRebase:
		return h.rebaseSelected()
	case keys.KeyDiscard:
		return h.discardSelected()
	case keys.KeyReset:
		return h.resetSelected()
	case keys.KeyCopyBranch:
		return h.copyBranch()
	case keys.KeyToggleQA:
		return h.toggleQA()
	}

	h.refreshDetail()
	return h, nil
}

func (h *home) handleFormKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	cmd := h.taskForm.Update(msg)
	if h.taskForm.Cancelled() {
		h.state = stateDefault
		h.taskForm = nil
		return h, nil
	}
	if !h.taskForm.Completed() {
		return h, cmd
	}

	title, description := h.taskForm.Title(), h.taskForm.Description()
	editID := h.editTaskID
	h.taskForm = nil
	h.editTaskID = ""
	wasEdit := h.state == stateEditTask
	h.state = stateDefault

	if title == "" {
		return h, h.flash("task title cannot be empty", true)
	}
	if wasEdit {
		return h.finishEditTask(editID, title, description)
	}
	return h.finishNewTask(title, description)
}

func (h *home) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	cmd := h.promptIn.Update(msg)
	if h.promptIn.Cancelled() {
		h.state = stateDefault
		h.promptIn = nil
		h.promptTaskID = ""
		return h, nil
	}
	if !h.promptIn.Completed() {
		return h, cmd
	}

	text := h.promptIn.Value()
	taskID := h.promptTaskID
	h.promptIn = nil
	h.promptTaskID = ""
	h.state = stateDefault
	if text == "" {
		return h, nil
	}
	return h.sendFollowUp(taskID, text)
}

func (h *home) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	cmd := h.confirm.Update(msg)
	if !h.confirm.Completed() {
		return h, cmd
	}
	accepted := h.confirm.Accepted()
	action := h.confirmAction
	h.confirm = nil
	h.confirmAction = nil
	h.state = stateDefault
	if !accepted || action == nil {
		return h, nil
	}
	return h, action()
}

// askConfirm opens a yes/no modal; action runs only on yes.
func (h *home) askConfirm(prompt string, action func() tea.Cmd) (tea.Model, tea.Cmd) {
	h.confirm = ui.NewConfirm(prompt)
	h.confirmAction = action
	h.state = stateConfirm
	return h, h.confirm.Init()
}

func (h *home) openAudit() (tea.Model, tea.Cmd) {
	events, err := h.audit.Query(auditlog.QueryFilter{Project: h.project.Slug, Limit: 200})
	if err != nil {
		return h, h.flashErr(err)
	}
	if h.auditPane == nil {
		h.auditPane = ui.NewAuditPane()
		h.layout()
	}
	h.auditPane.SetEvents(events)
	h.state = stateAudit
	return h, nil
}

// selectedTask returns the highlighted task, flashing when none is selected.
func (h *home) selectedTask() *session.Task {
	t := h.board.Selected()
	if t == nil {
		h.statusBar.Flash("no task selected", true)
	}
	return t
}
