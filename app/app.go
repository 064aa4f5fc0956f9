package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kanblam/kanblam/config"
	"github.com/kanblam/kanblam/config/auditlog"
	"github.com/kanblam/kanblam/log"
	"github.com/kanblam/kanblam/session"
	"github.com/kanblam/kanblam/session/git"
	"github.com/kanblam/kanblam/sidecar"
	"github.com/kanblam/kanblam/signals"
	"github.com/kanblam/kanblam/ui"
)

const (
	windowPollInterval = 5 * time.Second
	metadataInterval   = 10 * time.Second
	statusFlashFor     = 4 * time.Second
)

// Run opens the project at projectPath and drives the TUI until the user
// quits. The co-process and hook watcher are optional: when either is
// unavailable the board still runs with the corresponding features degraded.
func Run(ctx context.Context, projectPath string, appConfig *config.Config, audit auditlog.Logger) error {
	project, reconciled, err := session.Open(projectPath)
	if err != nil {
		return fmt.Errorf("failed to open project: %w", err)
	}
	// Projects without their own QA settings take the global defaults.
	if project.QAEnabled == nil {
		qa := appConfig.IsQaEnabled()
		project.QAEnabled = &qa
	}
	if project.MaxQAAttempts <= 0 {
		project.MaxQAAttempts = appConfig.MaxQaAttempts
	}

	h, err := newHome(ctx, project, reconciled, appConfig, audit)
	if err != nil {
		return err
	}

	p := tea.NewProgram(h, tea.WithAltScreen(), tea.WithContext(ctx))
	h.runtime = NewRuntime(p.Send)
	h.forwardExternalEvents(p.Send)

	_, err = p.Run()
	h.shutdown()
	return err
}

type state int

const (
	stateDefault state = iota
	// stateNewTask is the task creation form.
	stateNewTask
	// stateEditTask is the task edit form, reusing the creation form.
	stateEditTask
	// statePrompt is the follow-up prompt input for a running task.
	statePrompt
	// stateConfirm is a yes/no modal gating a destructive action.
	stateConfirm
	// stateHelp is the keybinding overlay.
	stateHelp
	// stateAudit is the audit-trail overlay.
	stateAudit
	// stateAttached means the terminal is handed to tmux; the TUI is
	// suspended until the user detaches.
	stateAttached
)

type home struct {
	ctx context.Context

	project   *session.Project
	storage   *session.Storage
	manager   *session.Manager
	appConfig *config.Config
	audit     auditlog.Logger

	runtime *Runtime

	// client is nil when the co-process never came up; tasks then run in
	// CLI-interactive mode only.
	client  *sidecar.Client
	watcher *signals.Watcher

	state state
	// confirm holds the pending modal; confirmAction runs when accepted.
	confirm       *ui.Confirm
	confirmAction func() tea.Cmd
	// editTaskID is the task being edited in stateEditTask.
	editTaskID string
	// promptTaskID is the task receiving the follow-up in statePrompt.
	promptTaskID string
	// promptIsFeedback records the follow-up into the task's feedback
	// history as well as sending it.
	promptIsFeedback bool
	// conflictedApply holds the apply that hit a stash-pop conflict, so the
	// user's abort can reverse exactly what it did.
	conflictedApply     *git.ApplyResult
	conflictedApplyTask string

	board     *ui.Board
	detail    *ui.DetailPane
	statusBar *ui.StatusBar
	taskForm  *ui.TaskForm
	promptIn  *ui.PromptInput
	auditPane *ui.AuditPane
	spinner   spinner.Model

	// diffStats caches per-task stats for the detail pane.
	diffStats map[string]git.DiffStats

	// statusSeq guards transient status messages against stale clears.
	statusSeq int

	width  int
	height int
}

func newHome(ctx context.Context, project *session.Project, reconciled session.ReconcileResult, appConfig *config.Config, audit auditlog.Logger) (*home, error) {
	h := &home{
		ctx:       ctx,
		project:   project,
		storage:   session.NewStorage(project.Path),
		manager:   session.NewManager(project, appConfig.ResolvedAgent()),
		appConfig: appConfig,
		audit:     audit,
		spinner:   spinner.New(spinner.WithSpinner(spinner.MiniDot)),
		detail:    ui.NewDetailPane(),
		statusBar: ui.NewStatusBar(),
		diffStats: make(map[string]git.DiffStats),
	}
	h.board = ui.NewBoard(&h.spinner)
	h.statusBar.SetProject(project.Name)

	if err := h.manager.Tmux().Ensure(); err != nil {
		return nil, fmt.Errorf("failed to prepare tmux session: %w", err)
	}

	h.connectSidecar()
	h.startWatcher()

	h.board.SetTasks(project.Tasks)
	h.noteReconciliation(reconciled)
	return h, nil
}

// connectSidecar spawns the co-process if needed and connects. Failure is
// not fatal; the board runs degraded.
func (h *home) connectSidecar() {
	socketPath, err := config.SocketPath()
	if err != nil {
		log.WarningLog.Printf("no socket path: %v", err)
		return
	}
	spawnCtx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
	defer cancel()
	if _, err := sidecar.EnsureRunning(spawnCtx, h.appConfig.SidecarCommand, socketPath); err != nil {
		log.WarningLog.Printf("co-process unavailable, running degraded: %v", err)
		return
	}
	client := sidecar.NewClient(socketPath)
	if err := client.Connect(); err != nil {
		log.WarningLog.Printf("co-process connect failed, running degraded: %v", err)
		return
	}
	h.client = client
	h.statusBar.SetSidecar(true)
}

// startWatcher brings up the hook-signal watcher. Failure is not fatal;
// CLI-interactive tasks then rely on pane polling alone.
func (h *home) startWatcher() {
	dir, err := config.SignalsDir()
	if err != nil {
		log.WarningLog.Printf("no signals dir: %v", err)
		return
	}
	w, err := signals.NewWatcher(dir)
	if err != nil {
		log.WarningLog.Printf("hook watcher unavailable: %v", err)
		return
	}
	if err := w.Start(h.ctx); err != nil {
		log.WarningLog.Printf("hook watcher failed to start: %v", err)
		return
	}
	h.watcher = w
}

// forwardExternalEvents pumps co-process notifications and hook signals into
// the program's message queue.
func (h *home) forwardExternalEvents(send func(tea.Msg)) {
	if h.client != nil {
		go func() {
			for n := range h.client.Notifications() {
				send(sidecarEventMsg{notification: n})
			}
			send(sidecarGoneMsg{})
		}()
	}
	if h.watcher != nil {
		go func() {
			for ev := range h.watcher.Events() {
				send(hookEventMsg{event: ev})
			}
		}()
	}
}

// noteReconciliation surfaces what startup reconciliation found.
func (h *home) noteReconciliation(r session.ReconcileResult) {
	for _, t := range r.Demoted {
		log.WarningLog.Printf("task %s demoted to planned at startup", t.DisplayID())
	}
	switch {
	case len(r.Demoted) > 0:
		h.statusBar.Flash(fmt.Sprintf("%d task(s) lost their worktree and moved back to planned", len(r.Demoted)), true)
	case len(r.Orphans) > 0:
		h.statusBar.Flash(fmt.Sprintf("%d orphaned worktree(s) under worktrees/, discard via kanblam reset or reclaim by id", len(r.Orphans)), true)
	case r.StashWarning != "":
		h.statusBar.Flash(r.StashWarning, true)
	}
}

func (h *home) Init() tea.Cmd {
	return tea.Batch(
		h.spinner.Tick,
		tickAfter(windowPollInterval, windowPollTickMsg{}),
		tickAfter(metadataInterval, metadataTickMsg{}),
	)
}

func tickAfter(d time.Duration, msg tea.Msg) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return msg })
}

// flash shows a transient status message and schedules its expiry.
func (h *home) flash(text string, isErr bool) tea.Cmd {
	h.statusSeq++
	h.statusBar.Flash(text, isErr)
	seq := h.statusSeq
	return tickAfter(statusFlashFor, statusClearMsg{seq: seq})
}

func (h *home) flashErr(err error) tea.Cmd {
	log.ErrorLog.Printf("%v", err)
	return h.flash(err.Error(), true)
}

// persist writes the project state. Failures are logged and surfaced but
// never stop the board; the next mutation retries.
func (h *home) persist() tea.Cmd {
	if err := h.storage.Save(h.project); err != nil {
		log.ErrorLog.Printf("failed to persist tasks: %v", err)
		return h.flash("state save failed: "+err.Error(), true)
	}
	return nil
}

func (h *home) shutdown() {
	if h.runtime != nil {
		h.runtime.Shutdown()
	}
	if h.watcher != nil {
		h.watcher.Stop()
	}
	if h.client != nil {
		_ = h.client.Close()
	}
	if err := h.storage.Save(h.project); err != nil {
		log.ErrorLog.Printf("failed to persist tasks at shutdown: %v", err)
	}
}

func (h *home) View() string {
	if h.width == 0 {
		return "loading..."
	}
	if h.state == stateAttached {
		return ""
	}

	boardView := h.board.View()
	detailView := h.detail.View()
	main := lipgloss.JoinHorizontal(lipgloss.Top, boardView, detailView)
	screen := lipgloss.JoinVertical(lipgloss.Left, main, h.statusBar.View())

	var overlayView string
	switch h.state {
	case stateNewTask, stateEditTask:
		overlayView = h.taskForm.View()
	case statePrompt:
		overlayView = h.promptIn.View()
	case stateConfirm:
		overlayView = h.confirm.View()
	case stateHelp:
		overlayView = ui.HelpView()
	case stateAudit:
		overlayView = h.auditPane.View()
	}
	if overlayView != "" {
		return lipgloss.Place(h.width, h.height, lipgloss.Center, lipgloss.Center, overlayView)
	}
	return screen
}

func (h *home) layout() {
	detailWidth := h.width / 3
	if detailWidth > 60 {
		detailWidth = 60
	}
	boardWidth := h.width - detailWidth
	contentHeight := h.height - 1

	h.board.SetSize(boardWidth, contentHeight)
	h.detail.SetSize(detailWidth, contentHeight)
	h.statusBar.SetSize(h.width)
	if h.auditPane != nil {
		h.auditPane.SetSize(h.width-8, contentHeight-4)
	}
}

// refreshDetail re-renders the detail pane for the selected task.
func (h *home) refreshDetail() {
	t := h.board.Selected()
	h.detail.SetTask(t)
	if t != nil {
		h.detail.SetStats(h.diffStats[t.ID], t.BehindBase)
	}
}
