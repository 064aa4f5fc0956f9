package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kanblam/kanblam/app"
	cmdpkg "github.com/kanblam/kanblam/cmd"
	"github.com/kanblam/kanblam/config"
	"github.com/kanblam/kanblam/config/auditlog"
	sentrypkg "github.com/kanblam/kanblam/internal/sentry"
	"github.com/kanblam/kanblam/log"
	"github.com/kanblam/kanblam/session"
	"github.com/kanblam/kanblam/session/git"
	"github.com/kanblam/kanblam/session/tmux"
	"github.com/kanblam/kanblam/signals"
)

var (
	version   = "0.1.0"
	agentFlag string

	rootCmd = &cobra.Command{
		Use:   "kanblam",
		Short: "kanblam - run parallel AI agent sessions on a kanban board",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg := config.LoadConfig()
			if err := sentrypkg.Init(version, cfg.IsTelemetryEnabled()); err != nil {
				// Non-fatal: crash reporting must not prevent startup.
				_ = err
			}
			defer sentrypkg.Flush()
			defer sentrypkg.RecoverPanic()

			log.Initialize(cfg.IsTelemetryEnabled())
			defer log.Close()

			projectPath, err := filepath.Abs(".")
			if err != nil {
				return fmt.Errorf("failed to get current directory: %w", err)
			}
			if !git.IsGitRepo(projectPath) {
				return fmt.Errorf("kanblam must be run from within a git repository")
			}

			if agentFlag != "" {
				cfg.AgentProgram = agentFlag
			}
			sentrypkg.TagRun(sentrypkg.RunContext{
				Agent:   cfg.ResolvedAgent(),
				Project: filepath.Base(projectPath),
				QA:      cfg.IsQaEnabled(),
			})

			audit := openAuditLog(cfg)
			defer audit.Close()

			return app.Run(ctx, projectPath, cfg, audit)
		},
	}

	signalType    string
	signalSession string
	signalMessage string

	signalCmd = &cobra.Command{
		Use:   "signal <event> [task-id]",
		Short: "Drop a hook signal file for the running board (used by agent hooks)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.SignalsDir()
			if err != nil {
				return err
			}
			projectDir, _ := filepath.Abs(".")

			sig := signals.Signal{
				Event:            args[0],
				ProjectDir:       projectDir,
				SessionID:        signalSession,
				NotificationType: signalType,
				Message:          signalMessage,
			}
			if len(args) > 1 {
				sig.TaskID = args[1]
			}
			return signals.WriteSignal(dir, sig)
		},
	}

	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Delete stored tasks and task worktrees for this repository, and every kanblam tmux session",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize()
			defer log.Close()

			projectPath, err := filepath.Abs(".")
			if err != nil {
				return fmt.Errorf("failed to get current directory: %w", err)
			}
			if !git.IsGitRepo(projectPath) {
				return fmt.Errorf("kanblam reset must be run from within a git repository")
			}

			if err := session.NewStorage(projectPath).Delete(); err != nil {
				return fmt.Errorf("failed to delete task state: %w", err)
			}
			cmd.Println("Task state deleted")

			if err := tmux.CleanupSessions(cmdpkg.MakeExecutor()); err != nil {
				return fmt.Errorf("failed to cleanup tmux sessions: %w", err)
			}
			cmd.Println("Tmux sessions cleaned up")

			if err := git.CleanupWorktrees(projectPath); err != nil {
				return fmt.Errorf("failed to cleanup worktrees: %w", err)
			}
			cmd.Println("Worktrees cleaned up")
			return nil
		},
	}

	debugCmd = &cobra.Command{
		Use:   "debug",
		Short: "Print config paths and effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()

			configDir, err := config.GetConfigDir()
			if err != nil {
				return fmt.Errorf("failed to get config directory: %w", err)
			}
			signalsDir, _ := config.SignalsDir()
			socketPath, _ := config.SocketPath()
			auditPath, _ := config.AuditDBPath()

			configJSON, _ := json.MarshalIndent(cfg, "", "  ")
			cmd.Printf("Config: %s\n%s\n", filepath.Join(configDir, config.ConfigFileName), configJSON)
			cmd.Printf("Signals dir: %s\n", signalsDir)
			cmd.Printf("Sidecar socket: %s\n", socketPath)
			cmd.Printf("Audit database: %s\n", auditPath)

			if projectPath, err := filepath.Abs("."); err == nil && git.IsGitRepo(projectPath) {
				cmd.Printf("Task state: %s\n", session.NewStorage(projectPath).Path())
			}
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kanblam",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("kanblam version %s\n", version)
		},
	}
)

// openAuditLog returns the sqlite audit trail, or a no-op logger when the
// trail is disabled or the database cannot be opened.
func openAuditLog(cfg *config.Config) auditlog.Logger {
	if !cfg.IsAuditEnabled() {
		return auditlog.NopLogger()
	}
	dbPath, err := config.AuditDBPath()
	if err != nil {
		log.ErrorLog.Printf("failed to resolve audit database path: %v", err)
		return auditlog.NopLogger()
	}
	logger, err := auditlog.NewSQLiteLogger(dbPath)
	if err != nil {
		log.ErrorLog.Printf("failed to open audit database: %v", err)
		return auditlog.NopLogger()
	}
	return logger
}

func init() {
	rootCmd.Flags().StringVarP(&agentFlag, "agent", "a", "",
		"Agent CLI to launch in task windows (overrides config)")

	signalCmd.Flags().StringVar(&signalType, "type", "", "Notification subtype (permission, idle, elicitation)")
	signalCmd.Flags().StringVar(&signalSession, "session", "", "Agent session id the signal belongs to")
	signalCmd.Flags().StringVar(&signalMessage, "message", "", "Human-readable signal detail")

	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
