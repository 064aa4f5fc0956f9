package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kanblam/kanblam/log"
)

const (
	ConfigFileName = "config.json"
	defaultAgent   = "claude"

	// EnvAgent overrides the agent executable path.
	EnvAgent = "KANBLAM_AGENT"
	// EnvSocket overrides the co-process socket path.
	EnvSocket = "KANBLAM_SOCKET"
	// EnvSignalsDir overrides the hook-signals directory.
	EnvSignalsDir = "KANBLAM_SIGNALS_DIR"
)

var aliasRegex = regexp.MustCompile(`(?:aliased to|->|=)\s*([^\s]+)`)

// GetConfigDir returns the path of ~/.kanblam, creating nothing.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".kanblam"), nil
}

// SignalsDir returns the directory agent hooks drop signal files into.
// The KANBLAM_SIGNALS_DIR environment variable overrides the default.
func SignalsDir() (string, error) {
	if dir := os.Getenv(EnvSignalsDir); dir != "" {
		return dir, nil
	}
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "signals"), nil
}

// SocketPath returns the co-process Unix socket path.
// The KANBLAM_SOCKET environment variable overrides the default.
func SocketPath() (string, error) {
	if p := os.Getenv(EnvSocket); p != "" {
		return p, nil
	}
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "sidecar.sock"), nil
}

// AuditDBPath returns the path of the task audit trail database.
func AuditDBPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "audit.db"), nil
}

// Config is the per-user global configuration at ~/.kanblam/config.json.
type Config struct {
	// AgentProgram is the interactive agent CLI launched in task windows.
	AgentProgram string `json:"agent_program"`
	// SidecarCommand launches the co-process when it is not already running.
	SidecarCommand string `json:"sidecar_command,omitempty"`
	// QaEnabled is the default QA setting for new projects.
	QaEnabled *bool `json:"qa_enabled,omitempty"`
	// MaxQaAttempts bounds the QA retry loop per task.
	MaxQaAttempts int `json:"max_qa_attempts"`
	// NotificationsEnabled controls desktop notifications when an agent
	// finishes a turn.
	NotificationsEnabled *bool `json:"notifications_enabled,omitempty"`
	// TelemetryEnabled controls crash reporting via Sentry.
	// Defaults to true when not set.
	TelemetryEnabled *bool `json:"telemetry_enabled,omitempty"`
	// AuditEnabled controls the sqlite audit trail. Defaults to true.
	AuditEnabled *bool `json:"audit_enabled,omitempty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	program, err := GetDefaultAgent()
	if err != nil {
		log.ErrorLog.Printf("failed to resolve agent program: %v", err)
		program = defaultAgent
	}
	return &Config{
		AgentProgram:  program,
		MaxQaAttempts: 3,
	}
}

// IsQaEnabled reports the default QA setting. Defaults to true.
func (c *Config) IsQaEnabled() bool {
	if c.QaEnabled == nil {
		return true
	}
	return *c.QaEnabled
}

// AreNotificationsEnabled defaults to true when the field is not set.
func (c *Config) AreNotificationsEnabled() bool {
	if c.NotificationsEnabled == nil {
		return true
	}
	return *c.NotificationsEnabled
}

// IsTelemetryEnabled defaults to true when the field is not set.
func (c *Config) IsTelemetryEnabled() bool {
	if c.TelemetryEnabled == nil {
		return true
	}
	return *c.TelemetryEnabled
}

// IsAuditEnabled defaults to true when the field is not set.
func (c *Config) IsAuditEnabled() bool {
	if c.AuditEnabled == nil {
		return true
	}
	return *c.AuditEnabled
}

// ResolvedAgent returns the agent executable, honoring the KANBLAM_AGENT
// environment override.
func (c *Config) ResolvedAgent() string {
	if p := os.Getenv(EnvAgent); p != "" {
		return p
	}
	if c.AgentProgram != "" {
		return c.AgentProgram
	}
	return defaultAgent
}

// GetDefaultAgent finds the agent CLI, checking shell alias resolution first,
// then PATH lookup.
func GetDefaultAgent() (string, error) {
	if path, err := findCommand(defaultAgent); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%s command not found in aliases or PATH", defaultAgent)
}

func findCommand(name string) (string, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/bash"
	}

	// Force the shell to load the user's profile so aliases resolve.
	var shellCmd string
	if strings.Contains(shell, "zsh") {
		shellCmd = fmt.Sprintf("source ~/.zshrc &>/dev/null || true; which %s", name)
	} else if strings.Contains(shell, "bash") {
		shellCmd = fmt.Sprintf("source ~/.bashrc &>/dev/null || true; which %s", name)
	} else {
		shellCmd = fmt.Sprintf("which %s", name)
	}

	cmd := exec.Command(shell, "-c", shellCmd)
	output, err := cmd.Output()
	if err == nil && len(output) > 0 {
		if path := parseCommandOutput(string(output)); path != "" {
			return path, nil
		}
	}

	commandPath, err := exec.LookPath(name)
	if err == nil {
		return commandPath, nil
	}

	return "", fmt.Errorf("%s command not found in aliases or PATH", name)
}

func parseCommandOutput(output string) string {
	path := strings.TrimSpace(output)
	if path == "" {
		return ""
	}
	matches := aliasRegex.FindStringSubmatch(path)
	if len(matches) > 1 {
		return matches[1]
	}
	return path
}

// LoadConfig reads ~/.kanblam/config.json, writing defaults on first run.
// Never fails: any problem falls back to DefaultConfig.
func LoadConfig() *Config {
	configDir, err := GetConfigDir()
	if err != nil {
		log.ErrorLog.Printf("failed to get config directory: %v", err)
		return DefaultConfig()
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			defaultCfg := DefaultConfig()
			if saveErr := saveConfig(defaultCfg); saveErr != nil {
				log.WarningLog.Printf("failed to save default config: %v", saveErr)
			}
			return defaultCfg
		}
		log.WarningLog.Printf("failed to read config file: %v", err)
		return DefaultConfig()
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		log.ErrorLog.Printf("failed to parse config file: %v", err)
		return DefaultConfig()
	}
	if config.MaxQaAttempts <= 0 {
		config.MaxQaAttempts = 3
	}
	return &config
}

func saveConfig(config *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(configDir, ConfigFileName), data, 0o644)
}

// SaveConfig persists the configuration to disk.
func SaveConfig(config *Config) error {
	return saveConfig(config)
}
