package tmux

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/kanblam/kanblam/log"
)

// idleTailLines is how much of the pane bottom is inspected for an idle
// prompt when hook signals are silent.
const idleTailLines = 15

// paneMonitor tracks a window's pane content between liveness ticks. Hashes
// are stored instead of content to save memory.
type paneMonitor struct {
	prevOutputHash []byte
	// captureFailures counts consecutive capture-pane failures so a
	// permanently gone pane does not log every tick.
	captureFailures int
	// unchangedTicks debounces idle detection: brief pauses between tool
	// calls must not read as idle.
	unchangedTicks int
}

// hash hashes pane content after stripping ANSI sequences, so cursor blink
// and color resets do not register as changes.
func (m *paneMonitor) hash(s string) []byte {
	h := sha256.New()
	h.Write([]byte(ansi.Strip(s)))
	return h.Sum(nil)
}

func (s *ProjectSession) monitorFor(window string) *paneMonitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[window]
	if !ok {
		m = &paneMonitor{}
		s.monitors[window] = m
	}
	return m
}

// CaptureWindow captures a task window's visible pane content with escape
// sequences preserved.
func (s *ProjectSession) CaptureWindow(window string) (string, error) {
	captureCmd := exec.Command("tmux", "capture-pane", "-p", "-e", "-J", "-t", s.target(window))
	output, err := s.cmdExec.Output(captureCmd)
	if err != nil {
		return "", fmt.Errorf("error capturing pane content: %v", err)
	}
	return string(output), nil
}

// CaptureWindowWithHistory captures pane content including scrollback between
// the given line offsets ("-" means the start or end of history).
func (s *ProjectSession) CaptureWindowWithHistory(window, start, end string) (string, error) {
	captureCmd := exec.Command("tmux", "capture-pane", "-p", "-e", "-J",
		"-S", start, "-E", end, "-t", s.target(window))
	output, err := s.cmdExec.Output(captureCmd)
	if err != nil {
		return "", fmt.Errorf("failed to capture pane history: %v", err)
	}
	return string(output), nil
}

// HasUpdated reports whether a window's pane content changed since the last
// tick, and whether the pane currently shows an idle prompt. Unchanged
// content is only reported after a debounce threshold so API waits between
// tool calls do not read as idle.
func (s *ProjectSession) HasUpdated(window string) (updated bool, idle bool) {
	m := s.monitorFor(window)

	content, err := s.CaptureWindow(window)
	if err != nil {
		m.captureFailures++
		if m.captureFailures == 1 {
			log.ErrorLog.Printf("error capturing pane content for %s: %v", window, err)
		} else if m.captureFailures%30 == 0 {
			log.WarningLog.Printf("error capturing pane content for %s (failure #%d): %v",
				window, m.captureFailures, err)
		}
		return false, false
	}
	m.captureFailures = 0

	idle = paneShowsPrompt(content)

	newHash := m.hash(content)
	if !bytes.Equal(newHash, m.prevOutputHash) {
		m.prevOutputHash = newHash
		m.unchangedTicks = 0
		return true, idle
	}

	m.unchangedTicks++
	if m.unchangedTicks < 6 {
		return true, idle
	}
	return false, idle
}

// boxChars are the box-drawing characters TUI input frames are built from,
// plus whitespace. Lines made only of these are borders, not content.
const boxChars = "─│╭╮╰╯┌┐└┘├┤ \t"

// paneShowsPrompt reports whether the tail of the pane looks like an agent
// waiting at its input prompt: the bottom-most content line, once ANSI codes
// and frame borders are stripped, is a bare ❯ or > prompt (possibly with
// typed-ahead text after it).
func paneShowsPrompt(content string) bool {
	plain := ansi.Strip(content)
	lines := strings.Split(plain, "\n")
	if len(lines) > idleTailLines {
		lines = lines[len(lines)-idleTailLines:]
	}
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.Trim(lines[i], boxChars)
		if line == "" {
			continue
		}
		return line == "❯" || line == ">" ||
			strings.HasPrefix(line, "❯ ") || strings.HasPrefix(line, "> ")
	}
	return false
}
