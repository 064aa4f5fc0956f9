package tmux

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"github.com/kanblam/kanblam/log"
	"golang.org/x/term"
)

// Attach hands a task window to the user's terminal. The returned channel is
// closed when the user detaches (prefix-d) or the window's process exits.
func (s *ProjectSession) Attach(window string) (<-chan struct{}, error) {
	selectCmd := exec.Command("tmux", "select-window", "-t", s.target(window))
	if err := s.cmdExec.Run(selectCmd); err != nil {
		return nil, fmt.Errorf("failed to select window %s: %v", window, err)
	}

	ptmx, err := s.ptyFactory.Start(exec.Command("tmux", "attach-session", "-t", s.sessionName))
	if err != nil {
		return nil, fmt.Errorf("failed to attach to session %s: %w", s.sessionName, err)
	}
	s.ptmx = ptmx

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		ptmx.Close()
		s.ptmx = nil
		return nil, fmt.Errorf("failed to set raw terminal mode: %w", err)
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	go func() {
		for range winch {
			if err := pty.InheritSize(os.Stdin, ptmx); err != nil {
				log.WarningLog.Printf("failed to resize attached pty: %v", err)
			}
		}
	}()
	winch <- syscall.SIGWINCH

	go func() {
		_, _ = io.Copy(ptmx, os.Stdin)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(os.Stdout, ptmx)

		signal.Stop(winch)
		close(winch)
		if err := term.Restore(int(os.Stdin.Fd()), oldState); err != nil {
			log.WarningLog.Printf("failed to restore terminal mode: %v", err)
		}
		ptmx.Close()
		s.ptmx = nil
	}()

	return done, nil
}

// Detach forces any attached client off the project session, unblocking
// Attach's channel.
func (s *ProjectSession) Detach() error {
	detachCmd := exec.Command("tmux", "detach-client", "-s", s.sessionName)
	return s.cmdExec.Run(detachCmd)
}
