package tmux

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// PtyFactory starts commands attached to a pseudo-terminal. Tests substitute
// a mock so no tmux server is needed.
type PtyFactory interface {
	Start(cmd *exec.Cmd) (*os.File, error)
	Close()
}

type realPtyFactory struct{}

func (realPtyFactory) Start(cmd *exec.Cmd) (*os.File, error) {
	return pty.Start(cmd)
}

func (realPtyFactory) Close() {}

// MakePtyFactory returns the production PTY factory.
func MakePtyFactory() PtyFactory {
	return realPtyFactory{}
}
