package cmd

import (
	"os/exec"
	"strings"
)

// Executor runs external commands. The indirection exists so tests can assert
// on the exact commands a component issues without spawning processes.
type Executor interface {
	Run(cmd *exec.Cmd) error
	Output(cmd *exec.Cmd) ([]byte, error)
}

type realExecutor struct{}

func (realExecutor) Run(cmd *exec.Cmd) error {
	return cmd.Run()
}

func (realExecutor) Output(cmd *exec.Cmd) ([]byte, error) {
	return cmd.Output()
}

// MakeExecutor returns an Executor backed by os/exec.
func MakeExecutor() Executor {
	return realExecutor{}
}

// ToString renders a command as the shell-like string used in log lines and
// test assertions.
func ToString(cmd *exec.Cmd) string {
	return strings.Join(cmd.Args, " ")
}
