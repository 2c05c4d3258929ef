//go:build windows

package execs

import (
	"errors"
	"os"
	"os/exec"
)

func setProcessGroup(_ *exec.Cmd) {}

// Windows has no process groups or hang-up signal; any termination request
// kills the process.
func signalGroup(proc *os.Process, _ os.Signal) error {
	return proc.Kill() //nolint:wrapcheck // Wrapped by the caller.
}

func groupAlive(_ *os.Process, exited bool) bool {
	return !exited
}

func isProcessGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}

func exitCode(state *os.ProcessState) *int {
	if state == nil {
		return nil
	}

	code := state.ExitCode()

	return &code
}
