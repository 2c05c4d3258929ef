//go:build !windows

package execs

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup signals the process group led by proc, falling back to the
// process itself if the group is already gone.
func signalGroup(proc *os.Process, sig os.Signal) error {
	sysSig, ok := sig.(syscall.Signal)
	if !ok {
		return proc.Signal(sig) //nolint:wrapcheck // Wrapped by the caller.
	}

	err := syscall.Kill(-proc.Pid, sysSig)
	if errors.Is(err, syscall.ESRCH) {
		return proc.Signal(sig) //nolint:wrapcheck // Wrapped by the caller.
	}

	return err //nolint:wrapcheck // Wrapped by the caller.
}

func groupAlive(proc *os.Process, _ bool) bool {
	err := syscall.Kill(-proc.Pid, 0)

	return err == nil || errors.Is(err, syscall.EPERM)
}

func isProcessGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH)
}

func exitCode(state *os.ProcessState) *int {
	if state == nil {
		return nil
	}

	var code int

	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		code = -int(status.Signal())
	} else {
		code = state.ExitCode()
	}

	return &code
}
