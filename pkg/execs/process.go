package execs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// LineWriter receives captured output, one line at a time. Lines keep their
// trailing newline; the last line of a stream may not have one.
type LineWriter interface {
	WriteLine(line string) error
}

// Process is a started external command.
//
// All methods are safe for concurrent use. Exactly one goroutine should call
// [Process.Capture].
type Process struct {
	started  time.Time
	cmd      *exec.Cmd
	output   *os.File
	exitCode *int
	done     chan struct{}
	cmdline  string
	mu       sync.RWMutex
	stop     atomic.Bool
}

func newProcess(cmd *exec.Cmd, output *os.File, cmdline string) *Process {
	return &Process{
		started: time.Now(),
		cmd:     cmd,
		output:  output,
		done:    make(chan struct{}),
		cmdline: cmdline,
	}
}

// PID returns the platform process ID.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Started reports when the process was started.
func (p *Process) Started() time.Time {
	return p.started
}

// String returns the command line of the process.
func (p *Process) String() string {
	return p.cmdline
}

// Done returns a channel that is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits and returns its exit code.
//
// A nil code means it could not be determined. Processes killed by a signal
// report the negated signal number. Wait may be called any number of times,
// including after the process is long gone.
func (p *Process) Wait() *int {
	<-p.done

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.exitCode == nil {
		return nil
	}

	code := *p.exitCode

	return &code
}

func (p *Process) wait() {
	_ = p.cmd.Wait() //nolint:errcheck // The exit status is read from ProcessState.

	p.mu.Lock()
	p.exitCode = exitCode(p.cmd.ProcessState)
	p.mu.Unlock()

	close(p.done)
}

// Terminate delivers sig to the process group. It does not wait for the
// process to exit; use [Process.Wait] for that.
//
// The group is signalled even after the process itself has exited, so
// descendants it left behind receive sig too. Signalling a group that is
// already gone is not an error.
func (p *Process) Terminate(sig os.Signal) error {
	err := signalGroup(p.cmd.Process, sig)
	if err == nil || isProcessGone(err) {
		return nil
	}

	return fmt.Errorf("signal %s: %w", sig, err)
}

// Kill forcefully terminates the process group.
func (p *Process) Kill() error {
	return p.Terminate(os.Kill)
}

// GroupAlive reports whether any member of the process group, including
// descendants of an exited process, is still running.
func (p *Process) GroupAlive() bool {
	return groupAlive(p.cmd.Process, p.Exited())
}

// Capture reads the merged output stream line by line and hands each line to
// w, until the stream ends or capturing is stopped.
//
// It reports whether capturing was stopped before the end of the stream.
// A failing writer does not stop the read loop, since the child would block
// on a full pipe; the first write error is returned at the end.
func (p *Process) Capture(w LineWriter) (bool, error) {
	defer p.output.Close() //nolint:errcheck // Ignore errors.

	var writeErr error

	r := bufio.NewReader(p.output)
	for {
		if p.stop.Load() {
			return true, writeErr
		}

		line, err := r.ReadString('\n')
		if line != "" && writeErr == nil {
			if werr := w.WriteLine(line); werr != nil {
				writeErr = fmt.Errorf("write output: %w", werr)
			}
		}

		switch {
		case err == nil:
			continue

		case errors.Is(err, io.EOF):
			return false, writeErr

		case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, os.ErrClosed):
			return true, writeErr
		}

		return false, errors.Join(writeErr, fmt.Errorf("read output: %w", err))
	}
}

// StopCapture makes a running [Process.Capture] return as soon as possible,
// without waiting for output that may never arrive.
func (p *Process) StopCapture() {
	p.stop.Store(true)
	p.interruptRead(time.Now())
}

// StopCaptureAfter makes [Process.Capture] give up reading after d, unless
// the output stream ends first. It is used once the process has exited but
// a descendant may still hold the output pipe open.
func (p *Process) StopCaptureAfter(d time.Duration) {
	p.interruptRead(time.Now().Add(d))
}

func (p *Process) interruptRead(deadline time.Time) {
	err := p.output.SetReadDeadline(deadline)
	if err != nil && !errors.Is(err, os.ErrClosed) {
		// Not pollable; closing the reader unblocks the read instead.
		_ = p.output.Close() //nolint:errcheck // Ignore errors.
	}
}
