//go:build !windows

package execs_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/watchdo/pkg/execs"
)

type lineRecorder struct {
	lines []string
	mu    sync.Mutex
}

func (r *lineRecorder) WriteLine(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines = append(r.lines, line)

	return nil
}

func (r *lineRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.lines...)
}

func shell(t *testing.T, script string) execs.Command {
	t.Helper()

	cmd, err := execs.NewCommand([]string{"sh", "-c", script}, execs.WithBaseEnv(os.Environ()))
	require.NoError(t, err)

	return cmd
}

func TestStart_CapturesMergedOutput(t *testing.T) {
	t.Parallel()

	p, err := execs.Start(t.Context(), shell(t, "echo out; echo err >&2; printf tail"), t.TempDir())
	require.NoError(t, err)

	rec := &lineRecorder{}
	stopped, err := p.Capture(rec)
	require.NoError(t, err)
	assert.False(t, stopped)

	code := p.Wait()
	require.NotNil(t, code)
	assert.Equal(t, 0, *code)
	assert.Equal(t, []string{"out\n", "err\n", "tail"}, rec.Lines())
}

func TestStart_WorkingDirectoryAndEnv(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cmd := shell(t, `pwd; echo "$WATCHDO_TEST"`)
	cmd.Env = map[string]string{"WATCHDO_TEST": "value"}

	p, err := execs.Start(t.Context(), cmd, dir)
	require.NoError(t, err)

	rec := &lineRecorder{}
	_, err = p.Capture(rec)
	require.NoError(t, err)
	p.Wait()

	lines := rec.Lines()
	require.Len(t, lines, 2)

	// Temp dirs may be symlinked (e.g. /var on macOS).
	want, err := os.Stat(dir)
	require.NoError(t, err)
	got, err := os.Stat(lines[0][:len(lines[0])-1])
	require.NoError(t, err)
	assert.True(t, os.SameFile(want, got))

	assert.Equal(t, "value\n", lines[1])
	assert.NotContains(t, os.Environ(), "WATCHDO_TEST=value")
}

func TestStart_ExitCode(t *testing.T) {
	t.Parallel()

	p, err := execs.Start(t.Context(), shell(t, "exit 3"), t.TempDir())
	require.NoError(t, err)

	_, err = p.Capture(&lineRecorder{})
	require.NoError(t, err)

	code := p.Wait()
	require.NotNil(t, code)
	assert.Equal(t, 3, *code)
	assert.True(t, p.Exited())

	// Repeated waits return the same code.
	again := p.Wait()
	require.NotNil(t, again)
	assert.Equal(t, 3, *again)
}

func TestStart_NotFound(t *testing.T) {
	t.Parallel()

	cmd, err := execs.NewCommand([]string{"watchdo-this-command-does-not-exist"})
	require.NoError(t, err)

	p, err := execs.Start(t.Context(), cmd, t.TempDir())
	require.ErrorIs(t, err, execs.ErrSpawn)
	assert.Nil(t, p)
}

func TestStart_EmptyCommand(t *testing.T) {
	t.Parallel()

	_, err := execs.Start(t.Context(), execs.Command{}, t.TempDir())
	require.ErrorIs(t, err, execs.ErrEmptyCommand)
}

func TestProcess_Terminate(t *testing.T) {
	t.Parallel()

	p, err := execs.Start(t.Context(), shell(t, "echo ready; sleep 30"), t.TempDir())
	require.NoError(t, err)

	captured := make(chan struct{})
	rec := &lineRecorder{}

	go func() {
		defer close(captured)

		_, _ = p.Capture(rec) //nolint:errcheck // Checked via the recorder.
	}()

	require.Eventually(t, func() bool {
		return len(rec.Lines()) > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Terminate(syscall.SIGHUP))

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after SIGHUP")
	}

	code := p.Wait()
	require.NotNil(t, code)
	assert.Equal(t, -int(syscall.SIGHUP), *code)

	// The whole group got the signal, so the pipe closes.
	select {
	case <-captured:
	case <-time.After(5 * time.Second):
		t.Fatal("capture did not finish")
	}

	// Signalling an exited process is not an error.
	require.NoError(t, p.Terminate(syscall.SIGHUP))
	require.NoError(t, p.Kill())
}

func TestProcess_KillIgnoresHangup(t *testing.T) {
	t.Parallel()

	p, err := execs.Start(t.Context(), shell(t, `trap "" HUP; echo ready; while :; do sleep 1; done`), t.TempDir())
	require.NoError(t, err)

	rec := &lineRecorder{}

	go func() {
		_, _ = p.Capture(rec) //nolint:errcheck // Not under test.
	}()

	require.Eventually(t, func() bool {
		return len(rec.Lines()) > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Terminate(syscall.SIGHUP))

	select {
	case <-p.Done():
		t.Fatal("process should ignore SIGHUP")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, p.Kill())

	code := p.Wait()
	require.NotNil(t, code)
	assert.Equal(t, -int(syscall.SIGKILL), *code)
}

func TestProcess_KillReachesLeftoverGroupMembers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid")

	// The descendant ignores SIGHUP and outlives the process itself.
	p, err := execs.Start(t.Context(),
		shell(t, `sh -c 'trap "" HUP; echo $$ > pid; exec sleep 30' & exec sleep 30`),
		dir,
	)
	require.NoError(t, err)

	go func() {
		_, _ = p.Capture(&lineRecorder{}) //nolint:errcheck // Not under test.
	}()

	var pid int

	require.Eventually(t, func() bool {
		pid = readPID(pidFile)

		return pid > 0
	}, 5*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		_ = syscall.Kill(pid, syscall.SIGKILL) //nolint:errcheck // Best effort.
	})

	require.NoError(t, p.Terminate(syscall.SIGHUP))

	code := p.Wait()
	require.NotNil(t, code)
	assert.Equal(t, -int(syscall.SIGHUP), *code)

	assert.True(t, processRunning(pid))
	assert.True(t, p.GroupAlive())

	require.NoError(t, p.Kill())
	require.Eventually(t, func() bool {
		return !processRunning(pid)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestProcess_StopCaptureAfter(t *testing.T) {
	t.Parallel()

	// The background sleep inherits the output pipe and outlives the shell.
	p, err := execs.Start(t.Context(), shell(t, "echo start; sleep 3 & exit 0"), t.TempDir())
	require.NoError(t, err)

	type result struct {
		err     error
		stopped bool
	}

	done := make(chan result, 1)
	rec := &lineRecorder{}

	go func() {
		stopped, err := p.Capture(rec)
		done <- result{stopped: stopped, err: err}
	}()

	code := p.Wait()
	require.NotNil(t, code)
	assert.Equal(t, 0, *code)

	p.StopCaptureAfter(100 * time.Millisecond)

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.True(t, res.stopped)
	case <-time.After(5 * time.Second):
		t.Fatal("capture did not stop")
	}

	assert.Equal(t, []string{"start\n"}, rec.Lines())
}

func TestProcess_StopCapture(t *testing.T) {
	t.Parallel()

	p, err := execs.Start(context.Background(), shell(t, "sleep 30"), t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = p.Kill() //nolint:errcheck // Best effort.
	})

	done := make(chan bool, 1)

	go func() {
		stopped, _ := p.Capture(&lineRecorder{}) //nolint:errcheck // Not under test.
		done <- stopped
	}()

	p.StopCapture()

	select {
	case stopped := <-done:
		assert.True(t, stopped)
	case <-time.After(5 * time.Second):
		t.Fatal("capture did not stop")
	}
}

func readPID(path string) int {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Test file.
	if err != nil {
		return 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}

	return pid
}

// processRunning reports whether pid is alive and not a zombie.
func processRunning(pid int) bool {
	if syscall.Kill(pid, 0) != nil {
		return false
	}

	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return true
	}

	stat := string(data)
	i := strings.LastIndexByte(stat, ')')

	return i < 0 || i+2 >= len(stat) || stat[i+2] != 'Z'
}
