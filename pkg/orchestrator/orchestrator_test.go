//go:build !windows

package orchestrator_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/macropower/watchdo/pkg/debounce"
	"github.com/macropower/watchdo/pkg/orchestrator"
	"github.com/macropower/watchdo/pkg/task"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func descriptor(t *testing.T, name, script string) task.Descriptor {
	t.Helper()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o750))

	return task.Descriptor{
		Name:        name,
		Command:     []string{"sh", "-c", script},
		Dir:         dir,
		LogPath:     filepath.Join(dir, name+".log"),
		WatchRoots:  []string{src},
		Debounce:    20 * time.Millisecond,
		GracePeriod: 2 * time.Second,
	}
}

func readLog(t *testing.T, desc task.Descriptor) string {
	t.Helper()

	data, err := os.ReadFile(desc.LogPath)
	require.NoError(t, err)

	return string(data)
}

func waitStarted(t *testing.T, o *orchestrator.Orchestrator) {
	t.Helper()

	require.Eventually(t, func() bool {
		for _, c := range o.Tasks() {
			if c.Launches() == 0 {
				return false
			}
		}

		return true
	}, waitFor, tick)
}

func TestNew(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		descs func(t *testing.T) []task.Descriptor
		err   error
	}{
		"valid": {
			descs: func(t *testing.T) []task.Descriptor {
				t.Helper()

				return []task.Descriptor{descriptor(t, "a", "true"), descriptor(t, "b", "true")}
			},
		},
		"duplicate": {
			descs: func(t *testing.T) []task.Descriptor {
				t.Helper()

				return []task.Descriptor{descriptor(t, "a", "true"), descriptor(t, "a", "true")}
			},
			err: orchestrator.ErrDuplicateTask,
		},
		"invalid": {
			descs: func(t *testing.T) []task.Descriptor {
				t.Helper()

				d := descriptor(t, "b", "true")
				d.Command = nil

				return []task.Descriptor{descriptor(t, "a", "true"), d}
			},
			err: task.ErrInvalidDescriptor,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			descs := tc.descs(t)

			o, err := orchestrator.New(descs, task.WithStderr(io.Discard))
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)

				return
			}

			require.NoError(t, err)
			require.Len(t, o.Tasks(), len(descs))

			for i, c := range o.Tasks() {
				assert.Equal(t, descs[i].Name, c.Name())
			}
		})
	}
}

func TestOrchestrator_Shutdown(t *testing.T) {
	t.Parallel()

	long := descriptor(t, "server", "echo started; exec sleep 30")
	quick := descriptor(t, "build", "echo built")
	once := descriptor(t, "once", "echo once; exec sleep 30")
	once.RunOnce = true
	once.WatchRoots = nil

	o, err := orchestrator.New([]task.Descriptor{long, quick, once}, task.WithStderr(io.Discard))
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		done <- o.Run(t.Context())
	}()

	waitStarted(t, o)
	require.Eventually(t, func() bool {
		return strings.Contains(readLog(t, long), "started") &&
			strings.Contains(readLog(t, once), "once")
	}, waitFor, tick)

	start := time.Now()

	o.Shutdown()
	o.Shutdown()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("shutdown did not complete")
	}

	assert.Less(t, time.Since(start), long.GracePeriod)

	for _, c := range o.Tasks() {
		assert.Equal(t, debounce.StateStopped, c.State(), c.Name())
	}

	assert.Regexp(t, `server task \(\d+\) exited with -1\n\n$`, readLog(t, long))
	assert.Regexp(t, `build task \(\d+\) exited with 0\n\n$`, readLog(t, quick))
	assert.Regexp(t, `once task \(\d+\) exited with -1\n\n$`, readLog(t, once))

	// Shutting down after Run returned does nothing.
	o.Shutdown()
}

func TestOrchestrator_ContextCancel(t *testing.T) {
	t.Parallel()

	desc := descriptor(t, "server", "exec sleep 30")

	o, err := orchestrator.New([]task.Descriptor{desc}, task.WithStderr(io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() {
		done <- o.Run(ctx)
	}()

	waitStarted(t, o)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("shutdown did not complete")
	}

	assert.Contains(t, readLog(t, desc), "exited with -1")
}

func TestOrchestrator_NoRunAfterShutdown(t *testing.T) {
	t.Parallel()

	desc := descriptor(t, "build", "echo built")
	desc.Debounce = time.Hour

	o, err := orchestrator.New([]task.Descriptor{desc}, task.WithStderr(io.Discard))
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		done <- o.Run(t.Context())
	}()

	c := o.Tasks()[0]
	require.Eventually(t, func() bool {
		return c.State() == debounce.StateDebouncing
	}, waitFor, tick)

	o.Shutdown()
	require.NoError(t, <-done)

	assert.Equal(t, 0, c.Launches())
	assert.Equal(t, debounce.StateStopped, c.State())

	require.NoError(t, os.WriteFile(filepath.Join(desc.WatchRoots[0], "main.go"), nil, 0o600))
	assert.Never(t, func() bool {
		return c.Launches() > 0
	}, 200*time.Millisecond, tick)
}

// Installs the global tracer provider, so it does not run in parallel.
func TestOrchestrator_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
	})

	desc := descriptor(t, "build", "echo built")

	o, err := orchestrator.New([]task.Descriptor{desc}, task.WithStderr(io.Discard))
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		done <- o.Run(t.Context())
	}()

	waitStarted(t, o)
	o.Shutdown()
	require.NoError(t, <-done)
	require.NoError(t, provider.Shutdown(t.Context()))

	names := map[string]bool{}
	for _, span := range recorder.Ended() {
		names[span.Name()] = true
	}

	assert.True(t, names["run"], "run span")
	assert.True(t, names["spawn"], "spawn span")
	assert.True(t, names["shutdown"], "shutdown span")
}
