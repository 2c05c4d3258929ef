// Package execs supervises the lifecycle of external commands.
//
// A [Process] is started with [Start]. Its stdout and stderr are merged into
// one stream, which is read line by line with [Process.Capture]. Capturing,
// signalling and waiting are independent operations, so a caller can signal
// a process, stop reading its output and await its exit concurrently.
package execs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/macropower/watchdo/pkg/log"
)

// Start starts c in dir and returns the running [Process].
//
// The child gets its own process group so that termination signals reach any
// processes it spawns. Errors wrap [ErrSpawn] (or [ErrEmptyCommand]).
func Start(ctx context.Context, c Command, dir string) (*Process, error) {
	ctx, span := otel.Tracer("execs").Start(ctx, "spawn", trace.WithAttributes(
		attribute.String("command", c.String()),
		attribute.String("path", dir),
	))
	defer span.End()

	if c.Command == "" {
		return nil, ErrEmptyCommand
	}

	logger := log.WithContext(ctx).With(
		slog.String("command", c.String()),
		slog.String("path", dir),
	)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create output pipe: %w", ErrSpawn, err)
	}

	//nolint:gosec // G204: Subprocess launched with a potential tainted input or cmd arguments.
	cmd := exec.Command(c.Command, c.Args...)
	cmd.Dir = dir
	cmd.Env = c.GetEnv()
	cmd.Stdout = pw
	cmd.Stderr = pw
	setProcessGroup(cmd)

	err = cmd.Start()

	// The child holds its own copy of the write end.
	_ = pw.Close() //nolint:errcheck // Nothing was written by this process.

	if err != nil {
		_ = pr.Close() //nolint:errcheck // Ignore errors.

		span.RecordError(err)
		span.SetStatus(codes.Error, "spawn failed")
		logger.DebugContext(ctx, "spawn failed", slog.Any("error", err))

		return nil, fmt.Errorf("%w: %s: %w", ErrSpawn, c.Command, err)
	}

	p := newProcess(cmd, pr, c.String())
	span.SetAttributes(attribute.Int("pid", p.PID()))
	logger.DebugContext(ctx, "process started", slog.Int("pid", p.PID()))

	go p.wait()

	return p, nil
}
