package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/macropower/watchdo/pkg/debounce"
	"github.com/macropower/watchdo/pkg/execs"
	"github.com/macropower/watchdo/pkg/log"
	"github.com/macropower/watchdo/pkg/runlog"
)

// DefaultCaptureDrain is how long output is still read after the command has
// exited, for descendants that keep the output stream open.
const DefaultCaptureDrain = 250 * time.Millisecond

// groupPollInterval is how often a stopped run checks whether its process
// group has exited.
const groupPollInterval = 10 * time.Millisecond

var failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

// launcher starts runs of one task's command.
type launcher struct {
	stderr   io.Writer
	sink     *runlog.Sink
	desc     *Descriptor
	baseEnv  []string
	drain    time.Duration
	graceful os.Signal
}

func (l *launcher) Launch(ctx context.Context) (debounce.Run, error) {
	cmd, err := execs.NewCommand(l.desc.Command,
		execs.WithBaseEnv(l.baseEnv),
		execs.WithEnv(l.desc.Env),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.desc.Name, err)
	}

	runID := uuid.NewString()

	ctx, span := otel.Tracer("task").Start(ctx, "run", trace.WithAttributes(
		attribute.String("task", l.desc.Name),
		attribute.String("run", runID),
		attribute.String("command", cmd.String()),
	))

	logger := log.WithContext(ctx).With(slog.String("run", runID))
	ctx = log.NewContext(ctx, logger)

	p, err := execs.Start(ctx, cmd, l.desc.Dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "spawn failed")
		span.End()

		return nil, fmt.Errorf("%s: %w", l.desc.Name, err)
	}

	span.SetAttributes(attribute.Int("pid", p.PID()))
	logger.InfoContext(ctx, "ran task", slog.Int("pid", p.PID()))

	err = l.sink.BeginRun(p.PID(), cmd.String())
	if err != nil {
		logger.WarnContext(ctx, "write log header", slog.Any("error", err))
	}

	r := &run{
		launcher: l,
		logger:   logger,
		process:  p,
		span:     span,
		done:     make(chan struct{}),
	}

	go r.supervise(ctx)

	return r, nil
}

// run is one execution of a task's command.
type run struct {
	stoppedAt time.Time
	span      trace.Span
	launcher  *launcher
	logger    *slog.Logger
	process   *execs.Process
	done      chan struct{}
	mu        sync.Mutex
	finished  bool
}

func (r *run) Done() <-chan struct{} {
	return r.done
}

// Stop sends the graceful termination signal and stops capturing output.
// Stopping a run that has already finished does nothing.
func (r *run) Stop() {
	r.mu.Lock()
	if r.finished || !r.stoppedAt.IsZero() {
		r.mu.Unlock()

		return
	}

	r.stoppedAt = time.Now()
	r.mu.Unlock()

	err := r.process.Terminate(r.launcher.graceful)
	if err != nil {
		r.logger.Warn("terminate", slog.Int("pid", r.process.PID()), slog.Any("error", err))
	}

	r.process.StopCapture()
}

// Kill forcefully terminates the command.
func (r *run) Kill() {
	err := r.process.Kill()
	if err != nil {
		r.logger.Warn("kill", slog.Int("pid", r.process.PID()), slog.Any("error", err))
	}
}

func (r *run) supervise(ctx context.Context) {
	defer close(r.done)
	defer r.span.End()

	l := r.launcher
	logger := log.WithContext(ctx)
	pid := r.process.PID()

	type captureResult struct {
		err     error
		stopped bool
	}

	captured := make(chan captureResult, 1)

	go func() {
		stopped, err := r.process.Capture(l.sink)
		captured <- captureResult{stopped: stopped, err: err}
	}()

	code := r.process.Wait()
	r.process.StopCaptureAfter(l.drain)

	res := <-captured
	if res.err != nil {
		logger.WarnContext(ctx, "capture output", slog.Any("error", res.err))
	}

	r.mu.Lock()
	r.finished = true
	stoppedAt := r.stoppedAt
	r.mu.Unlock()

	stopped := !stoppedAt.IsZero()
	if stopped {
		r.awaitGroup(ctx, stoppedAt)
	}

	err := l.sink.EndCapture(pid, res.stopped)
	if err != nil {
		logger.WarnContext(ctx, "write log footer", slog.Any("error", err))
	}

	codeStr := execs.ExitCodeString(code)

	err = l.sink.EndRun(pid, codeStr)
	if err != nil {
		logger.WarnContext(ctx, "write exit line", slog.Any("error", err))
	}

	elapsed := time.Since(r.process.Started())

	r.span.SetAttributes(attribute.String("exit_code", codeStr))

	if !execs.Failed(code) {
		logger.DebugContext(ctx, "task exited", slog.Int("pid", pid), slog.Duration("elapsed", elapsed))

		return
	}

	r.span.SetStatus(codes.Error, "exited with "+codeStr)

	if stopped {
		logger.DebugContext(ctx, "stopped task exited",
			slog.Int("pid", pid),
			slog.String("exit_code", codeStr),
		)

		return
	}

	logger.WarnContext(ctx, "task failed",
		slog.Int("pid", pid),
		slog.String("exit_code", codeStr),
		slog.Duration("elapsed", elapsed),
	)

	fmt.Fprintf(l.stderr, "%s %s exited with %s after %s\n",
		failureStyle.Render("✗"), l.desc.Name, codeStr, elapsed.Round(time.Millisecond))
}

// awaitGroup waits for the rest of a stopped run's process group to exit.
// Members still running when the grace period ends are killed; if they
// outlive the kill by more than the capture drain window, they are given up
// on.
func (r *run) awaitGroup(ctx context.Context, stoppedAt time.Time) {
	l := r.launcher
	logger := log.WithContext(ctx)

	deadline := stoppedAt.Add(l.desc.GracePeriod)
	killed := false

	ticker := time.NewTicker(groupPollInterval)
	defer ticker.Stop()

	for r.process.GroupAlive() {
		if !time.Now().Before(deadline) {
			if killed {
				logger.WarnContext(ctx, "process group still alive after kill",
					slog.Int("pgid", r.process.PID()),
				)

				return
			}

			logger.WarnContext(ctx, "grace period expired, killing process group",
				slog.Int("pgid", r.process.PID()),
				slog.Duration("grace_period", l.desc.GracePeriod),
			)
			r.Kill()

			killed = true
			deadline = time.Now().Add(l.drain)
		}

		<-ticker.C
	}
}

func defaultGracefulSignal() os.Signal {
	return syscall.SIGHUP
}
