// Package orchestrator runs a set of watch-do tasks and shuts them down
// together.
//
// Shutdown happens in two phases. First every task stops watching, so no
// change event can schedule a new run. Then every task is drained: its
// pending run is cancelled and its running command is stopped and awaited.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/macropower/watchdo/pkg/log"
	"github.com/macropower/watchdo/pkg/task"
)

// ErrDuplicateTask is returned when two tasks share a name.
var ErrDuplicateTask = errors.New("duplicate task name")

// Orchestrator owns one [task.Coordinator] per task.
type Orchestrator struct {
	shutdown chan struct{}
	tasks    []*task.Coordinator
	once     sync.Once
}

// New creates a coordinator for every descriptor. Options are applied to
// every coordinator.
func New(descs []task.Descriptor, opts ...task.Option) (*Orchestrator, error) {
	o := &Orchestrator{
		shutdown: make(chan struct{}),
		tasks:    make([]*task.Coordinator, 0, len(descs)),
	}

	seen := make(map[string]bool, len(descs))

	for _, desc := range descs {
		if seen[desc.Name] {
			o.close()

			return nil, fmt.Errorf("%w: %q", ErrDuplicateTask, desc.Name)
		}

		seen[desc.Name] = true

		c, err := task.NewCoordinator(desc, opts...)
		if err != nil {
			o.close()

			return nil, fmt.Errorf("create task: %w", err)
		}

		o.tasks = append(o.tasks, c)
	}

	return o, nil
}

// Tasks returns the task coordinators in configuration order.
func (o *Orchestrator) Tasks() []*task.Coordinator {
	return o.tasks
}

// Shutdown triggers the shutdown of a running orchestrator. It is safe to
// call more than once, and from any goroutine.
func (o *Orchestrator) Shutdown() {
	o.once.Do(func() {
		close(o.shutdown)
	})
}

// Run starts every task and blocks until ctx is done or [Orchestrator.Shutdown]
// is called. It then shuts all tasks down and returns once every command has
// exited and every log is closed.
//
// Failures of individual tasks are logged and do not stop the other tasks.
func (o *Orchestrator) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, c := range o.tasks {
		wg.Go(func() {
			o.runTask(ctx, c)
		})
	}

	select {
	case <-ctx.Done():
		log.WithContext(ctx).DebugContext(ctx, "context done, shutting down")
	case <-o.shutdown:
		log.WithContext(ctx).DebugContext(ctx, "shutdown requested")
	}

	err := o.stop(context.WithoutCancel(ctx))

	wg.Wait()

	return err
}

func (o *Orchestrator) runTask(ctx context.Context, c *task.Coordinator) {
	logger := log.WithContext(ctx).With(slog.String("task", c.Name()))

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "task panicked", slog.Any("panic", r))
		}
	}()

	err := c.Run(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "task stopped", slog.Any("error", err))
	}
}

func (o *Orchestrator) stop(ctx context.Context) error {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "shutdown",
		trace.WithAttributes(attribute.Int("tasks", len(o.tasks))),
	)
	defer span.End()

	logger := log.WithContext(ctx)

	var errs []error

	for _, c := range o.tasks {
		err := c.StopWatching()
		if err != nil {
			errs = append(errs, err)
		}
	}

	logger.DebugContext(ctx, "stopped watching")
	span.AddEvent("stopped watching")

	g := errgroup.Group{}

	for _, c := range o.tasks {
		g.Go(func() error {
			return c.Drain(ctx)
		})
	}

	errs = append(errs, g.Wait())

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "shutdown failed")

		return fmt.Errorf("shutdown: %w", err)
	}

	logger.DebugContext(ctx, "drained all tasks")

	return nil
}

// close releases the coordinators created so far, before any was started.
func (o *Orchestrator) close() {
	for _, c := range o.tasks {
		_ = c.Drain(context.Background()) //nolint:errcheck // Already failing.
	}
}
