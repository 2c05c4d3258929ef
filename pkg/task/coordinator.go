package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/macropower/watchdo/pkg/debounce"
	"github.com/macropower/watchdo/pkg/log"
	"github.com/macropower/watchdo/pkg/runlog"
	"github.com/macropower/watchdo/pkg/watch"
)

// Coordinator runs one task: it watches the task's roots and restarts the
// task's command on every matching change.
type Coordinator struct {
	stderr       io.Writer
	clock        debounce.Clock
	graceful     os.Signal
	ctrl         *debounce.Controller
	sink         *runlog.Sink
	watcher      *watch.Watcher
	desc         Descriptor
	baseEnv      []string
	watchOpts    []watch.Option
	drain        time.Duration
	mu           sync.Mutex
	stopWatching bool
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithClock sets the clock of the task's debounce controller.
func WithClock(clock debounce.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithStderr sets where failure notices are printed. Defaults to [os.Stderr].
func WithStderr(w io.Writer) Option {
	return func(c *Coordinator) {
		c.stderr = w
	}
}

// WithBaseEnv sets the environment the command's environment is built from.
// Defaults to [os.Environ].
func WithBaseEnv(env []string) Option {
	return func(c *Coordinator) {
		c.baseEnv = env
	}
}

// WithCaptureDrain sets how long output is read after the command exits.
func WithCaptureDrain(d time.Duration) Option {
	return func(c *Coordinator) {
		c.drain = d
	}
}

// WithGracefulSignal sets the signal used to stop a run. Defaults to SIGHUP.
func WithGracefulSignal(sig os.Signal) Option {
	return func(c *Coordinator) {
		c.graceful = sig
	}
}

// WithWatchOptions configures the task's file watcher. They are applied
// after the descriptor's ignore list.
func WithWatchOptions(opts ...watch.Option) Option {
	return func(c *Coordinator) {
		c.watchOpts = append(c.watchOpts, opts...)
	}
}

// NewCoordinator validates desc and opens its log.
func NewCoordinator(desc Descriptor, opts ...Option) (*Coordinator, error) {
	err := desc.Validate()
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		desc:     desc,
		stderr:   os.Stderr,
		clock:    debounce.RealClock{},
		graceful: defaultGracefulSignal(),
		drain:    DefaultCaptureDrain,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.baseEnv == nil {
		c.baseEnv = os.Environ()
	}

	c.sink, err = runlog.Open(desc.LogPath, desc.Name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", desc.Name, err)
	}

	ctrlOpts := []debounce.Option{debounce.WithClock(c.clock)}
	if desc.Debounce > 0 {
		ctrlOpts = append(ctrlOpts, debounce.WithDelay(desc.Debounce))
	}

	if desc.GracePeriod > 0 {
		ctrlOpts = append(ctrlOpts, debounce.WithGracePeriod(desc.GracePeriod))
	}

	c.ctrl = debounce.NewController(&launcher{
		stderr:   c.stderr,
		sink:     c.sink,
		desc:     &c.desc,
		baseEnv:  c.baseEnv,
		drain:    c.drain,
		graceful: c.graceful,
	}, ctrlOpts...)

	return c, nil
}

// Name returns the task name.
func (c *Coordinator) Name() string {
	return c.desc.Name
}

// Descriptor returns the task's descriptor.
func (c *Coordinator) Descriptor() Descriptor {
	return c.desc
}

// State returns the state of the task's debounce controller.
func (c *Coordinator) State() debounce.State {
	return c.ctrl.State()
}

// Launches returns how many times the command has been started.
func (c *Coordinator) Launches() int {
	return c.ctrl.Launches()
}

// Run registers the watch roots, requests the initial run and then restarts
// the command on every matching change. It returns when the watcher is
// stopped with [Coordinator.StopWatching] or ctx is done. Tasks that run
// once return right after the initial request.
func (c *Coordinator) Run(ctx context.Context) error {
	logger := log.WithContext(ctx).With(slog.String("task", c.desc.Name))
	ctx = log.NewContext(ctx, logger)

	if c.desc.RunOnce {
		c.ctrl.Restart(ctx)

		return nil
	}

	w, err := c.startWatching(ctx)
	if err != nil {
		return err
	}

	if w == nil {
		// Stopped before starting.
		return nil
	}

	c.ctrl.Restart(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.Events():
			if !ok {
				return nil
			}

			c.handle(ctx, evt)

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}

			logger.WarnContext(ctx, "watch error", slog.Any("error", err))
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, evt watch.Event) {
	logger := log.WithContext(ctx)

	matched, err := c.desc.Filter.Match(evt.Path, evt.Op)
	if err != nil {
		logger.WarnContext(ctx, "match change event",
			slog.String("event", evt.String()),
			slog.Any("error", err),
		)

		return
	}

	if !matched {
		logger.DebugContext(ctx, "skipping change", slog.String("event", evt.String()))

		return
	}

	logger.DebugContext(ctx, "change detected", slog.String("event", evt.String()))
	c.ctrl.Restart(ctx)
}

func (c *Coordinator) startWatching(ctx context.Context) (*watch.Watcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopWatching {
		return nil, nil
	}

	opts := c.watchOpts
	if len(c.desc.IgnoreDirs) > 0 {
		ignore := append(slices.Clone(watch.DefaultIgnoreDirs), c.desc.IgnoreDirs...)
		opts = append([]watch.Option{watch.WithIgnoreDirs(ignore...)}, opts...)
	}

	w, err := watch.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.desc.Name, err)
	}

	for _, root := range c.desc.WatchRoots {
		err := w.Add(ctx, root)
		if err != nil {
			_ = w.Close() //nolint:errcheck // Already failing.

			return nil, fmt.Errorf("%s: %w", c.desc.Name, err)
		}
	}

	c.watcher = w

	return w, nil
}

// StopWatching stops the task's watcher, which ends [Coordinator.Run].
// A run in progress is not affected. It is safe to call at any time, and more
// than once.
func (c *Coordinator) StopWatching() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopWatching = true

	if c.watcher == nil {
		return nil
	}

	err := c.watcher.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", c.desc.Name, err)
	}

	return nil
}

// Drain cancels a pending run, stops the run in progress and waits for it to
// exit, then closes the task's log.
func (c *Coordinator) Drain(ctx context.Context) error {
	c.ctrl.Shutdown(log.NewContext(ctx, log.WithContext(ctx).With(slog.String("task", c.desc.Name))))

	err := c.sink.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", c.desc.Name, err)
	}

	return nil
}
