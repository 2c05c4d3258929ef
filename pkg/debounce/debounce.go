// Package debounce serializes run requests for one task.
//
// A [Controller] collapses bursts of [Controller.Restart] calls into a single
// launch after a quiet period, and makes sure at most one run is alive at a
// time: a run that is still going when a restart arrives is terminated, and
// its exit awaited, before the next delay starts.
package debounce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/macropower/watchdo/pkg/log"
)

const (
	// DefaultDelay is the default quiet period before a launch.
	DefaultDelay = time.Second

	// DefaultGracePeriod is the default time a run is given to exit after
	// [Run.Stop] before it is killed.
	DefaultGracePeriod = 10 * time.Second
)

// State is the phase of a [Controller].
type State int

// Controller states.
const (
	StateIdle State = iota
	StateDebouncing
	StateLaunching
	StateRunning
	StateTerminating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateStopped:
		return "stopped"
	}

	return "unknown"
}

// Launcher starts runs.
type Launcher interface {
	Launch(ctx context.Context) (Run, error)
}

// LauncherFunc adapts a function to the [Launcher] interface.
type LauncherFunc func(ctx context.Context) (Run, error)

// Launch calls f(ctx).
func (f LauncherFunc) Launch(ctx context.Context) (Run, error) {
	return f(ctx)
}

// Run is one launched execution.
type Run interface {
	// Done is closed once the run has fully finished, including any output
	// handling that follows the exit.
	Done() <-chan struct{}
	// Stop asks the run to finish. It must not block.
	Stop()
	// Kill forces the run to finish. It must not block.
	Kill()
}

// Controller is the per-task debounce state machine.
//
// All methods are safe for concurrent use.
type Controller struct {
	clock    Clock
	launcher Launcher
	timer    Timer
	run      Run
	gen      uint64
	delay    time.Duration
	grace    time.Duration
	launches int
	state    State
	// restartMu serializes restarts, launches and shutdown.
	restartMu sync.Mutex
	mu        sync.Mutex
	closed    bool
}

// Option configures a [Controller].
type Option func(*Controller)

// WithClock sets the clock used for delays and grace periods.
func WithClock(clock Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithDelay sets the quiet period before a launch.
func WithDelay(d time.Duration) Option {
	return func(c *Controller) {
		c.delay = d
	}
}

// WithGracePeriod sets how long a stopped run may take to exit before it is
// killed.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Controller) {
		c.grace = d
	}
}

// NewController creates a new idle [Controller].
func NewController(launcher Launcher, opts ...Option) *Controller {
	c := &Controller{
		clock:    RealClock{},
		launcher: launcher,
		delay:    DefaultDelay,
		grace:    DefaultGracePeriod,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Launches returns the number of successful launches so far.
func (c *Controller) Launches() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.launches
}

// Restart requests a new run.
//
// A run in progress is stopped and its exit awaited before Restart returns.
// Any pending delay is replaced, so only the most recent request launches.
// ctx is passed to the launcher; once it is done, pending launches are
// dropped.
func (c *Controller) Restart(ctx context.Context) {
	c.restartMu.Lock()
	defer c.restartMu.Unlock()

	c.terminate(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if c.timer != nil {
		c.timer.Stop()
	}

	c.gen++
	gen := c.gen

	c.state = StateDebouncing
	c.timer = c.clock.AfterFunc(c.delay, func() {
		c.fire(ctx, gen)
	})
}

// Cancel drops a pending delay without launching. A run in progress is left
// alone.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelTimerLocked()
}

// Shutdown permanently stops the controller: the pending delay is cancelled
// and a run in progress is stopped and awaited. Later calls to
// [Controller.Restart] do nothing.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	c.cancelTimerLocked()
	c.mu.Unlock()

	c.restartMu.Lock()
	defer c.restartMu.Unlock()

	c.terminate(ctx)

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
}

func (c *Controller) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	// Invalidates a delay that has already elapsed but not yet launched.
	c.gen++

	if c.state == StateDebouncing {
		c.state = StateIdle
	}
}

func (c *Controller) fire(ctx context.Context, gen uint64) {
	c.restartMu.Lock()
	defer c.restartMu.Unlock()

	c.mu.Lock()

	if c.closed || gen != c.gen {
		c.mu.Unlock()

		return
	}

	c.timer = nil

	if ctx.Err() != nil {
		c.state = StateIdle
		c.mu.Unlock()

		return
	}

	c.state = StateLaunching
	c.mu.Unlock()

	run, err := c.launcher.Launch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.state = StateIdle
		log.WithContext(ctx).ErrorContext(ctx, "launch failed", slog.Any("error", err))

		return
	}

	c.launches++
	c.run = run
	c.state = StateRunning

	go c.supervise(run)
}

// supervise returns the controller to idle when a run finishes by itself.
func (c *Controller) supervise(run Run) {
	<-run.Done()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != run {
		return
	}

	c.run = nil
	if c.state == StateRunning {
		c.state = StateIdle
	}
}

// terminate stops the current run and waits for it to finish. If it has not
// finished after the grace period, it is killed. Callers hold restartMu.
func (c *Controller) terminate(ctx context.Context) {
	c.mu.Lock()
	run := c.run
	if run == nil {
		c.mu.Unlock()

		return
	}

	c.state = StateTerminating
	c.mu.Unlock()

	run.Stop()

	select {
	case <-run.Done():
	default:
		kill := c.clock.AfterFunc(c.grace, func() {
			log.WithContext(ctx).WarnContext(ctx, "grace period expired, killing",
				slog.Duration("grace_period", c.grace),
			)
			run.Kill()
		})
		<-run.Done()
		kill.Stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run == run {
		c.run = nil
	}

	c.state = StateIdle
}
