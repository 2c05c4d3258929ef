// Package task runs one configured watch-do task.
//
// A [Coordinator] binds a [Descriptor] to a file watcher and a debounce
// controller: every change below the task's watch roots restarts the task's
// command, whose output is appended to the task's log.
package task

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/macropower/watchdo/pkg/expr"
)

// ErrInvalidDescriptor is returned for descriptors that cannot be run.
var ErrInvalidDescriptor = errors.New("invalid task")

// Descriptor describes one task. It is immutable once the task has started.
type Descriptor struct {
	// Filter decides which change events restart the task. Nil matches all.
	Filter *expr.EventFilter
	// Env contains environment overrides for the task's command only.
	Env map[string]string
	// Name uniquely identifies the task.
	Name string
	// Dir is the working directory of the command.
	Dir string
	// LogPath is the file the command output is appended to.
	LogPath string
	// Command is the argument vector; no shell is involved.
	Command []string
	// WatchRoots are absolute files or directories to watch.
	WatchRoots []string
	// IgnoreDirs are directory names skipped below the watch roots, in
	// addition to [watch.DefaultIgnoreDirs].
	IgnoreDirs []string
	// ToolTips are shown in the startup banner.
	ToolTips []string
	// Debounce is the quiet period before a run.
	Debounce time.Duration
	// GracePeriod bounds the wait for a stopped run to exit.
	GracePeriod time.Duration
	// RunOnce runs the command once at startup and never watches.
	RunOnce bool
}

// Validate checks that the descriptor can be started.
func (d *Descriptor) Validate() error {
	switch {
	case d.Name == "":
		return fmt.Errorf("%w: missing name", ErrInvalidDescriptor)
	case len(d.Command) == 0 || d.Command[0] == "":
		return fmt.Errorf("%w: %s: empty command", ErrInvalidDescriptor, d.Name)
	case d.LogPath == "":
		return fmt.Errorf("%w: %s: missing log path", ErrInvalidDescriptor, d.Name)
	case !d.RunOnce && len(d.WatchRoots) == 0:
		return fmt.Errorf("%w: %s: nothing to watch", ErrInvalidDescriptor, d.Name)
	}

	info, err := os.Stat(d.Dir)
	if err != nil {
		return fmt.Errorf("%w: %s: working directory: %w", ErrInvalidDescriptor, d.Name, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s: working directory %q is not a directory", ErrInvalidDescriptor, d.Name, d.Dir)
	}

	return nil
}
