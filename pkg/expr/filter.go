package expr

import (
	"errors"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/google/cel-go/cel"
)

// ErrNotBool is returned when a filter does not evaluate to a boolean.
var ErrNotBool = errors.New("filter did not return a boolean value")

// EventFilter decides whether a file system event should trigger a task.
//
// A nil *EventFilter matches every event.
type EventFilter struct {
	program    cel.Program
	expression string
	task       string
}

// NewEventFilter compiles expression for the named task. An empty expression
// returns a nil filter.
func NewEventFilter(task, expression string) (*EventFilter, error) {
	if expression == "" {
		return nil, nil //nolint:nilnil // A nil filter matches everything.
	}

	env, err := NewEnvironment(
		cel.Variable("file", cel.StringType),
		cel.Variable("fs.event", cel.IntType),
		cel.Variable("task", cel.StringType),
	)
	if err != nil {
		return nil, err
	}

	program, err := env.CompileBool(expression)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expression, err)
	}

	return &EventFilter{program: program, expression: expression, task: task}, nil
}

// String returns the filter expression.
func (f *EventFilter) String() string {
	if f == nil {
		return ""
	}

	return f.expression
}

// Match evaluates the filter against a change to path.
func (f *EventFilter) Match(path string, op fsnotify.Op) (bool, error) {
	if f == nil {
		return true, nil
	}

	result, _, err := f.program.Eval(map[string]any{
		"file":     path,
		"fs.event": int64(op),
		"task":     f.task,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate filter: %w", err)
	}

	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrNotBool, f.expression)
	}

	return matched, nil
}
