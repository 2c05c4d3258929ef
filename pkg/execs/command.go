package execs

import (
	"errors"
	"maps"
	"slices"
	"strconv"
	"strings"
)

var (
	// ErrSpawn is returned when a command cannot be located or started.
	ErrSpawn = errors.New("spawn")

	// ErrEmptyCommand is returned when a command is empty.
	ErrEmptyCommand = errors.New("empty command")
)

// Command is one external command: the executable, its arguments and the
// environment the child process runs with.
//
// The environment is built per child from the base environment plus
// overrides. The host process environment is never modified.
type Command struct {
	baseEnv map[string]string
	// Env contains environment overrides applied on top of the base environment.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	// Command is the executable to run. It is resolved using PATH.
	Command string `json:"command" yaml:"command"`
	// Args contains the command line arguments.
	Args []string `json:"args,omitempty" yaml:"args,flow,omitempty"`
}

// CommandOpt configures a [Command].
type CommandOpt func(*Command)

// WithBaseEnv sets the base environment, usually from [os.Environ].
func WithBaseEnv(baseEnv []string) CommandOpt {
	return func(c *Command) {
		c.SetBaseEnv(baseEnv)
	}
}

// WithEnv adds environment overrides.
func WithEnv(env map[string]string) CommandOpt {
	return func(c *Command) {
		if c.Env == nil {
			c.Env = make(map[string]string, len(env))
		}

		maps.Copy(c.Env, env)
	}
}

// NewCommand creates a new [Command] from an argument vector. The first
// element is the executable. No shell is involved.
func NewCommand(argv []string, opts ...CommandOpt) (Command, error) {
	if len(argv) == 0 || argv[0] == "" {
		return Command{}, ErrEmptyCommand
	}

	c := Command{
		Command: argv[0],
		Args:    slices.Clone(argv[1:]),
	}
	for _, opt := range opts {
		opt(&c)
	}

	return c, nil
}

// SetBaseEnv replaces the base environment with baseEnv ("KEY=value" pairs).
func (c *Command) SetBaseEnv(baseEnv []string) {
	c.baseEnv = make(map[string]string, len(baseEnv))
	for _, envVar := range baseEnv {
		if key, value, ok := strings.Cut(envVar, "="); ok && key != "" {
			c.baseEnv[key] = value
		}
	}
}

// GetEnv constructs the sorted environment for the child process.
func (c *Command) GetEnv() []string {
	envMap := make(map[string]string, len(c.baseEnv)+len(c.Env))
	maps.Copy(envMap, c.baseEnv)
	maps.Copy(envMap, c.Env)

	env := make([]string, 0, len(envMap))
	for _, key := range slices.Sorted(maps.Keys(envMap)) {
		env = append(env, key+"="+envMap[key])
	}

	return env
}

// Argv returns the full argument vector, including the executable.
func (c *Command) Argv() []string {
	return append([]string{c.Command}, c.Args...)
}

// String returns the command line, quoting arguments where needed so the
// result can be pasted into a shell.
func (c *Command) String() string {
	argv := c.Argv()
	quoted := make([]string, 0, len(argv))

	for _, arg := range argv {
		quoted = append(quoted, Quote(arg))
	}

	return strings.Join(quoted, " ")
}

// Quote quotes arg for a POSIX shell if it contains any metacharacters.
func Quote(arg string) string {
	if arg == "" {
		return "''"
	}

	if !strings.ContainsAny(arg, " \t\n\"'\\$`|&;<>(){}*?[]#~") {
		return arg
	}

	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// ExitCodeString formats an exit code; nil means the code is unknown.
func ExitCodeString(code *int) string {
	if code == nil {
		return "unknown"
	}

	return strconv.Itoa(*code)
}

// Failed reports whether code represents a failed or unknown exit.
func Failed(code *int) bool {
	return code == nil || *code != 0
}
