package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/invopop/jsonschema"
	"github.com/mattn/go-shellwords"
)

// ErrInvalidCommand is returned for commands that cannot be split into
// arguments.
var ErrInvalidCommand = errors.New("invalid command")

// Argv is a command and its arguments.
//
// In YAML it is either a list of strings, used as-is, or a single string that
// is split into arguments with shell quoting rules. No shell is ever involved
// in running the command, so expansions and operators are not supported.
type Argv []string

// UnmarshalYAML implements [yaml.BytesUnmarshaler].
func (a *Argv) UnmarshalYAML(data []byte) error {
	var list []string

	err := yaml.Unmarshal(data, &list)
	if err == nil {
		*a = list

		return nil
	}

	var line string

	err = yaml.Unmarshal(data, &line)
	if err != nil {
		return fmt.Errorf("%w: must be a string or a list of strings", ErrInvalidCommand)
	}

	args, err := ParseArgv(line)
	if err != nil {
		return err
	}

	*a = args

	return nil
}

// JSONSchema implements [jsonschema.JSONSchemer].
func (Argv) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Title:       "Command",
		Description: "Command and arguments, as a list or as a single string split with shell quoting rules.",
		OneOf: []*jsonschema.Schema{
			{
				Type:      "string",
				MinLength: ptr(uint64(1)),
			},
			{
				Type:     "array",
				Items:    &jsonschema.Schema{Type: "string"},
				MinItems: ptr(uint64(1)),
			},
		},
	}
}

// ParseArgv splits line into arguments with shell quoting rules.
func ParseArgv(line string) (Argv, error) {
	parser := shellwords.NewParser()
	parser.ParseBacktick = false
	parser.ParseEnv = false

	args, err := parser.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidCommand, line, err)
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("%w: %q: empty", ErrInvalidCommand, line)
	}

	return args, nil
}

// Duration is a [time.Duration] written as a duration string, e.g. "500ms".
type Duration time.Duration

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}

	if parsed < 0 {
		return fmt.Errorf("parse duration: %q is negative", text)
	}

	*d = Duration(parsed)

	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// JSONSchema implements [jsonschema.JSONSchemer].
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Title:       "Duration",
		Description: `A duration such as "300ms", "1.5s" or "1m".`,
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
	}
}

// Std returns d as a [time.Duration].
func (d *Duration) Std() time.Duration {
	if d == nil {
		return 0
	}

	return time.Duration(*d)
}

func ptr[T any](v T) *T {
	return &v
}
