package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/macropower/watchdo/pkg/expr"
	"github.com/macropower/watchdo/pkg/task"
	"github.com/macropower/watchdo/pkg/yaml"
)

const (
	// FileName is the configuration file read from the current directory.
	FileName = "watchdo.yaml"

	// LogFileName is the name of each task's log file in its work directory.
	LogFileName = "command.log"

	// DefaultPrefix is the default prefix of the generated work directory.
	DefaultPrefix = "watchdo"

	// WorkDirTimeFormat formats the timestamp suffix of generated work
	// directories.
	WorkDirTimeFormat = "20060102-150405"
)

// ErrConfiguration is wrapped by every error returned while loading or
// normalizing configuration.
var ErrConfiguration = errors.New("configuration error")

// Config is the merged watchdo configuration document.
type Config struct {
	// Tasks maps task names to their configuration.
	Tasks map[string]*TaskConfig `json:"tasks,omitempty" jsonschema:"title=Tasks"`
	// filters holds the compiled filter of each task that has one.
	filters map[string]*expr.EventFilter
	// WorkDir configures where task logs are written.
	WorkDir WorkDir `json:"workDir,omitempty" jsonschema:"title=Work Directory"`
	// Include lists further configuration files to merge.
	Include []string `json:"include,omitempty" jsonschema:"title=Include"`
	// defaults for tasks that do not set their own.
	debounce    time.Duration
	gracePeriod time.Duration
}

// WorkDir configures the directory holding each task's work directory.
type WorkDir struct {
	// BaseDir is the parent of the generated work directory.
	BaseDir string `json:"baseDir,omitempty" jsonschema:"title=Base Directory,description=Parent of the generated work directory. Defaults to the system temporary directory."`
	// Prefix starts the name of the generated work directory.
	Prefix string `json:"prefix,omitempty" jsonschema:"title=Prefix,description=Name prefix of the generated work directory."`
	// Path is the work directory. It is generated from BaseDir and Prefix
	// when empty. It is removed and recreated on every start.
	Path string `json:"workDir,omitempty" jsonschema:"title=Work Directory,description=Work directory; removed and recreated on start. Generated from baseDir and prefix when unset."`
}

// TaskConfig is the configuration of one task.
type TaskConfig struct {
	// Env sets environment variables for the task's command only.
	Env map[string]string `json:"env,omitempty" jsonschema:"title=Environment"`
	// Debounce overrides the default quiet period before a run.
	Debounce *Duration `json:"debounce,omitempty" jsonschema:"title=Debounce"`
	// GracePeriod overrides how long a stopped run may take to exit.
	GracePeriod *Duration `json:"gracePeriod,omitempty" jsonschema:"title=Grace Period"`
	// ProjectDir is the command's working directory.
	ProjectDir string `json:"projectDir,omitempty" jsonschema:"title=Project Directory,description=Working directory of the command. Defaults to the task's work directory."`
	// ToolTips are shown in the startup banner.
	ToolTips string `json:"toolTips,omitempty" jsonschema:"title=Tool Tips"`
	// Filter is a CEL expression selecting the changes that restart the task.
	Filter string `json:"filter,omitempty" jsonschema:"title=Filter,description=CEL expression over file and fs.event; the task restarts only when it is true."`

	// Set during normalization.
	Name        string `json:"name,omitempty" jsonschema:"-"`
	WorkDir     string `json:"workDir,omitempty" jsonschema:"-"`
	LogFilePath string `json:"logFilePath,omitempty" jsonschema:"-"`

	// Cmd is the command to run.
	Cmd Argv `json:"cmd"`
	// Watch lists the files and directories to watch. Relative paths are
	// relative to ProjectDir.
	Watch []string `json:"watch,omitempty" jsonschema:"title=Watch"`
	// Ignore lists directory names that are not watched.
	Ignore []string `json:"ignore,omitempty" jsonschema:"title=Ignore,description=Directory names skipped below the watched paths, in addition to .git and node_modules and similar."`
	// RunOnce runs the command once at startup and never watches.
	RunOnce bool `json:"runOnce,omitempty" jsonschema:"title=Run Once"`
}

// TaskNames returns the task names in sorted order.
func (c *Config) TaskNames() []string {
	return slices.Sorted(maps.Keys(c.Tasks))
}

// Descriptors returns one [task.Descriptor] per task, ordered by name.
func (c *Config) Descriptors() []task.Descriptor {
	descs := make([]task.Descriptor, 0, len(c.Tasks))

	for _, name := range c.TaskNames() {
		tc := c.Tasks[name]

		desc := task.Descriptor{
			Name:        name,
			Command:     slices.Clone(tc.Cmd),
			Dir:         tc.ProjectDir,
			LogPath:     tc.LogFilePath,
			WatchRoots:  slices.Clone(tc.Watch),
			IgnoreDirs:  slices.Clone(tc.Ignore),
			Env:         maps.Clone(tc.Env),
			ToolTips:    toolTipLines(tc.ToolTips),
			Filter:      c.filters[name],
			Debounce:    c.debounce,
			GracePeriod: c.gracePeriod,
			RunOnce:     tc.RunOnce,
		}

		if tc.Debounce != nil {
			desc.Debounce = tc.Debounce.Std()
		}

		if tc.GracePeriod != nil {
			desc.GracePeriod = tc.GracePeriod.Std()
		}

		descs = append(descs, desc)
	}

	return descs
}

// Encode returns the configuration as a YAML document.
func (c *Config) Encode() ([]byte, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}

	return b, nil
}

func toolTipLines(s string) []string {
	var lines []string

	for line := range strings.Lines(s) {
		line = strings.TrimRight(line, " \t\r\n")
		if line != "" {
			lines = append(lines, line)
		}
	}

	return lines
}
