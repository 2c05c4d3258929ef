package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/macropower/watchdo/pkg/expr"
	"github.com/macropower/watchdo/pkg/log"
)

var (
	// ErrMissingWatch is returned for watching tasks without watch paths.
	ErrMissingWatch = errors.New("tasks that are not runOnce must watch at least one path")

	// ErrNoTasks is returned when no task is configured.
	ErrNoTasks = errors.New("no tasks configured")

	// ErrPlaceholder is returned for placeholders that cannot be expanded.
	ErrPlaceholder = errors.New("invalid placeholder")
)

func (l *loader) normalizeConfig(ctx context.Context, cfg *Config) error {
	if len(cfg.Tasks) == 0 {
		return ErrNoTasks
	}

	err := l.normalizeWorkDir(&cfg.WorkDir)
	if err != nil {
		return err
	}

	for _, name := range cfg.TaskNames() {
		err := l.normalizeTask(cfg.WorkDir.Path, name, cfg.Tasks[name])
		if err != nil {
			return fmt.Errorf("task %q: %w", name, err)
		}
	}

	expandPlaceholders(ctx, cfg)

	cfg.filters = make(map[string]*expr.EventFilter)

	for _, name := range cfg.TaskNames() {
		filter, err := expr.NewEventFilter(name, cfg.Tasks[name].Filter)
		if err != nil {
			return fmt.Errorf("task %q: %w", name, err)
		}

		if filter != nil {
			cfg.filters[name] = filter
		}
	}

	return nil
}

// normalizeWorkDir generates the work directory path if needed, then
// recreates it.
func (l *loader) normalizeWorkDir(wd *WorkDir) error {
	if wd.BaseDir == "" {
		wd.BaseDir = os.TempDir()
	}

	if wd.Prefix == "" {
		wd.Prefix = DefaultPrefix
	}

	wd.BaseDir = expandHome(wd.BaseDir, l.homeDir)

	if wd.Path == "" {
		wd.Path = filepath.Join(wd.BaseDir, wd.Prefix+"-"+l.now().Format(WorkDirTimeFormat))
	}

	path, err := filepath.Abs(expandHome(wd.Path, l.homeDir))
	if err != nil {
		return fmt.Errorf("work directory: %w", err)
	}

	if path == filepath.Dir(path) {
		return fmt.Errorf("work directory: refusing to use %q", path)
	}

	wd.Path = path

	err = os.RemoveAll(path)
	if err != nil {
		return fmt.Errorf("remove work directory: %w", err)
	}

	err = os.MkdirAll(path, 0o750)
	if err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}

	return nil
}

func (l *loader) normalizeTask(workDir, name string, tc *TaskConfig) error {
	tc.Name = name
	tc.WorkDir = filepath.Join(workDir, name)
	tc.LogFilePath = filepath.Join(tc.WorkDir, LogFileName)

	err := os.MkdirAll(tc.WorkDir, 0o750)
	if err != nil {
		return fmt.Errorf("create task directory: %w", err)
	}

	if len(tc.Cmd) == 0 || tc.Cmd[0] == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCommand)
	}

	if tc.ProjectDir == "" {
		tc.ProjectDir = tc.WorkDir
	}

	tc.ProjectDir, err = filepath.Abs(expandHome(tc.ProjectDir, l.homeDir))
	if err != nil {
		return fmt.Errorf("project directory: %w", err)
	}

	info, err := os.Stat(tc.ProjectDir)
	if err != nil {
		return fmt.Errorf("project directory must exist: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("project directory %q is not a directory", tc.ProjectDir)
	}

	if len(tc.Watch) == 0 {
		if !tc.RunOnce {
			return ErrMissingWatch
		}

		tc.Watch = nil

		return nil
	}

	watch := make([]string, 0, len(tc.Watch))

	for _, path := range tc.Watch {
		path = expandHome(path, l.homeDir)

		if !filepath.IsAbs(path) {
			path = filepath.Join(tc.ProjectDir, path)

			err := os.MkdirAll(path, 0o750)
			if err != nil {
				return fmt.Errorf("create watch directory: %w", err)
			}
		}

		watch = append(watch, filepath.Clean(path))
	}

	tc.Watch = watch

	return nil
}

// expandPlaceholders expands "{task[key]}" placeholders in every task's
// command and tool tips. Text that cannot be expanded is kept as written.
func expandPlaceholders(ctx context.Context, cfg *Config) {
	logger := log.WithContext(ctx)

	for _, name := range cfg.TaskNames() {
		tc := cfg.Tasks[name]

		cmd := make(Argv, len(tc.Cmd))

		for i, arg := range tc.Cmd {
			expanded, err := ExpandPlaceholders(arg, cfg.Tasks)
			if err != nil {
				logger.WarnContext(ctx, "could not expand command argument",
					slog.String("task", name),
					slog.String("arg", arg),
					slog.Any("error", err),
				)

				expanded = arg
			}

			cmd[i] = expanded
		}

		tc.Cmd = cmd

		if tc.ToolTips == "" {
			continue
		}

		expanded, err := ExpandPlaceholders(tc.ToolTips, cfg.Tasks)
		if err != nil {
			logger.WarnContext(ctx, "could not expand tool tips",
				slog.String("task", name),
				slog.Any("error", err),
			)

			continue
		}

		tc.ToolTips = expanded
	}
}

// ExpandPlaceholders replaces every "{task[key]}" in s with the field key of
// the named task. Supported keys are name, workDir, projectDir and
// logFilePath. "{{" and "}}" produce literal braces.
func ExpandPlaceholders(s string, tasks map[string]*TaskConfig) (string, error) {
	var b strings.Builder

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case c == '{' && strings.HasPrefix(s[i:], "{{"):
			b.WriteByte('{')
			i++

		case c == '}' && strings.HasPrefix(s[i:], "}}"):
			b.WriteByte('}')
			i++

		case c == '}':
			return "", fmt.Errorf("%w: single '}' in %q", ErrPlaceholder, s)

		case c == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unclosed '{' in %q", ErrPlaceholder, s)
			}

			value, err := lookupPlaceholder(s[i+1:i+end], tasks)
			if err != nil {
				return "", err
			}

			b.WriteString(value)
			i += end

		default:
			b.WriteByte(c)
		}
	}

	return b.String(), nil
}

func lookupPlaceholder(field string, tasks map[string]*TaskConfig) (string, error) {
	open := strings.IndexByte(field, '[')
	if open <= 0 || !strings.HasSuffix(field, "]") {
		return "", fmt.Errorf("%w: {%s}: expected {task[key]}", ErrPlaceholder, field)
	}

	name, key := field[:open], field[open+1:len(field)-1]

	tc, ok := tasks[name]
	if !ok || tc == nil {
		return "", fmt.Errorf("%w: {%s}: unknown task %q%s", ErrPlaceholder, field, name, suggestTask(name, tasks))
	}

	switch key {
	case "name":
		return tc.Name, nil
	case "workDir":
		return tc.WorkDir, nil
	case "projectDir":
		return tc.ProjectDir, nil
	case "logFilePath":
		return tc.LogFilePath, nil
	}

	return "", fmt.Errorf("%w: {%s}: unknown key %q", ErrPlaceholder, field, key)
}

// suggestTask names the closest configured task, if any matches name.
func suggestTask(name string, tasks map[string]*TaskConfig) string {
	names := slices.Sorted(maps.Keys(tasks))

	matches := fuzzy.Find(name, names)
	if len(matches) == 0 {
		return ""
	}

	return fmt.Sprintf(", did you mean %q?", matches[0].Str)
}

func expandHome(path, home string) string {
	if home == "" {
		return path
	}

	if path == "~" {
		return home
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}

	return path
}
