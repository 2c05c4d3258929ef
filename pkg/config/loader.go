package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/macropower/watchdo/pkg/debounce"
	"github.com/macropower/watchdo/pkg/log"
	"github.com/macropower/watchdo/pkg/yaml"
)

// LoadOpt configures [Load].
type LoadOpt func(*loader)

type loader struct {
	now         func() time.Time
	dir         string
	homeDir     string
	userConfig  string
	files       []string
	debounce    time.Duration
	gracePeriod time.Duration
	color       bool
	normalize   bool
}

// WithDir sets the directory searched for [FileName]. Defaults to the
// current directory.
func WithDir(dir string) LoadOpt {
	return func(l *loader) {
		l.dir = dir
	}
}

// WithUserConfig sets an optional file merged before [FileName], usually
// [UserConfigPath].
func WithUserConfig(path string) LoadOpt {
	return func(l *loader) {
		l.userConfig = path
	}
}

// WithFiles adds overlay files, merged in order after [FileName].
func WithFiles(paths ...string) LoadOpt {
	return func(l *loader) {
		l.files = append(l.files, paths...)
	}
}

// WithDefaults sets the debounce delay and grace period of tasks that do not
// set their own.
func WithDefaults(debounceDelay, gracePeriod time.Duration) LoadOpt {
	return func(l *loader) {
		l.debounce = debounceDelay
		l.gracePeriod = gracePeriod
	}
}

// WithClock sets the time used to name the generated work directory.
func WithClock(now func() time.Time) LoadOpt {
	return func(l *loader) {
		l.now = now
	}
}

// WithHomeDir sets the directory "~" expands to. Defaults to the user's home
// directory.
func WithHomeDir(dir string) LoadOpt {
	return func(l *loader) {
		l.homeDir = dir
	}
}

// WithColor enables colored source excerpts in errors.
func WithColor(color bool) LoadOpt {
	return func(l *loader) {
		l.color = color
	}
}

// WithoutNormalize skips normalization, so the configuration is returned as
// merged and nothing is created on disk.
func WithoutNormalize() LoadOpt {
	return func(l *loader) {
		l.normalize = false
	}
}

// Load reads, merges, validates and normalizes the configuration.
//
// The user configuration and [FileName] are optional; every overlay and
// included file must exist.
func Load(ctx context.Context, opts ...LoadOpt) (*Config, error) {
	l := &loader{
		dir:         ".",
		now:         time.Now,
		debounce:    debounce.DefaultDelay,
		gracePeriod: debounce.DefaultGracePeriod,
		normalize:   true,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.homeDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			l.homeDir = home
		}
	}

	doc, err := l.merge(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	cfg, err := l.decode(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if !l.normalize {
		return cfg, nil
	}

	err = l.normalizeConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return cfg, nil
}

type source struct {
	path     string
	optional bool
}

// merge reads every configuration file into one document. Include lists are
// resolved relative to the including file and queued after the files already
// waiting to be read.
func (l *loader) merge(ctx context.Context) (map[string]any, error) {
	logger := log.WithContext(ctx)

	var queue []source
	if l.userConfig != "" {
		queue = append(queue, source{path: l.userConfig, optional: true})
	}

	queue = append(queue, source{path: filepath.Join(l.dir, FileName), optional: true})
	for _, path := range l.files {
		queue = append(queue, source{path: path})
	}

	doc := map[string]any{}
	seen := map[string]bool{}

	for len(queue) > 0 {
		src := queue[0]
		queue = queue[1:]

		path, err := filepath.Abs(src.path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.path, err)
		}

		if seen[path] {
			logger.DebugContext(ctx, "skipping configuration file loaded before", slog.String("path", path))

			continue
		}

		seen[path] = true

		data, err := readConfig(path)
		if src.optional && errors.Is(err, fs.ErrNotExist) {
			logger.DebugContext(ctx, "no configuration file", slog.String("path", path))

			continue
		}

		if err != nil {
			return nil, err
		}

		var fileDoc any

		err = yaml.Unmarshal(data, &fileDoc)
		if err != nil {
			return nil, yaml.Annotate(err, yaml.WithFile(src.path), yaml.WithColor(l.color))
		}

		if fileDoc == nil {
			logger.DebugContext(ctx, "empty configuration file", slog.String("path", path))

			continue
		}

		fileMap, ok := fileDoc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: document must be a mapping, got %T", src.path, fileDoc)
		}

		// Each file's includes are queued once it is read, so they are not
		// merged into the document.
		includes, err := takeIncludes(fileMap)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.path, err)
		}

		merged, conflicts := yaml.Merge(doc, fileMap)
		if m, ok := merged.(map[string]any); ok {
			doc = m
		}

		for _, c := range conflicts {
			logger.WarnContext(ctx, "configuration conflict",
				slog.String("file", src.path),
				slog.String("conflict", c.String()),
			)
		}

		logger.DebugContext(ctx, "loaded configuration file", slog.String("path", path))

		for _, include := range includes {
			include = expandHome(include, l.homeDir)
			if !filepath.IsAbs(include) {
				include = filepath.Join(filepath.Dir(path), include)
			}

			queue = append(queue, source{path: include})
		}
	}

	return doc, nil
}

// decode validates the merged document and decodes it into a [Config].
func (l *loader) decode(doc map[string]any) (*Config, error) {
	// Re-encoding gives validation errors a source to annotate.
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}

	err = Validate(doc)
	if err != nil {
		return nil, yaml.Annotate(err, yaml.WithSource(data), yaml.WithColor(l.color))
	}

	cfg := &Config{
		debounce:    l.debounce,
		gracePeriod: l.gracePeriod,
	}

	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, yaml.Annotate(err, yaml.WithColor(l.color))
	}

	for name, tc := range cfg.Tasks {
		if tc == nil {
			return nil, fmt.Errorf("task %q: %w: missing cmd", name, ErrInvalidCommand)
		}
	}

	return cfg, nil
}

func takeIncludes(doc map[string]any) ([]string, error) {
	raw, ok := doc["include"]
	if !ok {
		return nil, nil
	}

	delete(doc, "include")

	if raw == nil {
		return nil, nil
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("include must be a list of paths, got %T", raw)
	}

	includes := make([]string, 0, len(list))

	for _, item := range list {
		path, ok := item.(string)
		if !ok || path == "" {
			return nil, fmt.Errorf("include must be a list of paths, got %v", item)
		}

		includes = append(includes, path)
	}

	return includes, nil
}

func readConfig(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("%s: path is a directory", path)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: unknown file state", path)
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: Potential file inclusion via variable.
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return data, nil
}
