package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/watchdo/pkg/config"
	"github.com/macropower/watchdo/pkg/yaml"
)

func TestLoad_Overlays(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	work := filepath.Join(dir, "work")

	writeFile(t, dir, config.FileName, `
workDir:
  workDir: `+work+`
tasks:
  build:
    cmd: make
    watch: [src]
    env:
      A: base
`)
	overlay := writeFile(t, dir, "overlay/extra.yaml", `
include: [more.yaml]
tasks:
  build:
    watch: [lib]
    env:
      A: overlay
      B: overlay
`)
	writeFile(t, dir, "overlay/more.yaml", `
tasks:
  lint:
    cmd: golangci-lint run
    runOnce: true
`)

	cfg, err := config.Load(t.Context(), config.WithDir(dir), config.WithFiles(overlay))
	require.NoError(t, err)

	assert.Equal(t, []string{"build", "lint"}, cfg.TaskNames())

	build := cfg.Tasks["build"]
	assert.Equal(t, config.Argv{"make"}, build.Cmd)
	assert.Equal(t, map[string]string{"A": "overlay", "B": "overlay"}, build.Env)
	assert.Equal(t, []string{
		filepath.Join(work, "build", "src"),
		filepath.Join(work, "build", "lib"),
	}, build.Watch)

	for _, w := range build.Watch {
		assert.DirExists(t, w)
	}

	lint := cfg.Tasks["lint"]
	assert.Equal(t, config.Argv{"golangci-lint", "run"}, lint.Cmd)
	assert.True(t, lint.RunOnce)
	assert.Empty(t, lint.Watch)
	assert.Empty(t, cfg.Include)
}

func TestLoad_UserConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	userDir := t.TempDir()

	user := writeFile(t, userDir, "watchdo/"+config.FileName, `
workDir:
  prefix: mine
tasks:
  build:
    env:
      FROM: user
      USER_ONLY: "1"
`)
	writeFile(t, dir, config.FileName, `
workDir:
  baseDir: `+dir+`
tasks:
  build:
    cmd: make
    runOnce: true
    env:
      FROM: project
`)

	cfg, err := config.Load(t.Context(), config.WithDir(dir), config.WithUserConfig(user))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"FROM": "project", "USER_ONLY": "1"}, cfg.Tasks["build"].Env)
	assert.Equal(t, "mine", cfg.WorkDir.Prefix)
	assert.Equal(t, dir, filepath.Dir(cfg.WorkDir.Path))

	// A missing user configuration is skipped.
	_, err = config.Load(t.Context(),
		config.WithDir(dir),
		config.WithUserConfig(filepath.Join(userDir, "missing.yaml")),
	)
	require.NoError(t, err)
}

func TestUserConfigPath(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	assert.Equal(t, filepath.Join(xdg, "watchdo", config.FileName), config.UserConfigPath())

	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, ".config", "watchdo", config.FileName), config.UserConfigPath())
}

func TestLoad_ConflictKeepsExisting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, config.FileName, `
workDir:
  workDir: `+filepath.Join(dir, "work")+`
tasks:
  build:
    cmd: make
    watch: [src]
`)
	overlay := writeFile(t, dir, "overlay.yaml", `
tasks:
  build:
    watch: src
`)

	cfg, err := config.Load(t.Context(), config.WithDir(dir), config.WithFiles(overlay))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "work", "build", "src")}, cfg.Tasks["build"].Watch)
}

func TestLoad_IncludeCycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, config.FileName, `
include: [other.yaml]
workDir:
  workDir: `+filepath.Join(dir, "work")+`
tasks:
  build:
    cmd: make
    runOnce: true
`)
	writeFile(t, dir, "other.yaml", `
include: [watchdo.yaml]
tasks:
  build:
    env:
      FROM: other
`)

	cfg, err := config.Load(t.Context(), config.WithDir(dir))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"FROM": "other"}, cfg.Tasks["build"].Env)
}

func TestLoad_WorkDir(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	dir := t.TempDir()
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)

	project := filepath.Join(home, "project")
	require.NoError(t, os.MkdirAll(project, 0o750))

	writeFile(t, dir, config.FileName, `
workDir:
  baseDir: ~/runs
  prefix: dev
tasks:
  build:
    cmd: make
    projectDir: ~/project
    watch: [src, ~/shared]
`)

	wantWork := filepath.Join(home, "runs", "dev-20250102-030405")

	// Leftovers from an earlier run are removed.
	stale := writeFile(t, wantWork, "stale.log", "old")

	cfg, err := config.Load(t.Context(),
		config.WithDir(dir),
		config.WithHomeDir(home),
		config.WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	assert.Equal(t, wantWork, cfg.WorkDir.Path)
	assert.NoFileExists(t, stale)

	build := cfg.Tasks["build"]
	assert.Equal(t, "build", build.Name)
	assert.Equal(t, filepath.Join(wantWork, "build"), build.WorkDir)
	assert.DirExists(t, build.WorkDir)
	assert.Equal(t, filepath.Join(wantWork, "build", config.LogFileName), build.LogFilePath)
	assert.Equal(t, project, build.ProjectDir)
	assert.Equal(t, []string{
		filepath.Join(project, "src"),
		filepath.Join(home, "shared"),
	}, build.Watch)
	assert.DirExists(t, filepath.Join(project, "src"))
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		content string
		files   []string
		err     error
		msg     string
		raw     bool
	}{
		"no tasks": {
			content: "include: []",
			err:     config.ErrNoTasks,
		},
		"missing watch": {
			content: `
tasks:
  build:
    cmd: make
`,
			err: config.ErrMissingWatch,
		},
		"missing project dir": {
			content: `
tasks:
  build:
    cmd: make
    runOnce: true
    projectDir: /does/not/exist
`,
			msg: "project directory must exist",
		},
		"bad filter": {
			content: `
tasks:
  build:
    cmd: make
    watch: [src]
    filter: file ==
`,
			msg: "filter",
		},
		"filter is not boolean": {
			content: `
tasks:
  build:
    cmd: make
    watch: [src]
    filter: file
`,
			msg: "filter",
		},
		"schema violation": {
			content: `
tasks:
  build:
    cmd: make
    watch: [src]
    runOnce: sometimes
`,
			msg: "runOnce",
		},
		"syntax error": {
			content: "tasks: [",
			msg:     config.FileName,
		},
		"not a mapping": {
			content: "- a\n- b\n",
			msg:     "must be a mapping",
			raw:     true,
		},
		"missing overlay": {
			content: `
tasks:
  build:
    cmd: make
    runOnce: true
`,
			files: []string{"missing.yaml"},
			err:   os.ErrNotExist,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()

			content := tc.content
			if !tc.raw {
				content = "workDir:\n  baseDir: " + dir + "\n" + content
			}

			writeFile(t, dir, config.FileName, content)

			files := make([]string, 0, len(tc.files))
			for _, f := range tc.files {
				files = append(files, filepath.Join(dir, f))
			}

			_, err := config.Load(t.Context(), config.WithDir(dir), config.WithFiles(files...))
			require.ErrorIs(t, err, config.ErrConfiguration)

			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
			}

			if tc.msg != "" {
				assert.ErrorContains(t, err, tc.msg)
			}
		})
	}
}

func TestLoad_SyntaxErrorHasSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, config.FileName, "tasks:\n  build:\n    cmd: [make\n")

	_, err := config.Load(t.Context(), config.WithDir(dir))
	require.Error(t, err)

	var yamlErr *yaml.Error
	require.ErrorAs(t, err, &yamlErr)
	assert.NotNil(t, yamlErr.Token)
	assert.Contains(t, err.Error(), filepath.Join(dir, config.FileName))
}

func TestLoad_WithoutNormalize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, config.FileName, `
tasks:
  build:
    cmd: make
`)

	cfg, err := config.Load(t.Context(), config.WithDir(dir), config.WithoutNormalize())
	require.NoError(t, err)

	build := cfg.Tasks["build"]
	assert.Empty(t, build.LogFilePath)
	assert.Empty(t, cfg.WorkDir.Path)
	assert.Empty(t, cfg.Descriptors()[0].LogPath)
}

func TestLoad_NoConfigFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(t.Context(), config.WithDir(t.TempDir()))
	require.ErrorIs(t, err, config.ErrNoTasks)
}
