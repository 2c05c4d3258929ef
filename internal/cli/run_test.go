//go:build !windows

package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/watchdo/internal/cli"
	"github.com/macropower/watchdo/pkg/config"
)

type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "watchdo.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	work := filepath.Join(dir, "work")

	path := writeConfig(t, dir, `
workDir:
  workDir: `+work+`
tasks:
  hello:
    cmd: echo hello
    runOnce: true
    toolTips: |
      says hello once
  sleeper:
    cmd: [sleep, "30"]
    runOnce: true
    gracePeriod: 2s
`)

	var stdout, stderr syncBuffer

	cmd := cli.NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"-c", path, "--pager", "more", "--no-user-config"})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	errs := make(chan error, 1)

	go func() {
		errs <- cmd.ExecuteContext(ctx)
	}()

	helloLog := filepath.Join(work, "hello", config.LogFileName)
	sleeperLog := filepath.Join(work, "sleeper", config.LogFileName)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(helloLog)
		if err != nil {
			return false
		}

		sleeper, err := os.ReadFile(sleeperLog)
		if err != nil {
			return false
		}

		return strings.Contains(string(data), "hello task (") &&
			strings.Contains(string(data), "exited with 0") &&
			strings.Contains(string(sleeper), "sleep 30")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return")
	}

	out := stdout.String()
	assert.Contains(t, out, "Tool tips:")
	assert.Contains(t, out, "says hello once")
	assert.Contains(t, out, "tail -f "+helloLog)
	assert.Contains(t, out, "more "+sleeperLog)
	assert.Contains(t, out, "Shutting down...")
	assert.Contains(t, out, "done!")
	assert.Less(t, strings.Index(out, "Shutting down..."), strings.Index(out, "done!"))

	sleeper, err := os.ReadFile(sleeperLog)
	require.NoError(t, err)
	assert.Contains(t, string(sleeper), "sleeper task (")
	assert.Contains(t, string(sleeper), "exited with -1")

	assert.Contains(t, stderr.String(), "task summary")
	assert.NotContains(t, stderr.String(), "exited with -1 after")
}

func TestRun_ShowConfig(t *testing.T) {
	dir := t.TempDir()
	work := filepath.Join(dir, "work")

	path := writeConfig(t, dir, `
workDir:
  workDir: `+work+`
tasks:
  build:
    cmd: go build ./...
    watch: [src]
`)

	var stdout, stderr bytes.Buffer

	cmd := cli.NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd.SetArgs([]string{"--show-config", "--config", path})

	require.NoError(t, cmd.ExecuteContext(t.Context()))

	out := stdout.String()
	assert.Contains(t, out, "build:")
	assert.Contains(t, out, "- go")
	assert.Contains(t, out, "- ./...")

	// Plain output when not writing to a terminal.
	assert.NotContains(t, out, "\x1b[")

	// Nothing is created on disk.
	assert.NoDirExists(t, work)
}

func TestRun_ConfigError(t *testing.T) {
	dir := t.TempDir()

	path := writeConfig(t, dir, `
workDir:
  baseDir: `+dir+`
tasks:
  build:
    cmd: make
`)

	var stdout, stderr bytes.Buffer

	cmd := cli.NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"run", "-c", path, "--no-user-config"})

	err := cmd.ExecuteContext(t.Context())
	require.ErrorIs(t, err, config.ErrConfiguration)
	require.ErrorIs(t, err, config.ErrMissingWatch)
	assert.NotContains(t, stdout.String(), "Logs:")
}

func TestSchemaCmd(t *testing.T) {
	var stdout bytes.Buffer

	cmd := cli.NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"schema"})

	require.NoError(t, cmd.ExecuteContext(t.Context()))

	var schema map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &schema))
	assert.Equal(t, config.SchemaURL, schema["$id"])
}
