package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comtihon/catcher/pkg/config"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "inventory", "dev.yml"), "api_token: s3cr3t\nuser: alice\n")
	write(t, filepath.Join(dir, "funcs.yaml"), "double: args[0] * 2\n")
	write(t, filepath.Join(dir, "tests", "main.yaml"), `
steps:
  - echo: {from: '{{ double(21) }}', register: {answer: '{{ OUTPUT }}'}}
  - check: '{{ answer == 42 }}'
  - check: '{{ INVENTORY == "dev" }}'
  - echo: {from: '{{ api_token }} for {{ user }}'}
`)

	opts := config.Defaults()
	opts.Dir = dir
	opts.Inventory = "inventory/dev.yml"
	opts.Filters = []string{"funcs.yaml"}
	opts.Secrets = []string{"api_token"}
	opts.Format = "json"
	opts.Output = "final"
	opts.LogLevel = "debug"
	opts.LogFile = "run.log"

	a, err := New(context.Background(), &opts, Setup{})
	require.NoError(t, err)
	summary, err := a.Run(context.Background(), filepath.Join(dir, "tests"))
	a.Close()
	require.NoError(t, err)
	require.True(t, summary.OK(), summary.String())
	assert.Equal(t, 1, summary.Passed)

	report, err := os.ReadFile(filepath.Join(dir, "reports", "report.json"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "main.yaml")
	assert.NotContains(t, string(report), "s3cr3t")
	assert.Contains(t, string(report), "REDACTED")
	assert.Contains(t, string(report), " for alice")

	logs, err := os.ReadFile(filepath.Join(dir, "run.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logs), "Test passed.")
	assert.NotContains(t, string(logs), "s3cr3t")
}

func TestRun_NoTests(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "empty"), 0o755))
	opts := config.Defaults()
	opts.Dir = dir

	a, err := New(context.Background(), &opts, Setup{Quiet: true})
	require.NoError(t, err)
	defer a.Close()
	_, err = a.Run(context.Background(), filepath.Join(dir, "empty"))
	assert.ErrorContains(t, err, "no tests found")
}

func TestNew_Errors(t *testing.T) {
	dir := t.TempDir()

	opts := config.Defaults()
	opts.Dir = dir
	opts.LogLevel = "loud"
	_, err := New(context.Background(), &opts, Setup{Quiet: true})
	assert.Error(t, err)

	opts = config.Defaults()
	opts.Dir = dir
	opts.Variables = []string{"novalue"}
	_, err = New(context.Background(), &opts, Setup{Quiet: true})
	assert.ErrorContains(t, err, "expected key=value")

	opts = config.Defaults()
	opts.Dir = dir
	opts.Inventory = "missing.yml"
	_, err = New(context.Background(), &opts, Setup{Quiet: true})
	assert.ErrorContains(t, err, "inventory")
}
