package include

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comtihon/catcher/pkg/engine"
	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/steps/builtin"
	"github.com/comtihon/catcher/pkg/vars"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func resolver(dir string) *Resolver {
	reg := step.NewRegistry()
	builtin.Register(reg)
	return New(engine.New(reg, dir), dir)
}

func names(incs []*Include) []string {
	out := make([]string, 0, len(incs))
	for _, inc := range incs {
		out = append(out, inc.Test.Name())
	}
	return out
}

func TestResolve_Order(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "c.yaml", "steps:\n  - echo: c\n")
	write(t, dir, "a.yaml", "include: c.yaml\nsteps:\n  - echo: a\n")
	write(t, dir, "b.yaml", "steps:\n  - echo: b\n")
	main := write(t, dir, "main.yaml", `
include:
  - a.yaml
  - {file: b.yaml, as: b}
steps:
  - echo: main
`)

	res, err := resolver(dir).ResolveFile(context.Background(), main)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.yaml", "a.yaml", "b.yaml"}, names(res.Includes))
	assert.Equal(t, []string{"c.yaml", "a.yaml"}, names(res.PreRun()), "an aliased include waits for run")

	_, ok := res.Root.Lookup("b")
	assert.True(t, ok)
	_, ok = res.Root.Lookup("a")
	assert.False(t, ok)
}

func TestResolve_Cycle(t *testing.T) {
	dir := t.TempDir()
	main := write(t, dir, "main.yaml", "include: simple.yaml\nsteps:\n  - echo: main\n")
	write(t, dir, "simple.yaml", "include: other.yaml\nsteps:\n  - echo: simple\n")
	write(t, dir, "other.yaml", "include: simple.yaml\nsteps:\n  - echo: other\n")

	_, err := resolver(dir).ResolveFile(context.Background(), main)
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle), "got %v", err)
	assert.Equal(t, "simple.yaml", filepath.Base(cycle.Path))
	assert.Contains(t, err.Error(), "Circular dependencies for")
}

func TestResolve_SelfInclude(t *testing.T) {
	dir := t.TempDir()
	main := write(t, dir, "main.yaml", "include: main.yaml\nsteps:\n  - echo: main\n")

	_, err := resolver(dir).ResolveFile(context.Background(), main)
	var cycle *CycleError
	assert.True(t, errors.As(err, &cycle))
}

func TestResolve_DiamondIsNotACycle(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "shared.yaml", "steps:\n  - echo: shared\n")
	write(t, dir, "left.yaml", "include: shared.yaml\nsteps:\n  - echo: left\n")
	write(t, dir, "right.yaml", "include: shared.yaml\nsteps:\n  - echo: right\n")
	main := write(t, dir, "main.yaml", "include: [left.yaml, right.yaml]\nsteps:\n  - echo: main\n")

	res, err := resolver(dir).ResolveFile(context.Background(), main)
	require.NoError(t, err)
	assert.Equal(t, []string{"shared.yaml", "left.yaml", "shared.yaml", "right.yaml"}, names(res.Includes))
}

func TestResolve_MissingInclude(t *testing.T) {
	dir := t.TempDir()
	main := write(t, dir, "main.yaml", "include: missing.yaml\nsteps:\n  - echo: main\n")

	_, err := resolver(dir).ResolveFile(context.Background(), main)
	var re *ResolutionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "missing.yaml", re.Path)
}

func TestResolve_RelativeToIncludingDocument(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	write(t, sub, "helper.yaml", "steps:\n  - echo: helper\n")
	main := write(t, sub, "main.yaml", "include: helper.yaml\nsteps:\n  - echo: main\n")

	res, err := resolver(dir).ResolveFile(context.Background(), main)
	require.NoError(t, err)
	assert.Equal(t, []string{"helper.yaml"}, names(res.Includes))
}

const signUp = `
steps:
  - echo: {from: '{{ user }}', tag: sign_up, register: {signed_up: '{{ OUTPUT }}'}}
  - echo: {from: '{{ user }}', tag: login, register: {logged_in: '{{ OUTPUT }}'}}
`

func runRoot(t *testing.T, dir, src string, b vars.Bindings) (vars.Bindings, step.Outcome) {
	t.Helper()
	main := write(t, dir, "main.yaml", src)
	res, err := resolver(dir).ResolveFile(context.Background(), main)
	require.NoError(t, err)
	return res.Root.Run(context.Background(), "", false, b)
}

func TestRun_AliasWithTag(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "sign.yaml", signUp)

	b, o := runRoot(t, dir, `
include: {file: sign.yaml, as: sign}
steps:
  - run: sign.login
`, vars.Bindings{"user": "alice"})
	require.False(t, o.Failed(), "%v", o.Err)
	assert.Equal(t, "alice", b["logged_in"])
	assert.NotContains(t, b, "signed_up")
}

func TestRun_VariablesOverride(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "sign.yaml", signUp)

	b, o := runRoot(t, dir, `
include: {file: sign.yaml, as: sign}
steps:
  - run: {include: sign, variables: {user: '{{ admin }}'}}
`, vars.Bindings{"user": "alice", "admin": "root"})
	require.False(t, o.Failed(), "%v", o.Err)
	assert.Equal(t, "root", b["signed_up"])
	assert.Equal(t, "root", b["logged_in"])
}

func TestRun_UnknownAlias(t *testing.T) {
	dir := t.TempDir()
	_, o := runRoot(t, dir, "steps:\n  - run: nope\n", vars.Bindings{})
	require.True(t, o.Failed())
	assert.Contains(t, o.Err.Error(), "No include registered for name nope")
}

func TestRun_FailureNamesTheInclude(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "broken.yaml", "steps:\n  - check: '{{ 1 == 2 }}'\n")

	_, o := runRoot(t, dir, `
include: {file: broken.yaml, as: broken}
steps:
  - run: broken
`, vars.Bindings{})
	require.True(t, o.Failed())
	assert.Contains(t, o.Err.Error(), "Step run broken failed")
	assert.Equal(t, 1, engine.FailedStep(o.Err))
}

const partial = `
steps:
  - echo: {from: half, register: {partial: '{{ OUTPUT }}'}}
  - check: '{{ 1 == 2 }}'
`

func TestRun_IncludeIgnoreErrors(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "broken.yaml", partial)

	b, o := runRoot(t, dir, `
include: {file: broken.yaml, as: broken, ignore_errors: true}
steps:
  - run: broken
  - echo: {from: done, register: {after: '{{ OUTPUT }}'}}
`, vars.Bindings{})
	require.False(t, o.Failed(), "%v", o.Err)
	assert.Equal(t, "half", b["partial"], "bindings produced before the failure are kept")
	assert.Equal(t, "done", b["after"])
}

func TestRun_StepIgnoreErrorsKeepsBindings(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "broken.yaml", partial)

	b, o := runRoot(t, dir, `
include: {file: broken.yaml, as: broken}
steps:
  - run: {include: broken, ignore_errors: true}
`, vars.Bindings{})
	require.False(t, o.Failed(), "%v", o.Err)
	assert.Equal(t, "half", b["partial"])
}

func TestResolve_AliasKeepsIgnoreErrors(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.yaml", "steps:\n  - echo: a\n")
	write(t, dir, "b.yaml", "steps:\n  - echo: b\n")
	main := write(t, dir, "main.yaml", `
include:
  - {file: a.yaml, as: a, ignore_errors: true}
  - {file: b.yaml, as: b}
steps:
  - echo: main
`)
	res, err := resolver(dir).ResolveFile(context.Background(), main)
	require.NoError(t, err)

	a, ok := res.Root.Lookup("a")
	require.True(t, ok)
	assert.True(t, a.IgnoreErrors)
	b, ok := res.Root.Lookup("b")
	require.True(t, ok)
	assert.False(t, b.IgnoreErrors)
}

func TestRun_StopPropagates(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "halt.yaml", "steps:\n  - stop: true\n  - echo: {from: 1, register: {inner: 1}}\n")

	b, o := runRoot(t, dir, `
include: {file: halt.yaml, as: halt}
steps:
  - run: halt
  - echo: {from: 1, register: {outer: 1}}
`, vars.Bindings{})
	require.False(t, o.Failed(), "%v", o.Err)
	assert.NotContains(t, b, "inner")
	assert.NotContains(t, b, "outer")
}
