package step

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comtihon/catcher/pkg/schema"
	"github.com/comtihon/catcher/pkg/vars"
)

// recording registers a kind whose factory keeps every spec it is given.
func recording(r *Registry, name string) *[]Spec {
	var specs []Spec
	r.Register(Info{Name: name, Summary: name + " things"}, func(spec Spec, _ *Registry) (Step, error) {
		specs = append(specs, spec)
		return Func(func(context.Context, *Env, vars.Bindings) (Result, error) {
			return Result{Output: spec.Body}, nil
		}), nil
	})
	return &specs
}

func TestCompile_SplitsControlFields(t *testing.T) {
	r := NewRegistry()
	specs := recording(r, "http")

	actions, err := r.Compile(3, schema.StepSpec{Action: "http", Body: map[string]any{
		"url":           "http://localhost",
		"name":          "call {{ who }}",
		"register":      map[string]any{"code": "{{ OUTPUT }}"},
		"ignore_errors": "true",
		"tag":           "smoke",
		"skip_if":       "{{ skip }}",
	}})
	require.NoError(t, err)
	require.Len(t, actions, 1)

	a := actions[0]
	assert.Equal(t, 3, a.Index)
	assert.Equal(t, "http", a.Kind)
	assert.Equal(t, "call {{ who }}", a.Label())
	assert.True(t, a.IgnoreErrors, "bools are weakly decoded")
	assert.Equal(t, "smoke", a.Tag)
	assert.Equal(t, "{{ skip }}", a.SkipIf)
	assert.Equal(t, map[string]any{"code": "{{ OUTPUT }}"}, a.Register)

	require.Len(t, *specs, 1)
	assert.Equal(t, map[string]any{"url": "http://localhost"}, (*specs)[0].Body)
	assert.Equal(t, "smoke", (*specs)[0].Common.Tag)
	assert.Equal(t, map[string]any{"url": "http://localhost"}, a.Body, "reports only carry step fields")
}

func TestCompile_ReportBodyDropsEngineKeys(t *testing.T) {
	r := NewRegistry()
	recording(r, "echo")

	actions, err := r.Compile(1, schema.StepSpec{Action: "echo", Body: map[string]any{
		"from":   "hi",
		"_frame": 2,
		"name":   "greet",
	}})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, map[string]any{"from": "hi"}, actions[0].Body)

	actions, err = r.Compile(1, schema.StepSpec{Action: "echo", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", actions[0].Body)
}

func TestCompile_ScalarBody(t *testing.T) {
	r := NewRegistry()
	specs := recording(r, "echo")

	actions, err := r.Compile(1, schema.StepSpec{Action: "echo", Body: "hello"})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "echo", actions[0].Label())
	assert.Equal(t, "hello", (*specs)[0].Body)
}

func TestCompile_ExpandsActions(t *testing.T) {
	r := NewRegistry()
	specs := recording(r, "http")

	actions, err := r.Compile(2, schema.StepSpec{Action: "http", Body: map[string]any{
		"tag": "shared",
		"url": "http://default",
		"actions": []any{
			map[string]any{"method": "get"},
			map[string]any{"method": "post", "url": "http://other", "tag": "own"},
		},
	}})
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, 2, actions[0].Index)
	assert.Equal(t, 2, actions[1].Index, "expanded actions keep the index of their entry")
	assert.Equal(t, "shared", actions[0].Tag)
	assert.Equal(t, "own", actions[1].Tag)

	assert.Equal(t, map[string]any{"method": "get", "url": "http://default"}, (*specs)[0].Body)
	assert.Equal(t, map[string]any{"method": "post", "url": "http://other"}, (*specs)[1].Body)
}

func TestCompile_ActionsMustBeMaps(t *testing.T) {
	r := NewRegistry()
	recording(r, "echo")

	_, err := r.Compile(1, schema.StepSpec{Action: "echo", Body: map[string]any{"actions": "nope"}})
	assert.ErrorContains(t, err, "actions must be a list")

	_, err = r.Compile(1, schema.StepSpec{Action: "echo", Body: map[string]any{"actions": []any{"x"}}})
	assert.ErrorContains(t, err, "actions[0]")
}

func TestCompileAll_UnknownAction(t *testing.T) {
	r := NewRegistry()
	recording(r, "echo")

	_, err := r.CompileAll([]schema.StepSpec{
		{Action: "echo", Body: "a"},
		{Action: "teleport", Body: map[string]any{}},
	})
	var unknown *UnknownActionError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "teleport", unknown.Name)
	assert.Contains(t, err.Error(), "step 2")
}

func TestCompile_FactoryError(t *testing.T) {
	r := NewRegistry()
	r.Register(Info{Name: "broken"}, func(Spec, *Registry) (Step, error) {
		return nil, errors.New("missing 'from'")
	})
	_, err := r.CompileAll([]schema.StepSpec{{Action: "broken", Body: nil}})
	assert.EqualError(t, err, "step 1: broken: missing 'from'")
}

func TestNested(t *testing.T) {
	r := NewRegistry()
	recording(r, "echo")

	single, err := r.Nested(map[string]any{"echo": "one"})
	require.NoError(t, err)
	assert.Len(t, single, 1)

	list, err := r.Nested([]any{
		map[string]any{"echo": "one"},
		map[string]any{"echo": "two"},
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[1].Index)
}

func TestInfos(t *testing.T) {
	r := NewRegistry()
	recording(r, "wait")
	recording(r, "echo")

	infos := r.Infos()
	require.Len(t, infos, 2)
	assert.Equal(t, "echo", infos[0].Name)
	assert.True(t, r.Has("wait"))
	assert.False(t, r.Has("loop"))

	info, ok := r.Info("echo")
	assert.True(t, ok)
	assert.Equal(t, "echo things", info.Summary)
}

func TestDecode(t *testing.T) {
	var cfg struct {
		Seconds float64 `mapstructure:"seconds"`
		Verify  bool    `mapstructure:"verify"`
	}
	require.NoError(t, Decode(map[string]any{"seconds": "1.5", "verify": 1, "other": true}, &cfg))
	assert.Equal(t, 1.5, cfg.Seconds)
	assert.True(t, cfg.Verify)
}
