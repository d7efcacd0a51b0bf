// Package engine implements the step execution state machine of a test:
// ignore, tag filtering, skip_if, register, ignore_errors, stop and the
// run_if gated finally block.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/comtihon/catcher/pkg/logging"
	"github.com/comtihon/catcher/pkg/operator"
	"github.com/comtihon/catcher/pkg/schema"
	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/vars"
)

// run_if values of finally steps.
const (
	RunAlways = "always"
	RunOnPass = "pass"
	RunOnFail = "fail"
)

// Engine compiles documents into runnable tests.
type Engine struct {
	steps *step.Registry
	dir   string
	exec  *Executor
}

// New returns an engine dispatching actions through reg. dir is the project
// directory steps resolve relative paths against.
func New(reg *step.Registry, dir string) *Engine {
	return &Engine{steps: reg, dir: dir, exec: &Executor{}}
}

// Registry returns the step registry of the engine.
func (e *Engine) Registry() *step.Registry { return e.steps }

// Compile resolves every action of doc against the registry.
func (e *Engine) Compile(doc *schema.Document) (*Test, error) {
	steps, err := e.steps.CompileAll(doc.Steps)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", doc.Path, err)
	}
	finally, err := e.steps.CompileAll(doc.Finally)
	if err != nil {
		return nil, fmt.Errorf("%s: finally: %w", doc.Path, err)
	}
	for _, a := range finally {
		switch a.RunIf {
		case "", RunAlways, RunOnPass, RunOnFail:
		default:
			return nil, fmt.Errorf("%s: finally step %d: run_if must be one of always, pass, fail; got %q", doc.Path, a.Index, a.RunIf)
		}
	}
	t := &Test{
		path:      doc.Path,
		variables: doc.Variables,
		config:    doc.Config,
		ignore:    doc.Ignore,
		steps:     steps,
		finally:   finally,
		includes:  map[string]step.Included{},
		bindings:  vars.Bindings{},
	}
	t.env = &step.Env{
		Path:     doc.Path,
		Dir:      e.dir,
		Includes: t,
		Exec:     e.exec,
		Steps:    e.steps,
	}
	return t, nil
}

// Test is a compiled document together with the bindings it runs with. The
// bindings map is shared by reference with every step, include and nested
// run executed from the test.
type Test struct {
	path      string
	variables map[string]any
	config    map[string]any
	ignore    schema.Condition
	steps     []step.Action
	finally   []step.Action
	includes  map[string]step.Included
	bindings  vars.Bindings
	env       *step.Env
}

// Path is the document path.
func (t *Test) Path() string { return t.path }

// Name is the document base name.
func (t *Test) Name() string { return filepath.Base(t.path) }

// Variables are the document `variables:` as written.
func (t *Test) Variables() map[string]any { return t.variables }

// Config is the opaque `config:` block.
func (t *Test) Config() map[string]any { return t.config }

// Bindings returns the current bindings.
func (t *Test) Bindings() vars.Bindings { return t.bindings }

// SetBindings makes b the bindings of the test.
func (t *Test) SetBindings(b vars.Bindings) { t.bindings = b }

// Steps returns the number of compiled actions in the steps block.
func (t *Test) Steps() int { return len(t.steps) }

// AddInclude registers an aliased include. With ignoreErrors a failing run
// of the include does not fail the caller.
func (t *Test) AddInclude(alias string, inc *Test, ignoreErrors bool) {
	t.includes[alias] = step.Included{Runnable: inc, IgnoreErrors: ignoreErrors}
}

// Lookup implements step.Includes.
func (t *Test) Lookup(alias string) (step.Included, bool) {
	inc, ok := t.includes[alias]
	return inc, ok
}

// Ignored evaluates the whole-test ignore condition against the current
// bindings.
func (t *Test) Ignored(ctx context.Context) (bool, error) {
	if !t.ignore.Set {
		return false, nil
	}
	ok, err := operator.Evaluate(ctx, t.ignore.Value, t.bindings)
	if err != nil {
		return false, fmt.Errorf("ignore: %w", err)
	}
	return ok, nil
}

// Run executes the steps with b as the bindings of the test; a nil b keeps
// the current ones. When tag is not empty only steps tagged tag run.
//
// A stop ends the test successfully, or is returned as a Stop outcome when
// propagateStop is set. A failure not covered by ignore_errors ends the test
// with a *StepError; remaining steps do not run.
func (t *Test) Run(ctx context.Context, tag string, propagateStop bool, b vars.Bindings) (vars.Bindings, step.Outcome) {
	if b != nil {
		t.bindings = b
	}
	log := logging.FromContext(ctx).With("test", t.Name())

	ignored, err := t.Ignored(ctx)
	if err != nil {
		return t.bindings, step.Fail(err)
	}
	if ignored {
		log.Info("test ignored")
		return t.bindings, step.Outcome{Kind: step.Skip}
	}

	ctx = logging.WithLogger(ctx, log)
	for _, a := range t.steps {
		if tag != "" && a.Tag != tag {
			continue
		}
		o := t.env.Exec.Execute(ctx, t.env, []step.Action{a}, t.bindings)
		switch o.Kind {
		case step.Stop:
			if propagateStop {
				return t.bindings, o
			}
			log.Info("test stopped")
			return t.bindings, step.Done()
		case step.Failure:
			return t.bindings, o
		}
	}
	return t.bindings, step.Done()
}

// RunFinally runs the finally block. Each step is gated by run_if: always
// (default), pass or fail. Failures are logged and never change the result
// of the test.
func (t *Test) RunFinally(ctx context.Context, passed bool) {
	if len(t.finally) == 0 {
		return
	}
	log := logging.FromContext(ctx).With("test", t.Name())
	ctx = logging.WithLogger(ctx, log)
	for _, a := range t.finally {
		switch a.RunIf {
		case RunOnPass:
			if !passed {
				continue
			}
		case RunOnFail:
			if passed {
				continue
			}
		}
		o := t.env.Exec.Execute(ctx, t.env, []step.Action{a}, t.bindings)
		if o.Failed() {
			log.Warn("finally step failed", "error", o.Err)
		}
		if o.Kind == step.Stop {
			return
		}
	}
}

// FailedStep returns the 1-based index of the step err originates from, or
// 0.
func FailedStep(err error) int {
	var se *StepError
	if errors.As(err, &se) {
		return se.Index
	}
	return 0
}
