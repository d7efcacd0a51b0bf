// Package step defines the contract between the engine and the step kinds it
// dispatches to.
package step

import (
	"context"
	"fmt"

	"github.com/comtihon/catcher/pkg/vars"
)

// Kind classifies how a step or a sequence of steps ended.
type Kind int

const (
	Continue Kind = iota // succeeded, go on with the next step
	Skip                 // did not run
	Stop                 // stop the test without error
	Failure              // ordinary failure
)

func (k Kind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Skip:
		return "skip"
	case Stop:
		return "stop"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is what a step returns on success.
type Result struct {
	// Bindings, when non-nil, replaces the content of the bindings the step
	// received. Steps that mutate the bindings in place leave it nil.
	Bindings map[string]any
	// Output is exposed as OUTPUT to the register block.
	Output any
	// Signal is Continue, Skip or Stop.
	Signal Kind
}

// Outcome is the result of executing a sequence of actions.
type Outcome struct {
	Kind Kind
	Err  error
}

// Done is the successful outcome.
func Done() Outcome { return Outcome{Kind: Continue} }

// Fail wraps err into a failed outcome.
func Fail(err error) Outcome { return Outcome{Kind: Failure, Err: err} }

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool { return o.Kind == Failure }

// Step is a single executable action.
type Step interface {
	Action(ctx context.Context, env *Env, b vars.Bindings) (Result, error)
}

// Func adapts a function to Step.
type Func func(ctx context.Context, env *Env, b vars.Bindings) (Result, error)

func (f Func) Action(ctx context.Context, env *Env, b vars.Bindings) (Result, error) {
	return f(ctx, env, b)
}

// Runnable is a test that can be run on demand by name.
type Runnable interface {
	Path() string
	// Bindings returns the current bindings of the test.
	Bindings() vars.Bindings
	// Run executes the test with b as its bindings and returns them. Only
	// steps tagged tag run when tag is not empty. With propagateStop a stop
	// is returned as a Stop outcome instead of ending the test successfully.
	Run(ctx context.Context, tag string, propagateStop bool, b vars.Bindings) (vars.Bindings, Outcome)
}

// Included is an aliased include together with the ignore_errors flag of
// its include site.
type Included struct {
	Runnable
	IgnoreErrors bool
}

// Includes looks up the aliased includes of a test.
type Includes interface {
	Lookup(alias string) (Included, bool)
}

// Executor runs a sequence of compiled actions against b, applying skip_if,
// register and ignore_errors.
type Executor interface {
	Execute(ctx context.Context, env *Env, actions []Action, b vars.Bindings) Outcome
}

// Env is what a step can reach besides its bindings.
type Env struct {
	Path     string // document the step belongs to
	Dir      string // project directory
	Includes Includes
	Exec     Executor
	Steps    *Registry
}

// WithIncludes returns a copy of env looking up includes in inc.
func (e *Env) WithIncludes(path string, inc Includes) *Env {
	c := *e
	c.Path = path
	c.Includes = inc
	return &c
}

// UnknownActionError is returned when no step kind is registered for an
// action name.
type UnknownActionError struct {
	Name string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("Can't find module for action: %s", e.Name)
}
