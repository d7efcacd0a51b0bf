package engine

import (
	"context"
	"fmt"

	"github.com/comtihon/catcher/pkg/eval"
	"github.com/comtihon/catcher/pkg/logging"
	"github.com/comtihon/catcher/pkg/operator"
	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/trace"
	"github.com/comtihon/catcher/pkg/vars"
)

// StepError is a step failure that ended a sequence of actions.
type StepError struct {
	Index int // 1-based
	Name  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Executor runs compiled actions sequentially. It implements step.Executor
// and is used both for test bodies and for the bodies of control steps.
type Executor struct{}

// Execute runs actions against b. A failing action marked ignore_errors is
// logged and skipped; any other failure ends the sequence with a *StepError.
// A stop ends the sequence with a Stop outcome.
func (x *Executor) Execute(ctx context.Context, env *step.Env, actions []step.Action, b vars.Bindings) step.Outcome {
	log := logging.FromContext(ctx)
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			return step.Fail(err)
		}
		o := x.run(ctx, env, a, b)
		switch o.Kind {
		case step.Stop:
			return o
		case step.Failure:
			name := eval.Render(a.Label(), b)
			if a.IgnoreErrors {
				log.Debug("step failed but errors are ignored", "step", name, "error", o.Err)
				continue
			}
			return step.Fail(&StepError{Index: a.Index, Name: name, Err: o.Err})
		}
	}
	return step.Done()
}

// run executes a single action: skip_if, the action itself, then register.
func (x *Executor) run(ctx context.Context, env *step.Env, a step.Action, b vars.Bindings) step.Outcome {
	log := logging.FromContext(ctx)
	name := eval.Render(a.Label(), b)

	if a.SkipIf != nil {
		skip, err := operator.Evaluate(ctx, a.SkipIf, b)
		if err != nil {
			return step.Fail(fmt.Errorf("skip_if: %w", err))
		}
		if skip {
			log.Debug("step skipped", "step", name)
			return step.Outcome{Kind: step.Skip}
		}
	}

	rec := trace.FromContext(ctx)
	report := map[string]any{a.Kind: a.Body}
	rec.StepBegin(report, b.Snapshot())

	res, err := a.Step.Action(ctx, env, b)
	if err != nil {
		rec.StepEnd(report, b.Snapshot(), false, err.Error())
		log.Debug("step failed", "step", name, "error", err)
		return step.Fail(err)
	}
	if res.Bindings != nil {
		b.Replace(res.Bindings)
	}

	switch res.Signal {
	case step.Stop:
		rec.StepEnd(report, b.Snapshot(), true, res.Output)
		log.Info("step stopped the test", "step", name)
		return step.Outcome{Kind: step.Stop}
	case step.Skip:
		rec.StepEnd(report, b.Snapshot(), true, res.Output)
		log.Debug("step skipped itself", "step", name)
		return step.Outcome{Kind: step.Skip}
	}

	if len(a.Register) > 0 {
		scope := b.With(map[string]any{vars.Output: res.Output})
		registered := make(map[string]any, len(a.Register))
		for k, v := range a.Register {
			registered[k] = eval.Fill(v, scope)
		}
		b.Update(registered)
	}
	rec.StepEnd(report, b.Snapshot(), true, res.Output)
	log.Info("step done", "step", name)
	return step.Done()
}
