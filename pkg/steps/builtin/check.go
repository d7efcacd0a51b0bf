package builtin

import (
	"context"
	"fmt"

	"github.com/comtihon/catcher/pkg/eval"
	"github.com/comtihon/catcher/pkg/operator"
	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/vars"
)

type check struct {
	cond any
}

func newCheck(spec step.Spec, _ *step.Registry) (step.Step, error) {
	if spec.Body == nil {
		return nil, fmt.Errorf("missing condition")
	}
	if err := operator.Validate(spec.Body); err != nil {
		return nil, err
	}
	return &check{cond: spec.Body}, nil
}

// Action fails when the condition does not hold.
func (c *check) Action(ctx context.Context, _ *step.Env, b vars.Bindings) (step.Result, error) {
	ok, err := operator.Evaluate(ctx, c.cond, b)
	if err != nil {
		return step.Result{}, err
	}
	if !ok {
		return step.Result{}, fmt.Errorf("operation %s failed", eval.Stringify(c.cond))
	}
	return step.Result{Output: true}, nil
}

type stop struct {
	cond any
}

func newStop(spec step.Spec, _ *step.Registry) (step.Step, error) {
	var cond any = true
	switch body := spec.Body.(type) {
	case nil:
	case map[string]any:
		v, ok := body["if"]
		if !ok {
			return nil, fmt.Errorf("missing 'if'")
		}
		cond = v
	default:
		cond = body
	}
	if err := operator.Validate(cond); err != nil {
		return nil, err
	}
	return &stop{cond: cond}, nil
}

// Action signals a stop when the condition holds.
func (s *stop) Action(ctx context.Context, _ *step.Env, b vars.Bindings) (step.Result, error) {
	ok, err := operator.Evaluate(ctx, s.cond, b)
	if err != nil {
		return step.Result{}, err
	}
	if ok {
		return step.Result{Output: fmt.Sprintf("%s fired", eval.Stringify(s.cond)), Signal: step.Stop}, nil
	}
	return step.Result{}, nil
}
