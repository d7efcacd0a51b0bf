package builtin

import (
	"context"
	"fmt"

	"github.com/comtihon/catcher/pkg/eval"
	"github.com/comtihon/catcher/pkg/operator"
	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/vars"
)

type whileConfig struct {
	If       any  `mapstructure:"if"`
	Do       any  `mapstructure:"do"`
	MaxCycle *int `mapstructure:"max_cycle"`
}

type foreachConfig struct {
	In any `mapstructure:"in"`
	Do any `mapstructure:"do"`
}

type loopConfig struct {
	While   *whileConfig   `mapstructure:"while"`
	Foreach *foreachConfig `mapstructure:"foreach"`
}

type loop struct {
	cfg loopConfig
	do  []step.Action
}

func newLoop(spec step.Spec, r *step.Registry) (step.Step, error) {
	var cfg loopConfig
	if err := step.Decode(spec.Body, &cfg); err != nil {
		return nil, err
	}
	var do any
	switch {
	case cfg.While != nil && cfg.Foreach != nil:
		return nil, fmt.Errorf("only one of while and foreach is allowed")
	case cfg.While != nil:
		if cfg.While.If == nil {
			return nil, fmt.Errorf("while: missing 'if'")
		}
		if err := operator.Validate(cfg.While.If); err != nil {
			return nil, fmt.Errorf("while: %w", err)
		}
		do = cfg.While.Do
	case cfg.Foreach != nil:
		if cfg.Foreach.In == nil {
			return nil, fmt.Errorf("foreach: missing 'in'")
		}
		do = cfg.Foreach.Do
	default:
		return nil, fmt.Errorf("expected while or foreach")
	}
	if do == nil {
		return nil, fmt.Errorf("missing 'do'")
	}
	actions, err := r.Nested(do)
	if err != nil {
		return nil, fmt.Errorf("do: %w", err)
	}
	return &loop{cfg: cfg, do: actions}, nil
}

// Action runs the body against the same bindings on every iteration.
func (l *loop) Action(ctx context.Context, env *step.Env, b vars.Bindings) (step.Result, error) {
	if l.cfg.While != nil {
		return l.while(ctx, env, b)
	}
	return l.foreach(ctx, env, b)
}

// while repeats the body as long as the condition holds, at most max_cycle
// times when set.
func (l *loop) while(ctx context.Context, env *step.Env, b vars.Bindings) (step.Result, error) {
	cfg := l.cfg.While
	for n := 0; cfg.MaxCycle == nil || n < *cfg.MaxCycle; n++ {
		ok, err := operator.Evaluate(ctx, cfg.If, b)
		if err != nil {
			return step.Result{}, err
		}
		if !ok {
			break
		}
		if res, done, err := l.iterate(ctx, env, b); done {
			return res, err
		}
	}
	return step.Result{}, nil
}

// foreach binds ITEM to each element of `in` and runs the body.
func (l *loop) foreach(ctx context.Context, env *step.Env, b vars.Bindings) (step.Result, error) {
	in := eval.Fill(l.cfg.Foreach.In, b)
	items, ok := operator.Items(in)
	if !ok {
		return step.Result{}, fmt.Errorf("%s is not iterable", eval.Stringify(in))
	}
	for _, item := range items {
		b[vars.Item] = item
		if res, done, err := l.iterate(ctx, env, b); done {
			return res, err
		}
	}
	return step.Result{}, nil
}

// iterate runs the body once. done is set when the loop must end.
func (l *loop) iterate(ctx context.Context, env *step.Env, b vars.Bindings) (step.Result, bool, error) {
	o := env.Exec.Execute(ctx, env, l.do, b)
	switch o.Kind {
	case step.Stop:
		return step.Result{Signal: step.Stop}, true, nil
	case step.Failure:
		return step.Result{}, true, o.Err
	}
	return step.Result{}, false, nil
}
