package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/comtihon/catcher/pkg/eval"
	"github.com/comtihon/catcher/pkg/logging"
	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/vars"
)

type runConfig struct {
	Include   string         `mapstructure:"include"`
	Variables map[string]any `mapstructure:"variables"`
}

type run struct {
	cfg runConfig
	tag string
}

func newRun(spec step.Spec, _ *step.Registry) (step.Step, error) {
	var cfg runConfig
	switch body := spec.Body.(type) {
	case string:
		cfg.Include = body
	case map[string]any:
		if err := step.Decode(body, &cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported body %T", spec.Body)
	}
	if cfg.Include == "" {
		return nil, fmt.Errorf("missing 'include'")
	}
	return &run{cfg: cfg, tag: spec.Common.Tag}, nil
}

// Action runs an aliased include on demand. The include starts from its own
// bindings, overlaid with the caller's and then the `variables` override,
// expanded against themselves. Its resulting bindings are merged back into
// the caller, also when it fails. A failure of an include declared with
// ignore_errors is logged and swallowed.
func (r *run) Action(ctx context.Context, env *step.Env, b vars.Bindings) (step.Result, error) {
	name := eval.Render(r.cfg.Include, b)
	inc, tag, err := r.lookup(env, name)
	if err != nil {
		return step.Result{}, err
	}

	overrides := eval.FillMap(r.cfg.Variables, b)
	merged := vars.Bindings{}
	merged.Update(inc.Bindings())
	merged.Update(b)
	merged.Update(overrides)
	merged = vars.Bindings(eval.FillMap(merged, merged))

	log := logging.FromContext(ctx)
	log.Debug("run include", "include", name, "tag", tag)
	out, o := inc.Run(ctx, tag, true, merged)
	switch o.Kind {
	case step.Stop:
		return step.Result{Signal: step.Stop}, nil
	case step.Failure:
		b.Update(out)
		if inc.IgnoreErrors {
			log.Debug("include failed but errors are ignored", "include", name, "error", o.Err)
			return step.Result{}, nil
		}
		return step.Result{}, fmt.Errorf("Step run %s failed: %w", name, o.Err)
	case step.Skip:
		return step.Result{}, nil
	}
	b.Update(out)
	return step.Result{}, nil
}

// lookup resolves name to an include. An exact alias wins; otherwise the
// part after the last dot is the tag.
func (r *run) lookup(env *step.Env, name string) (step.Included, string, error) {
	if env == nil || env.Includes == nil {
		return step.Included{}, "", fmt.Errorf("No include registered for name %s", name)
	}
	if inc, ok := env.Includes.Lookup(name); ok {
		return inc, r.tag, nil
	}
	if r.tag == "" {
		if i := strings.LastIndex(name, "."); i > 0 {
			if inc, ok := env.Includes.Lookup(name[:i]); ok {
				return inc, name[i+1:], nil
			}
		}
	}
	return step.Included{}, "", fmt.Errorf("No include registered for name %s", name)
}
