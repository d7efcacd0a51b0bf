// Package builtin implements the core steps: echo, check, stop and the
// control steps loop, wait and run that drive the engine recursively.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/comtihon/catcher/pkg/eval"
	"github.com/comtihon/catcher/pkg/logging"
	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/vars"
)

type echoConfig struct {
	From any    `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

type echo struct {
	cfg echoConfig
}

func newEcho(spec step.Spec, _ *step.Registry) (step.Step, error) {
	var cfg echoConfig
	if m, ok := spec.Body.(map[string]any); ok {
		if err := step.Decode(m, &cfg); err != nil {
			return nil, err
		}
		if _, ok := m["from"]; !ok {
			return nil, fmt.Errorf("missing 'from'")
		}
	} else {
		cfg.From = spec.Body
	}
	return &echo{cfg: cfg}, nil
}

// Action renders `from` and writes it to `to`, or logs it.
func (e *echo) Action(ctx context.Context, env *step.Env, b vars.Bindings) (step.Result, error) {
	out := eval.Fill(e.cfg.From, b)
	if e.cfg.To == "" {
		logging.FromContext(ctx).Info(eval.Stringify(out))
		return step.Result{Output: out}, nil
	}

	dst := eval.Render(e.cfg.To, b)
	if !filepath.IsAbs(dst) {
		dst = filepath.Join(baseDir(env, b), dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return step.Result{}, fmt.Errorf("echo: %w", err)
	}
	if err := os.WriteFile(dst, []byte(eval.Stringify(out)), 0o644); err != nil {
		return step.Result{}, fmt.Errorf("echo: %w", err)
	}
	return step.Result{Output: out}, nil
}

// baseDir is CURRENT_DIR when bound, the project directory otherwise.
func baseDir(env *step.Env, b vars.Bindings) string {
	if dir, ok := b[vars.CurrentDir].(string); ok && dir != "" {
		return dir
	}
	if env != nil && env.Dir != "" {
		return env.Dir
	}
	return "."
}
