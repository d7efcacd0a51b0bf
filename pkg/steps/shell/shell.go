// Package shell implements the sh step.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/shell"

	"github.com/comtihon/catcher/pkg/eval"
	"github.com/comtihon/catcher/pkg/logging"
	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/vars"
)

// Info describes the sh step.
var Info = step.Info{
	Name:    "sh",
	Summary: "Run a command and capture its output",
	Doc: "# sh\n\n" +
		"Runs `command` (split with shell word rules; `$VAR` expands from the variables\n" +
		"and the environment) in `path`. Fails unless the exit code equals `return_code`\n" +
		"(default 0). The output is stdout.\n\n" +
		"```yaml\n" +
		"- sh:\n" +
		"    command: 'ls -la {{ dir }}'\n" +
		"    path: /tmp\n" +
		"    register: {listing: '{{ OUTPUT }}'}\n" +
		"- sh: {command: 'grep missing file.txt', return_code: 1}\n" +
		"```\n",
}

type config struct {
	Command    string `mapstructure:"command"`
	Path       string `mapstructure:"path"`
	ReturnCode int    `mapstructure:"return_code"`
}

type sh struct {
	cfg config
}

// New is the sh step factory.
func New(spec step.Spec, _ *step.Registry) (step.Step, error) {
	var cfg config
	switch body := spec.Body.(type) {
	case string:
		cfg.Command = body
	case map[string]any:
		if err := step.Decode(body, &cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported body %T", spec.Body)
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("missing 'command'")
	}
	return &sh{cfg: cfg}, nil
}

// Action runs the command with scalar bindings exported as environment.
func (s *sh) Action(ctx context.Context, env *step.Env, b vars.Bindings) (step.Result, error) {
	command := eval.Render(s.cfg.Command, b)
	environ := b.Environ()
	lookup := func(name string) string {
		if v, ok := b[name]; ok {
			return eval.Stringify(v)
		}
		return os.Getenv(name)
	}
	argv, err := shell.Fields(command, lookup)
	if err != nil {
		return step.Result{}, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return step.Result{}, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //#nosec G204 -- the command is authored by the test owner
	cmd.Env = append(os.Environ(), environ...)
	if s.cfg.Path != "" {
		dir := eval.Render(s.cfg.Path, b)
		if !filepath.IsAbs(dir) && env != nil && env.Dir != "" {
			dir = filepath.Join(env.Dir, dir)
		}
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	code := 0
	if err := cmd.Run(); err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return step.Result{}, fmt.Errorf("exec %q: %w", argv[0], err)
		}
		code = exitErr.ExitCode()
	}
	out := normalizeLineEndings(stdout.String())
	logging.FromContext(ctx).Debug("sh", "command", command, "code", code)
	if code != s.cfg.ReturnCode {
		return step.Result{}, fmt.Errorf("process %q returned %d, expected %d: %s",
			command, code, s.cfg.ReturnCode, strings.TrimSpace(stderr.String()))
	}
	return step.Result{Output: strings.TrimRight(out, "\n")}, nil
}

// normalizeLineEndings replaces \r\n with \n for cross-platform consistency.
func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
