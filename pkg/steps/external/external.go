// Package external registers executables found in plugin directories as
// steps. A plugin receives its step body as one JSON argument and answers
// on stdout.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/comtihon/catcher/pkg/eval"
	"github.com/comtihon/catcher/pkg/logging"
	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/vars"
)

// interpreters run plugin files that are not executables themselves.
var interpreters = map[string][]string{
	".py":  {"python3"},
	".js":  {"node"},
	".jar": {"java", "-jar"},
}

// Plugin is one discovered plugin executable.
type Plugin struct {
	Name string // basename without extension
	Path string
}

// Command returns the argv prefix that runs the plugin.
func (p Plugin) Command() []string {
	if prefix, ok := interpreters[strings.ToLower(filepath.Ext(p.Path))]; ok {
		return append(append([]string{}, prefix...), p.Path)
	}
	return []string{p.Path}
}

// Discover lists the plugins of the given directories. Missing directories
// are skipped. On a name clash the first directory wins.
func Discover(dirs ...string) ([]Plugin, error) {
	seen := map[string]bool{}
	var out []Plugin
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("plugins %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") || strings.HasPrefix(e.Name(), "_") {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if !runnable(path) {
				continue
			}
			name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, Plugin{Name: name, Path: path})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func runnable(path string) bool {
	if _, ok := interpreters[strings.ToLower(filepath.Ext(path))]; ok {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

// Register adds every plugin of dirs to r. Built-in names are not shadowed.
func Register(ctx context.Context, r *step.Registry, dirs ...string) error {
	plugins, err := Discover(dirs...)
	if err != nil {
		return err
	}
	for _, p := range plugins {
		if r.Has(p.Name) {
			logging.FromContext(ctx).Warn("plugin shadows a registered step, ignored", "plugin", p.Path)
			continue
		}
		r.Register(step.Info{
			Name:     p.Name,
			Summary:  "External step " + p.Path,
			External: true,
			Doc:      fmt.Sprintf("# %s\n\nExternal step at `%s`. The step body is passed as one JSON argument.\n", p.Name, p.Path),
		}, Factory(p))
	}
	return nil
}

// Factory returns the step factory of a plugin.
func Factory(p Plugin) step.Factory {
	return func(spec step.Spec, _ *step.Registry) (step.Step, error) {
		data, err := json.Marshal(spec.Body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		return &call{plugin: p, body: string(data)}, nil
	}
}

type call struct {
	plugin Plugin
	body   string
}

// Action runs the plugin with the rendered body and bindings in its environment.
func (c *call) Action(ctx context.Context, _ *step.Env, b vars.Bindings) (step.Result, error) {
	argv := append(c.plugin.Command(), eval.Render(c.body, b))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //#nosec G204 -- plugins come from configured directories
	cmd.Env = append(os.Environ(), b.Environ()...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := logging.FromContext(ctx)
	if err := cmd.Run(); err != nil {
		log.Warn("plugin failed", "plugin", c.plugin.Name, "stdout", stdout.String(), "stderr", stderr.String())
		return step.Result{}, fmt.Errorf("plugin %s: %w: %s", c.plugin.Name, err, strings.TrimSpace(stderr.String()))
	}
	log.Debug("plugin output", "plugin", c.plugin.Name, "stdout", stdout.String())
	return step.Result{Output: parse(stdout.Bytes())}, nil
}

func parse(out []byte) any {
	trimmed := bytes.TrimSpace(out)
	var v any
	if len(trimmed) > 0 && json.Unmarshal(trimmed, &v) == nil {
		return v
	}
	return strings.TrimRight(string(out), "\n")
}
