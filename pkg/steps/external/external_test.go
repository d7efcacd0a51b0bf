package external

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/vars"
)

func plugin(t *testing.T, dir, name, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	return path
}

func TestDiscover(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on the executable bit")
	}
	first := t.TempDir()
	second := t.TempDir()
	plugin(t, first, "greet", "#!/bin/sh\n", 0o755)
	plugin(t, first, "tool.py", "print('hi')\n", 0o644)
	plugin(t, first, "notes.txt", "not a plugin\n", 0o644)
	plugin(t, first, ".hidden", "#!/bin/sh\n", 0o755)
	plugin(t, first, "_private", "#!/bin/sh\n", 0o755)
	shadowed := plugin(t, second, "greet.sh", "#!/bin/sh\n", 0o755)
	plugin(t, second, "extra", "#!/bin/sh\n", 0o755)

	plugins, err := Discover(first, filepath.Join(first, "missing"), second)
	require.NoError(t, err)
	var names []string
	for _, p := range plugins {
		names = append(names, p.Name)
		assert.NotEqual(t, shadowed, p.Path, "the first directory wins")
	}
	assert.Equal(t, []string{"extra", "greet", "tool"}, names)
}

func TestCommand(t *testing.T) {
	assert.Equal(t, []string{"python3", "a/b.py"}, Plugin{Path: "a/b.py"}.Command())
	assert.Equal(t, []string{"java", "-jar", "x.jar"}, Plugin{Path: "x.jar"}.Command())
	assert.Equal(t, []string{"./bin/tool"}, Plugin{Path: "./bin/tool"}.Command())
}

func TestRegister_DoesNotShadowBuiltins(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on the executable bit")
	}
	dir := t.TempDir()
	plugin(t, dir, "echo", "#!/bin/sh\n", 0o755)
	plugin(t, dir, "greet", "#!/bin/sh\n", 0o755)

	r := step.NewRegistry()
	r.Register(step.Info{Name: "echo", Summary: "built-in"}, func(step.Spec, *step.Registry) (step.Step, error) {
		return nil, nil
	})
	require.NoError(t, Register(context.Background(), r, dir))

	info, ok := r.Info("echo")
	require.True(t, ok)
	assert.False(t, info.External)

	info, ok = r.Info("greet")
	require.True(t, ok)
	assert.True(t, info.External)
}

func TestCall(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script")
	}
	dir := t.TempDir()
	p := Plugin{Name: "greet", Path: plugin(t, dir, "greet", "#!/bin/sh\necho \"{\\\"got\\\": $1, \\\"env\\\": \\\"$USER_NAME\\\"}\"\n", 0o755)}

	st, err := Factory(p)(step.Spec{Action: "greet", Body: map[string]any{"name": "{{ user }}"}}, nil)
	require.NoError(t, err)
	res, err := st.Action(context.Background(), &step.Env{}, vars.Bindings{"user": "alice", "USER_NAME": "bob"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"got": map[string]any{"name": "alice"}, "env": "bob"}, res.Output)
}

func TestCall_Failure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script")
	}
	dir := t.TempDir()
	p := Plugin{Name: "broken", Path: plugin(t, dir, "broken", "#!/bin/sh\necho 'no such user' >&2\nexit 3\n", 0o755)}

	st, err := Factory(p)(step.Spec{Action: "broken", Body: "x"}, nil)
	require.NoError(t, err)
	_, err = st.Action(context.Background(), &step.Env{}, vars.Bindings{})
	assert.ErrorContains(t, err, "no such user")
}

func TestParse(t *testing.T) {
	assert.Equal(t, map[string]any{"a": float64(1)}, parse([]byte("{\"a\": 1}\n")))
	assert.Equal(t, "plain text", parse([]byte("plain text\n")))
	assert.Equal(t, "", parse(nil))
}
