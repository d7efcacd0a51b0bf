package vars

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInventory(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "local.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestPrecedenceLaw(t *testing.T) {
	t.Setenv("CATCHER_PRECEDENCE_X", "1")
	ctx := context.Background()
	const key = "CATCHER_PRECEDENCE_X"
	inventory := writeInventory(t, key+": 2\n")
	local := map[string]any{key: 3}
	include := map[string]any{key: 4}
	cmd := map[string]any{key: 5}

	effective := func(inv string, local, include, cmd map[string]any) any {
		h, err := Compose(ctx, Options{Dir: t.TempDir(), Inventory: inv, SystemEnv: true, Overrides: cmd})
		require.NoError(t, err)
		return h.PrepareForTest(ctx, local, include, h.Globals("test.yaml"))[key]
	}

	assert.Equal(t, 5, effective(inventory, local, include, cmd))
	assert.Equal(t, 4, effective(inventory, local, include, nil))
	assert.Equal(t, 3, effective(inventory, local, nil, nil))
	assert.Equal(t, 2, effective(inventory, nil, nil, nil))
	assert.Equal(t, "1", effective("", nil, nil, nil))
}

func TestCompose_InventoryExpandsEnvironment(t *testing.T) {
	t.Setenv("CATCHER_TEST_HOST", "db.local")
	inv := writeInventory(t, "dsn: 'postgres://{{ CATCHER_TEST_HOST }}:5432'\nport: '{{ 5432 }}'\n")

	h, err := Compose(context.Background(), Options{Dir: "/project", Inventory: inv, SystemEnv: true})
	require.NoError(t, err)
	b := h.Globals("t.yaml")

	assert.Equal(t, "postgres://db.local:5432", b["dsn"])
	assert.Equal(t, 5432, b["port"])
	assert.Equal(t, "local", b[Inventory])
	assert.Equal(t, inv, b[InventoryFile])
	assert.Equal(t, "/project", b[CurrentDir])
	assert.Equal(t, filepath.Join("/project", "resources"), b[ResourcesDir])
	assert.Equal(t, "t.yaml", b[TestName])
}

func TestCompose_NoSystemEnv(t *testing.T) {
	t.Setenv("CATCHER_HIDDEN", "x")
	h, err := Compose(context.Background(), Options{Dir: "/p", Resources: "/r"})
	require.NoError(t, err)
	b := h.Globals("t")
	assert.NotContains(t, b, "CATCHER_HIDDEN")
	assert.Equal(t, "/r", b[ResourcesDir])
}

func TestCompose_MissingInventory(t *testing.T) {
	_, err := Compose(context.Background(), Options{Inventory: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
}

func TestPrepareForTest_LocalExpandsAgainstGlobals(t *testing.T) {
	ctx := context.Background()
	h, err := Compose(ctx, Options{Dir: "/p", Overrides: map[string]any{"env": "prod"}})
	require.NoError(t, err)

	global := h.Globals("t")
	global["host"] = "example.com"
	b := h.PrepareForTest(ctx, map[string]any{
		"url":    "http://{{ host }}/{{ env }}",
		"later":  "{{ not_yet }}",
		"nested": map[string]any{"h": "{{ host }}"},
	}, nil, global)

	assert.Equal(t, "http://example.com/prod", b["url"])
	assert.Equal(t, "{{ not_yet }}", b["later"])
	assert.Equal(t, map[string]any{"h": "example.com"}, b["nested"])
	assert.NotContains(t, global, "url", "global layer must not be mutated")
}

func TestGlobalsAreIndependent(t *testing.T) {
	h, err := Compose(context.Background(), Options{Dir: "/p"})
	require.NoError(t, err)
	a := h.Globals("a")
	a["x"] = 1
	assert.NotContains(t, h.Globals("b"), "x")
}

func TestBindings_CloneIsDeep(t *testing.T) {
	b := Bindings{"m": map[string]any{"l": []any{1, 2}}}
	c := b.Clone()
	c["m"].(map[string]any)["l"].([]any)[0] = 9
	assert.Equal(t, 1, b["m"].(map[string]any)["l"].([]any)[0])
}

func TestBindings_Update(t *testing.T) {
	b := Bindings{"a": 1, "b": 2}
	shadowed := b.Update(map[string]any{"b": 3, "a": 1, "c": 4})
	assert.Equal(t, []string{"b"}, shadowed)
	assert.Equal(t, Bindings{"a": 1, "b": 3, "c": 4}, b)
}

func TestBindings_ReplaceKeepsIdentity(t *testing.T) {
	b := Bindings{"a": 1}
	alias := b
	b.Replace(map[string]any{"z": 26})
	assert.Equal(t, Bindings{"z": 26}, alias)
	b.Replace(b)
	assert.Equal(t, Bindings{"z": 26}, alias)
}

func TestBindings_SnapshotAndEnviron(t *testing.T) {
	b := Bindings{"s": "x", "n": 2, "f": func() {}, "m": map[string]any{"k": "v"}}
	snap := b.Snapshot()
	assert.NotContains(t, snap, "f")
	assert.Equal(t, map[string]any{"k": "v"}, snap["m"])
	assert.Equal(t, []string{"n=2", "s=x"}, b.Environ())
}
