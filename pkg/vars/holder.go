package vars

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/comtihon/catcher/pkg/eval"
	"github.com/comtihon/catcher/pkg/logging"
	"github.com/comtihon/catcher/pkg/schema"
)

// Options are the inputs of Compose.
type Options struct {
	Dir       string         // project directory, exposed as CURRENT_DIR
	Resources string         // resources directory; defaults to <Dir>/resources
	Inventory string         // optional inventory file
	SystemEnv bool           // seed bindings with the process environment
	Overrides map[string]any // command line variables, always win
}

// Holder owns the global binding layers of a run: system environment,
// inventory, directories and command line overrides. It is read-only once
// composed and safe to share between concurrently running tests.
type Holder struct {
	globals   Bindings
	overrides Bindings
}

// Compose builds the global layers. Inventory values are expanded against
// the system environment layer.
func Compose(ctx context.Context, opts Options) (*Holder, error) {
	log := logging.FromContext(ctx)
	globals := Bindings{}
	if opts.SystemEnv {
		env := SystemEnvironment()
		log.Debug("use system variables", "count", len(env))
		globals.Update(env)
	}

	if opts.Inventory != "" {
		inv, err := LoadInventory(opts.Inventory)
		if err != nil {
			return nil, err
		}
		filled := eval.FillMap(inv, globals)
		if shadowed := globals.Update(filled); len(shadowed) > 0 {
			log.Debug("inventory overrides variables", "keys", shadowed)
		}
	}

	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	globals[CurrentDir] = dir
	resources := opts.Resources
	if resources == "" {
		resources = filepath.Join(dir, "resources")
	}
	globals[ResourcesDir] = resources

	return &Holder{
		globals:   globals,
		overrides: Bindings(opts.Overrides).Clone(),
	}, nil
}

// LoadInventory reads an inventory file and adds INVENTORY (the base name
// without extension) and INVENTORY_FILE (the path).
func LoadInventory(path string) (map[string]any, error) {
	raw, err := schema.ReadSource(path)
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	inv, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("inventory %s: expected a map, got %T", path, raw)
	}
	base := filepath.Base(path)
	inv[Inventory] = strings.TrimSuffix(base, filepath.Ext(base))
	inv[InventoryFile] = path
	return inv, nil
}

// SystemEnvironment returns the process environment as bindings.
func SystemEnvironment() map[string]any {
	out := map[string]any{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k != "" {
			out[k] = v
		}
	}
	return out
}

// Globals returns a fresh deep copy of the global layers for one root test.
func (h *Holder) Globals(testName string) Bindings {
	b := h.globals.Clone()
	b[TestName] = testName
	return b
}

// Overrides returns a copy of the command line layer.
func (h *Holder) Overrides() Bindings {
	return h.overrides.Clone()
}

// PrepareForTest computes the bindings a test starts with:
//
//	global ∪ local ∪ include-site ∪ command line
//
// local is expanded against global ∪ command line. include-site values are
// expanded against the merge so far. Shadowed keys are logged at debug.
func (h *Holder) PrepareForTest(ctx context.Context, local, includeVars map[string]any, global Bindings) Bindings {
	log := logging.FromContext(ctx)
	out := global.Clone()

	filledLocal := eval.FillMap(local, out.With(h.overrides))
	if shadowed := out.Update(filledLocal); len(shadowed) > 0 {
		log.Debug("test variables override", "keys", shadowed)
	}

	if len(includeVars) > 0 {
		filledInclude := eval.FillMap(includeVars, out)
		if shadowed := out.Update(filledInclude); len(shadowed) > 0 {
			log.Debug("include variables override", "keys", shadowed)
		}
	}

	if len(h.overrides) > 0 {
		if shadowed := out.Update(h.overrides.Clone()); len(shadowed) > 0 {
			log.Debug("command line variables override", "keys", shadowed)
		}
	}
	return out
}
