package step

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"

	"github.com/comtihon/catcher/pkg/schema"
)

// Reserved control fields consumed by the engine rather than the step.
const (
	FieldName         = "name"
	FieldRegister     = "register"
	FieldIgnoreErrors = "ignore_errors"
	FieldTag          = "tag"
	FieldSkipIf       = "skip_if"
	FieldRunIf        = "run_if"
	FieldActions      = "actions"
)

var reserved = map[string]bool{
	FieldName:         true,
	FieldRegister:     true,
	FieldIgnoreErrors: true,
	FieldTag:          true,
	FieldSkipIf:       true,
	FieldRunIf:        true,
}

// IsReserved reports whether key is a control field.
func IsReserved(key string) bool { return reserved[key] }

// Common holds the control fields shared by every step kind.
type Common struct {
	Name         string         `mapstructure:"name"`
	Register     map[string]any `mapstructure:"register"`
	IgnoreErrors bool           `mapstructure:"ignore_errors"`
	Tag          string         `mapstructure:"tag"`
	SkipIf       any            `mapstructure:"skip_if"`
	RunIf        string         `mapstructure:"run_if"`
}

// Spec is the input of a Factory: the action name, its body without the
// control fields, and the control fields themselves.
type Spec struct {
	Action string
	Body   any
	Common Common
}

// Action is a compiled step entry ready to run.
type Action struct {
	Kind  string
	Index int // 1-based position of the step in its list
	Body  any // step fields without control fields, for reports
	Common
	Step Step
}

// Label is the rendered-later name of the action, or its kind.
func (a Action) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Kind
}

// Factory builds a step from its spec. r compiles nested actions.
type Factory func(spec Spec, r *Registry) (Step, error)

// Info describes a registered step kind.
type Info struct {
	Name     string
	Summary  string
	Doc      string // markdown
	External bool
}

type entry struct {
	factory Factory
	info    Info
}

// Registry maps action names to step factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds or replaces the factory for info.Name.
func (r *Registry) Register(info Info, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[info.Name] = entry{factory: f, info: info}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Info returns the description of name.
func (r *Registry) Info(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.info, ok
}

// Infos lists every registered kind sorted by name.
func (r *Registry) Infos() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Compile turns one step entry into its actions. A body with an `actions`
// list expands into one action per element, each inheriting the fields set
// next to the list.
func (r *Registry) Compile(index int, spec schema.StepSpec) ([]Action, error) {
	r.mu.RLock()
	e, ok := r.entries[spec.Action]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownActionError{Name: spec.Action}
	}

	bodies, err := expand(spec.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Action, err)
	}
	out := make([]Action, 0, len(bodies))
	for _, body := range bodies {
		common, rest, err := split(body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.Action, err)
		}
		st, err := e.factory(Spec{Action: spec.Action, Body: rest, Common: common}, r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.Action, err)
		}
		out = append(out, Action{
			Kind:   spec.Action,
			Index:  index,
			Body:   sanitize(rest),
			Common: common,
			Step:   st,
		})
	}
	return out, nil
}

// CompileAll compiles a step list. Indexes are 1-based.
func (r *Registry) CompileAll(specs []schema.StepSpec) ([]Action, error) {
	var out []Action
	for i, spec := range specs {
		actions, err := r.Compile(i+1, spec)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		out = append(out, actions...)
	}
	return out, nil
}

// Nested compiles the body of a control step: a single step entry or a list
// of them.
func (r *Registry) Nested(raw any) ([]Action, error) {
	list, ok := raw.([]any)
	if !ok {
		list = []any{raw}
	}
	specs, err := schema.ParseSteps(list)
	if err != nil {
		return nil, err
	}
	return r.CompileAll(specs)
}

func expand(body any) ([]any, error) {
	m, ok := body.(map[string]any)
	if !ok {
		return []any{body}, nil
	}
	raw, ok := m[FieldActions]
	if !ok {
		return []any{body}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("actions must be a list, got %T", raw)
	}
	out := make([]any, 0, len(list))
	for i, item := range list {
		im, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("actions[%d]: expected a map, got %T", i, item)
		}
		merged := make(map[string]any, len(m)+len(im))
		for k, v := range m {
			if k != FieldActions {
				merged[k] = v
			}
		}
		for k, v := range im {
			merged[k] = v
		}
		out = append(out, merged)
	}
	return out, nil
}

// split separates the control fields from the step fields of a body.
func split(body any) (Common, any, error) {
	var common Common
	m, ok := body.(map[string]any)
	if !ok {
		return common, body, nil
	}
	control := map[string]any{}
	rest := make(map[string]any, len(m))
	for k, v := range m {
		if reserved[k] {
			control[k] = v
		} else {
			rest[k] = v
		}
	}
	if err := Decode(control, &common); err != nil {
		return common, nil, err
	}
	return common, rest, nil
}

// sanitize drops the underscore-prefixed engine keys from a reported body.
func sanitize(body any) any {
	m, ok := body.(map[string]any)
	if !ok {
		return body
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if !strings.HasPrefix(k, "_") {
			out[k] = v
		}
	}
	return out
}

// Decode decodes a step body into a config struct. Scalars are weakly
// converted; keys the struct does not declare are ignored unless it has a
// `,remain` field.
func Decode(input any, out any) error {
	md, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return md.Decode(input)
}
