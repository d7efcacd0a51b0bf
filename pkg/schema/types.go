// Package schema defines the test document model and its loaders.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Top-level document keys.
const (
	KeyVariables = "variables"
	KeyInclude   = "include"
	KeyConfig    = "config"
	KeySteps     = "steps"
	KeyFinally   = "finally"
	KeyIgnore    = "ignore"
)

// ---------------------------------------------------------------------------
// Document
// ---------------------------------------------------------------------------

// Document is a parsed test file. It is immutable after Load.
type Document struct {
	Path      string         `json:"-"`
	Variables map[string]any `yaml:"variables,omitempty" json:"variables,omitempty" jsonschema:"description=Test local variables; values may be templates"`
	Include   IncludeList    `yaml:"include,omitempty"   json:"include,omitempty"`
	Config    map[string]any `yaml:"config,omitempty"    json:"config,omitempty"`
	Steps     []StepSpec     `yaml:"steps,omitempty"     json:"steps,omitempty"`
	Finally   []StepSpec     `yaml:"finally,omitempty"   json:"finally,omitempty"`
	Ignore    Condition      `yaml:"ignore,omitempty"    json:"ignore,omitempty"`
}

// ---------------------------------------------------------------------------
// Include
// ---------------------------------------------------------------------------

// IncludeSpec references another document from an include block.
type IncludeSpec struct {
	File         string         `yaml:"file"                     json:"file"`
	Variables    map[string]any `yaml:"variables,omitempty"      json:"variables,omitempty"`
	Alias        string         `yaml:"as,omitempty"             json:"as,omitempty"`
	RunOnInclude *bool          `yaml:"run_on_include,omitempty" json:"run_on_include,omitempty"`
	IgnoreErrors bool           `yaml:"ignore_errors,omitempty"  json:"ignore_errors,omitempty"`
}

// RunsOnInclude reports whether the include runs before the including
// document. Defaults to true when the include has no alias.
func (s IncludeSpec) RunsOnInclude() bool {
	if s.RunOnInclude != nil {
		return *s.RunOnInclude
	}
	return s.Alias == ""
}

// Name is the alias when present, the file otherwise.
func (s IncludeSpec) Name() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.File
}

// ResolveInclude locates an include file. Relative names are resolved
// against the project root first, then against the directory of the
// including document.
func ResolveInclude(root, from, file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	primary := filepath.Join(root, file)
	if root == "" {
		primary = filepath.Join(filepath.Dir(from), file)
	}
	if _, err := os.Stat(primary); err == nil || from == "" {
		return primary
	}
	alt := filepath.Join(filepath.Dir(from), file)
	if _, err := os.Stat(alt); err == nil {
		return alt
	}
	return primary
}

// IncludeList is the normalized include block. In documents it may be a
// single file name, a single include map or a list of either.
type IncludeList []IncludeSpec

// ---------------------------------------------------------------------------
// Step
// ---------------------------------------------------------------------------

// StepSpec is a single-key step entry `{<action>: <body>}`.
type StepSpec struct {
	Action string
	Body   any
}

// Condition is either a bool literal, a template string or an operator map.
type Condition struct {
	Value any
	Set   bool
}

// ---------------------------------------------------------------------------
// Parsing from generic values
// ---------------------------------------------------------------------------

// FromMap builds a Document from a decoded YAML or JSON object.
func FromMap(path string, raw map[string]any) (*Document, error) {
	doc := &Document{Path: path}
	for key := range raw {
		switch key {
		case KeyVariables, KeyInclude, KeyConfig, KeySteps, KeyFinally, KeyIgnore:
		default:
			return nil, fmt.Errorf("unknown top-level key %q", key)
		}
	}

	var err error
	if doc.Variables, err = asMap(raw[KeyVariables], KeyVariables); err != nil {
		return nil, err
	}
	if doc.Config, err = asMap(raw[KeyConfig], KeyConfig); err != nil {
		return nil, err
	}
	if doc.Include, err = ParseIncludes(raw[KeyInclude]); err != nil {
		return nil, err
	}
	if doc.Steps, err = ParseSteps(raw[KeySteps]); err != nil {
		return nil, fmt.Errorf("steps: %w", err)
	}
	if doc.Finally, err = ParseSteps(raw[KeyFinally]); err != nil {
		return nil, fmt.Errorf("finally: %w", err)
	}
	if v, ok := raw[KeyIgnore]; ok {
		doc.Ignore = Condition{Value: v, Set: true}
	}
	return doc, nil
}

// ParseIncludes normalizes the scalar, map and list forms of an include
// block.
func ParseIncludes(v any) (IncludeList, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make(IncludeList, 0, len(val))
		for i, item := range val {
			spec, err := parseInclude(item)
			if err != nil {
				return nil, fmt.Errorf("include[%d]: %w", i, err)
			}
			out = append(out, spec)
		}
		return out, nil
	default:
		spec, err := parseInclude(val)
		if err != nil {
			return nil, fmt.Errorf("include: %w", err)
		}
		return IncludeList{spec}, nil
	}
}

func parseInclude(v any) (IncludeSpec, error) {
	switch val := v.(type) {
	case string:
		if val == "" {
			return IncludeSpec{}, fmt.Errorf("empty file name")
		}
		return IncludeSpec{File: val}, nil
	case map[string]any:
		var spec IncludeSpec
		for key, item := range val {
			switch key {
			case "file":
				s, ok := item.(string)
				if !ok || s == "" {
					return spec, fmt.Errorf("file must be a non-empty string")
				}
				spec.File = s
			case "as":
				spec.Alias = fmt.Sprint(item)
			case "variables":
				m, err := asMap(item, "variables")
				if err != nil {
					return spec, err
				}
				spec.Variables = m
			case "run_on_include":
				b, ok := item.(bool)
				if !ok {
					return spec, fmt.Errorf("run_on_include must be a bool")
				}
				spec.RunOnInclude = &b
			case "ignore_errors":
				b, ok := item.(bool)
				if !ok {
					return spec, fmt.Errorf("ignore_errors must be a bool")
				}
				spec.IgnoreErrors = b
			default:
				return spec, fmt.Errorf("unknown include key %q", key)
			}
		}
		if spec.File == "" {
			return spec, fmt.Errorf("missing file")
		}
		return spec, nil
	default:
		return IncludeSpec{}, fmt.Errorf("unsupported include %T", v)
	}
}

// ParseSteps converts a list of single-key maps into step specs.
func ParseSteps(v any) ([]StepSpec, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]StepSpec, 0, len(list))
	for i, item := range list {
		spec, err := ParseStep(item)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		out = append(out, spec)
	}
	return out, nil
}

// ParseStep converts one `{<action>: <body>}` entry.
func ParseStep(v any) (StepSpec, error) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) != 1 {
			keys := make([]string, 0, len(val))
			for k := range val {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return StepSpec{}, fmt.Errorf("a step must have exactly one action, got %v", keys)
		}
		for action, body := range val {
			return StepSpec{Action: action, Body: body}, nil
		}
	case string:
		// bare action name without a body, e.g. `- stop`
		return StepSpec{Action: val}, nil
	}
	return StepSpec{}, fmt.Errorf("unsupported step %T", v)
}

// Raw converts the spec back to its document form.
func (s StepSpec) Raw() map[string]any {
	return map[string]any{s.Action: s.Body}
}

func asMap(v any, field string) (map[string]any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return val, nil
	default:
		return nil, fmt.Errorf("%s must be a map, got %T", field, v)
	}
}
