package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // location inside the document, e.g. "steps/0"
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// Catalog answers whether an action name is known to the step registry.
type Catalog interface {
	Has(action string) bool
}

// ValidateOptions configures ValidateFile.
type ValidateOptions struct {
	Catalog Catalog // nil skips the action name check
	Root    string  // project directory includes are resolved against
}

// ValidateFile runs the validation pipeline on a test document.
// Phase 1: Structural (decode and normalize)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (known actions, include targets, run_if values)
func ValidateFile(path string, opts ValidateOptions) (*Document, []*ValidationError) {
	raw, err := ReadSource(path)
	if err != nil {
		return nil, []*ValidationError{structural(err)}
	}

	if errs := validateSemantic(raw); len(errs) > 0 {
		return nil, errs
	}

	m, _ := raw.(map[string]any)
	doc, err := FromMap(path, m)
	if err != nil {
		return nil, []*ValidationError{structural(err)}
	}

	if errs := ValidateDomain(doc, opts); len(errs) > 0 {
		return doc, errs
	}
	return doc, nil
}

func structural(err error) *ValidationError {
	return &ValidationError{Phase: "structural", Message: err.Error(), Severity: "error"}
}

var compiled = sync.OnceValues(func() (*sjsonschema.Schema, error) {
	schemaJSON, err := GenerateDocumentJSONSchema()
	if err != nil {
		return nil, fmt.Errorf("generate schema: %w", err)
	}
	schemaDoc, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := sjsonschema.NewCompiler()
	if err := c.AddResource(SchemaID, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(SchemaID)
})

// validateSemantic validates the decoded document against the JSON Schema.
func validateSemantic(raw any) []*ValidationError {
	sch, err := compiled()
	if err != nil {
		return []*ValidationError{{Phase: "semantic", Message: err.Error(), Severity: "error"}}
	}

	// round trip through JSON so the validator sees plain JSON types
	data, err := json.Marshal(raw)
	if err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("marshal for schema validation: %v", err), Severity: "error"}}
	}
	doc, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("unmarshal document: %v", err), Severity: "error"}}
	}

	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return []*ValidationError{{Phase: "semantic", Message: err.Error(), Severity: "error"}}
		}
		var errs []*ValidationError
		for _, cause := range flattenValidationErrors(ve) {
			errs = append(errs, &ValidationError{
				Phase:    "semantic",
				Path:     strings.Join(cause.InstanceLocation, "/"),
				Message:  fmt.Sprintf("%v", cause.ErrorKind),
				Severity: "error",
			})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain checks rules the schema cannot express.
func ValidateDomain(doc *Document, opts ValidateOptions) []*ValidationError {
	var errs []*ValidationError
	add := func(path, format string, args ...any) {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     path,
			Message:  fmt.Sprintf(format, args...),
			Severity: "error",
		})
	}

	aliases := map[string]bool{}
	for i, inc := range doc.Include {
		path := fmt.Sprintf("include/%d", i)
		if inc.Alias != "" {
			if aliases[inc.Alias] {
				add(path, "duplicate include alias %q", inc.Alias)
			}
			aliases[inc.Alias] = true
		}
		if strings.Contains(inc.File, "{{") {
			continue
		}
		if _, err := os.Stat(ResolveInclude(opts.Root, doc.Path, inc.File)); err != nil {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path,
				Message:  fmt.Sprintf("include %s not found", inc.File),
				Severity: "warning",
			})
		}
	}

	check := func(section string, steps []StepSpec, finally bool) {
		for i, s := range steps {
			path := fmt.Sprintf("%s/%d", section, i)
			if opts.Catalog != nil && !opts.Catalog.Has(s.Action) {
				add(path, "unknown action %q", s.Action)
			}
			body, ok := s.Body.(map[string]any)
			if !ok {
				continue
			}
			if v, ok := body["run_if"]; ok {
				if !finally {
					add(path, "run_if is only meaningful in finally")
				}
				switch fmt.Sprint(v) {
				case "always", "pass", "fail":
				default:
					add(path, "run_if must be one of always, pass, fail; got %v", v)
				}
			}
		}
	}
	check(KeySteps, doc.Steps, false)
	check(KeyFinally, doc.Finally, true)
	return errs
}

// HasErrors reports whether any entry has error severity.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}
