package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaID identifies the generated document schema.
const SchemaID = "https://github.com/comtihon/catcher/schemas/test.json"

// GenerateDocumentJSONSchema produces a JSON Schema Draft 2020-12 document
// for test files from the Document types.
func GenerateDocumentJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Document{})
	s.ID = SchemaID
	s.Title = "catcher test document"
	s.Description = "Schema for catcher test and include documents (YAML or JSON)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal document schema: %w", err)
	}
	return data, nil
}

// JSONSchema describes the accepted include forms.
func (IncludeList) JSONSchema() *jsonschema.Schema {
	one := &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string", Description: "file to include, relative to the project"},
			includeObject(),
		},
	}
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			one,
			{Type: "array", Items: one},
		},
	}
}

func includeObject() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	props.Set("file", &jsonschema.Schema{Type: "string"})
	props.Set("as", &jsonschema.Schema{Type: "string", Description: "alias for the run step"})
	props.Set("variables", &jsonschema.Schema{Type: "object"})
	props.Set("run_on_include", &jsonschema.Schema{Type: "boolean"})
	props.Set("ignore_errors", &jsonschema.Schema{Type: "boolean"})
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             []string{"file"},
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

// JSONSchema describes a single-key step entry.
func (StepSpec) JSONSchema() *jsonschema.Schema {
	one := uint64(1)
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "object", MinProperties: &one, MaxProperties: &one},
			{Type: "string"},
		},
		Description: "a step: {<action>: <body>}",
	}
}

// JSONSchema describes a condition: bool, template string or operator.
func (Condition) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "boolean"},
			{Type: "string"},
			{Type: "object"},
		},
	}
}
