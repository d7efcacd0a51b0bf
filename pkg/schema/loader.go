package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Extensions lists the document file extensions, lower case.
var Extensions = []string{".yaml", ".yml", ".json"}

// IsDocument reports whether path has a document extension.
func IsDocument(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// LoadFile reads and decodes a test document.
func LoadFile(path string) (*Document, error) {
	raw, err := ReadSource(path)
	if err != nil {
		return nil, err
	}
	m, err := asMap(raw, "document")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc, err := FromMap(path, m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// ReadSource reads a YAML or JSON file, chosen by extension, into generic
// values. Maps always come back as map[string]any.
func ReadSource(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	return Decode(data, filepath.Ext(path))
}

// Decode parses document bytes. ext selects the format; anything that is
// not .json is read as YAML.
func Decode(data []byte, ext string) (any, error) {
	var out any
	if strings.EqualFold(ext, ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return Plain(out), nil
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if out == nil {
		return map[string]any{}, nil
	}
	return Plain(out), nil
}

// Plain converts decoded documents into map[string]any, []any and
// int/float64 scalars.
func Plain(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = Plain(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = Plain(item)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = Plain(item)
		}
		return val
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return int(n)
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return v
	}
}
