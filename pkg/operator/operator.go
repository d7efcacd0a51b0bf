// Package operator evaluates check conditions: equals, contains, and, or,
// all and any, with their negated forms.
package operator

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/comtihon/catcher/pkg/eval"
	"github.com/comtihon/catcher/pkg/logging"
)

// UnknownOperatorError is returned for a condition whose kind is not
// registered.
type UnknownOperatorError struct {
	Kind string
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("No such operator: %s", e.Kind)
}

// Operator evaluates one condition kind. body is the value under the kind
// key.
type Operator func(ctx context.Context, body any, bindings map[string]any) (bool, error)

var registry map[string]Operator

func init() {
	registry = map[string]Operator{
		"equals":   equals,
		"contains": contains,
		"and":      and,
		"or":       or,
		"all":      all,
		"any":      anyOf,
	}
}

// Kinds lists the registered operator kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Evaluate evaluates a condition against bindings.
//
// A bool is returned as is. A string is shorthand for
// `equals: {the: <string>, is: true}`. A map must have exactly one key, the
// operator kind.
func Evaluate(ctx context.Context, cond any, bindings map[string]any) (bool, error) {
	switch c := cond.(type) {
	case nil:
		return false, nil
	case bool:
		return c, nil
	case string:
		return equals(ctx, c, bindings)
	case map[string]any:
		kind, body, err := single(c)
		if err != nil {
			return false, err
		}
		op, ok := registry[strings.ToLower(kind)]
		if !ok {
			return false, &UnknownOperatorError{Kind: kind}
		}
		return op(ctx, body, bindings)
	default:
		return false, fmt.Errorf("unsupported condition %T", cond)
	}
}

// Validate checks the shape of a condition without evaluating it.
func Validate(cond any) error {
	switch c := cond.(type) {
	case nil, bool, string:
		return nil
	case map[string]any:
		kind, body, err := single(c)
		if err != nil {
			return err
		}
		switch strings.ToLower(kind) {
		case "and", "or":
			list, ok := body.([]any)
			if !ok {
				return fmt.Errorf("%s expects a list of conditions", kind)
			}
			for _, sub := range list {
				if err := Validate(sub); err != nil {
					return err
				}
			}
			return nil
		case "all", "any":
			m, ok := body.(map[string]any)
			if !ok {
				return fmt.Errorf("%s expects a map with 'of'", kind)
			}
			if _, ok := m["of"]; !ok {
				return fmt.Errorf("%s: missing 'of'", kind)
			}
			return nil
		default:
			if _, ok := registry[strings.ToLower(kind)]; !ok {
				return &UnknownOperatorError{Kind: kind}
			}
			return nil
		}
	default:
		return fmt.Errorf("unsupported condition %T", cond)
	}
}

func single(m map[string]any) (string, any, error) {
	if len(m) != 1 {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", nil, fmt.Errorf("a condition must have exactly one operator, got %v", keys)
	}
	for k, v := range m {
		return k, v, nil
	}
	return "", nil, nil
}

// equals: {the, is | is_not}. A string body means {the: body, is: true}.
func equals(ctx context.Context, body any, bindings map[string]any) (bool, error) {
	var the, expected any
	negative := false
	switch b := body.(type) {
	case string:
		the, expected = b, true
	case map[string]any:
		v, ok := b["the"]
		if !ok {
			return false, fmt.Errorf("equals: missing 'the'")
		}
		the = v
		if is, ok := b["is"]; ok {
			expected = is
		} else if isNot, ok := b["is_not"]; ok {
			expected, negative = isNot, true
		} else {
			return false, fmt.Errorf("equals: missing 'is' or 'is_not'")
		}
	default:
		return false, fmt.Errorf("equals: unsupported body %T", body)
	}

	subject := eval.Fill(the, bindings)
	source := eval.Fill(expected, bindings)
	result := Equal(subject, source)
	if negative {
		result = !result
	}
	if !result {
		logging.FromContext(ctx).Debug("equals failed", "subject", eval.Stringify(subject), "expected", eval.Stringify(source), "negative", negative)
	}
	return result, nil
}

// contains: {the, in | not_in}
func contains(ctx context.Context, body any, bindings map[string]any) (bool, error) {
	b, ok := body.(map[string]any)
	if !ok {
		return false, fmt.Errorf("contains: unsupported body %T", body)
	}
	the, ok := b["the"]
	if !ok {
		return false, fmt.Errorf("contains: missing 'the'")
	}
	negative := false
	container, ok := b["in"]
	if !ok {
		if container, ok = b["not_in"]; !ok {
			return false, fmt.Errorf("contains: missing 'in' or 'not_in'")
		}
		negative = true
	}

	subject := eval.Fill(the, bindings)
	source := eval.Fill(container, bindings)
	result, err := Member(subject, source)
	if err != nil {
		return false, fmt.Errorf("contains: %w", err)
	}
	if negative {
		result = !result
	}
	if !result {
		logging.FromContext(ctx).Debug("contains failed", "subject", eval.Stringify(subject), "container", eval.Stringify(source), "negative", negative)
	}
	return result, nil
}

func and(ctx context.Context, body any, bindings map[string]any) (bool, error) {
	return chain(ctx, "and", body, bindings, false)
}

func or(ctx context.Context, body any, bindings map[string]any) (bool, error) {
	return chain(ctx, "or", body, bindings, true)
}

// chain stops at the first sub-condition evaluating to end. An empty and is
// true, an empty or is false.
func chain(ctx context.Context, kind string, body any, bindings map[string]any, end bool) (bool, error) {
	list, ok := body.([]any)
	if !ok {
		return false, fmt.Errorf("%s expects a list of conditions, got %T", kind, body)
	}
	for _, sub := range list {
		ok, err := Evaluate(ctx, sub, bindings)
		if err != nil {
			return false, err
		}
		if ok == end {
			return end, nil
		}
	}
	return !end, nil
}

func all(ctx context.Context, body any, bindings map[string]any) (bool, error) {
	return quantify(ctx, "all", body, bindings, true)
}

func anyOf(ctx context.Context, body any, bindings map[string]any) (bool, error) {
	return quantify(ctx, "any", body, bindings, false)
}

// quantify evaluates the sub-condition with ITEM bound to each element of
// `of`. A list iterates its elements, a map its [key, value] pairs. A value
// that is not iterable makes the condition false.
func quantify(ctx context.Context, kind string, body any, bindings map[string]any, every bool) (bool, error) {
	b, ok := body.(map[string]any)
	if !ok {
		return false, fmt.Errorf("%s: unsupported body %T", kind, body)
	}
	of, ok := b["of"]
	if !ok {
		return false, fmt.Errorf("%s: missing 'of'", kind)
	}
	rest := make(map[string]any, len(b)-1)
	for k, v := range b {
		if k != "of" {
			rest[k] = v
		}
	}
	subKind, subBody, err := single(rest)
	if err != nil {
		return false, fmt.Errorf("%s: %w", kind, err)
	}
	// short form terminators compare against ITEM
	if _, isMap := subBody.(map[string]any); !isMap {
		switch strings.ToLower(subKind) {
		case "equals":
			subBody = map[string]any{"the": "{{ ITEM }}", "is": subBody}
		case "contains":
			subBody = map[string]any{"the": "{{ ITEM }}", "in": subBody}
		}
	}
	cond := map[string]any{subKind: subBody}

	elements, ok := Items(eval.Fill(of, bindings))
	if !ok {
		logging.FromContext(ctx).Debug(kind+": value is not iterable", "of", of)
		return false, nil
	}

	scope := make(map[string]any, len(bindings)+1)
	for k, v := range bindings {
		scope[k] = v
	}
	result := every
	for _, item := range elements {
		scope["ITEM"] = item
		ok, err := Evaluate(ctx, cond, scope)
		if err != nil {
			return false, err
		}
		if every && !ok {
			result = false
		}
		if !every && ok {
			result = true
		}
	}
	return result, nil
}

// Items returns the elements of a list, or the [key, value] pairs of a map
// sorted by key. ok is false for any other value.
func Items(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = []any{k, val[k]}
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if v != nil && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}
