// Package eval implements placeholder expansion for test documents.
//
// A placeholder is a `{{ expression }}` segment. The expression is evaluated
// with expr-lang against the current bindings, the per-call built-ins and the
// template function table. Evaluation never fails: a string holding any
// placeholder that cannot be resolved is returned unchanged, so a value may be
// rendered again later once the names it refers to have been registered.
package eval

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"
)

// Built-in names injected into every render call.
const (
	RandomStr = "RANDOM_STR"
	RandomInt = "RANDOM_INT"
	NowTS     = "NOW_TS"
	NowDT     = "NOW_DT"
)

// NowLayout formats NOW_DT.
const NowLayout = "2006-01-02T15:04:05.000000-0700"

// Render expands every placeholder in text against bindings and returns the
// resulting string. If any placeholder fails to compile or evaluate, text is
// returned as is.
// Example: Render("Bearer {{ token }}", {"token": "abc"}) → "Bearer abc"
func Render(text string, bindings map[string]any) string {
	v, ok := render(text, bindings)
	if !ok {
		return text
	}
	return Stringify(v)
}

// Fill renders a value and coerces a rendered string into a richer type
// (number, bool, list, map, time). Non-string values are returned unchanged.
// A string that is a single placeholder yields the evaluated value itself.
func Fill(v any, bindings map[string]any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	out, ok := render(s, bindings)
	if !ok {
		return Coerce(s)
	}
	if str, isStr := out.(string); isStr {
		return Coerce(str)
	}
	return out
}

// FillRaw renders a value without type coercion. Used when the consumer
// parses the result itself.
func FillRaw(v any, bindings map[string]any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return Render(s, bindings)
}

// RenderDeep walks maps and lists and fills every string leaf.
func RenderDeep(v any, bindings map[string]any) any {
	switch val := v.(type) {
	case string:
		return Fill(val, bindings)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = RenderDeep(item, bindings)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = RenderDeep(item, bindings)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = RenderDeep(item, bindings)
		}
		return out
	default:
		return v
	}
}

// FillMap fills every value of a map against bindings, leaving the input
// untouched.
func FillMap(m map[string]any, bindings map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = RenderDeep(v, bindings)
	}
	return out
}

// Truthy reports whether a filled value counts as true in a condition.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		s := strings.TrimSpace(val)
		return s != "" && !strings.EqualFold(s, "false") && s != "0"
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// render evaluates all placeholders of text. ok is false when one of them
// cannot be resolved. A text consisting of exactly one placeholder returns
// the raw evaluated value.
func render(text string, bindings map[string]any) (any, bool) {
	if !strings.Contains(text, "{{") {
		return text, true
	}
	segments, ok := split(text)
	if !ok {
		return text, false
	}

	env := newEnv(bindings)
	if len(segments) == 1 && segments[0].expr {
		return evaluate(segments[0].text, env)
	}

	var b strings.Builder
	for _, seg := range segments {
		if !seg.expr {
			b.WriteString(seg.text)
			continue
		}
		v, ok := evaluate(seg.text, env)
		if !ok {
			return text, false
		}
		b.WriteString(Stringify(v))
	}
	return b.String(), true
}

type segment struct {
	text string
	expr bool
}

// split cuts text into literal and placeholder segments. An unterminated
// placeholder makes the whole text unresolvable.
func split(text string) ([]segment, bool) {
	var out []segment
	rest := text
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			if rest != "" {
				out = append(out, segment{text: rest})
			}
			return out, true
		}
		if start > 0 {
			out = append(out, segment{text: rest[:start]})
		}
		end := closing(rest[start+2:])
		if end < 0 {
			return nil, false
		}
		inner := strings.TrimSpace(rest[start+2 : start+2+end])
		out = append(out, segment{text: inner, expr: true})
		rest = rest[start+2+end+2:]
	}
}

// closing finds the "}}" that ends a placeholder, skipping quoted strings so
// that map literals and string arguments may contain braces.
func closing(s string) int {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			return i
		}
	}
	return -1
}

func evaluate(code string, env map[string]any) (any, bool) {
	if code == "" {
		return nil, false
	}
	program, err := expr.Compile(pipes(code), compileOptions(env)...)
	if err != nil {
		return nil, false
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, false
	}
	return out, true
}

// newEnv layers built-ins under the bindings. Built-ins are fresh on every
// call and never written back.
func newEnv(bindings map[string]any) map[string]any {
	env := make(map[string]any, len(bindings)+len(sprigFuncs())+8)
	for k, fn := range sprigFuncs() {
		env[k] = fn
	}
	env["True"] = true
	env["False"] = false
	env["None"] = nil
	now := time.Now().UTC()
	env[RandomStr] = uuid.NewString()
	env[RandomInt] = rand.IntN(1<<31) - 1<<30
	env[NowTS] = float64(now.UnixNano()) / float64(time.Second)
	env[NowDT] = now.Format(NowLayout)
	for k, v := range bindings {
		env[k] = v
	}
	return env
}

// pipes rewrites Jinja style filters `x | name` into expr calls `x | name()`.
// `||` and quoted text are left alone.
func pipes(code string) string {
	if !strings.Contains(code, "|") {
		return code
	}
	var b strings.Builder
	var quote byte
	for i := 0; i < len(code); i++ {
		c := code[i]
		b.WriteByte(c)
		if quote != 0 {
			if c == '\\' && i+1 < len(code) {
				i++
				b.WriteByte(code[i])
			} else if c == quote {
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' || c == '`' {
			quote = c
			continue
		}
		if c != '|' {
			continue
		}
		if i+1 < len(code) && code[i+1] == '|' {
			b.WriteByte('|')
			i++
			continue
		}
		j := i + 1
		for j < len(code) && code[j] == ' ' {
			j++
		}
		k := j
		for k < len(code) && isIdent(code[k]) {
			k++
		}
		if k == j {
			continue
		}
		b.WriteString(code[i+1 : k])
		m := k
		for m < len(code) && code[m] == ' ' {
			m++
		}
		if m >= len(code) || code[m] != '(' {
			b.WriteString("()")
		}
		i = k - 1
	}
	return b.String()
}

func isIdent(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// Stringify formats an evaluated value for inclusion in a larger string.
// Lists and maps are written as JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.UTC().Format(NowLayout)
	case []byte:
		return string(val)
	case map[string]any, []any, map[any]any:
		data, err := json.Marshal(normalize(val))
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

// normalize converts yaml style map[any]any values into JSON encodable maps.
func normalize(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}
