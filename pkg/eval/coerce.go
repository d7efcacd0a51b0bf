package eval

import (
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Coerce turns the literal text of a rendered value into the richest type
// it parses as: int, float, bool, list, map or a time in NowLayout.
// Anything else is returned unchanged.
func Coerce(s string) any {
	t := strings.TrimSpace(s)
	if t == "" || strings.Contains(t, "{{") {
		return s
	}
	switch t {
	case "true", "True":
		return true
	case "false", "False":
		return false
	case "None", "null":
		return nil
	}
	if n, err := strconv.Atoi(t); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil && !strings.ContainsAny(t, "xXpP_") && !isSpecialFloat(t) {
		return f
	}
	if (t[0] == '[' && t[len(t)-1] == ']') || (t[0] == '{' && t[len(t)-1] == '}') {
		var out any
		if err := yaml.Unmarshal([]byte(t), &out); err == nil {
			return plain(out)
		}
		return s
	}
	if len(t) == len(NowLayout) {
		if tm, err := time.Parse(NowLayout, t); err == nil {
			return tm
		}
	}
	return s
}

func isSpecialFloat(t string) bool {
	l := strings.ToLower(strings.TrimLeft(t, "+-"))
	return l == "inf" || l == "infinity" || l == "nan"
}

var dateLayouts = []string{
	NowLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000000",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// parseTime tries the common date layouts in turn.
func parseTime(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// plain converts yaml.v3 output into the map[string]any / []any shape used
// throughout bindings.
func plain(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = plain(item)
		}
		return val
	case map[any]any:
		return normalize(val)
	case []any:
		for i, item := range val {
			val[i] = plain(item)
		}
		return val
	default:
		return v
	}
}
