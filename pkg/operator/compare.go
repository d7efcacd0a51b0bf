package operator

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/comtihon/catcher/pkg/eval"
)

// Equal compares two filled values. Numbers compare by value regardless of
// their Go type; lists and maps compare element-wise.
func Equal(a, b any) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, item := range av {
			other, ok := bv[k]
			if !ok || !Equal(item, other) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Member reports whether subject is in container: a substring of a string,
// an element of a list or a key of a map.
func Member(subject, container any) (bool, error) {
	switch c := container.(type) {
	case nil:
		return false, nil
	case string:
		return strings.Contains(c, eval.Stringify(subject)), nil
	case []any:
		for _, item := range c {
			if Equal(item, subject) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		_, ok := c[eval.Stringify(subject)]
		return ok, nil
	}
	rv := reflect.ValueOf(container)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if Equal(rv.Index(i).Interface(), subject) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("%T is not a container", container)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
