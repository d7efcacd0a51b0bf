// Package vars owns the variable bindings threaded through a test run and
// the layering rules deciding which value of a name wins.
package vars

import (
	"fmt"
	"reflect"
	"sort"
	"time"
)

// Reserved binding names.
const (
	CurrentDir    = "CURRENT_DIR"
	ResourcesDir  = "RESOURCES_DIR"
	TestName      = "TEST_NAME"
	Inventory     = "INVENTORY"
	InventoryFile = "INVENTORY_FILE"
	Output        = "OUTPUT"
	Item          = "ITEM"
)

// Bindings is the mutable variable environment of a test. It is passed by
// reference through every step, include and nested run of the test.
type Bindings map[string]any

// Clone returns a deep copy.
func (b Bindings) Clone() Bindings {
	if b == nil {
		return Bindings{}
	}
	out := make(Bindings, len(b))
	for k, v := range b {
		out[k] = DeepCopy(v)
	}
	return out
}

// Update sets every key of over into b and returns the keys whose previous
// value was different, sorted.
func (b Bindings) Update(over map[string]any) []string {
	var shadowed []string
	for k, v := range over {
		if old, ok := b[k]; ok && !reflect.DeepEqual(old, v) {
			shadowed = append(shadowed, k)
		}
		b[k] = v
	}
	sort.Strings(shadowed)
	return shadowed
}

// Replace makes b hold exactly the entries of src, keeping the identity of
// b so that every holder of the map observes the change.
func (b Bindings) Replace(src map[string]any) {
	if reflect.ValueOf(b).UnsafePointer() == reflect.ValueOf(src).UnsafePointer() {
		return
	}
	clear(b)
	for k, v := range src {
		b[k] = v
	}
}

// With returns a shallow copy of b with extra entries set.
func (b Bindings) With(extra map[string]any) Bindings {
	out := make(Bindings, len(b)+len(extra))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Snapshot returns a deep copy without callable values, for reports.
func (b Bindings) Snapshot() map[string]any {
	out := make(map[string]any, len(b))
	for k, v := range b {
		if v != nil && reflect.TypeOf(v).Kind() == reflect.Func {
			continue
		}
		out[k] = DeepCopy(v)
	}
	return out
}

// Environ exports scalar bindings as KEY=value pairs, sorted.
func (b Bindings) Environ() []string {
	out := make([]string, 0, len(b))
	for k, v := range b {
		switch val := v.(type) {
		case string:
			out = append(out, k+"="+val)
		case int, int64, float64, bool:
			out = append(out, fmt.Sprintf("%s=%v", k, val))
		case time.Time:
			out = append(out, k+"="+val.Format(time.RFC3339Nano))
		}
	}
	sort.Strings(out)
	return out
}

// DeepCopy copies maps and lists recursively. Other values are returned as
// they are.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case Bindings:
		return val.Clone()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = DeepCopy(item)
		}
		return out
	case map[any]any:
		out := make(map[any]any, len(val))
		for k, item := range val {
			out[k] = DeepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = DeepCopy(item)
		}
		return out
	default:
		return v
	}
}
