package eval

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"math"
	"math/rand/v2"
	"os"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/builtin"
	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/itchyny/gojq"
	"gopkg.in/yaml.v3"
)

// Function is a template function callable from a placeholder.
type Function func(params ...any) (any, error)

var (
	customMu  sync.RWMutex
	customFns = map[string]Function{}
)

// sprigFuncs is the slim-sprig table without the names expr already
// provides, so expr built-ins keep their own semantics.
var sprigFuncs = sync.OnceValue(func() map[string]any {
	out := make(map[string]any)
	for name, fn := range sprig.TxtFuncMap() {
		if _, taken := builtin.Index[name]; taken {
			continue
		}
		out[name] = fn
	}
	return out
})

// Register adds a function to the process-wide template function table.
// Registering an existing name replaces it.
func Register(name string, fn Function) {
	customMu.Lock()
	defer customMu.Unlock()
	customFns[name] = fn
}

// Functions lists the names of all template functions, built-in and
// registered, sorted.
func Functions() []string {
	names := make([]string, 0, 16)
	for name := range builtinFuncs {
		names = append(names, name)
	}
	customMu.RLock()
	for name := range customFns {
		if _, ok := builtinFuncs[name]; !ok {
			names = append(names, name)
		}
	}
	customMu.RUnlock()
	sort.Strings(names)
	return names
}

// LoadFunctions reads a function module: a YAML or JSON map from function
// name to an expression over `args`. Each entry is compiled once and
// registered.
// Example: `double: args[0] * 2` makes `{{ double(21) }}` render 42.
func LoadFunctions(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read functions: %w", err)
	}
	var defs map[string]string
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse functions %s: %w", path, err)
	}

	names := make([]string, 0, len(defs))
	for name, code := range defs {
		program, err := expr.Compile(pipes(code), expr.Env(map[string]any{"args": []any{}}))
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", name, err)
		}
		Register(name, func(params ...any) (any, error) {
			return expr.Run(program, map[string]any{"args": params})
		})
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func compileOptions(env map[string]any) []expr.Option {
	opts := []expr.Option{expr.Env(env)}
	for name, fn := range builtinFuncs {
		opts = append(opts, expr.Function(name, fn))
	}
	customMu.RLock()
	defer customMu.RUnlock()
	for name, fn := range customFns {
		opts = append(opts, expr.Function(name, fn))
	}
	return opts
}

var builtinFuncs = map[string]Function{
	"hash":          hashFunc,
	"random_int":    randomInt,
	"random_choice": randomChoice,
	"astimestamp":   asTimestamp,
	"asdate":        asDate,
	"tojson":        toJSON,
	"fromjson":      fromJSON,
	"jq":            jq,
}

// hash(data, alg="md5")
func hashFunc(params ...any) (any, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("hash: missing data")
	}
	alg := "md5"
	if len(params) > 1 {
		alg = fmt.Sprint(params[1])
	}
	var h hash.Hash
	switch alg {
	case "md5":
		h = md5.New()
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return nil, fmt.Errorf("hash: unknown algorithm %q", alg)
	}
	h.Write([]byte(Stringify(params[0])))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// random_int(from=MinInt32, to=MaxInt32), both ends inclusive.
func randomInt(params ...any) (any, error) {
	from, to := int64(math.MinInt32), int64(math.MaxInt32)
	if len(params) > 0 {
		n, ok := toInt64(params[0])
		if !ok {
			return nil, fmt.Errorf("random_int: bad lower bound %v", params[0])
		}
		from = n
	}
	if len(params) > 1 {
		n, ok := toInt64(params[1])
		if !ok {
			return nil, fmt.Errorf("random_int: bad upper bound %v", params[1])
		}
		to = n
	}
	if to < from {
		return nil, fmt.Errorf("random_int: empty range [%d, %d]", from, to)
	}
	return int(from + rand.Int64N(to-from+1)), nil
}

func randomChoice(params ...any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("random_choice: expected one collection")
	}
	rv := reflect.ValueOf(params[0])
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("random_choice: %T is not a list", params[0])
	}
	if rv.Len() == 0 {
		return nil, fmt.Errorf("random_choice: empty list")
	}
	return rv.Index(rand.IntN(rv.Len())).Interface(), nil
}

// astimestamp(date, layout=NowLayout) returns unix seconds as float.
func asTimestamp(params ...any) (any, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("astimestamp: missing date")
	}
	var t time.Time
	switch v := params[0].(type) {
	case time.Time:
		t = v
	case string:
		layout := NowLayout
		if len(params) > 1 {
			layout = fmt.Sprint(params[1])
		}
		parsed, err := time.Parse(layout, v)
		if err != nil {
			var ok bool
			if parsed, ok = parseTime(v); !ok {
				return nil, fmt.Errorf("astimestamp: %w", err)
			}
		}
		t = parsed
	default:
		return nil, fmt.Errorf("astimestamp: unsupported %T", params[0])
	}
	return float64(t.UnixNano()) / float64(time.Second), nil
}

// asdate(ts, layout=NowLayout) formats unix seconds.
func asDate(params ...any) (any, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("asdate: missing timestamp")
	}
	ts, ok := toFloat(params[0])
	if !ok {
		return nil, fmt.Errorf("asdate: bad timestamp %v", params[0])
	}
	layout := NowLayout
	if len(params) > 1 {
		layout = fmt.Sprint(params[1])
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC().Format(layout), nil
}

func toJSON(params ...any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("tojson: expected one value")
	}
	data, err := json.Marshal(normalize(params[0]))
	if err != nil {
		return nil, fmt.Errorf("tojson: %w", err)
	}
	return string(data), nil
}

func fromJSON(params ...any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("fromjson: expected one string")
	}
	var out any
	if err := json.Unmarshal([]byte(Stringify(params[0])), &out); err != nil {
		return nil, fmt.Errorf("fromjson: %w", err)
	}
	return out, nil
}

// jq(value, query) runs a jq program over value. A single result is
// returned as is, several results as a list.
func jq(params ...any) (any, error) {
	if len(params) != 2 {
		return nil, fmt.Errorf("jq: expected value and query")
	}
	query, err := gojq.Parse(fmt.Sprint(params[1]))
	if err != nil {
		return nil, fmt.Errorf("jq: %w", err)
	}
	input, err := jsonValue(params[0])
	if err != nil {
		return nil, fmt.Errorf("jq: %w", err)
	}

	var results []any
	iter := query.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, fmt.Errorf("jq: %w", err)
		}
		results = append(results, v)
	}
	if len(results) == 1 {
		return results[0], nil
	}
	return results, nil
}

// jsonValue converts v into the plain JSON types gojq accepts.
func jsonValue(v any) (any, error) {
	if s, ok := v.(string); ok {
		var out any
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out, nil
		}
		return s, nil
	}
	data, err := json.Marshal(normalize(v))
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case string:
		c := Coerce(n)
		if _, isStr := c.(string); isStr {
			return 0, false
		}
		return toInt64(c)
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		c := Coerce(n)
		if _, isStr := c.(string); isStr {
			return 0, false
		}
		return toFloat(c)
	default:
		return 0, false
	}
}
