// Package redisstep implements the redis step with go-redis.
package redisstep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/comtihon/catcher/pkg/eval"
	"github.com/comtihon/catcher/pkg/logging"
	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/vars"
)

// Info describes the redis step.
var Info = step.Info{
	Name:    "redis",
	Summary: "Run one Redis command",
	Doc: "# redis\n\n" +
		"`conf` is a `redis://` URL, `host:port`, or a map with `host`, `port`, `db`,\n" +
		"`password` (default `localhost:6379`). `request` holds exactly one command:\n" +
		"a scalar argument, a list of arguments, or a map flattened to key value\n" +
		"pairs. Lists and maps inside arguments are sent as JSON. A missing key\n" +
		"returns nothing.\n\n" +
		"```yaml\n" +
		"- redis:\n" +
		"    request: {set: {counter: 1}}\n" +
		"- redis:\n" +
		"    conf: 'localhost:6379'\n" +
		"    request: {incrby: [counter, 5]}\n" +
		"    register: {counter: '{{ OUTPUT }}'}\n" +
		"```\n",
}

const defaultAddr = "localhost:6379"

type config struct {
	Conf    any            `mapstructure:"conf"`
	Request map[string]any `mapstructure:"request"`
}

type connection struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DB       int    `mapstructure:"db"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type command struct {
	cfg  config
	name string
	args any
}

// New is the redis step factory.
func New(spec step.Spec, _ *step.Registry) (step.Step, error) {
	c := &command{}
	if err := step.Decode(spec.Body, &c.cfg); err != nil {
		return nil, err
	}
	if len(c.cfg.Request) != 1 {
		return nil, fmt.Errorf("request must hold exactly one command, got %d", len(c.cfg.Request))
	}
	for name, args := range c.cfg.Request {
		c.name, c.args = strings.ToLower(name), args
	}
	return c, nil
}

// Action connects, runs the command and closes the client.
func (c *command) Action(ctx context.Context, _ *step.Env, b vars.Bindings) (step.Result, error) {
	opts, err := c.options(b)
	if err != nil {
		return step.Result{}, err
	}
	client := redis.NewClient(opts)
	defer func() { _ = client.Close() }()

	args := append([]any{c.name}, arguments(eval.RenderDeep(c.args, b))...)
	logging.FromContext(ctx).Debug("redis", "addr", opts.Addr, "command", args)
	res, err := client.Do(ctx, args...).Result()
	if errors.Is(err, redis.Nil) {
		return step.Result{}, nil
	}
	if err != nil {
		return step.Result{}, fmt.Errorf("redis %s: %w", c.name, err)
	}
	return step.Result{Output: normalize(res)}, nil
}

func (c *command) options(b vars.Bindings) (*redis.Options, error) {
	switch conf := c.cfg.Conf.(type) {
	case nil:
		return &redis.Options{Addr: defaultAddr}, nil
	case string:
		addr := eval.Render(conf, b)
		if strings.Contains(addr, "://") {
			opts, err := redis.ParseURL(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid redis URL: %w", err)
			}
			return opts, nil
		}
		return &redis.Options{Addr: addr}, nil
	case map[string]any:
		var conn connection
		if err := step.Decode(eval.FillMap(conf, b), &conn); err != nil {
			return nil, fmt.Errorf("conf: %w", err)
		}
		if conn.Host == "" {
			conn.Host = "localhost"
		}
		if conn.Port == 0 {
			conn.Port = 6379
		}
		return &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", conn.Host, conn.Port),
			DB:       conn.DB,
			Username: conn.Username,
			Password: conn.Password,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported conf %T", c.cfg.Conf)
	}
}

// arguments flattens the request body into command arguments.
func arguments(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = scalar(item)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(val)*2)
		for _, k := range keys {
			out = append(out, k, scalar(val[k]))
		}
		return out
	default:
		return []any{scalar(v)}
	}
}

func scalar(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	case nil:
		return ""
	default:
		return v
	}
}

func normalize(v any) any {
	switch val := v.(type) {
	case string:
		return eval.Coerce(val)
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
