// Package config resolves run options from flags, CATCHER_* environment
// variables and an optional catcher.yaml in the project directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the project configuration file looked up in the project
// directory.
const FileName = "catcher.yaml"

// EnvPrefix prefixes the environment variables read as options.
const EnvPrefix = "CATCHER"

// Options are the settings of a run. Keys use underscores; the matching
// flags use dashes.
type Options struct {
	Dir       string   `mapstructure:"dir"`
	Inventory string   `mapstructure:"inventory"`
	Resources string   `mapstructure:"resources"`
	Modules   []string `mapstructure:"modules"`
	Filters   []string `mapstructure:"filters"`
	Variables []string `mapstructure:"variables"`
	SystemEnv bool     `mapstructure:"system_env"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	Format  string   `mapstructure:"format"`
	Output  string   `mapstructure:"output"`
	NoColor bool     `mapstructure:"no_color"`
	Secrets []string `mapstructure:"secrets"`

	Parallel int      `mapstructure:"parallel"`
	FailFast bool     `mapstructure:"fail_fast"`
	Include  []string `mapstructure:"include"`
	Exclude  []string `mapstructure:"exclude"`
}

// Defaults returns the options used when nothing else sets a value.
func Defaults() Options {
	return Options{
		Dir:       ".",
		Modules:   []string{"steps"},
		LogLevel:  "info",
		LogFormat: "text",
		Format:    "none",
		Output:    "full",
		Parallel:  1,
	}
}

// Load resolves the options. Precedence, highest first: flags that were set,
// CATCHER_* environment, the config file, flag defaults, Defaults. A .env
// file in the working directory is loaded into the environment first
// without overriding variables already set.
func Load(flags *pflag.FlagSet, configFile string) (*Options, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if bindErr != nil {
				return
			}
			if err := v.BindPFlag(Key(f.Name), f); err != nil {
				bindErr = fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	if configFile == "" {
		dir := v.GetString("dir")
		if dir == "" {
			dir = "."
		}
		if candidate := filepath.Join(dir, FileName); fileExists(candidate) {
			configFile = candidate
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if err := mergo.Merge(&opts, Defaults()); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// Key maps a flag name to its option key.
func Key(flag string) string {
	return strings.ReplaceAll(flag, "-", "_")
}

// Validate checks the enumerated options.
func (o *Options) Validate() error {
	if !slices.Contains([]string{"full", "limited", "final"}, o.Output) {
		return fmt.Errorf("invalid output %q: expected full, limited or final", o.Output)
	}
	if !slices.Contains([]string{"json", "html", "none"}, o.Format) {
		return fmt.Errorf("invalid format %q: expected json, html or none", o.Format)
	}
	if o.Parallel < 1 {
		return fmt.Errorf("invalid parallel %d: must be at least 1", o.Parallel)
	}
	return nil
}

// Overrides parses the key=value variables. Values are kept as text; the
// template renderer coerces them when they are used.
func (o *Options) Overrides() (map[string]any, error) {
	out := make(map[string]any, len(o.Variables))
	for _, kv := range o.Variables {
		k, val, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid variable %q: expected key=value", kv)
		}
		out[strings.TrimSpace(k)] = val
	}
	return out, nil
}

// Path resolves p against the project directory unless it is absolute.
func (o *Options) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(o.Dir, p)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
