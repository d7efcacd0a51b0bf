// Package app wires a run from resolved options: logger, step registry,
// global bindings, report collector and runner. The CLI and the MCP server
// share it.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/comtihon/catcher/pkg/config"
	"github.com/comtihon/catcher/pkg/engine"
	"github.com/comtihon/catcher/pkg/eval"
	"github.com/comtihon/catcher/pkg/logging"
	"github.com/comtihon/catcher/pkg/runner"
	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/steps"
	"github.com/comtihon/catcher/pkg/trace"
	"github.com/comtihon/catcher/pkg/vars"
)

// App is a configured run.
type App struct {
	Options   *config.Options
	Logger    *slog.Logger
	Registry  *step.Registry
	Engine    *engine.Engine
	Holder    *vars.Holder
	Collector *trace.Collector

	closers []io.Closer
}

// Setup controls the parts of New that depend on the caller.
type Setup struct {
	Console io.Writer // console log destination; nil means stderr
	Quiet   bool      // no console logging
}

// New builds an App. Close releases the log file.
func New(ctx context.Context, opts *config.Options, setup Setup) (*App, error) {
	a := &App{Options: opts}
	secrets := trace.NewSecrets(opts.Secrets...)

	if err := a.initLogger(opts, setup, secrets); err != nil {
		return nil, err
	}
	ctx = logging.WithLogger(ctx, a.Logger)

	for _, path := range opts.Filters {
		names, err := eval.LoadFunctions(opts.Path(path))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Logger.Debug("loaded template functions", "file", path, "functions", names)
	}

	dirs := make([]string, 0, len(opts.Modules))
	for _, m := range opts.Modules {
		dirs = append(dirs, opts.Path(m))
	}
	reg, err := steps.Registry(ctx, dirs...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = reg
	a.Engine = engine.New(reg, opts.Dir)

	overrides, err := opts.Overrides()
	if err != nil {
		a.Close()
		return nil, err
	}
	resources := ""
	if opts.Resources != "" {
		resources = opts.Path(opts.Resources)
	}
	inventory := ""
	if opts.Inventory != "" {
		inventory = opts.Path(opts.Inventory)
	}
	holder, err := vars.Compose(ctx, vars.Options{
		Dir:       opts.Dir,
		Resources: resources,
		Inventory: inventory,
		SystemEnv: opts.SystemEnv,
		Overrides: overrides,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Holder = holder
	// learn the secret values set before any test runs
	secrets.Mask(holder.Globals(""))
	secrets.Mask(holder.Overrides())
	a.Collector = trace.NewCollector(secrets)
	return a, nil
}

func (a *App) initLogger(opts *config.Options, setup Setup, secrets *trace.Secrets) error {
	level, err := logging.ParseLevel(opts.LogLevel)
	if err != nil {
		return err
	}
	logOpts := []logging.Option{
		logging.WithLevel(level),
		logging.WithFormat(opts.LogFormat),
		logging.WithRedactor(secrets.Redact),
	}
	if setup.Console != nil {
		logOpts = append(logOpts, logging.WithConsole(setup.Console))
	}
	if setup.Quiet || opts.Output != runner.OutputFull {
		logOpts = append(logOpts, logging.WithQuiet())
	}
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.Path(opts.LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.closers = append(a.closers, f)
		logOpts = append(logOpts, logging.WithWriter(f))
	}
	a.Logger = logging.NewLogger(logOpts...)
	return nil
}

// Context returns ctx carrying the app logger.
func (a *App) Context(ctx context.Context) context.Context {
	return logging.WithLogger(ctx, a.Logger)
}

// Runner returns a runner over the app engine and bindings.
func (a *App) Runner() *runner.Runner {
	return runner.New(runner.Config{
		Engine:   a.Engine,
		Holder:   a.Holder,
		Dir:      a.Options.Dir,
		Sink:     a.Collector,
		Parallel: a.Options.Parallel,
		FailFast: a.Options.FailFast,
	})
}

// Run discovers the tests under target, runs them and writes the report.
func (a *App) Run(ctx context.Context, target string) (*runner.Summary, error) {
	ctx = a.Context(ctx)
	paths, err := runner.Discover(target, runner.Filter{Include: a.Options.Include, Exclude: a.Options.Exclude})
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no tests found in %s", target)
	}
	a.Logger.Debug("discovered tests", "count", len(paths))

	summary := a.Runner().Run(ctx, paths)
	if report, err := trace.WriteReport(filepath.Join(a.Options.Dir, "reports"), a.Options.Format, a.Collector.Records()); err != nil {
		a.Logger.Warn("report not written", "error", err)
	} else if report != "" {
		a.Logger.Info("report written", "file", report)
	}
	return summary, nil
}

// Close releases the resources opened by New.
func (a *App) Close() {
	for _, c := range a.closers {
		_ = c.Close()
	}
	a.closers = nil
}
