// Package runner runs root tests: it resolves their includes, composes their
// bindings, drives the engine and collects the results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/comtihon/catcher/pkg/engine"
	"github.com/comtihon/catcher/pkg/include"
	"github.com/comtihon/catcher/pkg/logging"
	"github.com/comtihon/catcher/pkg/operator"
	"github.com/comtihon/catcher/pkg/schema"
	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/trace"
	"github.com/comtihon/catcher/pkg/vars"
)

// Status of a root test.
type Status string

const (
	Passed  Status = "passed"
	Failed  Status = "failed"
	Skipped Status = "skipped"
)

// Result is the outcome of one root test.
type Result struct {
	Path       string
	Status     Status
	Err        error
	FailedStep int // 1-based, 0 when the failure is not a step failure
	Duration   time.Duration
}

// Config configures a Runner.
type Config struct {
	Engine   *engine.Engine
	Holder   *vars.Holder
	Dir      string     // project directory
	Sink     trace.Sink // nil records nothing
	Parallel int        // worker count, at least 1
	FailFast bool       // stop scheduling tests after the first failure
}

// Runner runs root tests.
type Runner struct {
	cfg      Config
	resolver *include.Resolver
}

// New returns a runner.
func New(cfg Config) *Runner {
	if cfg.Sink == nil {
		cfg.Sink = trace.Nop{}
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	return &Runner{cfg: cfg, resolver: include.New(cfg.Engine, cfg.Dir)}
}

// Run executes every test and returns the summary in the order of paths.
func (r *Runner) Run(ctx context.Context, paths []string) *Summary {
	results := make([]*Result, len(paths))
	jobs := make(chan int)
	var wg sync.WaitGroup
	var failOnce sync.Once
	stop := make(chan struct{})
	for w := 0; w < r.cfg.Parallel; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				select {
				case <-stop:
					continue
				default:
				}
				res := r.RunTest(ctx, paths[i])
				results[i] = &res
				if res.Status == Failed && r.cfg.FailFast {
					failOnce.Do(func() { close(stop) })
				}
			}
		}()
	}

schedule:
	for i := range paths {
		select {
		case <-ctx.Done():
			break schedule
		case <-stop:
			break schedule
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	s := &Summary{}
	for i, res := range results {
		if res == nil {
			logging.FromContext(ctx).Debug("test not scheduled", "test", paths[i])
			continue
		}
		s.add(*res)
	}
	return s
}

// RunTest runs one root test.
func (r *Runner) RunTest(ctx context.Context, path string) Result {
	start := time.Now()
	log := logging.FromContext(ctx).With("test", path)
	ctx = logging.WithLogger(ctx, log)
	rec := r.cfg.Sink.Start(path, trace.KindTest)
	ctx = trace.WithRecord(ctx, rec)

	res := r.runTest(ctx, path)
	res.Path = path
	res.Duration = time.Since(start)

	switch res.Status {
	case Passed:
		r.cfg.Sink.Finish(rec, trace.StatusOK, "")
		log.Info("Test passed.")
	case Skipped:
		r.cfg.Sink.Finish(rec, trace.StatusOK, trace.CommentSkipped)
		log.Info("Test skipped.")
	default:
		res.FailedStep = engine.FailedStep(res.Err)
		r.cfg.Sink.Finish(rec, trace.StatusFail, res.Err.Error())
		log.Warn("Test failed.", "error", res.Err)
	}
	return res
}

func (r *Runner) runTest(ctx context.Context, path string) Result {
	log := logging.FromContext(ctx)
	doc, err := schema.LoadFile(path)
	if err != nil {
		return Result{Status: Failed, Err: err}
	}

	global := r.cfg.Holder.Globals(path)
	// the root ignore is checked before its includes are resolved
	if doc.Ignore.Set {
		b := r.cfg.Holder.PrepareForTest(ctx, doc.Variables, nil, global)
		ignored, err := operator.Evaluate(ctx, doc.Ignore.Value, b)
		if err != nil {
			return Result{Status: Failed, Err: fmt.Errorf("ignore: %w", err)}
		}
		if ignored {
			return Result{Status: Skipped}
		}
	}

	resolution, err := r.resolver.Resolve(ctx, doc)
	if err != nil {
		return Result{Status: Failed, Err: err}
	}

	threaded := global
	for _, inc := range resolution.Includes {
		b := r.cfg.Holder.PrepareForTest(ctx, inc.Test.Variables(), inc.Spec.Variables, threaded)
		inc.Test.SetBindings(b)
		if !inc.Spec.RunsOnInclude() {
			continue
		}
		out, err := r.runInclude(ctx, inc, b)
		if err != nil {
			if !inc.Spec.IgnoreErrors {
				return Result{Status: Failed, Err: fmt.Errorf("Include %s failed: %w", inc.Spec.File, err)}
			}
			log.Debug("include failed but errors are ignored", "include", inc.Spec.File, "error", err)
		}
		threaded = out
	}

	root := resolution.Root
	b := r.cfg.Holder.PrepareForTest(ctx, doc.Variables, nil, threaded)
	_, o := root.Run(ctx, "", false, b)
	// an ignore that turns true after the includes ran no steps, so no finally
	if o.Kind == step.Skip {
		return Result{Status: Skipped}
	}
	root.RunFinally(ctx, !o.Failed())
	if o.Failed() {
		return Result{Status: Failed, Err: o.Err}
	}
	return Result{Status: Passed}
}

// runInclude runs a pre-run include under its own report record.
func (r *Runner) runInclude(ctx context.Context, inc *include.Include, b vars.Bindings) (vars.Bindings, error) {
	rec := r.cfg.Sink.Start(inc.Test.Path(), trace.KindInclude)
	ctx = trace.WithRecord(ctx, rec)
	logging.FromContext(ctx).Debug("run include", "include", inc.Spec.File)

	out, o := inc.Test.Run(ctx, "", false, b)
	if o.Failed() {
		r.cfg.Sink.Finish(rec, trace.StatusFail, o.Err.Error())
		return out, o.Err
	}
	r.cfg.Sink.Finish(rec, trace.StatusOK, "")
	return out, nil
}

// IsResolutionError reports whether err prevented the test from starting.
func IsResolutionError(err error) bool {
	var cycle *include.CycleError
	var res *include.ResolutionError
	var unknown *step.UnknownActionError
	return errors.As(err, &cycle) || errors.As(err, &res) || errors.As(err, &unknown)
}
