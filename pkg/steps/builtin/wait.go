package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/comtihon/catcher/pkg/logging"
	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/vars"
)

// RetryInterval is the pause between two attempts of wait…for.
var RetryInterval = 100 * time.Millisecond

type waitConfig struct {
	Days         float64 `mapstructure:"days"`
	Hours        float64 `mapstructure:"hours"`
	Minutes      float64 `mapstructure:"minutes"`
	Seconds      float64 `mapstructure:"seconds"`
	Milliseconds float64 `mapstructure:"milliseconds"`
	Microseconds float64 `mapstructure:"microseconds"`
	Nanoseconds  float64 `mapstructure:"nanoseconds"`
	For          any     `mapstructure:"for"`
}

func (c waitConfig) duration() time.Duration {
	total := c.Days*float64(24*time.Hour) +
		c.Hours*float64(time.Hour) +
		c.Minutes*float64(time.Minute) +
		c.Seconds*float64(time.Second) +
		c.Milliseconds*float64(time.Millisecond) +
		c.Microseconds*float64(time.Microsecond) +
		c.Nanoseconds*float64(time.Nanosecond)
	return time.Duration(total)
}

type wait struct {
	delay   time.Duration
	actions []step.Action
}

func newWait(spec step.Spec, r *step.Registry) (step.Step, error) {
	var cfg waitConfig
	if _, ok := spec.Body.(map[string]any); ok {
		if err := step.Decode(spec.Body, &cfg); err != nil {
			return nil, err
		}
	} else if err := step.Decode(map[string]any{"seconds": spec.Body}, &cfg); err != nil {
		return nil, err
	}
	w := &wait{delay: cfg.duration()}
	if w.delay < 0 {
		return nil, fmt.Errorf("negative delay %s", w.delay)
	}
	if cfg.For != nil {
		actions, err := r.Nested(cfg.For)
		if err != nil {
			return nil, fmt.Errorf("for: %w", err)
		}
		w.actions = actions
	}
	return w, nil
}

// Action sleeps for the delay. With `for` the delay is a budget: the actions
// are attempted against a copy of the bindings until one attempt succeeds
// entirely, whose bindings then replace the original. When the budget
// elapses the original bindings are kept.
func (w *wait) Action(ctx context.Context, env *step.Env, b vars.Bindings) (step.Result, error) {
	if len(w.actions) == 0 {
		return step.Result{}, sleep(ctx, w.delay)
	}

	log := logging.FromContext(ctx)
	deadline := time.Now().Add(w.delay)
	for attempt := 1; ; attempt++ {
		scratch := b.Clone()
		o := env.Exec.Execute(ctx, env, w.actions, scratch)
		switch o.Kind {
		case step.Continue, step.Skip:
			return step.Result{Bindings: scratch}, nil
		case step.Stop:
			return step.Result{Bindings: scratch, Signal: step.Stop}, nil
		}
		if err := ctx.Err(); err != nil {
			return step.Result{}, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			log.Warn("wait for: no successful attempt in time", "attempts", attempt, "budget", w.delay, "error", o.Err)
			return step.Result{}, nil
		}
		log.Debug("wait for: attempt failed", "attempt", attempt, "error", o.Err)
		if err := sleep(ctx, min(RetryInterval, remaining)); err != nil {
			return step.Result{}, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
