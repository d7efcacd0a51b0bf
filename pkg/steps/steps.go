// Package steps assembles the step registry: the built-in control steps,
// the domain steps and the external plugins.
package steps

import (
	"context"

	"github.com/comtihon/catcher/pkg/step"
	"github.com/comtihon/catcher/pkg/steps/builtin"
	"github.com/comtihon/catcher/pkg/steps/external"
	"github.com/comtihon/catcher/pkg/steps/httpstep"
	"github.com/comtihon/catcher/pkg/steps/redisstep"
	"github.com/comtihon/catcher/pkg/steps/s3step"
	"github.com/comtihon/catcher/pkg/steps/shell"
	"github.com/comtihon/catcher/pkg/steps/sqlstep"
)

// Builtins returns a registry with every built-in step.
func Builtins() *step.Registry {
	r := step.NewRegistry()
	builtin.Register(r)
	r.Register(shell.Info, shell.New)
	r.Register(httpstep.Info, httpstep.New)
	r.Register(sqlstep.PostgresInfo, sqlstep.NewPostgres)
	r.Register(sqlstep.SQLiteInfo, sqlstep.NewSQLite)
	r.Register(redisstep.Info, redisstep.New)
	r.Register(s3step.Info, s3step.New)
	return r
}

// Registry returns the built-ins plus the plugins found in pluginDirs.
func Registry(ctx context.Context, pluginDirs ...string) (*step.Registry, error) {
	r := Builtins()
	if err := external.Register(ctx, r, pluginDirs...); err != nil {
		return nil, err
	}
	return r, nil
}
