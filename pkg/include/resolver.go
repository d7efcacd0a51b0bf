package include

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/comtihon/catcher/pkg/engine"
	"github.com/comtihon/catcher/pkg/logging"
	"github.com/comtihon/catcher/pkg/schema"
)

// ResolutionError is a failure to load or compile an included document.
type ResolutionError struct {
	Path string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("include %s: %v", e.Path, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Include is a resolved include-spec: the compiled test plus the control
// attributes of the include site.
type Include struct {
	Spec   schema.IncludeSpec
	Test   *engine.Test
	Parent *engine.Test
}

// Resolution is the resolved include tree of a root test.
type Resolution struct {
	Root *engine.Test
	// Includes lists every include, each after its own includes, siblings in
	// declaration order.
	Includes []*Include
}

// PreRun returns the includes that run before their parent.
func (r *Resolution) PreRun() []*Include {
	var out []*Include
	for _, inc := range r.Includes {
		if inc.Spec.RunsOnInclude() {
			out = append(out, inc)
		}
	}
	return out
}

// Resolver loads include trees. Relative include files resolve against the
// project directory first, then against the including document.
type Resolver struct {
	engine *engine.Engine
	root   string
}

// New returns a resolver compiling documents with e.
func New(e *engine.Engine, root string) *Resolver {
	return &Resolver{engine: e, root: root}
}

// ResolveFile loads path and resolves its includes.
func (r *Resolver) ResolveFile(ctx context.Context, path string) (*Resolution, error) {
	doc, err := schema.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, doc)
}

// Resolve compiles doc and its include tree depth first. Aliased includes
// are registered on their parent. A cycle fails the whole resolution.
func (r *Resolver) Resolve(ctx context.Context, doc *schema.Document) (*Resolution, error) {
	root, err := r.engine.Compile(doc)
	if err != nil {
		return nil, err
	}
	res := &Resolution{Root: root}
	if err := r.walk(ctx, NewGraph(), doc, root, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Resolver) walk(ctx context.Context, g *Graph, doc *schema.Document, parent *engine.Test, res *Resolution) error {
	log := logging.FromContext(ctx)
	from := key(doc.Path)
	for _, spec := range doc.Include {
		path := schema.ResolveInclude(r.root, doc.Path, spec.File)
		if err := g.AddEdge(from, key(path)); err != nil {
			return err
		}

		child, err := schema.LoadFile(path)
		if err != nil {
			return &ResolutionError{Path: spec.File, Err: err}
		}
		t, err := r.engine.Compile(child)
		if err != nil {
			return &ResolutionError{Path: spec.File, Err: err}
		}
		if err := r.walk(ctx, g, child, t, res); err != nil {
			return err
		}

		res.Includes = append(res.Includes, &Include{Spec: spec, Test: t, Parent: parent})
		if spec.Alias != "" {
			parent.AddInclude(spec.Alias, t, spec.IgnoreErrors)
		}
		log.Debug("include resolved", "file", spec.File, "as", spec.Alias, "run_on_include", spec.RunsOnInclude())
	}
	return nil
}

func key(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
