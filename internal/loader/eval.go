package loader

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// GlobFunc reports whether a name matches a shell pattern.
var GlobFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "pattern", Type: cty.String},
		{Name: "name", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		ok, err := path.Match(args[0].AsString(), args[1].AsString())
		if err != nil {
			return cty.UnknownVal(cty.Bool), err
		}
		return cty.BoolVal(ok), nil
	},
})

// Functions returns the function set available to definitions. None of
// them touch the filesystem, the network or the environment.
func Functions() map[string]function.Function {
	return map[string]function.Function{
		"lower":     stdlib.LowerFunc,
		"upper":     stdlib.UpperFunc,
		"format":    stdlib.FormatFunc,
		"join":      stdlib.JoinFunc,
		"split":     stdlib.SplitFunc,
		"concat":    stdlib.ConcatFunc,
		"contains":  stdlib.ContainsFunc,
		"length":    stdlib.LengthFunc,
		"regex":     stdlib.RegexFunc,
		"replace":   stdlib.ReplaceFunc,
		"trimspace": stdlib.TrimSpaceFunc,
		"glob":      GlobFunc,
		"merge":     stdlib.MergeFunc,
	}
}

type pipelineBlock struct {
	Name         *string        `hcl:"name,optional"`
	Versions     []string       `hcl:"versions"`
	Sources      []string       `hcl:"sources,optional"`
	SourceBlocks []*sourceBlock `hcl:"source,block"`
	Routes       []*routeBlock  `hcl:"route,block"`
}

type sourceBlock struct {
	Type string   `hcl:"type,label"`
	ID   string   `hcl:"id,label"`
	Body hcl.Body `hcl:",remain"`
}

type routeBlock struct {
	ID         string          `hcl:"id,label"`
	Filter     hcl.Expression  `hcl:"filter,optional"`
	Sources    []string        `hcl:"sources,optional"`
	Cache      *bool           `hcl:"cache,optional"`
	DependsOn  []string        `hcl:"depends_on,optional"`
	Emits      []string        `hcl:"emits,optional"`
	Parser     *handlerBlock   `hcl:"parser,block"`
	Transforms []*handlerBlock `hcl:"transform,block"`
	Resolver   *handlerBlock   `hcl:"resolver,block"`
}

type handlerBlock struct {
	Type string   `hcl:"type,label"`
	Body hcl.Body `hcl:",remain"`
}

// evaluator evaluates one bundle.
type evaluator struct {
	reg     *registry.Registry
	root    string
	evalCtx *hcl.EvalContext
	errors  []*FileError

	// Top-level sources of every module, built on first use.
	declared map[string]declaredSource
	built    map[string]pipeline.Source
}

type declaredSource struct {
	module *Module
	block  *sourceBlock
}

func (e *evaluator) fail(file string, err error) {
	e.errors = append(e.errors, &FileError{File: file, Kind: KindEvaluation, Err: err})
}

// evaluate runs the single evaluation of the bundle and exports the
// pipelines of the entry module.
func (l *Loader) evaluate(ctx context.Context, entry *Module, modules []*Module) ([]*LoadedPipeline, []*FileError) {
	e := &evaluator{
		reg:      l.reg,
		root:     l.fs.Root(),
		declared: make(map[string]declaredSource),
		built:    make(map[string]pipeline.Source),
	}
	locals := e.evaluateLocals(modules)
	e.evalCtx = &hcl.EvalContext{
		Variables: map[string]cty.Value{"local": cty.ObjectVal(locals)},
		Functions: Functions(),
	}

	for _, m := range modules {
		for _, block := range m.Content.Blocks.OfType("source") {
			id := block.Labels[1]
			if prev, dup := e.declared[id]; dup {
				e.fail(m.Location.String(), fmt.Errorf("source '%s' already declared in %s", id, prev.module.Location))
				continue
			}
			e.declared[id] = declaredSource{module: m, block: &sourceBlock{Type: block.Labels[0], ID: id, Body: block.Body}}
		}
	}

	var pipelines []*LoadedPipeline
	for _, block := range entry.Content.Blocks.OfType("pipeline") {
		p, err := e.pipeline(ctx, entry, block)
		if err != nil {
			e.fail(entry.Location.String(), err)
			continue
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, e.errors
}

// evaluateLocals merges the locals of all modules and evaluates them until
// no further local can be resolved.
func (e *evaluator) evaluateLocals(modules []*Module) map[string]cty.Value {
	type local struct {
		module *Module
		attr   *hcl.Attribute
	}
	defs := make(map[string]local)
	var pending []string
	for _, m := range modules {
		for _, block := range m.Content.Blocks.OfType("locals") {
			attrs, diags := block.Body.JustAttributes()
			if diags.HasErrors() {
				e.fail(m.Location.String(), diags)
			}
			for _, name := range sortedAttributeNames(attrs) {
				if prev, dup := defs[name]; dup {
					e.fail(m.Location.String(), fmt.Errorf("local '%s' already defined in %s", name, prev.module.Location))
					continue
				}
				defs[name] = local{module: m, attr: attrs[name]}
				pending = append(pending, name)
			}
		}
	}

	values := make(map[string]cty.Value)
	lastDiags := make(map[string]hcl.Diagnostics)
	for len(pending) > 0 {
		ectx := &hcl.EvalContext{
			Variables: map[string]cty.Value{"local": cty.ObjectVal(values)},
			Functions: Functions(),
		}
		var rest []string
		for _, name := range pending {
			v, diags := defs[name].attr.Expr.Value(ectx)
			if diags.HasErrors() || !v.IsWhollyKnown() {
				lastDiags[name] = diags
				rest = append(rest, name)
				continue
			}
			values[name] = v
		}
		if len(rest) == len(pending) {
			for _, name := range rest {
				err := diagError(lastDiags[name])
				if err == nil {
					err = fmt.Errorf("local '%s' does not evaluate to a known value", name)
				}
				e.fail(defs[name].module.Location.String(), err)
			}
			break
		}
		pending = rest
	}
	return values
}

func (e *evaluator) pipeline(ctx context.Context, m *Module, block *hcl.Block) (*LoadedPipeline, error) {
	id := block.Labels[0]
	var pb pipelineBlock
	if diags := gohcl.DecodeBody(block.Body, e.evalCtx, &pb); diags.HasErrors() {
		return nil, fmt.Errorf("pipeline '%s': %w", id, diags)
	}

	def := &pipeline.Definition{ID: id, Name: id, Versions: pb.Versions}
	if pb.Name != nil {
		def.Name = *pb.Name
	}

	shared := pb.Sources
	if shared == nil {
		shared = sortedKeys(e.declared)
	}
	for _, sid := range shared {
		src, err := e.sharedSource(ctx, sid)
		if err != nil {
			return nil, fmt.Errorf("pipeline '%s': %w", id, err)
		}
		def.Sources = append(def.Sources, src)
	}
	for _, sb := range pb.SourceBlocks {
		backend, err := e.buildSource(ctx, m, sb)
		if err != nil {
			return nil, fmt.Errorf("pipeline '%s': %w", id, err)
		}
		def.Sources = append(def.Sources, pipeline.Source{ID: sb.ID, Backend: backend})
	}

	for _, rb := range pb.Routes {
		route, err := e.route(rb)
		if err != nil {
			return nil, fmt.Errorf("pipeline '%s': route '%s': %w", id, rb.ID, err)
		}
		def.Routes = append(def.Routes, route)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	rng := declarationRange(block)
	loaded := &LoadedPipeline{Definition: def, File: m.Location.String(), Range: rng}
	if rng.Start.Byte >= 0 && rng.End.Byte <= len(m.Source) && rng.Start.Byte <= rng.End.Byte {
		loaded.Source = m.Source[rng.Start.Byte:rng.End.Byte]
	}
	ctxlog.FromContext(ctx).Debug("Evaluated pipeline.", "pipeline", id, "routes", len(def.Routes), "sources", len(def.Sources))
	return loaded, nil
}

// declarationRange covers a block from its type keyword to its closing
// brace. JSON bodies do not expose their extent, so only the header is
// covered for them.
func declarationRange(block *hcl.Block) hcl.Range {
	if body, ok := block.Body.(*hclsyntax.Body); ok {
		return hcl.RangeBetween(block.TypeRange, body.SrcRange)
	}
	return block.DefRange
}

func (e *evaluator) sharedSource(ctx context.Context, id string) (pipeline.Source, error) {
	if src, ok := e.built[id]; ok {
		return src, nil
	}
	decl, ok := e.declared[id]
	if !ok {
		return pipeline.Source{}, fmt.Errorf("unknown source '%s'", id)
	}
	backend, err := e.buildSource(ctx, decl.module, decl.block)
	if err != nil {
		return pipeline.Source{}, err
	}
	src := pipeline.Source{ID: id, Backend: backend}
	e.built[id] = src
	return src, nil
}

func (e *evaluator) buildSource(ctx context.Context, m *Module, sb *sourceBlock) (pipeline.Backend, error) {
	h, ok := e.reg.Source(sb.Type)
	if !ok {
		return nil, fmt.Errorf("source '%s': unknown source type '%s'", sb.ID, sb.Type)
	}
	opts, diags := decodeOptions(h.NewOptions, sb.Body, e.evalCtx)
	if diags.HasErrors() {
		return nil, fmt.Errorf("source '%s': %w", sb.ID, diags)
	}
	var sc registry.SourceContext
	if m.Location.Kind == LocalLocation {
		sc.BaseDir = filepath.Join(e.root, filepath.FromSlash(path.Dir(m.Location.Path)))
	}
	backend, err := h.Build(ctx, sc, opts)
	if err != nil {
		return nil, fmt.Errorf("source '%s': %w", sb.ID, err)
	}
	return backend, nil
}

func (e *evaluator) route(rb *routeBlock) (pipeline.Route, error) {
	route := pipeline.Route{
		ID:      rb.ID,
		Sources: rb.Sources,
		Cache:   true,
		Emits:   rb.Emits,
	}
	if rb.Cache != nil {
		route.Cache = *rb.Cache
	}
	for _, s := range rb.DependsOn {
		dep, err := pipeline.ParseDependency(s)
		if err != nil {
			return route, err
		}
		route.DependsOn = append(route.DependsOn, dep)
	}

	filter, err := e.compileFilter(rb.Filter)
	if err != nil {
		return route, err
	}
	route.Filter = filter

	if rb.Parser == nil {
		return route, fmt.Errorf("a parser block is required")
	}
	ph, ok := e.reg.Parser(rb.Parser.Type)
	if !ok {
		return route, fmt.Errorf("unknown parser '%s'", rb.Parser.Type)
	}
	opts, diags := decodeOptions(ph.NewOptions, rb.Parser.Body, e.evalCtx)
	if diags.HasErrors() {
		return route, fmt.Errorf("parser '%s': %w", rb.Parser.Type, diags)
	}
	if route.Parser, err = ph.Build(opts); err != nil {
		return route, fmt.Errorf("parser '%s': %w", rb.Parser.Type, err)
	}

	for _, tb := range rb.Transforms {
		th, ok := e.reg.Transform(tb.Type)
		if !ok {
			return route, fmt.Errorf("unknown transform '%s'", tb.Type)
		}
		opts, diags := decodeOptions(th.NewOptions, tb.Body, e.evalCtx)
		if diags.HasErrors() {
			return route, fmt.Errorf("transform '%s': %w", tb.Type, diags)
		}
		t, err := th.Build(opts)
		if err != nil {
			return route, fmt.Errorf("transform '%s': %w", tb.Type, err)
		}
		route.Transforms = append(route.Transforms, t)
	}

	if rb.Resolver != nil {
		rh, ok := e.reg.Resolver(rb.Resolver.Type)
		if !ok {
			return route, fmt.Errorf("unknown resolver '%s'", rb.Resolver.Type)
		}
		opts, diags := decodeOptions(rh.NewOptions, rb.Resolver.Body, e.evalCtx)
		if diags.HasErrors() {
			return route, fmt.Errorf("resolver '%s': %w", rb.Resolver.Type, diags)
		}
		if route.Resolver, err = rh.Build(opts); err != nil {
			return route, fmt.Errorf("resolver '%s': %w", rb.Resolver.Type, err)
		}
	}
	return route, nil
}

// compileFilter keeps the filter expression un-evaluated and returns a
// predicate evaluating it against each candidate file. A missing filter
// matches every file.
func (e *evaluator) compileFilter(expr hcl.Expression) (pipeline.Filter, error) {
	if expr == nil {
		return nil, nil
	}
	// Omitted optional expressions decode to a static null.
	if v, diags := expr.Value(nil); !diags.HasErrors() && v.IsNull() {
		return nil, nil
	}
	base := e.evalCtx
	return func(file pipeline.FileContext) (bool, error) {
		ectx := base.NewChild()
		ectx.Variables = map[string]cty.Value{"file": fileValue(file)}
		v, diags := expr.Value(ectx)
		if diags.HasErrors() {
			return false, diags
		}
		if v.IsNull() || !v.IsKnown() {
			return false, fmt.Errorf("filter at %s returned no value", expr.Range())
		}
		b, err := convert.Convert(v, cty.Bool)
		if err != nil {
			return false, fmt.Errorf("filter at %s must return a bool: %w", expr.Range(), err)
		}
		return b.True(), nil
	}, nil
}

func fileValue(f pipeline.FileContext) cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		"version": cty.StringVal(f.Version),
		"dir":     cty.StringVal(f.Dir),
		"path":    cty.StringVal(f.Path),
		"name":    cty.StringVal(f.Name),
		"ext":     cty.StringVal(f.Ext),
	})
}

// decodeOptions decodes a handler block body into a fresh options value.
// Handlers without options accept only an empty body.
func decodeOptions(newOptions func() any, body hcl.Body, ectx *hcl.EvalContext) (any, hcl.Diagnostics) {
	var opts any = &struct{}{}
	if newOptions != nil {
		opts = newOptions()
	}
	diags := gohcl.DecodeBody(body, ectx, opts)
	return opts, diags
}
