package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/events"
	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/pipeline"
	"golang.org/x/sync/errgroup"
)

// Engine executes pipeline definitions. An Engine is safe for concurrent
// use; every Run gets its own execution id, artifact tables and events.
type Engine struct {
	cfg   Config
	slots chan struct{}
}

// New creates an engine.
func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{cfg: cfg, slots: make(chan struct{}, cfg.Concurrency)}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// RunOption customises a single run.
type RunOption func(*runOptions)

type runOptions struct {
	executionID string
	sink        events.Sink
}

// WithExecutionID fixes the execution id instead of generating one.
func WithExecutionID(id string) RunOption {
	return func(o *runOptions) { o.executionID = id }
}

// WithSink adds a sink receiving only this run's events.
func WithSink(s events.Sink) RunOption {
	return func(o *runOptions) { o.sink = s }
}

// Run executes the requested versions of def, or every version when none
// are given. Configuration errors such as dependency cycles are returned
// before any unit starts, with a nil report. Otherwise the report is
// always returned; the error is non-nil only when ctx was cancelled.
// Failed units are reported through Report.Err.
func (e *Engine) Run(ctx context.Context, def *pipeline.Definition, versions []string, opts ...RunOption) (*Report, error) {
	plan, err := graph.Build(def, versions)
	if err != nil {
		return nil, err
	}

	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	sink := e.cfg.Sink
	if o.sink != nil {
		sink = events.Multi{e.cfg.Sink, o.sink}
	}

	rec := events.NewRecorder(o.executionID, sink)
	ctx = events.WithRecorder(ctx, rec)
	ctx = ctxlog.With(ctx, "pipeline", def.ID)
	logger := ctxlog.FromContext(ctx)

	ctx, span := events.Start(ctx, events.PhasePipeline, events.Fields{PipelineID: def.ID})
	logger.Info("🚀 Starting pipeline run.", "versions", len(plan.Graphs), "concurrency", e.cfg.Concurrency)

	runs := make([]*versionRun, len(plan.Graphs))
	for i, g := range plan.Graphs {
		runs[i] = newVersionRun(def, g)
	}

	// Version runs never fail the group; unit failures are part of the
	// report.
	var group errgroup.Group
	group.SetLimit(e.cfg.VersionBatchSize)
	for _, vr := range runs {
		group.Go(func() error {
			e.runVersion(ctx, vr)
			return nil
		})
	}
	_ = group.Wait()

	report := &Report{ExecutionID: rec.ExecutionID(), PipelineID: def.ID}
	for _, vr := range runs {
		for _, u := range vr.units {
			report.Units = append(report.Units, u.result)
		}
	}

	counts := report.Counts()
	runErr := ctx.Err()
	var state string
	switch {
	case runErr != nil:
		state = Cancelled.String()
	case report.Succeeded():
		state = Completed.String()
	default:
		state = Failed.String()
	}
	span.End(state, errors.Join(runErr, report.Err()))
	logger.Info("🏁 Pipeline run finished.",
		"state", state,
		"completed", counts[Completed],
		"cached", counts[SkippedCached],
		"failed", counts[Failed],
		"cancelled", counts[Cancelled],
	)
	if runErr != nil {
		return report, fmt.Errorf("pipeline '%s' run cancelled: %w", def.ID, runErr)
	}
	return report, nil
}

// versionRun is the mutable state of one version of a run.
type versionRun struct {
	def       *pipeline.Definition
	graph     *graph.Graph
	units     []*unit
	byRoute   map[string]*unit
	artifacts *artifactTable
	wg        sync.WaitGroup
}

func newVersionRun(def *pipeline.Definition, g *graph.Graph) *versionRun {
	vr := &versionRun{
		def:       def,
		graph:     g,
		byRoute:   make(map[string]*unit),
		artifacts: newArtifactTable(),
	}
	for _, routeID := range g.Routes() {
		r, _ := def.Route(routeID)
		u := newUnit(def.ID, g.Version, r)
		vr.units = append(vr.units, u)
		vr.byRoute[routeID] = u
	}
	for _, u := range vr.units {
		for _, depID := range g.RouteDependencies(u.route.ID) {
			dep := vr.byRoute[depID]
			u.deps = append(u.deps, dep)
			dep.dependents = append(dep.dependents, u)
		}
		u.depCount.Store(int32(len(u.deps)))
	}
	return vr
}
