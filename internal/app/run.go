package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/graph"
	"github.com/vk/pipegrid/internal/loader"
	"github.com/vk/pipegrid/internal/pipeline"
)

// ErrUnitsFailed is returned by Run when at least one unit failed or was
// cancelled.
var ErrUnitsFailed = errors.New("one or more units did not succeed")

// Run loads the entry module and then, depending on the configuration,
// prints a declaration, prints the execution plan or executes every
// exported pipeline.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	a.healthCheckServer()
	defer a.closeHealthCheckServer()

	res, err := a.loader.Load(ctx, a.config.Pipeline)
	if err != nil {
		return fmt.Errorf("loading '%s' was interrupted: %w", a.config.Pipeline, err)
	}
	for _, fe := range res.Errors {
		a.logger.Error("Failed to load module.", "file", fe.File, "kind", string(fe.Kind), "error", fe.Err)
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("failed to load '%s': %w", a.config.Pipeline, err)
	}
	a.logger.Info("Pipeline definitions loaded.", "modules", len(res.Modules), "pipelines", len(res.Pipelines))

	switch {
	case a.config.Show != "":
		return a.show(res)
	case a.config.Plan:
		return a.plan(res)
	}

	if len(res.Pipelines) == 0 {
		a.logger.Warn("No pipelines found, execution not required.")
		return nil
	}

	a.logger.Info("🚀 Starting pipeline execution...")
	var failed []error
	ran := 0
	for _, p := range res.Pipelines {
		def := p.Definition
		versions, ok := a.versionsFor(def)
		if !ok {
			a.logger.Warn("Pipeline declares none of the requested versions, skipping.", "pipeline", def.ID, "requested", a.config.Versions)
			continue
		}
		ran++
		report, err := a.engine.Run(ctx, def, versions)
		if err != nil {
			return fmt.Errorf("pipeline '%s': %w", def.ID, err)
		}
		writeSummary(a.outW, def, report)
		if !report.Succeeded() {
			failed = append(failed, fmt.Errorf("pipeline '%s': %w", def.ID, report.Err()))
		}
	}
	if ran == 0 {
		return fmt.Errorf("no pipeline declares the requested versions %s", strings.Join(a.config.Versions, ", "))
	}
	a.logger.Info("🏁 Execution finished.")

	if len(failed) > 0 {
		return fmt.Errorf("%w: %w", ErrUnitsFailed, errors.Join(failed...))
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

// versionsFor narrows the requested versions to the ones def declares. A
// nil result with ok set selects every declared version.
func (a *App) versionsFor(def *pipeline.Definition) ([]string, bool) {
	if len(a.config.Versions) == 0 {
		return nil, true
	}
	var out []string
	for _, v := range a.config.Versions {
		if slices.Contains(def.Versions, v) {
			out = append(out, v)
		}
	}
	return out, len(out) > 0
}

func (a *App) show(res *loader.Result) error {
	p, ok := res.Pipeline(a.config.Show)
	if !ok {
		ids := make([]string, len(res.Pipelines))
		for i, lp := range res.Pipelines {
			ids[i] = lp.Definition.ID
		}
		return fmt.Errorf("pipeline '%s' not found, available: %s", a.config.Show, strings.Join(ids, ", "))
	}
	fmt.Fprintf(a.outW, "# %s:%d\n%s\n", p.File, p.Range.Start.Line, p.Source)
	return nil
}

func (a *App) plan(res *loader.Result) error {
	for _, p := range res.Pipelines {
		versions, ok := a.versionsFor(p.Definition)
		if !ok {
			continue
		}
		plan, err := graph.Build(p.Definition, versions)
		if err != nil {
			return fmt.Errorf("pipeline '%s': %w", p.Definition.ID, err)
		}
		fmt.Fprintf(a.outW, "pipeline %q\n", plan.PipelineID)
		for _, g := range plan.Graphs {
			levels, err := g.Levels()
			if err != nil {
				return fmt.Errorf("pipeline '%s' version '%s': %w", plan.PipelineID, g.Version, err)
			}
			fmt.Fprintf(a.outW, "  version %s\n", g.Version)
			for i, level := range levels {
				fmt.Fprintf(a.outW, "    %d: %s\n", i+1, strings.Join(level, ", "))
			}
		}
	}
	return nil
}
