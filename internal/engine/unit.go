package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/pipegrid/internal/cache"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/events"
	"github.com/vk/pipegrid/internal/pipeline"
)

// unit is one (route, version) pair of a run.
type unit struct {
	version string
	route   pipeline.Route
	fields  events.Fields

	deps       []*unit
	dependents []*unit

	// depCount is the number of dependencies that have not succeeded yet.
	depCount atomic.Int32
	state    atomic.Int32
	// skipOnce guarantees a unit that never runs is settled exactly once.
	skipOnce sync.Once

	result *UnitResult
}

func newUnit(pipelineID, version string, r pipeline.Route) *unit {
	return &unit{
		version: version,
		route:   r,
		fields:  events.Fields{PipelineID: pipelineID, Version: version, RouteID: r.ID},
		result:  &UnitResult{Version: version, RouteID: r.ID, State: Pending},
	}
}

// transition moves the unit between states, refusing moves the state
// machine does not allow.
func (u *unit) transition(from, to State) bool {
	if !canTransition(from, to) {
		return false
	}
	return u.state.CompareAndSwap(int32(from), int32(to))
}

// input is one matched file with its content.
type input struct {
	source  string
	file    pipeline.FileContext
	content string
}

// runUnit executes one unit and returns its final state.
func (e *Engine) runUnit(ctx context.Context, vr *versionRun, u *unit) (State, error) {
	if !u.transition(Pending, Running) {
		return State(u.state.Load()), fmt.Errorf("unit %s/%s is not pending", u.version, u.route.ID)
	}
	res := u.result
	res.State = Running
	res.Started = time.Now()

	ctx = ctxlog.With(ctx, "route", u.route.ID)
	ctx, span := events.Start(ctx, events.PhaseRoute, u.fields)

	state, err := e.execute(ctx, vr, u)
	if err != nil {
		state = Failed
		if ctx.Err() != nil {
			state = Cancelled
		}
		events.Emit(ctx, events.Error, u.fields, err)
		ctxlog.FromContext(ctx).Error("Unit execution failed.", "state", state, "error", err)
	}

	u.transition(Running, state)
	res.State = state
	res.Err = err
	res.Finished = time.Now()
	span.End(state.String(), err)
	return state, err
}

// execute runs the steps of a unit and returns Completed or SkippedCached
// on success.
func (e *Engine) execute(ctx context.Context, vr *versionRun, u *unit) (State, error) {
	logger := ctxlog.FromContext(ctx)
	res := u.result

	inputs, err := e.collectInputs(ctx, vr.def, u)
	if err != nil {
		return Failed, err
	}
	hashes := make(map[string]string, len(inputs))
	for _, in := range inputs {
		hashes[in.source+":"+in.file.String()] = cache.HashContent(in.content)
	}

	key, err := e.cacheKey(vr, u, cache.InputHash(hashes))
	if err != nil {
		return Failed, err
	}
	res.Key = key
	logger.Debug("Computed cache key.", "files", len(inputs), "key", key.Digest())

	useCache := u.route.Cache && e.cfg.Cache != nil
	if useCache {
		if ok := e.replay(ctx, vr, u, key); ok {
			return SkippedCached, nil
		}
		if err := ctx.Err(); err != nil {
			return Cancelled, err
		}
	}

	output, produced, hashesByArtifact, err := e.resolve(ctx, vr, u, inputs)
	if err != nil {
		return Failed, err
	}
	outputHash, err := cache.HashValue(output)
	if err != nil {
		return Failed, fmt.Errorf("route '%s' output: %w", u.route.ID, err)
	}
	res.Output = output
	res.OutputHash = outputHash
	res.Artifacts = produced

	if useCache {
		e.store(ctx, u, &cache.Entry{
			Key:               key,
			Output:            output,
			OutputHash:        outputHash,
			ProducedArtifacts: produced,
			ArtifactHashes:    hashesByArtifact,
			CreatedAt:         time.Now().UTC(),
		})
	}
	return Completed, nil
}

// collectInputs lists every source of the route, filters the candidates and
// reads the matched files. Files are ordered by source, then by path.
func (e *Engine) collectInputs(ctx context.Context, def *pipeline.Definition, u *unit) ([]input, error) {
	var inputs []input
	for _, src := range def.SourcesFor(u.route) {
		files, err := withTimeout(ctx, e.cfg.OperationTimeout, "list "+src.ID+"/"+u.version, func(ctx context.Context) ([]pipeline.FileContext, error) {
			return src.Backend.ListFiles(ctx, u.version)
		})
		if err != nil {
			return nil, fmt.Errorf("source '%s': %w", src.ID, err)
		}
		sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })

		for _, f := range files {
			if u.route.Filter != nil {
				ok, err := u.route.Filter(f)
				if err != nil {
					return nil, fmt.Errorf("filter on %s: %w", f, err)
				}
				if !ok {
					continue
				}
			}
			content, err := withTimeout(ctx, e.cfg.OperationTimeout, "read "+src.ID+":"+f.String(), func(ctx context.Context) (string, error) {
				return src.Backend.ReadFile(ctx, f)
			})
			if err != nil {
				return nil, fmt.Errorf("source '%s': %w", src.ID, err)
			}
			inputs = append(inputs, input{source: src.ID, file: f, content: content})
		}
	}
	return inputs, nil
}

// cacheKey derives the unit's key from its input hash and the hashes of
// every artifact and route it depends on.
func (e *Engine) cacheKey(vr *versionRun, u *unit, inputHash string) (cache.Key, error) {
	key := cache.Key{
		RouteID:        u.route.ID,
		Version:        u.version,
		InputHash:      inputHash,
		ArtifactHashes: make(map[string]string),
	}
	for _, dep := range u.route.DependsOn {
		switch dep.Kind {
		case pipeline.ArtifactDependency:
			a, ok := vr.artifacts.get(dep.ID)
			if !ok {
				return key, fmt.Errorf("%w: route '%s' depends on '%s' which was not published", ErrMissingArtifact, u.route.ID, dep)
			}
			key.ArtifactHashes[dep.ID] = a.hash
		case pipeline.RouteDependency:
			up, ok := vr.byRoute[dep.ID]
			if !ok {
				return key, fmt.Errorf("route '%s' depends on unknown route '%s'", u.route.ID, dep.ID)
			}
			key.ArtifactHashes[dep.String()] = up.result.OutputHash
		}
	}
	return key, nil
}

// replay serves a unit from the cache. Lookup errors are reported and
// treated as a miss.
func (e *Engine) replay(ctx context.Context, vr *versionRun, u *unit, key cache.Key) bool {
	logger := ctxlog.FromContext(ctx)
	entry, ok, err := withTimeout2(ctx, e.cfg.OperationTimeout, "cache get", func(ctx context.Context) (*cache.Entry, bool, error) {
		return e.cfg.Cache.Get(ctx, key)
	})
	if err != nil {
		logger.Warn("Cache lookup failed, treating as miss.", "error", err)
		e.emitCacheError(ctx, u, events.CacheOpRead, err)
		events.Emit(ctx, events.CacheMiss, u.fields, nil)
		return false
	}
	if ok {
		for _, id := range u.route.Emits {
			if _, found := entry.ProducedArtifacts[id]; !found {
				logger.Warn("Cached entry lacks a declared artifact, treating as miss.", "artifact", id)
				ok = false
				break
			}
		}
	}
	if !ok {
		events.Emit(ctx, events.CacheMiss, u.fields, nil)
		return false
	}

	// Hashes are settled before anything is published so a miss never
	// leaves half of the artifacts behind.
	hashes := make(map[string]string, len(u.route.Emits))
	for _, id := range u.route.Emits {
		hash, found := entry.ArtifactHashes[id]
		if !found {
			if hash, err = cache.HashValue(entry.ProducedArtifacts[id]); err != nil {
				logger.Warn("Cached artifact is not hashable, treating as miss.", "artifact", id, "error", err)
				events.Emit(ctx, events.CacheMiss, u.fields, nil)
				return false
			}
		}
		hashes[id] = hash
	}
	for _, id := range slices.Sorted(maps.Keys(hashes)) {
		a := artifact{value: entry.ProducedArtifacts[id], hash: hashes[id], routeID: u.route.ID}
		if err := publishArtifact(ctx, vr.artifacts, u.fields, id, a); err != nil {
			logger.Error("Failed to republish cached artifact.", "artifact", id, "error", err)
		}
	}

	res := u.result
	res.Output = entry.Output
	res.OutputHash = entry.OutputHash
	res.Artifacts = entry.ProducedArtifacts
	events.Emit(ctx, events.CacheHit, u.fields, nil)
	logger.Info("Serving unit from cache.", "created_at", entry.CreatedAt)
	return true
}

func (e *Engine) store(ctx context.Context, u *unit, entry *cache.Entry) {
	_, err := withTimeout(ctx, e.cfg.OperationTimeout, "cache set", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.cfg.Cache.Set(ctx, entry)
	})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to store cache entry.", "error", err)
		e.emitCacheError(ctx, u, events.CacheOpWrite, err)
		return
	}
	events.Emit(ctx, events.CacheStore, u.fields, nil)
}

func (e *Engine) emitCacheError(ctx context.Context, u *unit, op string, err error) {
	events.EmitState(ctx, events.CacheError, u.fields, op, err)
}

// resolve runs the parser, transform chain and resolver of a unit inside
// a resolve span. Rows are produced lazily as the resolver consumes them;
// every file gets its own parse span.
func (e *Engine) resolve(ctx context.Context, vr *versionRun, u *unit, inputs []input) ([]pipeline.Entry, map[string]any, map[string]string, error) {
	if u.route.Parser == nil {
		return nil, nil, nil, fmt.Errorf("route '%s' has no parser", u.route.ID)
	}
	resolver := u.route.Resolver
	if resolver == nil {
		resolver = pipeline.IdentityResolver
	}

	ctx, span := events.Start(ctx, events.PhaseResolve, u.fields)
	rc := newResolveContext(ctx, u, vr.artifacts)

	var rowErr error
	rows := func(yield func(pipeline.Row, error) bool) {
		for _, in := range inputs {
			fields := u.fields
			fields.File = in.file.String()
			pctx, pspan := events.Start(ctx, events.PhaseParse, fields)
			cont, err := parseFile(pctx, u.route, in, yield)
			pspan.End("", err)
			if err != nil && rowErr == nil {
				rowErr = err
			}
			if !cont {
				return
			}
		}
	}

	output, err := resolver(ctx, rc, rows)
	if err == nil && rowErr != nil {
		err = rowErr
	}
	produced, hashes := rc.produced()
	if err == nil {
		for _, id := range u.route.Emits {
			if _, ok := produced[id]; !ok {
				err = fmt.Errorf("%w: route '%s' declared '%s'", ErrMissingArtifact, u.route.ID, id)
				break
			}
		}
	}
	span.End("", err)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("route '%s': %w", u.route.ID, err)
	}
	if output == nil {
		output = []pipeline.Entry{}
	}
	return output, produced, hashes, nil
}

// parseFile feeds the rows of one file through the transform chain into
// yield. It returns false when iteration must stop.
func parseFile(ctx context.Context, r pipeline.Route, in input, yield func(pipeline.Row, error) bool) (bool, error) {
	for row, err := range r.Parser(ctx, in.file, in.content) {
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			err = fmt.Errorf("parse %s: %w", in.file, err)
			yield(nil, err)
			return false, err
		}
		out, err := applyTransforms(ctx, r.Transforms, row)
		if err != nil {
			err = fmt.Errorf("transform %s: %w", in.file, err)
			yield(nil, err)
			return false, err
		}
		for _, o := range out {
			if !yield(o, nil) {
				return false, nil
			}
		}
	}
	return true, nil
}

func applyTransforms(ctx context.Context, transforms []pipeline.Transform, row pipeline.Row) ([]pipeline.Row, error) {
	rows := []pipeline.Row{row}
	for _, t := range transforms {
		var next []pipeline.Row
		for _, r := range rows {
			out, err := t(ctx, r)
			if err != nil {
				return nil, err
			}
			next = append(next, out...)
		}
		rows = next
		if len(rows) == 0 {
			break
		}
	}
	return rows, nil
}

// withTimeout runs op with its own deadline. Exceeding the deadline fails
// only this operation; the parent context is left untouched.
func withTimeout[T any](ctx context.Context, d time.Duration, name string, op func(context.Context) (T, error)) (T, error) {
	opCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	v, err := op(opCtx)
	if err != nil && ctx.Err() == nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		err = &TimeoutError{Op: name, Timeout: d, Err: err}
	}
	return v, err
}

func withTimeout2[A, B any](ctx context.Context, d time.Duration, name string, op func(context.Context) (A, B, error)) (A, B, error) {
	type pair struct {
		a A
		b B
	}
	p, err := withTimeout(ctx, d, name, func(ctx context.Context) (pair, error) {
		a, b, err := op(ctx)
		return pair{a, b}, err
	})
	return p.a, p.b, err
}
