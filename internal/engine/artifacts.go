package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/vk/pipegrid/internal/cache"
	"github.com/vk/pipegrid/internal/events"
	"github.com/vk/pipegrid/internal/pipeline"
)

type artifact struct {
	value   any
	hash    string
	routeID string
}

// artifactTable holds the artifacts published during one version. Entries
// are written once and never replaced.
type artifactTable struct {
	mu      sync.RWMutex
	entries map[string]artifact
}

func newArtifactTable() *artifactTable {
	return &artifactTable{entries: make(map[string]artifact)}
}

func (t *artifactTable) publish(id string, a artifact) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.entries[id]; ok {
		return fmt.Errorf("%w: '%s' was published by route '%s'", ErrArtifactExists, id, prev.routeID)
	}
	t.entries[id] = a
	return nil
}

func (t *artifactTable) get(id string) (artifact, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.entries[id]
	return a, ok
}

// resolveContext is the pipeline.ResolveContext handed to a resolver.
type resolveContext struct {
	ctx     context.Context
	version string
	route   *pipeline.Route
	fields  events.Fields
	table   *artifactTable

	mu      sync.Mutex
	emitted map[string]any
	hashes  map[string]string
}

var _ pipeline.ResolveContext = (*resolveContext)(nil)

func newResolveContext(ctx context.Context, u *unit, table *artifactTable) *resolveContext {
	return &resolveContext{
		ctx:     ctx,
		version: u.version,
		route:   &u.route,
		fields:  u.fields,
		table:   table,
		emitted: make(map[string]any),
		hashes:  make(map[string]string),
	}
}

func (rc *resolveContext) Version() string { return rc.version }
func (rc *resolveContext) RouteID() string { return rc.route.ID }

// Artifact only exposes artifacts the route declared a dependency on, so
// every value a resolver can read is part of its cache key.
func (rc *resolveContext) Artifact(id string) (any, bool) {
	declared := slices.ContainsFunc(rc.route.DependsOn, func(d pipeline.Dependency) bool {
		return d.Kind == pipeline.ArtifactDependency && d.ID == id
	})
	if !declared {
		return nil, false
	}
	a, ok := rc.table.get(id)
	return a.value, ok
}

func (rc *resolveContext) Emit(id string, value any) error {
	if !slices.Contains(rc.route.Emits, id) {
		return fmt.Errorf("%w: route '%s' emitted '%s'", ErrUndeclaredArtifact, rc.route.ID, id)
	}
	hash, err := cache.HashValue(value)
	if err != nil {
		return fmt.Errorf("artifact '%s': %w", id, err)
	}
	if err := publishArtifact(rc.ctx, rc.table, rc.fields, id, artifact{value: value, hash: hash, routeID: rc.route.ID}); err != nil {
		return err
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.emitted[id] = value
	rc.hashes[id] = hash
	return nil
}

// produced returns the artifacts emitted so far and their hashes.
func (rc *resolveContext) produced() (map[string]any, map[string]string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return maps.Clone(rc.emitted), maps.Clone(rc.hashes)
}

// publishArtifact wraps the publication of one artifact in an artifact span.
func publishArtifact(ctx context.Context, table *artifactTable, fields events.Fields, id string, a artifact) error {
	fields.ArtifactID = id
	_, span := events.Start(ctx, events.PhaseArtifact, fields)
	err := table.publish(id, a)
	span.End("", err)
	return err
}
