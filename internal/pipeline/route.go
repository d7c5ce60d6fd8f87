package pipeline

import (
	"context"
	"iter"
)

// Row is one record flowing from a parser through the transform chain.
type Row map[string]any

// Entry is one final output record produced by a resolver.
type Entry map[string]any

// Rows is a lazy, finite, single-pass sequence of rows. A non-nil error
// terminates the sequence.
type Rows = iter.Seq2[Row, error]

// Filter selects the candidate files a route consumes.
type Filter func(file FileContext) (bool, error)

// Parser turns the content of one matched file into rows.
type Parser func(ctx context.Context, file FileContext, content string) Rows

// Transform maps one row to zero or more rows. Transforms must not keep
// state between calls.
type Transform func(ctx context.Context, row Row) ([]Row, error)

// Resolver consumes the transformed rows of a route and produces its final
// entries. It may publish artifacts through rc.
type Resolver func(ctx context.Context, rc ResolveContext, rows Rows) ([]Entry, error)

// ResolveContext gives a resolver access to the artifact table of the
// version being executed.
type ResolveContext interface {
	Version() string
	RouteID() string
	// Artifact returns a value published earlier in this run.
	Artifact(id string) (any, bool)
	// Emit publishes a named artifact. An artifact can be emitted once per
	// version; the id must be listed in the route's Emits.
	Emit(id string, value any) error
}

// Route is a unit of work that selects input files, parses them, applies
// transforms and resolves final entries and artifacts for one version.
type Route struct {
	ID string
	// Sources restricts the route to the named sources. Empty means all
	// sources of the pipeline.
	Sources    []string
	Filter     Filter
	Parser     Parser
	Transforms []Transform
	Resolver   Resolver
	Cache      bool
	DependsOn  []Dependency
	Emits      []string
}

// Source binds a backend to an id.
type Source struct {
	ID      string
	Backend Backend
}

// Definition is a complete, immutable pipeline.
type Definition struct {
	ID       string
	Name     string
	Versions []string
	Sources  []Source
	Routes   []Route
}

// Route returns the route with the given id.
func (d *Definition) Route(id string) (Route, bool) {
	for _, r := range d.Routes {
		if r.ID == id {
			return r, true
		}
	}
	return Route{}, false
}

// Source returns the source with the given id.
func (d *Definition) Source(id string) (Source, bool) {
	for _, s := range d.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}

// SourcesFor returns the sources a route reads from, in declaration order.
func (d *Definition) SourcesFor(r Route) []Source {
	if len(r.Sources) == 0 {
		return d.Sources
	}
	out := make([]Source, 0, len(r.Sources))
	for _, id := range r.Sources {
		if s, ok := d.Source(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// Collect drains a row sequence into a slice.
func Collect(rows Rows) ([]Row, error) {
	var out []Row
	for row, err := range rows {
		if err != nil {
			return out, err
		}
		out = append(out, row)
	}
	return out, nil
}

// RowsOf returns a sequence over the given rows.
func RowsOf(rows ...Row) Rows {
	return func(yield func(Row, error) bool) {
		for _, r := range rows {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// IdentityResolver converts every row into an entry unchanged.
func IdentityResolver(_ context.Context, _ ResolveContext, rows Rows) ([]Entry, error) {
	entries := []Entry{}
	for row, err := range rows {
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry(row))
	}
	return entries, nil
}
