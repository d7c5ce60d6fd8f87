package registry

import (
	"maps"
	"slices"
)

// Module is the interface that all built-in modules implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the registered handler factories of one application
// instance.
type Registry struct {
	parsers    map[string]*RegisteredParser
	transforms map[string]*RegisteredTransform
	resolvers  map[string]*RegisteredResolver
	sources    map[string]*RegisteredSource
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		parsers:    make(map[string]*RegisteredParser),
		transforms: make(map[string]*RegisteredTransform),
		resolvers:  make(map[string]*RegisteredResolver),
		sources:    make(map[string]*RegisteredSource),
	}
}

// Register registers every module in order.
func (r *Registry) Register(modules ...Module) *Registry {
	for _, m := range modules {
		m.Register(r)
	}
	return r
}

// Parser returns the parser factory registered under name.
func (r *Registry) Parser(name string) (*RegisteredParser, bool) {
	p, ok := r.parsers[name]
	return p, ok
}

// Transform returns the transform factory registered under name.
func (r *Registry) Transform(name string) (*RegisteredTransform, bool) {
	t, ok := r.transforms[name]
	return t, ok
}

// Resolver returns the resolver factory registered under name.
func (r *Registry) Resolver(name string) (*RegisteredResolver, bool) {
	res, ok := r.resolvers[name]
	return res, ok
}

// Source returns the source factory registered under type name.
func (r *Registry) Source(name string) (*RegisteredSource, bool) {
	s, ok := r.sources[name]
	return s, ok
}

// Names lists the registered names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	return map[string][]string{
		"parser":    slices.Sorted(maps.Keys(r.parsers)),
		"transform": slices.Sorted(maps.Keys(r.transforms)),
		"resolver":  slices.Sorted(maps.Keys(r.resolvers)),
		"source":    slices.Sorted(maps.Keys(r.sources)),
	}
}
