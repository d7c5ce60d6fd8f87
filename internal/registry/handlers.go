package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vk/pipegrid/internal/pipeline"
)

// RegisteredParser builds a parser from its decoded options.
type RegisteredParser struct {
	// NewOptions returns a pointer to the options struct decoded from the
	// block body. Nil means the block takes no options.
	NewOptions func() any
	Build      func(options any) (pipeline.Parser, error)
}

// RegisteredTransform builds a transform from its decoded options.
type RegisteredTransform struct {
	NewOptions func() any
	Build      func(options any) (pipeline.Transform, error)
}

// RegisteredResolver builds a resolver from its decoded options.
type RegisteredResolver struct {
	NewOptions func() any
	Build      func(options any) (pipeline.Resolver, error)
}

// SourceContext describes where a source block was declared.
type SourceContext struct {
	// BaseDir is the local directory relative source paths resolve
	// against. It is empty for definitions loaded from remote locations.
	BaseDir string
}

// RegisteredSource builds a source backend from its decoded options.
type RegisteredSource struct {
	NewOptions func() any
	Build      func(ctx context.Context, sc SourceContext, options any) (pipeline.Backend, error)
}

// RegisterParser registers a parser factory.
func (r *Registry) RegisterParser(name string, handler *RegisteredParser) {
	if _, exists := r.parsers[name]; exists {
		panic(fmt.Sprintf("parser with name '%s' already registered", name))
	}
	slog.Debug("Registering parser.", "name", name)
	r.parsers[name] = handler
}

// RegisterTransform registers a transform factory.
func (r *Registry) RegisterTransform(name string, handler *RegisteredTransform) {
	if _, exists := r.transforms[name]; exists {
		panic(fmt.Sprintf("transform with name '%s' already registered", name))
	}
	slog.Debug("Registering transform.", "name", name)
	r.transforms[name] = handler
}

// RegisterResolver registers a resolver factory.
func (r *Registry) RegisterResolver(name string, handler *RegisteredResolver) {
	if _, exists := r.resolvers[name]; exists {
		panic(fmt.Sprintf("resolver with name '%s' already registered", name))
	}
	slog.Debug("Registering resolver.", "name", name)
	r.resolvers[name] = handler
}

// RegisterSource registers a source backend factory.
func (r *Registry) RegisterSource(name string, handler *RegisteredSource) {
	if _, exists := r.sources[name]; exists {
		panic(fmt.Sprintf("source type with name '%s' already registered", name))
	}
	slog.Debug("Registering source type.", "name", name)
	r.sources[name] = handler
}
