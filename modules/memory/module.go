// Package memory provides the "memory" source, a fixed set of files
// declared inline in the definition.
package memory

import (
	"context"

	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/registry"
	"github.com/vk/pipegrid/internal/source"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Options maps "<version>/<path>" to file content.
type Options struct {
	Files map[string]string `hcl:"files,optional"`
}

// Register registers the source type with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterSource("memory", &registry.RegisteredSource{
		NewOptions: func() any { return new(Options) },
		Build: func(_ context.Context, _ registry.SourceContext, options any) (pipeline.Backend, error) {
			return source.NewMemory(options.(*Options).Files), nil
		},
	})
}
