// Package local provides the "local" source, which reads version
// directories below a root on the local disk.
package local

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/registry"
	"github.com/vk/pipegrid/internal/source"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Options defines the arguments of a `source "local"` block. A relative
// root is resolved against the directory of the declaring file.
type Options struct {
	Root string `hcl:"root"`
}

// Build creates the backend. Definitions loaded from remote locations
// cannot declare local sources.
func Build(ctx context.Context, sc registry.SourceContext, opts *Options) (pipeline.Backend, error) {
	if sc.BaseDir == "" {
		return nil, fmt.Errorf("local sources are only available to definitions loaded from disk")
	}
	root := opts.Root
	if !filepath.IsAbs(root) {
		root = filepath.Join(sc.BaseDir, filepath.FromSlash(root))
	}
	ctxlog.FromContext(ctx).Debug("Opening local source.", "root", root)
	return source.NewLocal(root)
}

// Register registers the source type with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterSource("local", &registry.RegisteredSource{
		NewOptions: func() any { return new(Options) },
		Build: func(ctx context.Context, sc registry.SourceContext, options any) (pipeline.Backend, error) {
			return Build(ctx, sc, options.(*Options))
		},
	})
}
