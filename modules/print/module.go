// Package print provides the "print" resolver, which writes every entry to
// standard output and passes it through unchanged.
package print

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"sync"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/registry"
)

// Module implements the registry.Module interface for this package. A nil
// Out prints to os.Stdout.
type Module struct {
	Out io.Writer
}

// Options defines the arguments of a `resolver "print"` block.
type Options struct {
	// Fields limits the printed fields. Empty prints all of them.
	Fields []string `hcl:"fields,optional"`
}

// NewResolver builds a print resolver writing to out. Each call writes its
// whole block with a single Write; callers sharing out between goroutines
// must still serialize those writes.
func NewResolver(out io.Writer, opts *Options) pipeline.Resolver {
	return func(ctx context.Context, rc pipeline.ResolveContext, rows pipeline.Rows) ([]pipeline.Entry, error) {
		ctxlog.FromContext(ctx).Info("Printing entries", "version", rc.Version(), "route", rc.RouteID())

		entries, err := pipeline.IdentityResolver(ctx, rc, rows)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "  %s/%s\n", rc.Version(), rc.RouteID())
		if len(entries) == 0 {
			fmt.Fprintln(&buf, "      (empty)")
		}
		for i, e := range entries {
			keys := opts.Fields
			if len(keys) == 0 {
				keys = slices.Sorted(maps.Keys(e))
			}
			fmt.Fprintf(&buf, "    [%d]\n", i)
			for _, k := range keys {
				fmt.Fprintf(&buf, "      %s = %q\n", k, fmt.Sprint(e[k]))
			}
		}
		if _, err := out.Write(buf.Bytes()); err != nil {
			return nil, fmt.Errorf("print: %w", err)
		}
		return entries, nil
	}
}

// Register registers the resolver with the registry.
func (m *Module) Register(r *registry.Registry) {
	out := &lockedWriter{w: m.Out}
	if out.w == nil {
		out.w = os.Stdout
	}
	r.RegisterResolver("print", &registry.RegisteredResolver{
		NewOptions: func() any { return new(Options) },
		Build: func(options any) (pipeline.Resolver, error) {
			return NewResolver(out, options.(*Options)), nil
		},
	})
}

// lockedWriter serializes writes from units resolving concurrently.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
