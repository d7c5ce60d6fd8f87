// Package resolve provides the identity, artifact and join resolvers.
package resolve

import (
	"context"
	"fmt"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// ArtifactOptions defines the arguments of a `resolver "artifact"` block.
// With Key set the artifact is an object keyed by that field; otherwise it
// is the list of rows.
type ArtifactOptions struct {
	ID    string `hcl:"id"`
	Key   string `hcl:"key,optional"`
	Value string `hcl:"value,optional"`
}

// JoinOptions defines the arguments of a `resolver "join"` block.
type JoinOptions struct {
	Artifact string `hcl:"artifact"`
	On       string `hcl:"on"`
	As       string `hcl:"as"`
	// Required fails the route when a row has no match.
	Required bool `hcl:"required,optional"`
}

// Artifact builds a resolver that passes rows through as entries and
// publishes them as an artifact.
func Artifact(opts *ArtifactOptions) (pipeline.Resolver, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("artifact id is required")
	}
	if opts.Value != "" && opts.Key == "" {
		return nil, fmt.Errorf("'value' requires 'key'")
	}
	return func(ctx context.Context, rc pipeline.ResolveContext, rows pipeline.Rows) ([]pipeline.Entry, error) {
		entries := []pipeline.Entry{}
		keyed := make(map[string]any)
		list := []any{}
		for row, err := range rows {
			if err != nil {
				return nil, err
			}
			entries = append(entries, pipeline.Entry(row))
			if opts.Key == "" {
				list = append(list, map[string]any(row))
				continue
			}
			k, ok := row[opts.Key]
			if !ok {
				return nil, fmt.Errorf("row has no key field '%s'", opts.Key)
			}
			var v any = map[string]any(row)
			if opts.Value != "" {
				v = row[opts.Value]
			}
			keyed[fmt.Sprint(k)] = v
		}

		var value any = list
		if opts.Key != "" {
			value = keyed
		}
		if err := rc.Emit(opts.ID, value); err != nil {
			return nil, err
		}
		ctxlog.FromContext(ctx).Debug("Artifact published.", "artifact", opts.ID, "rows", len(entries))
		return entries, nil
	}, nil
}

// Join builds a resolver that enriches each row with the value an object
// artifact holds for the row's On field.
func Join(opts *JoinOptions) (pipeline.Resolver, error) {
	if opts.Artifact == "" || opts.On == "" || opts.As == "" {
		return nil, fmt.Errorf("'artifact', 'on' and 'as' are required")
	}
	return func(_ context.Context, rc pipeline.ResolveContext, rows pipeline.Rows) ([]pipeline.Entry, error) {
		raw, ok := rc.Artifact(opts.Artifact)
		if !ok {
			return nil, fmt.Errorf("artifact '%s' is not available; declare it in depends_on", opts.Artifact)
		}
		lookup, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("artifact '%s' is %T, not an object", opts.Artifact, raw)
		}

		entries := []pipeline.Entry{}
		for row, err := range rows {
			if err != nil {
				return nil, err
			}
			entry := make(pipeline.Entry, len(row)+1)
			for k, v := range row {
				entry[k] = v
			}
			match, found := lookup[fmt.Sprint(row[opts.On])]
			if !found && opts.Required {
				return nil, fmt.Errorf("no '%s' entry for %s=%v", opts.Artifact, opts.On, row[opts.On])
			}
			if found {
				entry[opts.As] = match
			}
			entries = append(entries, entry)
		}
		return entries, nil
	}, nil
}

// Register registers the resolvers with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterResolver("identity", &registry.RegisteredResolver{
		Build: func(any) (pipeline.Resolver, error) {
			return pipeline.IdentityResolver, nil
		},
	})
	r.RegisterResolver("artifact", &registry.RegisteredResolver{
		NewOptions: func() any { return new(ArtifactOptions) },
		Build: func(options any) (pipeline.Resolver, error) {
			return Artifact(options.(*ArtifactOptions))
		},
	})
	r.RegisterResolver("join", &registry.RegisteredResolver{
		NewOptions: func() any { return new(JoinOptions) },
		Build: func(options any) (pipeline.Resolver, error) {
			return Join(options.(*JoinOptions))
		},
	})
}
