// Package rows provides stateless row transforms: trim, rename, split and
// filter.
package rows

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// TrimOptions defines the arguments of a `transform "trim"` block. Without
// fields every string value is trimmed.
type TrimOptions struct {
	Fields []string `hcl:"fields,optional"`
}

// RenameOptions maps old field names to new ones.
type RenameOptions struct {
	Fields map[string]string `hcl:"fields"`
}

// SplitOptions explodes a row into one row per separated part of Field.
type SplitOptions struct {
	Field     string `hcl:"field"`
	Separator string `hcl:"separator,optional"`
	// Into names the field receiving each part. It defaults to Field.
	Into      string `hcl:"into,optional"`
	KeepEmpty bool   `hcl:"keep_empty,optional"`
}

// FilterOptions keeps rows whose Field equals Equals or matches Match.
type FilterOptions struct {
	Field  string  `hcl:"field"`
	Equals *string `hcl:"equals,optional"`
	Match  string  `hcl:"match,optional"`
	Negate bool    `hcl:"negate,optional"`
}

// Trim builds the trim transform.
func Trim(opts *TrimOptions) pipeline.Transform {
	return func(_ context.Context, row pipeline.Row) ([]pipeline.Row, error) {
		out := maps.Clone(row)
		fields := opts.Fields
		if len(fields) == 0 {
			fields = slices.Collect(maps.Keys(row))
		}
		for _, f := range fields {
			if s, ok := out[f].(string); ok {
				out[f] = strings.TrimSpace(s)
			}
		}
		return []pipeline.Row{out}, nil
	}
}

// Rename builds the rename transform.
func Rename(opts *RenameOptions) (pipeline.Transform, error) {
	targets := make(map[string]string)
	for from, to := range opts.Fields {
		if to == "" {
			return nil, fmt.Errorf("field '%s' renamed to an empty name", from)
		}
		if prev, dup := targets[to]; dup {
			return nil, fmt.Errorf("fields '%s' and '%s' both renamed to '%s'", prev, from, to)
		}
		targets[to] = from
	}
	return func(_ context.Context, row pipeline.Row) ([]pipeline.Row, error) {
		out := make(pipeline.Row, len(row))
		for k, v := range row {
			if to, ok := opts.Fields[k]; ok {
				k = to
			}
			out[k] = v
		}
		return []pipeline.Row{out}, nil
	}, nil
}

// Split builds the split transform.
func Split(opts *SplitOptions) (pipeline.Transform, error) {
	if opts.Field == "" {
		return nil, fmt.Errorf("field is required")
	}
	sep := opts.Separator
	if sep == "" {
		sep = ","
	}
	into := opts.Into
	if into == "" {
		into = opts.Field
	}
	return func(_ context.Context, row pipeline.Row) ([]pipeline.Row, error) {
		v, ok := row[opts.Field]
		if !ok {
			return []pipeline.Row{row}, nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field '%s' is %T, not a string", opts.Field, v)
		}
		var out []pipeline.Row
		for _, part := range strings.Split(s, sep) {
			part = strings.TrimSpace(part)
			if part == "" && !opts.KeepEmpty {
				continue
			}
			r := maps.Clone(row)
			r[into] = part
			out = append(out, r)
		}
		return out, nil
	}, nil
}

// Filter builds the filter transform.
func Filter(opts *FilterOptions) (pipeline.Transform, error) {
	if opts.Field == "" {
		return nil, fmt.Errorf("field is required")
	}
	if (opts.Equals == nil) == (opts.Match == "") {
		return nil, fmt.Errorf("exactly one of 'equals' or 'match' is required")
	}
	var re *regexp.Regexp
	if opts.Match != "" {
		var err error
		if re, err = regexp.Compile(opts.Match); err != nil {
			return nil, fmt.Errorf("invalid match pattern: %w", err)
		}
	}
	return func(_ context.Context, row pipeline.Row) ([]pipeline.Row, error) {
		s := fmt.Sprint(row[opts.Field])
		if _, ok := row[opts.Field]; !ok {
			s = ""
		}
		var keep bool
		if re != nil {
			keep = re.MatchString(s)
		} else {
			keep = s == *opts.Equals
		}
		if keep == opts.Negate {
			return nil, nil
		}
		return []pipeline.Row{row}, nil
	}, nil
}

// Register registers the transforms with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterTransform("trim", &registry.RegisteredTransform{
		NewOptions: func() any { return new(TrimOptions) },
		Build: func(options any) (pipeline.Transform, error) {
			return Trim(options.(*TrimOptions)), nil
		},
	})
	r.RegisterTransform("rename", &registry.RegisteredTransform{
		NewOptions: func() any { return new(RenameOptions) },
		Build: func(options any) (pipeline.Transform, error) {
			return Rename(options.(*RenameOptions))
		},
	})
	r.RegisterTransform("split", &registry.RegisteredTransform{
		NewOptions: func() any { return new(SplitOptions) },
		Build: func(options any) (pipeline.Transform, error) {
			return Split(options.(*SplitOptions))
		},
	})
	r.RegisterTransform("filter", &registry.RegisteredTransform{
		NewOptions: func() any { return new(FilterOptions) },
		Build: func(options any) (pipeline.Transform, error) {
			return Filter(options.(*FilterOptions))
		},
	})
}
