// Package lines provides the "lines" parser, which emits one row per line.
package lines

import (
	"context"
	"strings"

	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Options defines the arguments of a `parser "lines"` block.
type Options struct {
	Field     string `hcl:"field,optional"`
	KeepBlank bool   `hcl:"keep_blank,optional"`
	// WithNumber adds the 1-based line number as "line_number".
	WithNumber bool `hcl:"with_number,optional"`
}

// NewParser builds the parser described by opts.
func NewParser(opts *Options) pipeline.Parser {
	field := opts.Field
	if field == "" {
		field = "line"
	}
	return func(ctx context.Context, _ pipeline.FileContext, content string) pipeline.Rows {
		return func(yield func(pipeline.Row, error) bool) {
			for n, line := range strings.Split(strings.TrimSuffix(content, "\n"), "\n") {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				line = strings.TrimRight(line, "\r")
				if line == "" && !opts.KeepBlank {
					continue
				}
				row := pipeline.Row{field: line}
				if opts.WithNumber {
					row["line_number"] = n + 1
				}
				if !yield(row, nil) {
					return
				}
			}
		}
	}
}

// Register registers the parser with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterParser("lines", &registry.RegisteredParser{
		NewOptions: func() any { return new(Options) },
		Build: func(options any) (pipeline.Parser, error) {
			return NewParser(options.(*Options)), nil
		},
	})
}
