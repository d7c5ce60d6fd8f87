// Package fields provides the "fields" parser, which splits each line of a
// delimited text file into named columns.
package fields

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Options defines the arguments of a `parser "fields"` block.
type Options struct {
	Names     []string `hcl:"names"`
	Separator string   `hcl:"separator,optional"`
	Comment   string   `hcl:"comment,optional"`
	Trim      *bool    `hcl:"trim,optional"`
	// Strict rejects lines whose column count differs from Names.
	Strict bool `hcl:"strict,optional"`
}

// NewParser builds the parser described by opts.
func NewParser(opts *Options) (pipeline.Parser, error) {
	if len(opts.Names) == 0 {
		return nil, fmt.Errorf("at least one column name is required")
	}
	sep := opts.Separator
	if sep == "" {
		sep = ";"
	}
	comment := opts.Comment
	if comment == "" {
		comment = "#"
	}
	trim := opts.Trim == nil || *opts.Trim

	return func(ctx context.Context, file pipeline.FileContext, content string) pipeline.Rows {
		return func(yield func(pipeline.Row, error) bool) {
			for n, line := range strings.Split(content, "\n") {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				if i := strings.Index(line, comment); i >= 0 {
					line = line[:i]
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				parts := strings.Split(strings.TrimRight(line, "\r"), sep)
				if opts.Strict && len(parts) != len(opts.Names) {
					yield(nil, fmt.Errorf("%s:%d: expected %d fields, got %d", file, n+1, len(opts.Names), len(parts)))
					return
				}
				row := make(pipeline.Row, len(opts.Names))
				for i, name := range opts.Names {
					value := ""
					if i < len(parts) {
						value = parts[i]
					}
					if trim {
						value = strings.TrimSpace(value)
					}
					row[name] = value
				}
				if !yield(row, nil) {
					return
				}
			}
		}
	}, nil
}

// Register registers the parser with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterParser("fields", &registry.RegisteredParser{
		NewOptions: func() any { return new(Options) },
		Build: func(options any) (pipeline.Parser, error) {
			return NewParser(options.(*Options))
		},
	})
}
