// Package http provides the "http" source, which fetches
// "<base_url>/<version>/<path>" over HTTP.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/registry"
	"github.com/vk/pipegrid/internal/source"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Options defines the arguments of a `source "http"` block. Without files
// or a listing the source is fetch-only and cannot be enumerated.
type Options struct {
	BaseURL string            `hcl:"base_url"`
	Files   []string          `hcl:"files,optional"`
	Listing string            `hcl:"listing,optional"`
	Headers map[string]string `hcl:"headers,optional"`
	Timeout string            `hcl:"timeout,optional"`
}

// newClient returns a client with pooled connections. The timeout bounds
// each request, including reading the body.
func newClient(timeout string) (*http.Client, error) {
	d := 30 * time.Second
	if timeout != "" {
		var err error
		if d, err = time.ParseDuration(timeout); err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
	}
	return &http.Client{
		Timeout: d,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}, nil
}

// Build creates the backend described by opts.
func Build(opts *Options) (pipeline.Backend, error) {
	client, err := newClient(opts.Timeout)
	if err != nil {
		return nil, err
	}
	return source.NewHTTP(source.HTTPConfig{
		BaseURL: opts.BaseURL,
		Files:   opts.Files,
		Listing: opts.Listing,
		Headers: opts.Headers,
		Client:  client,
	})
}

// Register registers the source type with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterSource("http", &registry.RegisteredSource{
		NewOptions: func() any { return new(Options) },
		Build: func(_ context.Context, _ registry.SourceContext, options any) (pipeline.Backend, error) {
			return Build(options.(*Options))
		},
	})
}
