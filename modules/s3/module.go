// Package s3 provides the "s3" source, which reads version prefixes of an
// S3 compatible bucket.
package s3

import (
	"context"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/registry"
	"github.com/vk/pipegrid/internal/source"
)

// Module implements the registry.Module interface for this package.
// Defaults supplies connection settings a block leaves out, so credentials
// can come from the environment instead of the definition.
type Module struct {
	Defaults source.S3Config
}

// Options defines the arguments of a `source "s3"` block.
type Options struct {
	Endpoint  string `hcl:"endpoint,optional"`
	Region    string `hcl:"region,optional"`
	Bucket    string `hcl:"bucket,optional"`
	Prefix    string `hcl:"prefix,optional"`
	AccessKey string `hcl:"access_key,optional"`
	SecretKey string `hcl:"secret_key,optional"`
	UseSSL    *bool  `hcl:"use_ssl,optional"`
}

// Config merges opts over defaults.
func Config(defaults source.S3Config, opts *Options) source.S3Config {
	cfg := defaults
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Endpoint, opts.Endpoint)
	set(&cfg.Region, opts.Region)
	set(&cfg.Bucket, opts.Bucket)
	set(&cfg.Prefix, opts.Prefix)
	set(&cfg.AccessKey, opts.AccessKey)
	set(&cfg.SecretKey, opts.SecretKey)
	if opts.UseSSL != nil {
		cfg.UseSSL = *opts.UseSSL
	}
	return cfg
}

// Register registers the source type with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterSource("s3", &registry.RegisteredSource{
		NewOptions: func() any { return new(Options) },
		Build: func(ctx context.Context, _ registry.SourceContext, options any) (pipeline.Backend, error) {
			cfg := Config(m.Defaults, options.(*Options))
			ctxlog.FromContext(ctx).Debug("Creating s3 source.", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket, "prefix", cfg.Prefix)
			return source.NewS3(cfg)
		},
	})
}
