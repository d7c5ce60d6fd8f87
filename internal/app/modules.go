package app

import (
	"io"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/registry"
	"github.com/vk/pipegrid/internal/source"
	"github.com/vk/pipegrid/modules/fields"
	"github.com/vk/pipegrid/modules/http"
	"github.com/vk/pipegrid/modules/lines"
	"github.com/vk/pipegrid/modules/local"
	"github.com/vk/pipegrid/modules/memory"
	"github.com/vk/pipegrid/modules/print"
	"github.com/vk/pipegrid/modules/resolve"
	"github.com/vk/pipegrid/modules/rows"
	"github.com/vk/pipegrid/modules/s3"
)

// coreModules is the definitive list of all modules that are compiled into
// the pipegrid binary.
func coreModules(outW io.Writer, env *config.Env) []registry.Module {
	return []registry.Module{
		&fields.Module{},
		&lines.Module{},
		&rows.Module{},
		&resolve.Module{},
		&print.Module{Out: outW},
		&memory.Module{},
		&local.Module{},
		&http.Module{},
		&s3.Module{Defaults: source.S3Config{
			Endpoint:  env.S3.Endpoint,
			Region:    env.S3.Region,
			AccessKey: env.S3.AccessKey,
			SecretKey: env.S3.SecretKey,
			UseSSL:    env.S3.UseSSL,
		}},
	}
}
