package app

import (
	"context"
	"fmt"

	"github.com/vk/pipegrid/internal/cache"
	"github.com/vk/pipegrid/internal/config"
)

// openStore selects the route cache backend configured in the environment.
func (a *App) openStore(ctx context.Context, env *config.Env) error {
	logger := a.logger.With("cache", env.Cache)
	if env.Cache == config.CacheNone {
		logger.Info("Route cache disabled.")
		return nil
	}
	if env.Cache == config.CacheMemory {
		a.store = cache.NewMemoryStore(env.CacheSize, env.CacheTTL)
		logger.Debug("Route cache configured.", "size", env.CacheSize, "ttl", env.CacheTTL)
		return nil
	}

	codec, err := cache.CodecByName(env.CacheCodec)
	if err != nil {
		return err
	}
	switch env.Cache {
	case config.CacheFS:
		store, err := cache.NewFSStore(env.CacheDir, codec)
		if err != nil {
			return fmt.Errorf("failed to open fs cache: %w", err)
		}
		a.store = store
	case config.CacheS3:
		store, err := cache.NewS3Store(cache.S3Config{
			Endpoint:  env.S3.Endpoint,
			Region:    env.S3.Region,
			AccessKey: env.S3.AccessKey,
			SecretKey: env.S3.SecretKey,
			Bucket:    env.S3.Bucket,
			UseSSL:    env.S3.UseSSL,
			Prefix:    "cache",
		}, codec)
		if err != nil {
			return fmt.Errorf("failed to open s3 cache: %w", err)
		}
		a.store = store
	case config.CachePostgres:
		store, err := cache.NewPostgresStore(ctx, env.PostgresDSN, codec)
		if err != nil {
			return fmt.Errorf("failed to open postgres cache: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	default:
		return fmt.Errorf("unknown cache backend '%s'", env.Cache)
	}
	logger.Debug("Route cache configured.", "codec", codec.Name())
	return nil
}
