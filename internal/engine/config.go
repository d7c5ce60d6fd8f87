package engine

import (
	"runtime"
	"time"

	"github.com/vk/pipegrid/internal/cache"
	"github.com/vk/pipegrid/internal/events"
)

const (
	DefaultVersionBatchSize = 2
	DefaultOperationTimeout = 30 * time.Second
)

// Config configures an Engine. Zero values select the defaults.
type Config struct {
	// Concurrency bounds the number of units running at the same time
	// across all versions of a run. Defaults to GOMAXPROCS.
	Concurrency int
	// VersionBatchSize bounds the number of versions executing at once.
	VersionBatchSize int
	// OperationTimeout bounds every source backend and cache store call.
	OperationTimeout time.Duration
	// Cache stores route results. A nil store disables caching.
	Cache cache.Store
	// Sink receives the event stream of every run.
	Sink events.Sink
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.GOMAXPROCS(0)
	}
	if c.VersionBatchSize <= 0 {
		c.VersionBatchSize = DefaultVersionBatchSize
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	return c
}
