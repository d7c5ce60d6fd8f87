package app

import (
	"errors"
	"time"

	"github.com/vk/pipegrid/internal/config"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Pipeline string // entry module: local path, remote identifier or URL
	Root     string // directory local modules are confined to
	Versions []string

	Concurrency      int
	VersionBatchSize int
	OperationTimeout time.Duration

	LogFormat       string
	LogLevel        string
	HealthcheckPort int

	// Plan prints the per-version execution order instead of running.
	Plan bool
	// Show prints the declaration of the named pipeline instead of running.
	Show string

	Env *config.Env
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.Pipeline == "" {
		return nil, errors.New("Pipeline is a required configuration field and cannot be empty")
	}
	if cfg.Concurrency < 0 {
		return nil, errors.New("concurrency cannot be negative")
	}
	if cfg.VersionBatchSize < 0 {
		return nil, errors.New("version batch size cannot be negative")
	}
	if cfg.OperationTimeout < 0 {
		return nil, errors.New("operation timeout cannot be negative")
	}
	if cfg.Plan && cfg.Show != "" {
		return nil, errors.New("plan and show cannot be combined")
	}
	if cfg.Env != nil {
		if err := cfg.Env.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
