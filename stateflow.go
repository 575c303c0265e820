// Package stateflow provides a top-level convenience entry point for creating
// a checkpoint engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/stateflow"
//
//	eng, err := stateflow.New(nil)                         // in-memory defaults
//	eng, err := stateflow.New(stateflow.MustLoadConfig("config.yaml"))
//
// This is a thin wrapper around [engine.New]; both produce identical results.
// Use this package when you prefer the shorter import path.
package stateflow

import (
	"github.com/BaSui01/stateflow/config"
	"github.com/BaSui01/stateflow/engine"
)

// Option configures the engine created by [New].
type Option = engine.Option

// Config is the full engine configuration.
type Config = config.Config

// New creates an [engine.Engine] from cfg. A nil cfg selects the
// in-memory backend with default settings.
func New(cfg *Config, opts ...Option) (*engine.Engine, error) {
	return engine.New(cfg, opts...)
}

// DefaultConfig returns the default configuration (in-memory backend).
func DefaultConfig() *Config {
	return config.DefaultConfig()
}

// LoadConfig loads configuration from a YAML file with environment
// variable overrides applied on top.
func LoadConfig(path string) (*Config, error) {
	return config.NewLoader().WithConfigPath(path).Load()
}

// MustLoadConfig is like [LoadConfig] but panics on error.
func MustLoadConfig(path string) *Config {
	return config.MustLoad(path)
}

// Re-export engine options so callers never need to import engine/.

// WithLogger injects a custom zap logger.
var WithLogger = engine.WithLogger

// WithRegisterer sets the Prometheus registry used for metrics.
var WithRegisterer = engine.WithRegisterer

// WithCustomResolution sets the callback used by the custom
// conflict-resolution strategy.
var WithCustomResolution = engine.WithCustomResolution

// WithRedisClient injects an externally managed Redis client.
var WithRedisClient = engine.WithRedisClient
