// Package config loads and validates the strata deployment configuration
// and hot-reloads the blast-radius risk thresholds.
package config

import (
	"github.com/stratahq/strata/internal/blast"
	"github.com/stratahq/strata/internal/executor"
	"github.com/stratahq/strata/internal/index"
	"github.com/stratahq/strata/internal/models"
	"github.com/stratahq/strata/internal/queue"
	"github.com/stratahq/strata/internal/ratelimit"
	"github.com/stratahq/strata/internal/service"
	"github.com/stratahq/strata/internal/store"
	"github.com/stratahq/strata/internal/tracing"
)

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// LogLevel is the default logging level (debug, info, warn, error).
	LogLevel string `json:"logLevel" yaml:"logLevel"`

	// MetricsPort serves the Prometheus endpoint; zero disables it.
	MetricsPort int `json:"metricsPort" yaml:"metricsPort"`

	// GraphRetentionDays bounds how long merged graphs are kept. Zero
	// disables retention cleanup.
	GraphRetentionDays int `json:"graphRetentionDays" yaml:"graphRetentionDays"`
}

// CacheConfig groups the reference-index cache tiers. The Redis address is
// used by the L2 cache; an empty address disables L2.
type CacheConfig struct {
	L1        index.EntryCacheConfig `json:"l1" yaml:"l1"`
	L2        index.RedisCacheConfig `json:"l2" yaml:"l2"`
	RedisAddr string                 `json:"redisAddr" yaml:"redisAddr"`
	RedisDB   int                    `json:"redisDB" yaml:"redisDB"`
}

// Config is the full deployment configuration of a strata server.
type Config struct {
	Server    ServerConfig       `json:"server" yaml:"server"`
	Tracing   tracing.Config     `json:"tracing" yaml:"tracing"`
	Executor  executor.Config    `json:"executor" yaml:"executor"`
	Queue     queue.Config       `json:"queue" yaml:"queue"`
	RateLimit ratelimit.Config   `json:"rateLimit" yaml:"rateLimit"`
	Service   service.Config     `json:"service" yaml:"service"`
	Falkor    store.FalkorConfig `json:"falkor" yaml:"falkor"`
	Cache     CacheConfig        `json:"cache" yaml:"cache"`

	// Risk is the blast-radius weight table and thresholds. RiskFile, when
	// set, names a YAML file watched for threshold changes at runtime; its
	// content overrides this section.
	Risk     blast.RiskConfig `json:"risk" yaml:"risk"`
	RiskFile string           `json:"riskFile" yaml:"riskFile"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			LogLevel:           "info",
			MetricsPort:        9090,
			GraphRetentionDays: 30,
		},
		Executor:  executor.DefaultConfig(),
		Queue:     queue.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Service:   service.DefaultConfig(),
		Falkor:    store.DefaultFalkorConfig(),
		Cache: CacheConfig{
			L1: index.DefaultEntryCacheConfig(),
			L2: index.DefaultRedisCacheConfig(),
		},
		Risk: blast.DefaultRiskConfig(),
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return models.NewValidationError("server.logLevel must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return models.NewValidationError("server.metricsPort must be in [0,65535], got %d", c.Server.MetricsPort)
	}
	if c.Server.GraphRetentionDays < 0 {
		return models.NewValidationError("server.graphRetentionDays must not be negative")
	}
	if err := c.Executor.Validate(); err != nil {
		return err
	}
	if err := c.Queue.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if err := c.Service.Validate(); err != nil {
		return err
	}
	if c.Cache.RedisAddr != "" {
		if err := c.Cache.L2.Validate(); err != nil {
			return err
		}
	}
	return c.Risk.Validate()
}
