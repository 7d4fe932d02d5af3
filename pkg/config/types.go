package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration so engine config YAML can use shorthand
// strings ("500ms", "1h") instead of raw nanosecond integers — mirroring
// the manual time.ParseDuration calls tarsy's pkg/config/loader.go makes
// for its own string-typed duration fields (cache_ttl), collapsed here
// into a reusable YAML-aware type instead of one parse call per field.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// CacheBackendKind names a supported cache.Backend driver (spec.md §2).
type CacheBackendKind string

const (
	CacheBackendFilesystem CacheBackendKind = "filesystem"
	CacheBackendMemory     CacheBackendKind = "memory"
	CacheBackendRedis      CacheBackendKind = "redis"
	CacheBackendPostgres   CacheBackendKind = "postgres"
	CacheBackendSQLite     CacheBackendKind = "sqlite"
)

// RetryPolicy is the configured default retry/backoff policy. It is
// loaded and validated only: pkg/executor takes no configuration and
// uses each stage's own pipeline.RetryPolicy.
type RetryPolicy struct {
	MaxAttempts     int      `yaml:"max_attempts" validate:"min=1,max=20"`
	InitialInterval Duration `yaml:"initial_interval" validate:"min=0"`
	MaxInterval     Duration `yaml:"max_interval" validate:"min=0"`
	Multiplier      float64  `yaml:"multiplier" validate:"min=1"`
}

// ThresholdsConfig holds verdict thresholds mirroring
// pkg/controller.Thresholds; nothing copies them into a controller.
type ThresholdsConfig struct {
	Approve float64 `yaml:"approve" validate:"required"`
	Soft    float64 `yaml:"soft" validate:"required,ltfield=Approve"`
}

// ControllerConfig holds Iterative Agent Controller defaults. It is
// loaded and validated only; pkg/controller.New takes its own
// controller.Config and does not read this.
type ControllerConfig struct {
	MaxIterations    int              `yaml:"max_iterations" validate:"min=1"`
	TokenBudget      int              `yaml:"token_budget" validate:"min=0"`
	Thresholds       ThresholdsConfig `yaml:"thresholds"`
	FeedbackTokens   int              `yaml:"feedback_tokens" validate:"min=0"`
	MaxRevisionFixes int              `yaml:"max_revision_fixes" validate:"min=1"`
}

// CacheConfig selects and parameterizes the cache.Backend a pipeline run
// uses.
type CacheConfig struct {
	Backend CacheBackendKind `yaml:"backend" validate:"required,oneof=filesystem memory redis postgres sqlite"`

	// Filesystem
	Directory string `yaml:"directory,omitempty"`

	// Redis
	RedisAddr string `yaml:"redis_addr,omitempty"`
	RedisDB   int    `yaml:"redis_db,omitempty"`

	// Postgres / SQLite
	DSN string `yaml:"dsn,omitempty"`

	DefaultTTL Duration `yaml:"default_ttl" validate:"min=0"`
}

// ExecutorConfig holds executor settings. It is loaded and validated
// only; executor.New takes no configuration and does not read it.
type ExecutorConfig struct {
	DefaultTimeout Duration    `yaml:"default_timeout" validate:"min=0"`
	RetryPolicy    RetryPolicy `yaml:"retry_policy"`
	MaxWaveWorkers int         `yaml:"max_wave_workers" validate:"min=1"`
}

// ServerConfig configures cmd/pipelinectl's gin HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// Config is the fully loaded, defaulted, and validated engine configuration
// (spec.md §2's ambient configuration surface — not the per-pipeline stage
// graph itself, which pkg/pipeline loads separately per run).
type Config struct {
	Cache      CacheConfig      `yaml:"cache" validate:"required"`
	Executor   ExecutorConfig   `yaml:"executor" validate:"required"`
	Controller ControllerConfig `yaml:"controller" validate:"required"`
	Server     ServerConfig     `yaml:"server" validate:"required"`
}
