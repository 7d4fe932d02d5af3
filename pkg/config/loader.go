package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Initialize loads, defaults, and validates the engine configuration. This
// is the primary entry point, mirroring tarsy's pkg/config.Initialize
// steps (load → merge onto built-in defaults → validate → return).
func Initialize(_ context.Context, configPath string) (*Config, error) {
	log := slog.With("config_path", configPath)
	log.Info("initializing configuration")

	cfg := Default()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		data = ExpandEnv(data)
		var overlay Config
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return nil, NewLoadError(configPath, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
		if err := mergo.Merge(cfg, overlay, mergo.WithOverride); err != nil {
			return nil, NewLoadError(configPath, fmt.Errorf("failed to merge overlay: %w", err))
		}
	case os.IsNotExist(err):
		log.Info("no config file found, using built-in defaults")
	default:
		return nil, NewLoadError(configPath, err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("configuration initialized successfully",
		"cache_backend", cfg.Cache.Backend,
		"max_iterations", cfg.Controller.MaxIterations,
		"controller_approve_threshold", cfg.Controller.Thresholds.Approve)

	return cfg, nil
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

func errMissingField(field string) error {
	return fmt.Errorf("%s is required for this backend", field)
}

func validateConfig(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return err
	}
	if cfg.Cache.Backend == CacheBackendRedis && cfg.Cache.RedisAddr == "" {
		return NewValidationError("cache", string(cfg.Cache.Backend), "redis_addr", errMissingField("redis_addr"))
	}
	if (cfg.Cache.Backend == CacheBackendPostgres || cfg.Cache.Backend == CacheBackendSQLite) && cfg.Cache.DSN == "" {
		return NewValidationError("cache", string(cfg.Cache.Backend), "dsn", errMissingField("dsn"))
	}
	if cfg.Cache.Backend == CacheBackendFilesystem && cfg.Cache.Directory == "" {
		return NewValidationError("cache", string(cfg.Cache.Backend), "directory", errMissingField("directory"))
	}
	return nil
}
