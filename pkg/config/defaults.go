package config

import "time"

// Default builds the built-in configuration, overlaid by the user's YAML
// in Initialize before validation (mirrors the built-in-then-user-override
// merge order tarsy's loader applies to its own component maps).
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Backend:    CacheBackendFilesystem,
			Directory:  ".pipelinecore-cache",
			DefaultTTL: Duration(1 * time.Hour),
		},
		Executor: ExecutorConfig{
			DefaultTimeout: Duration(5 * time.Minute),
			RetryPolicy: RetryPolicy{
				MaxAttempts:     3,
				InitialInterval: Duration(500 * time.Millisecond),
				MaxInterval:     Duration(30 * time.Second),
				Multiplier:      2.0,
			},
			MaxWaveWorkers: 8,
		},
		Controller: ControllerConfig{
			MaxIterations: 5,
			TokenBudget:   0,
			Thresholds: ThresholdsConfig{
				Approve: 70,
				Soft:    50,
			},
			FeedbackTokens:   2000,
			MaxRevisionFixes: 20,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}
