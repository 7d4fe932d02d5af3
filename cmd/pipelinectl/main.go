// Command pipelinectl is the demo entrypoint: it loads engine
// configuration, wires a cache backend and an LLM provider capability,
// builds a small example pipeline, and exposes a gin HTTP surface to
// trigger runs. Grounded on tarsy's cmd/tarsy/main.go (flag parsing,
// godotenv, gin mode selection, config.Initialize call).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/pipelinecore/pkg/cache"
	"github.com/codeready-toolchain/pipelinecore/pkg/cache/fscache"
	"github.com/codeready-toolchain/pipelinecore/pkg/cache/memcache"
	"github.com/codeready-toolchain/pipelinecore/pkg/cache/pgcache"
	"github.com/codeready-toolchain/pipelinecore/pkg/cache/rediscache"
	"github.com/codeready-toolchain/pipelinecore/pkg/cache/sqlitecache"
	"github.com/codeready-toolchain/pipelinecore/pkg/config"
	"github.com/codeready-toolchain/pipelinecore/pkg/execctx"
	"github.com/codeready-toolchain/pipelinecore/pkg/executor"
	"github.com/codeready-toolchain/pipelinecore/pkg/llmprovider"
	"github.com/codeready-toolchain/pipelinecore/pkg/pipeline"
	"github.com/codeready-toolchain/pipelinecore/pkg/result"
	"github.com/codeready-toolchain/pipelinecore/pkg/runlog"
	"github.com/codeready-toolchain/pipelinecore/pkg/stage"
	"github.com/codeready-toolchain/pipelinecore/pkg/version"
)

func main() {
	configPath := flag.String("config", "pipelinecore.yaml", "path to the engine config file")
	addr := flag.String("addr", "", "override server.addr from config")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	ctx := context.Background()
	cfg, err := config.Initialize(ctx, *configPath)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	backend, err := buildCacheBackend(ctx, cfg.Cache)
	if err != nil {
		slog.Error("failed to build cache backend", "error", err)
		os.Exit(1)
	}

	caps := execctx.NewCapabilities()
	caps.Set(llmprovider.ProviderCapability, llmprovider.NewScripted(llmprovider.Response{Content: "demo response"}))
	caps.Set(runlog.LoggerCapability, runlog.NewSlogLogger(nil, version.Full()))

	p := buildExamplePipeline()
	exec := executor.New()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Full()})
	})

	r.POST("/trigger", func(c *gin.Context) {
		var seed map[string]any
		if err := c.ShouldBindJSON(&seed); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
		execCtx := execctx.New(runID, caps, backend)

		runResult, err := exec.Execute(c.Request.Context(), p, seed, execCtx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, runResult)
	})

	slog.Info("pipelinectl listening", "addr", cfg.Server.Addr, "version", version.Full())
	if err := r.Run(cfg.Server.Addr); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func buildCacheBackend(ctx context.Context, cfg config.CacheConfig) (cache.Backend, error) {
	switch cfg.Backend {
	case config.CacheBackendFilesystem:
		return fscache.New(cfg.Directory, cache.Deterministic)
	case config.CacheBackendMemory:
		return memcache.New(cache.Deterministic), nil
	case config.CacheBackendRedis:
		return rediscache.New(cfg.RedisAddr)
	case config.CacheBackendPostgres:
		return pgcache.New(ctx, pgcache.Config{DSN: cfg.DSN})
	case config.CacheBackendSQLite:
		return sqlitecache.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownCacheBackend, cfg.Backend)
	}
}

// buildExamplePipeline demonstrates a two-stage sequential pipeline: a
// "fetch" stage producing a document and a "summarize" stage consuming
// it, both cacheable on their resolved input.
func buildExamplePipeline() *pipeline.Pipeline {
	fetch := pipeline.Definition{
		ID: "fetch",
		Stage: stage.Func{StageName: "fetch", Fn: func(_ context.Context, input any, _ *execctx.Context) *result.Result {
			seed, _ := input.(map[string]any)
			return result.Success("fetch", map[string]any{"document": fmt.Sprintf("content for %v", seed["topic"])})
		}},
		Pattern:      pipeline.Sequential,
		Critical:     true,
		CacheVersion: "v1",
		CacheKeyFn:   func(input any) (any, error) { return input, nil },
	}

	summarize := pipeline.Definition{
		ID:     "summarize",
		Inputs: []string{"fetch"},
		Stage: stage.Func{StageName: "summarize", Fn: func(_ context.Context, input any, _ *execctx.Context) *result.Result {
			data, _ := input.(map[string]any)
			doc, _ := data["document"].(string)
			return result.Success("summarize", map[string]any{"summary": "summary of: " + doc})
		}},
		Pattern:      pipeline.Sequential,
		Critical:     true,
		CacheVersion: "v1",
		CacheKeyFn:   func(input any) (any, error) { return input, nil },
	}

	p, err := pipeline.New("demo", []pipeline.Definition{fetch, summarize})
	if err != nil {
		panic(fmt.Sprintf("pipelinectl: invalid example pipeline: %v", err))
	}
	return p
}
