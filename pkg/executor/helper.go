package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/pipelinecore/pkg/cache"
	"github.com/codeready-toolchain/pipelinecore/pkg/execctx"
	"github.com/codeready-toolchain/pipelinecore/pkg/pipeline"
	"github.com/codeready-toolchain/pipelinecore/pkg/result"
)

// invoke is the Stage Execution Helper: it wraps a single logical stage
// invocation (one fan-out element, or the whole stage for non-fan-out
// patterns) with cache lookup, conditional compute, cache store on
// success, retry, and timeout. element is nil outside FAN_OUT.
func invoke(ctx context.Context, execCtx *execctx.Context, d pipeline.Definition, input any, element *int) *result.Result {
	fp, cacheable, err := fingerprintFor(d, input, element)
	if err != nil {
		slog.Warn("cache fingerprint computation failed, proceeding uncached", "stage", d.ID, "error", err)
		cacheable = false
	}

	if cacheable {
		if hit := tryLoadCache(ctx, execCtx, d, fp); hit != nil {
			return hit
		}
	}

	res := invokeWithRetry(ctx, execCtx, d, input)

	if cacheable && res.Success() {
		storeCache(ctx, execCtx, d, fp, res)
	}

	recordMetrics(execCtx, d, res)
	return res
}

func fingerprintFor(d pipeline.Definition, input any, element *int) (cache.Fingerprint, bool, error) {
	if d.CacheKeyFn == nil {
		return cache.Fingerprint{}, false, nil
	}
	semanticInput, err := d.CacheKeyFn(input)
	if err != nil {
		return cache.Fingerprint{}, false, fmt.Errorf("cache_key_fn for stage %q: %w", d.ID, err)
	}
	fp, err := cache.Compute(d.ID, d.CacheVersion, semanticInput, element)
	if err != nil {
		return cache.Fingerprint{}, false, err
	}
	return fp, true, nil
}

func tryLoadCache(ctx context.Context, execCtx *execctx.Context, d pipeline.Definition, fp cache.Fingerprint) *result.Result {
	backend := execCtx.Cache()
	if backend == nil {
		return nil
	}

	entry, ok, err := backend.Load(ctx, fp, cacheTTL(d))
	if err != nil {
		// Cache errors are non-fatal (spec §4.4/§7): log and proceed as miss.
		slog.Warn("cache load failed, proceeding as miss", "stage", d.ID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	var decoded any
	if err := json.Unmarshal(entry.Artifact, &decoded); err != nil {
		slog.Warn("cache hit but artifact could not be decoded, treating as miss", "stage", d.ID, "error", err)
		return nil
	}

	execCtx.Metrics.Add(d.ID+"_from_cache", 1)
	return result.Success(d.ID, decoded, result.WithMetadata("from_cache", true))
}

func cacheTTL(d pipeline.Definition) time.Duration {
	// Every stage gets the same fixed one-hour TTL; Definition has no
	// per-stage TTL field. Deterministic-class backends ignore it.
	return time.Hour
}

func storeCache(ctx context.Context, execCtx *execctx.Context, d pipeline.Definition, fp cache.Fingerprint, res *result.Result) {
	backend := execCtx.Cache()
	if backend == nil {
		return
	}
	artifact, err := cache.Canonicalize(res.Data())
	if err != nil {
		slog.Warn("cache store skipped: could not canonicalize artifact", "stage", d.ID, "error", err)
		return
	}
	computeMs := float64(res.DurationMs())
	if err := backend.Store(ctx, fp, artifact, cache.Metadata{
		ArtifactModel: d.ID,
		ComputeMs:     &computeMs,
	}); err != nil {
		slog.Warn("cache store failed", "stage", d.ID, "error", err)
	}
}

func recordMetrics(execCtx *execctx.Context, d pipeline.Definition, res *result.Result) {
	execCtx.Metrics.Set(d.ID+"_duration_ms", float64(res.DurationMs()))
	if res.TokensUsed() > 0 {
		execCtx.Metrics.Add(d.ID+"_tokens", int64(res.TokensUsed()))
	}
	if iterations, ok := res.Metadata()["iterations"]; ok {
		if n, ok := iterations.(int); ok {
			execCtx.Metrics.Set(d.ID+"_iterations", float64(n))
		}
	}
	if score, ok := res.Metadata()["score"]; ok {
		if f, ok := score.(float64); ok {
			execCtx.Metrics.Set(d.ID+"_score", f)
		}
	}
}

// invokeWithRetry applies d.Timeout and d.Retry around one call to
// d.Stage.Execute.
func invokeWithRetry(ctx context.Context, execCtx *execctx.Context, d pipeline.Definition, input any) *result.Result {
	policy := d.Retry
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	b := backoffFor(policy)

	var last *result.Result
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if execCtx.Cancelled() {
			return result.Failure(d.ID, "cancelled")
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if d.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		}

		start := time.Now()
		last = safeExecute(callCtx, execCtx, d, input)
		elapsed := time.Since(start)
		if cancel != nil {
			cancel()
		}

		if callCtx.Err() == context.DeadlineExceeded {
			last = result.Failure(d.ID, "timeout", result.WithDuration(elapsed))
		}

		if last.Success() {
			return withDurationIfUnset(last, elapsed)
		}

		retryable := policy.Retryable != nil && policy.Retryable(last.Error())
		if !retryable || attempt == policy.MaxAttempts-1 {
			return withDurationIfUnset(last, elapsed)
		}

		delay := b.NextBackOff()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result.Failure(d.ID, "cancelled")
		case <-timer.C:
		}
	}
	return last
}

func withDurationIfUnset(res *result.Result, elapsed time.Duration) *result.Result {
	if res.DurationMs() > 0 {
		return res
	}
	if res.Success() {
		return result.Success(res.StageName(), res.Data(), result.WithDuration(elapsed), result.WithTokensUsed(res.TokensUsed()))
	}
	return result.Failure(res.StageName(), res.Error(), result.WithDuration(elapsed))
}

// safeExecute calls the stage directly and recovers no panics: a panic
// (an invariant violation, spec §7 "Fatal" error class) is never turned
// into a Result. Stages run on errgroup goroutines, so such a panic
// terminates the process rather than returning from Execute.
func safeExecute(ctx context.Context, execCtx *execctx.Context, d pipeline.Definition, input any) *result.Result {
	return d.Stage.Execute(ctx, input, execCtx)
}
