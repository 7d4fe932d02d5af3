package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codeready-toolchain/pipelinecore/pkg/cache"
	"github.com/codeready-toolchain/pipelinecore/pkg/cache/memcache"
	"github.com/codeready-toolchain/pipelinecore/pkg/execctx"
	"github.com/codeready-toolchain/pipelinecore/pkg/pipeline"
	"github.com/codeready-toolchain/pipelinecore/pkg/result"
	"github.com/codeready-toolchain/pipelinecore/pkg/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoStage(id string) stage.Stage {
	return stage.Func{
		StageName: id,
		Fn: func(_ context.Context, input any, _ *execctx.Context) *result.Result {
			return result.Success(id, fmt.Sprintf("%s(%v)", id, input))
		},
	}
}

func TestHappyPathThreeStages(t *testing.T) {
	p, err := pipeline.New("s1", []pipeline.Definition{
		{ID: "A", Stage: echoStage("A"), Critical: true},
		{ID: "B", Stage: echoStage("B"), Inputs: []string{"A"}, Critical: true},
		{ID: "C", Stage: echoStage("C"), Inputs: []string{"B"}, Critical: true},
	})
	require.NoError(t, err)

	ec := execctx.New("run-1", nil, nil)
	res, err := New().Execute(context.Background(), p, "seed", ec)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, res.FailedStages)
	assert.Equal(t, "A(seed)", res.Outputs["A"])
	assert.Equal(t, "B(A(seed))", res.Outputs["B"])
	assert.Equal(t, "C(B(A(seed)))", res.Outputs["C"])
}

func TestWaveParallelismTiming(t *testing.T) {
	var mu sync.Mutex
	starts := map[string]time.Time{}
	ends := map[string]time.Time{}

	track := func(id string, delay time.Duration) stage.Stage {
		return stage.Func{
			StageName: id,
			Fn: func(_ context.Context, input any, _ *execctx.Context) *result.Result {
				mu.Lock()
				starts[id] = time.Now()
				mu.Unlock()
				time.Sleep(delay)
				mu.Lock()
				ends[id] = time.Now()
				mu.Unlock()
				return result.Success(id, id)
			},
		}
	}

	p, err := pipeline.New("s2", []pipeline.Definition{
		{ID: "A", Stage: track("A", 20 * time.Millisecond), Critical: true},
		{ID: "B", Stage: track("B", 20 * time.Millisecond), Inputs: []string{"A"}, Critical: true},
		{ID: "C", Stage: track("C", 20 * time.Millisecond), Inputs: []string{"A"}, Critical: true},
		{ID: "D", Stage: track("D", 1 * time.Millisecond), Inputs: []string{"B", "C"}, Critical: true},
	})
	require.NoError(t, err)

	ec := execctx.New("run-2", nil, nil)
	res, err := New().Execute(context.Background(), p, nil, ec)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.True(t, !starts["B"].Before(ends["A"]))
	assert.True(t, !starts["C"].Before(ends["A"]))
	assert.True(t, !starts["D"].Before(ends["B"]) && !starts["D"].Before(ends["C"]))

	gap := starts["B"].Sub(starts["C"])
	if gap < 0 {
		gap = -gap
	}
	assert.Less(t, gap, 15*time.Millisecond, "B and C should start close together, demonstrating concurrency")
}

func TestFanOutPreservesOrderUnderReversedCompletion(t *testing.T) {
	fanStage := stage.Func{
		StageName: "F",
		Fn: func(_ context.Context, input any, _ *execctx.Context) *result.Result {
			s := input.(string)
			// "z" finishes fastest, "x" slowest, to invert completion order.
			delay := map[string]time.Duration{"x": 30 * time.Millisecond, "y": 15 * time.Millisecond, "z": 1 * time.Millisecond}[s]
			time.Sleep(delay)
			return result.Success("F", "f("+s+")")
		},
	}

	seedStage := stage.Func{
		StageName: "seed",
		Fn: func(_ context.Context, _ any, _ *execctx.Context) *result.Result {
			return result.Success("seed", []any{"x", "y", "z"})
		},
	}

	p, err := pipeline.New("s3", []pipeline.Definition{
		{ID: "seed", Stage: seedStage, Critical: true},
		{ID: "F", Stage: fanStage, Inputs: []string{"seed"}, Pattern: pipeline.FanOut, Critical: true},
	})
	require.NoError(t, err)

	ec := execctx.New("run-3", nil, nil)
	res, err := New().Execute(context.Background(), p, nil, ec)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, []any{"f(x)", "f(y)", "f(z)"}, res.Outputs["F"])
}

func TestFailFastStopsLaterWaves(t *testing.T) {
	var cCalled atomic.Bool

	p, err := pipeline.New("s5", []pipeline.Definition{
		{ID: "A", Stage: echoStage("A"), Critical: true},
		{
			ID: "B",
			Stage: stage.Func{StageName: "B", Fn: func(_ context.Context, _ any, _ *execctx.Context) *result.Result {
				return result.Failure("B", "boom")
			}},
			Inputs:   []string{"A"},
			Critical: true,
		},
		{
			ID: "C",
			Stage: stage.Func{StageName: "C", Fn: func(_ context.Context, _ any, _ *execctx.Context) *result.Result {
				cCalled.Store(true)
				return result.Success("C", "ran")
			}},
			Inputs:   []string{"B"},
			Critical: true,
		},
	})
	require.NoError(t, err)

	ec := execctx.New("run-5", nil, nil)
	res, err := New().Execute(context.Background(), p, "seed", ec)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.FailedStages, "B")
	assert.False(t, cCalled.Load(), "C must not start after a critical failure in an earlier wave")
}

func TestNonCriticalFailureDoesNotAbort(t *testing.T) {
	p, err := pipeline.New("non-critical", []pipeline.Definition{
		{
			ID: "A",
			Stage: stage.Func{StageName: "A", Fn: func(_ context.Context, _ any, _ *execctx.Context) *result.Result {
				return result.Failure("A", "soft problem")
			}},
			Critical: false,
		},
	})
	require.NoError(t, err)

	ec := execctx.New("run-6", nil, nil)
	res, err := New().Execute(context.Background(), p, nil, ec)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.FailedStages, "A")
}

func TestConditionalSkipOmitsOutput(t *testing.T) {
	p, err := pipeline.New("conditional", []pipeline.Definition{
		{
			ID:        "A",
			Stage:     echoStage("A"),
			Pattern:   pipeline.Conditional,
			Condition: func(_ *execctx.Context) bool { return false },
			Critical:  true,
		},
	})
	require.NoError(t, err)

	ec := execctx.New("run-7", nil, nil)
	res, err := New().Execute(context.Background(), p, "seed", ec)
	require.NoError(t, err)

	assert.True(t, res.Success)
	_, present := res.Outputs["A"]
	assert.False(t, present, "a skipped conditional stage must not appear in outputs at all")
}

func TestRetryEventuallySucceeds(t *testing.T) {
	var attempts atomic.Int32

	p, err := pipeline.New("retry", []pipeline.Definition{
		{
			ID: "A",
			Stage: stage.Func{StageName: "A", Fn: func(_ context.Context, _ any, _ *execctx.Context) *result.Result {
				n := attempts.Add(1)
				if n < 3 {
					return result.Failure("A", "transient")
				}
				return result.Success("A", "ok")
			}},
			Critical: true,
			Retry: pipeline.RetryPolicy{
				MaxAttempts:  5,
				InitialDelay: time.Millisecond,
				Multiplier:   2,
				MaxDelay:     10 * time.Millisecond,
				Retryable:    func(_ string) bool { return true },
			},
		},
	})
	require.NoError(t, err)

	ec := execctx.New("run-8", nil, nil)
	res, err := New().Execute(context.Background(), p, nil, ec)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestCacheReuseAcrossRuns(t *testing.T) {
	var invocations atomic.Int32
	backend := memcache.New(cache.Deterministic)

	def := func() pipeline.Definition {
		return pipeline.Definition{
			ID: "H",
			Stage: stage.Func{StageName: "H", Fn: func(_ context.Context, input any, _ *execctx.Context) *result.Result {
				invocations.Add(1)
				return result.Success("H", fmt.Sprintf("h(%v)", input))
			}},
			Critical:     true,
			CacheVersion: "1",
			CacheKeyFn:   func(input any) (any, error) { return input, nil },
		}
	}

	p1, err := pipeline.New("cache-run-1", []pipeline.Definition{def()})
	require.NoError(t, err)
	ec1 := execctx.New("run-10a", nil, backend)
	res1, err := New().Execute(context.Background(), p1, "same-input", ec1)
	require.NoError(t, err)
	require.True(t, res1.Success)
	assert.Equal(t, int32(1), invocations.Load())

	p2, err := pipeline.New("cache-run-2", []pipeline.Definition{def()})
	require.NoError(t, err)
	ec2 := execctx.New("run-10b", nil, backend)
	res2, err := New().Execute(context.Background(), p2, "same-input", ec2)
	require.NoError(t, err)
	require.True(t, res2.Success)

	assert.Equal(t, int32(1), invocations.Load(), "H must not be invoked again on a cache hit")
	assert.EqualValues(t, 1, res2.Metrics["H_from_cache"])
}

func TestNonRetryableFailureStopsAfterFirstAttempt(t *testing.T) {
	var attempts atomic.Int32

	p, err := pipeline.New("non-retryable", []pipeline.Definition{
		{
			ID: "A",
			Stage: stage.Func{StageName: "A", Fn: func(_ context.Context, _ any, _ *execctx.Context) *result.Result {
				attempts.Add(1)
				return result.Failure("A", "permanent")
			}},
			Critical: true,
			Retry: pipeline.RetryPolicy{
				MaxAttempts:  5,
				InitialDelay: time.Millisecond,
				Multiplier:   2,
				MaxDelay:     10 * time.Millisecond,
				Retryable:    func(_ string) bool { return false },
			},
		},
	})
	require.NoError(t, err)

	ec := execctx.New("run-9", nil, nil)
	res, err := New().Execute(context.Background(), p, nil, ec)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, int32(1), attempts.Load())
}
