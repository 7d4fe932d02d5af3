// Package executor is the Pipeline Executor: it consumes a validated
// pipeline.Pipeline plus a seed input and an execctx.Context, runs each
// wave with structured concurrency, and applies retry/timeout/fail-fast.
// Grounded on orchestrator.SubAgentRunner's goroutine-dispatch shape,
// restructured around golang.org/x/sync/errgroup's per-wave barrier
// instead of a free-running worker pool, since spec's wave model needs
// every sibling in a wave to complete (or fail-fast) before the next
// wave starts.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/pipelinecore/pkg/execctx"
	"github.com/codeready-toolchain/pipelinecore/pkg/pipeline"
	"github.com/codeready-toolchain/pipelinecore/pkg/result"
)

// PipelineResult is the outcome of one Execute call.
type PipelineResult struct {
	Success      bool
	Outputs      map[string]any
	FailedStages []string
	Metrics      map[string]any
}

// Executor runs pipeline.Pipeline definitions.
type Executor struct{}

// New constructs an Executor. The type carries no state today but
// exists as the stable entry point callers depend on, matching the
// single `executor.execute(pipeline, seed_input, context)` invocation
// surface.
func New() *Executor { return &Executor{} }

// Execute runs pipeline wave by wave, returning once every wave has
// completed or a critical-stage failure triggers fail-fast.
func (e *Executor) Execute(ctx context.Context, p *pipeline.Pipeline, seedInput any, execCtx *execctx.Context) (*PipelineResult, error) {
	runCtx, stop := execCtx.WithCancel(ctx)
	defer stop()

	outputs := make(map[string]any)
	var outputsMu sync.Mutex
	outputs[pipeline.SeedKey] = seedInput

	var failedStages []string
	skipped := make(map[string]bool)

	for waveIdx, wave := range p.Waves() {
		if execCtx.Cancelled() {
			break
		}

		g, gctx := errgroup.WithContext(runCtx)
		waveOutputs := make(map[string]any, len(wave))
		var waveMu sync.Mutex
		var waveFailed []string

		for _, d := range wave {
			d := d
			if d.Pattern == pipeline.Conditional && d.Condition != nil && !d.Condition(execCtx) {
				skipped[d.ID] = true
				continue
			}

			input, err := resolveInput(d, outputs, skipped, &outputsMu)
			if err != nil {
				// An unresolved input (e.g. depending on a skipped
				// conditional) is a stage failure, not a fatal error.
				waveMu.Lock()
				waveFailed = append(waveFailed, d.ID)
				waveMu.Unlock()
				if d.Critical {
					execCtx.Cancel()
				}
				continue
			}

			g.Go(func() error {
				res := runDefinition(gctx, execCtx, d, input)

				waveMu.Lock()
				if res.Success() {
					waveOutputs[d.ID] = res.Data()
				} else {
					waveFailed = append(waveFailed, d.ID)
				}
				waveMu.Unlock()

				if !res.Success() {
					slog.Warn("stage failed", "stage", d.ID, "wave", waveIdx, "error", res.Error())
					if d.Critical {
						execCtx.Cancel()
					}
				}
				return nil
			})
		}

		_ = g.Wait() // errors are carried via Result, not returned from Go()

		outputsMu.Lock()
		for id, v := range waveOutputs {
			outputs[id] = v
		}
		outputsMu.Unlock()

		failedStages = append(failedStages, waveFailed...)

		if len(waveFailed) > 0 && execCtx.Cancelled() {
			break
		}
	}

	sort.Strings(failedStages)
	counts, gauges := execCtx.Metrics.Snapshot()
	metrics := make(map[string]any, len(counts)+len(gauges))
	for k, v := range counts {
		metrics[k] = v
	}
	for k, v := range gauges {
		metrics[k] = v
	}

	delete(outputs, pipeline.SeedKey)

	return &PipelineResult{
		Success:      len(failedStages) == 0,
		Outputs:      outputs,
		FailedStages: failedStages,
		Metrics:      metrics,
	}, nil
}

// runDefinition dispatches a single stage invocation: one call for
// SEQUENTIAL/PARALLEL/CONDITIONAL, or one call per element for FAN_OUT,
// collected back into an order-preserving slice.
func runDefinition(ctx context.Context, execCtx *execctx.Context, d pipeline.Definition, input any) *result.Result {
	if d.Pattern != pipeline.FanOut {
		return invoke(ctx, execCtx, d, input, nil)
	}

	elements, ok := input.([]any)
	if !ok {
		return result.Failure(d.ID, fmt.Sprintf("FAN_OUT stage %q requires a sequence input, got %T", d.ID, input))
	}

	results := make([]*result.Result, len(elements))
	g, gctx := errgroup.WithContext(ctx)
	for i, elem := range elements {
		i, elem := i, elem
		g.Go(func() error {
			idx := i
			results[i] = invoke(gctx, execCtx, d, elem, &idx)
			return nil
		})
	}
	_ = g.Wait()

	outputs := make([]any, len(results))
	for i, r := range results {
		if !r.Success() {
			return result.Failure(d.ID, fmt.Sprintf("fan-out element %d failed: %s", i, r.Error()))
		}
		outputs[i] = r.Data()
	}
	return result.Success(d.ID, outputs)
}

// resolveInput maps a definition's declared inputs to the argument its
// Stage.Execute receives: the seed for zero inputs, the single
// upstream's value for one input, or a map keyed by upstream id for two
// or more. A reference to a skipped conditional stage is an error.
func resolveInput(d pipeline.Definition, outputs map[string]any, skipped map[string]bool, mu *sync.Mutex) (any, error) {
	mu.Lock()
	defer mu.Unlock()

	if len(d.Inputs) == 0 {
		return outputs[pipeline.SeedKey], nil
	}

	if len(d.Inputs) == 1 {
		id := d.Inputs[0]
		if skipped[id] {
			return nil, fmt.Errorf("stage %q depends on skipped conditional stage %q", d.ID, id)
		}
		v, ok := outputs[id]
		if !ok {
			return nil, fmt.Errorf("stage %q depends on %q which produced no output", d.ID, id)
		}
		return v, nil
	}

	merged := make(map[string]any, len(d.Inputs))
	for _, id := range d.Inputs {
		if skipped[id] {
			return nil, fmt.Errorf("stage %q depends on skipped conditional stage %q", d.ID, id)
		}
		v, ok := outputs[id]
		if !ok {
			return nil, fmt.Errorf("stage %q depends on %q which produced no output", d.ID, id)
		}
		merged[id] = v
	}
	return merged, nil
}
