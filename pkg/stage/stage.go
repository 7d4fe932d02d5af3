// Package stage defines the Stage Contract: the structural, uninherited
// interface every unit of pipeline work implements. Grounded on
// agent.LLMClient/ToolExecutor-style structural interfaces and on
// ExecutionContext's role as the object every stage call receives
// alongside its input.
package stage

import (
	"context"

	"github.com/codeready-toolchain/pipelinecore/pkg/execctx"
	"github.com/codeready-toolchain/pipelinecore/pkg/result"
)

// Stage is a named, asynchronous unit of work. Implementations MUST NOT
// panic to signal a business failure — recoverable failures are
// returned as result.Failure. Only a genuine invariant violation
// (programmer error) may panic, and doing so aborts the whole pipeline
// run by design.
//
// Execute receives:
//   - a single upstream output, when the stage declares exactly one input
//   - a map[string]any keyed by upstream stage id, when it declares two
//     or more inputs
//   - a single element of a fanned-out sequence, when the stage is
//     invoked under the FAN_OUT pattern
type Stage interface {
	Name() string
	Execute(ctx context.Context, input any, execCtx *execctx.Context) *result.Result
}

// Func adapts a plain function to the Stage interface, the way a small
// one-off stage is usually declared instead of a dedicated type.
type Func struct {
	StageName string
	Fn        func(ctx context.Context, input any, execCtx *execctx.Context) *result.Result
}

// Name implements Stage.
func (f Func) Name() string { return f.StageName }

// Execute implements Stage.
func (f Func) Execute(ctx context.Context, input any, execCtx *execctx.Context) *result.Result {
	return f.Fn(ctx, input, execCtx)
}
