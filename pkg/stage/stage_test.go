package stage

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/pipelinecore/pkg/execctx"
	"github.com/codeready-toolchain/pipelinecore/pkg/result"
	"github.com/stretchr/testify/assert"
)

func TestFuncSatisfiesStage(t *testing.T) {
	var s Stage = Func{
		StageName: "echo",
		Fn: func(_ context.Context, input any, _ *execctx.Context) *result.Result {
			return result.Success("echo", input)
		},
	}

	assert.Equal(t, "echo", s.Name())

	r := s.Execute(context.Background(), "hello", execctx.New("run", nil, nil))
	assert.True(t, r.Success())
	assert.Equal(t, "hello", r.Data())
}

func TestFuncCanReturnFailure(t *testing.T) {
	s := Func{
		StageName: "boom",
		Fn: func(_ context.Context, _ any, _ *execctx.Context) *result.Result {
			return result.Failure("boom", "validation error")
		},
	}

	r := s.Execute(context.Background(), nil, execctx.New("run", nil, nil))
	assert.False(t, r.Success())
	assert.Equal(t, "validation error", r.Error())
}
