package controller

import (
	"context"
	"fmt"
	"testing"

	"github.com/codeready-toolchain/pipelinecore/pkg/llmprovider"
	"github.com/codeready-toolchain/pipelinecore/pkg/runlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysValid(_ []byte) error { return nil }

func scoreOf(f float64) *float64 { return &f }

func fixedUsagePlanner(tokens int) PlannerFunc {
	n := 0
	return func(_ context.Context, conversationID, _ string) ([]byte, llmprovider.Usage, error) {
		n++
		return []byte(fmt.Sprintf(`{"attempt":%d,"conversation":%q}`, n, conversationID)), llmprovider.Usage{TotalTokens: tokens}, nil
	}
}

func scriptedJudge(scores ...float64) JudgeFunc {
	i := 0
	return func(_ context.Context, artifact []byte) (Verdict, llmprovider.Usage, error) {
		s := scores[i]
		i++
		return Verdict{Score: scoreOf(s), Notes: "judge notes", RequiredFixes: []string{"tighten wording"}}, llmprovider.Usage{}, nil
	}
}

func TestSoftFailThenApprove(t *testing.T) {
	// S6 first script: [60, 55, 75] — two soft-fails then an approve,
	// all within one conversation/iteration.
	c := New(Config{AgentName: "planner", MaxIterations: 3}, fixedUsagePlanner(100), alwaysValid, scriptedJudge(60, 55, 75), nil, nil)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, 1, res.Iteration.IterationCount, "soft-fail revisions must not increment iteration_count")
	assert.Len(t, res.Iteration.VerdictHistory, 3)
}

func TestHardFailStartsNewConversationAndIncrementsIteration(t *testing.T) {
	// S6 second script: [45, 80] — hard-fail then approve.
	c := New(Config{AgentName: "planner", MaxIterations: 3}, fixedUsagePlanner(100), alwaysValid, scriptedJudge(45, 80), nil, nil)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, 2, res.Iteration.IterationCount, "a hard-fail replan must increment iteration_count")
}

func TestBudgetExhaustionTerminatesWithBestCandidate(t *testing.T) {
	// S7: token_budget=1000, three planner calls of 400 tokens each,
	// judge always soft-fails so the controller keeps revising until the
	// third planner call crosses the budget.
	c := New(Config{AgentName: "planner", MaxIterations: 10, TokenBudget: 1000}, fixedUsagePlanner(400), alwaysValid, scriptedJudge(60, 60, 60), nil, nil)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateBudgetExhausted, res.State)
	assert.GreaterOrEqual(t, res.Iteration.TotalTokensUsed, 1000)
	require.NotNil(t, res.Iteration.BestScore)
	assert.NotNil(t, res.Artifact, "budget exhaustion with a recorded non-zero verdict must surface the best candidate")
}

func TestFailureWithoutAnyVerdictCarriesNoArtifact(t *testing.T) {
	planner := func(_ context.Context, _, _ string) ([]byte, llmprovider.Usage, error) {
		return nil, llmprovider.Usage{}, fmt.Errorf("planner exploded")
	}
	c := New(Config{AgentName: "planner", MaxIterations: 3}, planner, alwaysValid, scriptedJudge(), nil, nil)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Nil(t, res.Artifact)
}

func TestMaxIterationsExceededWithoutApprovalFails(t *testing.T) {
	c := New(Config{AgentName: "planner", MaxIterations: 2}, fixedUsagePlanner(10), alwaysValid, scriptedJudge(40, 40, 40, 40), nil, nil)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	// IterationCount increments once more than MaxIterations on the final,
	// rejected PLANNING entry before the loop bails out.
	assert.Equal(t, 3, res.Iteration.IterationCount)
}

func TestVerdictNormalizedFromScoreWhenJudgeStatusDisagrees(t *testing.T) {
	// The judge reports APPROVE but the score is in the hard-fail band;
	// the controller's recorded status must be the score-derived one.
	judge := func(_ context.Context, _ []byte) (Verdict, llmprovider.Usage, error) {
		return Verdict{Status: Approve, Score: scoreOf(20), Notes: "judge thinks it's great"}, llmprovider.Usage{}, nil
	}
	sink := runlog.NewMemorySink()
	c := New(Config{AgentName: "planner", MaxIterations: 1}, fixedUsagePlanner(10), alwaysValid, judge, nil, sink)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Iteration.VerdictHistory, 1)
	assert.Equal(t, HardFail, res.Iteration.VerdictHistory[0].Status)

	_, events := sink.Snapshot()
	assert.Contains(t, events, "verdict status normalized from judge output")
}

func TestSchemaInvalidRoutesToRevisingWithoutIterationIncrement(t *testing.T) {
	attempt := 0
	validator := func(artifact []byte) error {
		attempt++
		if attempt == 1 {
			return fmt.Errorf("missing required field")
		}
		return nil
	}
	c := New(Config{AgentName: "planner", MaxIterations: 3}, fixedUsagePlanner(10), validator, scriptedJudge(90), nil, nil)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, 1, res.Iteration.IterationCount)
}

func TestRevisionRequestTruncatesToCap(t *testing.T) {
	fixes := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		fixes = append(fixes, fmt.Sprintf("fix-%d", i))
	}
	rr := buildRevisionRequest("refine", fixes, nil, "")
	assert.Len(t, rr.SpecificFixes, maxRevisionFixes+1) // cap + summary marker
	assert.Contains(t, rr.SpecificFixes[len(rr.SpecificFixes)-1], "omitted")
	assert.Equal(t, "fix-10", rr.SpecificFixes[0], "truncation keeps the newest items, dropping the oldest")
}
