package controller

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/pipelinecore/pkg/feedback"
	"github.com/codeready-toolchain/pipelinecore/pkg/llmprovider"
	"github.com/codeready-toolchain/pipelinecore/pkg/runlog"
)

// IterationState is the per-controller-run transient bookkeeping
// (spec.md §3).
type IterationState struct {
	IterationCount    int
	TotalTokensUsed   int
	VerdictHistory    []Verdict
	BestArtifact      []byte
	BestScore         *float64
	TerminationReason string
	ConversationID    string
}

// PlannerFunc produces (on PLANNING) or revises (on REVISING) a
// candidate artifact as raw JSON, plus usage. conversationID is never
// empty: the controller mints a fresh id for every PLANNING entry and
// passes that same id again for each REVISING call that follows it.
// feedbackText is the formatted output of feedback.Manager's
// GetForPrompt, or "" on the very first planning call.
type PlannerFunc func(ctx context.Context, conversationID, feedbackText string) (artifact []byte, usage llmprovider.Usage, err error)

// ValidatorFunc structurally validates a candidate artifact (typically
// pkg/schema.Validator.ValidateJSON). A non-nil error is treated as
// SCHEMA_INVALID feedback, never as a fatal error.
type ValidatorFunc func(artifact []byte) error

// JudgeFunc scores a validated candidate artifact.
type JudgeFunc func(ctx context.Context, artifact []byte) (Verdict, llmprovider.Usage, error)

// Config parameterizes one Controller.
type Config struct {
	AgentName      string
	MaxIterations  int
	TokenBudget    int // 0 = unbounded
	Thresholds     Thresholds
	FeedbackTokens int // max_tokens passed to feedback.Manager.GetForPrompt
}

// Controller drives one plan→validate→judge→revise run to a terminal
// state (spec.md §4.6).
type Controller struct {
	cfg      Config
	planner  PlannerFunc
	validate ValidatorFunc
	judge    JudgeFunc
	feedback *feedback.Manager
	logger   runlog.Logger
}

// New constructs a Controller. fb and logger may be nil; a nil fb gets a
// fresh feedback.Manager, a nil logger gets a private runlog.MemorySink
// whose recorded Event/RecordCall calls are never read.
func New(cfg Config, planner PlannerFunc, validator ValidatorFunc, judge JudgeFunc, fb *feedback.Manager, logger runlog.Logger) *Controller {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 1
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.FeedbackTokens <= 0 {
		cfg.FeedbackTokens = 2000
	}
	if fb == nil {
		fb = feedback.New(nil)
	}
	if logger == nil {
		logger = runlog.NewMemorySink()
	}
	return &Controller{cfg: cfg, planner: planner, validate: validator, judge: judge, feedback: fb, logger: logger}
}

// Result is the outcome of one Controller.Run call.
type Result struct {
	State State
	// Artifact is the approved candidate on SUCCEEDED, or the
	// highest-scoring candidate observed so far on FAILED/BUDGET_EXHAUSTED
	// if at least one verdict carried a non-zero score (spec.md §4.6
	// scoring tie-break); nil otherwise.
	Artifact []byte
	Iteration *IterationState
}

// Run executes the state machine to a terminal state.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	state := StatePlanning
	iter := &IterationState{}

	var currentArtifact []byte
	var pendingFeedback string
	var lastConversationID string

	for {
		switch state {
		case StatePlanning:
			iter.IterationCount++
			if iter.IterationCount > c.cfg.MaxIterations {
				iter.TerminationReason = "max_iterations_exceeded"
				return c.terminal(StateFailed, iter), nil
			}

			convID := mintConversationID(c.cfg.AgentName, iter.IterationCount)
			artifact, usage, err := c.planner(ctx, convID, pendingFeedback)
			c.recordCall("planner", usage, err)
			if err != nil {
				iter.TerminationReason = fmt.Sprintf("planner error: %s", err)
				return c.terminal(StateFailed, iter), nil
			}

			iter.TotalTokensUsed += usage.TotalTokens
			lastConversationID = convID
			iter.ConversationID = convID
			currentArtifact = artifact

			if exhausted, res := c.checkBudget(iter); exhausted {
				return res, nil
			}
			state = StateValidating

		case StateRevising:
			artifact, usage, err := c.planner(ctx, lastConversationID, pendingFeedback)
			c.recordCall("planner_revise", usage, err)
			if err != nil {
				iter.TerminationReason = fmt.Sprintf("planner error: %s", err)
				return c.terminal(StateFailed, iter), nil
			}

			iter.TotalTokensUsed += usage.TotalTokens
			currentArtifact = artifact

			if exhausted, res := c.checkBudget(iter); exhausted {
				return res, nil
			}
			state = StateValidating

		case StateValidating:
			if err := c.validate(currentArtifact); err != nil {
				c.feedback.Add(feedback.TypeSchemaInvalid, err.Error(), iter.IterationCount)
				c.logger.Event("schema invalid, revising in place", "iteration", iter.IterationCount)
				pendingFeedback = c.feedback.GetForPrompt(c.cfg.FeedbackTokens)
				state = StateRevising
				continue
			}
			state = StateJudging

		case StateJudging:
			rawVerdict, usage, err := c.judge(ctx, currentArtifact)
			c.recordCall("judge", usage, err)
			if err != nil {
				iter.TerminationReason = fmt.Sprintf("judge error: %s", err)
				return c.terminal(StateFailed, iter), nil
			}
			iter.TotalTokensUsed += usage.TotalTokens

			verdict := c.normalize(rawVerdict)
			iter.VerdictHistory = append(iter.VerdictHistory, verdict)
			c.trackBest(iter, verdict, currentArtifact)

			if exhausted, res := c.checkBudget(iter); exhausted {
				return res, nil
			}

			switch verdict.Status {
			case Approve:
				return c.terminal(StateSucceeded, iter), nil
			case SoftFail:
				rr := buildRevisionRequest("refine", verdict.RequiredFixes, nil, verdict.Notes)
				c.feedback.Add(feedback.TypeJudgeSoftFailure, formatRevisionRequest(rr), iter.IterationCount)
				pendingFeedback = c.feedback.GetForPrompt(c.cfg.FeedbackTokens)
				state = StateRevising
			case HardFail:
				c.feedback.Add(feedback.TypeJudgeHardFailure, verdictFeedbackText(verdict), iter.IterationCount)
				pendingFeedback = c.feedback.GetForPrompt(c.cfg.FeedbackTokens)
				lastConversationID = ""
				state = StatePlanning
			}

		default:
			return nil, fmt.Errorf("controller: unreachable state %q", state)
		}
	}
}

func verdictFeedbackText(v Verdict) string {
	score := "unscored"
	if v.Score != nil {
		score = fmt.Sprintf("%.0f", *v.Score)
	}
	text := fmt.Sprintf("score=%s: %s", score, v.Notes)
	for _, fix := range v.RequiredFixes {
		text += "; fix: " + fix
	}
	return text
}

// normalize applies spec.md §4.6's score-derived normalization: the
// recorded status always follows Thresholds.Classify(score), regardless
// of what the judge itself reported, with a logged normalization event
// when the two disagreed. A verdict without a score is passed through
// unnormalized — there is nothing to derive a status from.
func (c *Controller) normalize(v Verdict) Verdict {
	if v.Score == nil {
		return v
	}
	derived := c.cfg.Thresholds.Classify(*v.Score)
	if derived != v.Status {
		c.logger.Event("verdict status normalized from judge output",
			"judge_status", string(v.Status), "derived_status", string(derived), "score", *v.Score)
	}
	v.Status = derived
	return v
}

func (c *Controller) trackBest(iter *IterationState, v Verdict, artifact []byte) {
	if v.Score == nil {
		return
	}
	if iter.BestScore == nil || *v.Score > *iter.BestScore {
		score := *v.Score
		iter.BestScore = &score
		iter.BestArtifact = artifact
	}
}

// checkBudget implements spec.md §4.6's "any state → BUDGET_EXHAUSTED if
// cumulative tokens ≥ budget", evaluated right after usage from the call
// that may have crossed it is accumulated (spec.md §8 property #10
// permits the last call's overshoot).
func (c *Controller) checkBudget(iter *IterationState) (bool, *Result) {
	if c.cfg.TokenBudget <= 0 || iter.TotalTokensUsed < c.cfg.TokenBudget {
		return false, nil
	}
	iter.TerminationReason = "budget_exhausted"
	return true, c.terminal(StateBudgetExhausted, iter)
}

func (c *Controller) terminal(state State, iter *IterationState) *Result {
	res := &Result{State: state, Iteration: iter}
	switch state {
	case StateSucceeded:
		// The approving judge call's artifact is always the latest best,
		// since Approve short-circuits before any further revision.
		res.Artifact = iter.BestArtifact
	case StateFailed, StateBudgetExhausted:
		// Scoring tie-break (spec.md §4.6): return the best-effort
		// candidate if any verdict carried a non-zero score, else plain
		// failure.
		if iter.BestScore != nil && *iter.BestScore > 0 {
			res.Artifact = iter.BestArtifact
		}
	}
	return res
}

func (c *Controller) recordCall(kind string, usage llmprovider.Usage, err error) {
	c.logger.RecordCall(runlog.Call{Kind: kind, TokensUsed: usage.TotalTokens, Err: err})
}
