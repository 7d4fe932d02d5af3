// Package controller is the Iterative Agent Controller (spec.md §4.6):
// the plan → validate → judge → revise state machine that drives an LLM
// agent to a structured artifact, bounded by an iteration ceiling and a
// token budget. Grounded on tarsy's pkg/agent/controller package —
// iterating.go's iteration-count/failure-threshold bookkeeping and
// scoring.go's judge-style scoring turn — generalized from tarsy's
// ReAct tool-calling loop to the planner/validator/judge cycle spec.md
// §4.6 specifies, since no library in the retrieved pack implements
// judge-verdict-threshold routing itself.
package controller

import (
	"fmt"

	"github.com/google/uuid"
)

// State is one node of the controller's state machine (spec.md §4.6).
type State string

const (
	StatePlanning        State = "PLANNING"
	StateValidating      State = "VALIDATING"
	StateJudging         State = "JUDGING"
	StateRevising        State = "REVISING"
	StateSucceeded       State = "SUCCEEDED"
	StateFailed          State = "FAILED"
	StateBudgetExhausted State = "BUDGET_EXHAUSTED"
)

// IsTerminal reports whether s is one of the three terminal states.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateBudgetExhausted
}

// VerdictStatus is the judge's classification of a candidate artifact.
type VerdictStatus string

const (
	Approve  VerdictStatus = "APPROVE"
	SoftFail VerdictStatus = "SOFT_FAIL"
	HardFail VerdictStatus = "HARD_FAIL"
)

// Verdict is the judge's structured assessment of one candidate
// artifact (spec.md §3). Score is nil only when the judge turn itself
// failed before producing a number; a present Score always drives
// Status via Thresholds (spec.md §4.6's score-derived normalization).
type Verdict struct {
	Status        VerdictStatus
	Score         *float64
	Notes         string
	RequiredFixes []string
}

// IsApproved reports status == Approve.
func (v Verdict) IsApproved() bool { return v.Status == Approve }

// Thresholds configures verdict classification (spec.md §4.6, defaults
// shown in the spec: approve ≥ 70, soft 50–70, hard < 50).
type Thresholds struct {
	Approve float64
	Soft    float64
}

// DefaultThresholds returns the spec's documented default band.
func DefaultThresholds() Thresholds {
	return Thresholds{Approve: 70, Soft: 50}
}

// Classify derives a VerdictStatus purely from score, ignoring any
// status the judge itself reported — spec.md §4.6 mandates score-derived
// normalization over re-querying the judge when the two disagree.
func (t Thresholds) Classify(score float64) VerdictStatus {
	switch {
	case score >= t.Approve:
		return Approve
	case score >= t.Soft:
		return SoftFail
	default:
		return HardFail
	}
}

// maxRevisionFixes is the revision-request cap (spec.md §9 open
// question: "15 vs 25 items in source material"; resolved at 20, the
// midpoint of the documented range — see DESIGN.md).
const maxRevisionFixes = 20

// RevisionRequest is the envelope fed back into the planner on
// REVISING/PLANNING re-entry (spec.md §4.6).
type RevisionRequest struct {
	Priority             string
	FocusAreas           []string
	SpecificFixes        []string
	Avoid                []string
	ContextForNextAttempt string
}

// buildRevisionRequest truncates fixes to the most recent maxRevisionFixes
// items (FIFO of the oldest beyond the cap, per spec.md §4.6) and appends
// a summary marker when truncation occurred.
func buildRevisionRequest(priority string, fixes []string, avoid []string, context string) RevisionRequest {
	specific := fixes
	truncated := false
	if len(specific) > maxRevisionFixes {
		truncated = true
		specific = append([]string{}, specific[len(specific)-maxRevisionFixes:]...)
	}
	if truncated {
		specific = append(specific, fmt.Sprintf("(%d earlier fix items omitted)", len(fixes)-maxRevisionFixes))
	}
	return RevisionRequest{
		Priority:              priority,
		FocusAreas:            []string{},
		SpecificFixes:         specific,
		Avoid:                 avoid,
		ContextForNextAttempt: context,
	}
}

// formatRevisionRequest renders a RevisionRequest as plain text suitable
// for a Feedback Manager entry / a planner prompt.
func formatRevisionRequest(rr RevisionRequest) string {
	s := fmt.Sprintf("priority=%s", rr.Priority)
	if rr.ContextForNextAttempt != "" {
		s += "; context: " + rr.ContextForNextAttempt
	}
	for _, fix := range rr.SpecificFixes {
		s += "; fix: " + fix
	}
	for _, avoid := range rr.Avoid {
		s += "; avoid: " + avoid
	}
	return s
}

// mintConversationID builds a conversation id of the form
// "{agent_name}_iter{iteration}_{short_uuid}" (spec.md §5). Called once
// per PLANNING entry — initial and every hard-fail replan — never on a
// REVISING re-entry, which reuses the id minted by its owning PLANNING
// call.
func mintConversationID(agentName string, iteration int) string {
	short := uuid.NewString()[:8]
	return fmt.Sprintf("%s_iter%d_%s", agentName, iteration, short)
}
