// Package pipeline is the declarative Pipeline Definition: named stage
// definitions, their dependency wiring, execution pattern, retry policy,
// and the wave partitioning the Executor consumes. Grounded on
// tarsy's config validation style (fail-fast-at-construction, reporting
// the first problem found) generalized from a fixed chain-of-stages
// config to an arbitrary DAG.
package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/codeready-toolchain/pipelinecore/pkg/execctx"
	"github.com/codeready-toolchain/pipelinecore/pkg/stage"
)

// Pattern is a stage's execution pattern.
type Pattern int

const (
	// Sequential stages run once with their resolved input (any number
	// of declared inputs).
	Sequential Pattern = iota
	// Parallel stages behave like Sequential for a single invocation but
	// signal intent to run alongside wave-mates (the distinction from
	// Sequential is documentational — the executor schedules every
	// non-fan-out stage in a wave concurrently regardless).
	Parallel
	// FanOut invokes the stage once per element of its single resolved
	// input, which must be an ordered sequence.
	FanOut
	// Conditional stages only run if Condition(ctx) returns true; a
	// skipped conditional stage contributes no output (spec.md §9 open
	// question, resolved as full omission — see DESIGN.md).
	Conditional
)

func (p Pattern) String() string {
	switch p {
	case Sequential:
		return "SEQUENTIAL"
	case Parallel:
		return "PARALLEL"
	case FanOut:
		return "FAN_OUT"
	case Conditional:
		return "CONDITIONAL"
	default:
		return "UNKNOWN"
	}
}

// RetryPolicy bounds retry attempts for a stage invocation with
// exponential backoff: delay(n) = min(InitialDelay * Multiplier^n, MaxDelay).
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Retryable classifies a failure as transient (retry) vs terminal.
	// nil means no result is ever retried (MaxAttempts effectively 1).
	Retryable func(err string) bool
}

// NoRetry is the zero-retry policy: a single attempt, no backoff.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// Definition is one immutable stage definition within a Pipeline.
type Definition struct {
	ID    string
	Stage stage.Stage
	// Inputs lists upstream stage ids, in declaration order. Resolution:
	// zero inputs → the pipeline's seed input; one input → that
	// upstream's output value; two or more → a map[string]any keyed by
	// upstream id.
	Inputs []string
	Pattern Pattern
	// Condition is required when Pattern == Conditional.
	Condition func(*execctx.Context) bool
	Retry     RetryPolicy
	Timeout   time.Duration // zero means no timeout
	// Critical true makes a failure abort the pipeline; false reports
	// the failure without aborting. New applies no default: a definition
	// that leaves Critical unset is not critical.
	Critical bool
	// CacheVersion participates in the cache fingerprint; bump it to
	// invalidate all existing entries for this stage.
	CacheVersion string
	// CacheKeyFn derives the semantic cache input from the resolved
	// stage input. nil disables caching for this stage.
	CacheKeyFn func(input any) (any, error)
}

// SeedKey is the sentinel upstream id for stages declaring no inputs —
// they receive the pipeline's seed input instead.
const SeedKey = "__seed__"

// Pipeline is an immutable, validated, wave-partitioned stage graph.
type Pipeline struct {
	Name   string
	Stages []Definition

	byID  map[string]Definition
	waves [][]Definition
}

// New validates defs and builds a Pipeline, computing its wave plan.
// Validation enforces: non-empty name, unique stage ids, every declared
// input refers to a defined id (or SeedKey), acyclicity, Conditional
// stages carry a Condition, and FanOut stages declare exactly one input.
func New(name string, defs []Definition) (*Pipeline, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("pipeline: name is required")
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("pipeline: at least one stage is required")
	}

	byID := make(map[string]Definition, len(defs))
	for _, d := range defs {
		if strings.TrimSpace(d.ID) == "" {
			return nil, fmt.Errorf("pipeline: stage id must not be empty")
		}
		if _, dup := byID[d.ID]; dup {
			return nil, fmt.Errorf("pipeline: duplicate stage id %q", d.ID)
		}
		if d.Stage == nil {
			return nil, fmt.Errorf("pipeline: stage %q has no implementation", d.ID)
		}
		byID[d.ID] = normalizeDefaults(d)
	}

	for id, d := range byID {
		for _, in := range d.Inputs {
			if in == SeedKey {
				continue
			}
			if _, ok := byID[in]; !ok {
				return nil, fmt.Errorf("pipeline: stage %q declares undefined input %q", id, in)
			}
		}
		if d.Pattern == Conditional && d.Condition == nil {
			return nil, fmt.Errorf("pipeline: stage %q is CONDITIONAL but declares no condition", id)
		}
		if d.Pattern == FanOut && len(d.Inputs) != 1 {
			return nil, fmt.Errorf("pipeline: stage %q is FAN_OUT but declares %d inputs (must be exactly 1)", id, len(d.Inputs))
		}
	}

	waves, err := computeWaves(byID)
	if err != nil {
		return nil, err
	}

	ordered := make([]Definition, 0, len(defs))
	for _, w := range waves {
		ordered = append(ordered, w...)
	}

	return &Pipeline{
		Name:   name,
		Stages: ordered,
		byID:   byID,
		waves:  waves,
	}, nil
}

func normalizeDefaults(d Definition) Definition {
	if d.Retry.MaxAttempts == 0 {
		d.Retry = RetryPolicy{MaxAttempts: 1}
	}
	if d.CacheVersion == "" {
		d.CacheVersion = "1"
	}
	// Critical is left as given: Go's zero value for bool is false, so a
	// definition that does not set Critical is not critical.
	return d
}

// NotCritical is a convenience value for Definition.Critical call sites
// that want to be explicit about opting out of fail-fast, since Go's
// bool zero value (false) would otherwise silently mean "not critical"
// for any definition that forgets to set it.
const NotCritical = false

// Waves returns the computed wave partition: Waves()[k] is the set of
// stage definitions eligible to run concurrently once every wave < k has
// completed.
func (p *Pipeline) Waves() [][]Definition { return p.waves }

// Get returns the definition for id.
func (p *Pipeline) Get(id string) (Definition, bool) {
	d, ok := p.byID[id]
	return d, ok
}

// computeWaves performs a Kahn's-algorithm topological partition:
// wave_0 is every stage whose inputs are only SeedKey/empty; wave_k+1 is
// every remaining stage whose inputs are all satisfied by ⋃_{i≤k} wave_i.
// A pipeline that cannot be fully partitioned contains a cycle.
func computeWaves(byID map[string]Definition) ([][]Definition, error) {
	remaining := make(map[string]Definition, len(byID))
	for id, d := range byID {
		remaining[id] = d
	}

	satisfied := make(map[string]bool)
	var waves [][]Definition

	for len(remaining) > 0 {
		var wave []string
		for id, d := range remaining {
			if allSatisfied(d.Inputs, satisfied) {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("pipeline: stage graph contains a cycle involving %s", strings.Join(remainingIDs(remaining), ", "))
		}
		sort.Strings(wave) // deterministic ordering for reproducible wave listings
		var waveDefs []Definition
		for _, id := range wave {
			waveDefs = append(waveDefs, remaining[id])
			delete(remaining, id)
			satisfied[id] = true
		}
		waves = append(waves, waveDefs)
	}
	return waves, nil
}

func allSatisfied(inputs []string, satisfied map[string]bool) bool {
	for _, in := range inputs {
		if in == SeedKey {
			continue
		}
		if !satisfied[in] {
			return false
		}
	}
	return true
}

func remainingIDs(remaining map[string]Definition) []string {
	ids := make([]string, 0, len(remaining))
	for id := range remaining {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
