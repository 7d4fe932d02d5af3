package executor

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codeready-toolchain/pipelinecore/pkg/pipeline"
)

// backoffFor builds a cenkalti/backoff ExponentialBackOff configured so
// NextBackOff() reproduces spec's delay formula
// min(InitialDelay * Multiplier^attempt, MaxDelay): disabling
// randomization keeps the sequence exactly reproducible for the retry
// backoff testable property, and MaxElapsedTime is left at zero (no cap)
// since attempt counting is handled by the caller via retry.MaxAttempts.
func backoffFor(policy pipeline.RetryPolicy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialDelay
	b.RandomizationFactor = 0
	b.Multiplier = policy.Multiplier
	b.MaxInterval = policy.MaxDelay
	b.MaxElapsedTime = 0

	if b.InitialInterval <= 0 {
		b.InitialInterval = 100 * time.Millisecond
	}
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = 30 * time.Second
	}
	b.Reset()
	return b
}
