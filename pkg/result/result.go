// Package result provides the immutable success/failure envelope every
// stage returns. It is the sole protocol of communication between waves
// of the pipeline executor.
package result

import "time"

// Result is the immutable envelope produced by every stage invocation.
//
// It is constructed via Success or Failure (the zero Result has
// Success==false, no data and no error). Failure always yields
// Success==false with nil data. Success does not check data: a call with
// nil data yields Success==true with nil Data.
type Result struct {
	success    bool
	data       any
	err        string
	stageName  string
	durationMs int64
	tokensUsed int
	metadata   map[string]any
}

// Option mutates a Result at construction time (duration, tokens,
// metadata). Applied by both Success and Failure factories.
type Option func(*Result)

// WithDuration records how long the stage body took to execute.
func WithDuration(d time.Duration) Option {
	return func(r *Result) { r.durationMs = d.Milliseconds() }
}

// WithTokensUsed records LLM token usage attributable to this result.
func WithTokensUsed(tokens int) Option {
	return func(r *Result) { r.tokensUsed = tokens }
}

// WithMetadata attaches a single metadata key/value pair. Call repeatedly
// for multiple keys.
func WithMetadata(key string, value any) Option {
	return func(r *Result) {
		if r.metadata == nil {
			r.metadata = make(map[string]any)
		}
		r.metadata[key] = value
	}
}

// Success constructs a successful Result carrying data produced by
// stageName.
func Success(stageName string, data any, opts ...Option) *Result {
	r := &Result{
		success:   true,
		data:      data,
		stageName: stageName,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Failure constructs a failed Result. errMsg must be non-empty — stages
// must never return a failure with no explanation, since the Executor
// logs errMsg verbatim when a stage fails (PipelineResult.FailedStages
// itself lists only stage ids).
func Failure(stageName, errMsg string, opts ...Option) *Result {
	r := &Result{
		success:   false,
		err:       errMsg,
		stageName: stageName,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Success reports whether the stage completed without error.
func (r *Result) Success() bool { return r.success }

// Data returns the stage output. Valid only when Success() is true.
func (r *Result) Data() any { return r.data }

// Error returns the failure message. Empty when Success() is true.
func (r *Result) Error() string { return r.err }

// StageName returns the name of the stage that produced this Result.
func (r *Result) StageName() string { return r.stageName }

// DurationMs returns the recorded stage execution duration, in
// milliseconds. Zero if never set via WithDuration.
func (r *Result) DurationMs() int64 { return r.durationMs }

// TokensUsed returns LLM tokens attributable to this result, if any.
func (r *Result) TokensUsed() int { return r.tokensUsed }

// Metadata returns a copy of the result's metadata map. Never nil.
func (r *Result) Metadata() map[string]any {
	out := make(map[string]any, len(r.metadata))
	for k, v := range r.metadata {
		out[k] = v
	}
	return out
}
