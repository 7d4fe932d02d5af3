// Package execctx is the Execution Context carried through a single
// pipeline run: the capability bag, the mutable state bag shared between
// stages, the metrics bag, cancellation, and cache access. Grounded on
// agent.ExecutionContext's role as the per-run dependency/state carrier
// passed into every stage invocation, generalized from a single
// LLM-agent run to an arbitrary multi-stage pipeline.
package execctx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/pipelinecore/pkg/cache"
)

// Capabilities groups the external dependencies a stage may need —
// an LLM provider, an audio analyzer, or any other side-effecting
// client — injected once at run construction and shared read-only
// across every stage. Concrete capability interfaces live in their own
// packages (e.g. llmprovider.Provider); this bag stores them by name so
// the executor need not know which capabilities any given pipeline
// requires.
type Capabilities struct {
	mu    sync.RWMutex
	items map[string]any
}

// NewCapabilities builds an empty capability bag.
func NewCapabilities() *Capabilities {
	return &Capabilities{items: make(map[string]any)}
}

// Set registers a capability under name. Intended to be called during
// run setup, before any stage executes.
func (c *Capabilities) Set(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[name] = value
}

// Get returns the capability registered under name, if any.
func (c *Capabilities) Get(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[name]
	return v, ok
}

// StateBag is the mutable key-value store stages use to pass
// non-declared, ad-hoc state to later stages beyond their declared
// input/output wiring. Sibling stages in one wave run concurrently, so
// writes by siblings to the same key are not ordered; wave scheduling
// only guarantees that a wave's writes are visible to every later wave.
// Each Set/Get is mutex-guarded, so individual accesses are safe.
type StateBag struct {
	mu    sync.RWMutex
	items map[string]any
}

func newStateBag() *StateBag {
	return &StateBag{items: make(map[string]any)}
}

// Set stores value under key, overwriting any previous value.
func (s *StateBag) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
}

// Get retrieves the value stored under key.
func (s *StateBag) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Snapshot returns a shallow copy of the bag's contents, safe to range
// over without holding the bag's lock.
func (s *StateBag) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.items))
	for k, v := range s.items {
		out[k] = v
	}
	return out
}

// MetricsBag accumulates run-scoped counters — tokens consumed,
// stages retried, cache hits — independent of any individual stage's
// Result metadata.
type MetricsBag struct {
	mu      sync.Mutex
	counts  map[string]int64
	gauges  map[string]float64
}

func newMetricsBag() *MetricsBag {
	return &MetricsBag{
		counts: make(map[string]int64),
		gauges: make(map[string]float64),
	}
}

// Add increments a named counter by delta.
func (m *MetricsBag) Add(name string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name] += delta
}

// Set assigns a named gauge value, overwriting any previous value.
func (m *MetricsBag) Set(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

// Counter returns the current value of a named counter.
func (m *MetricsBag) Counter(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

// Gauge returns the current value of a named gauge.
func (m *MetricsBag) Gauge(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

// Snapshot returns copies of both the counters and gauges.
func (m *MetricsBag) Snapshot() (counts map[string]int64, gauges map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts = make(map[string]int64, len(m.counts))
	for k, v := range m.counts {
		counts[k] = v
	}
	gauges = make(map[string]float64, len(m.gauges))
	for k, v := range m.gauges {
		gauges[k] = v
	}
	return counts, gauges
}

// Context is the full Execution Context for one pipeline run, passed by
// reference into every stage invocation.
type Context struct {
	RunID string

	Capabilities *Capabilities
	State        *StateBag
	Metrics      *MetricsBag

	cache   cache.Backend
	sfGroup *cache.SingleFlightGroup

	cancelled atomic.Bool
}

// New constructs an Execution Context for a single pipeline run. backend
// may be nil for pipelines that declare no cacheable stages.
func New(runID string, capabilities *Capabilities, backend cache.Backend) *Context {
	if capabilities == nil {
		capabilities = NewCapabilities()
	}
	return &Context{
		RunID:        runID,
		Capabilities: capabilities,
		State:        newStateBag(),
		Metrics:      newMetricsBag(),
		cache:        backend,
		sfGroup:      &cache.SingleFlightGroup{},
	}
}

// Cache returns the cache backend configured for this run, or nil if
// none was configured.
func (c *Context) Cache() cache.Backend { return c.cache }

// SingleFlight returns the run-scoped dedup group used to collapse
// concurrent cache-miss builds for the same fingerprint.
func (c *Context) SingleFlight() *cache.SingleFlightGroup { return c.sfGroup }

// Cancel marks the run as cancelled. Cooperative: stages and the
// executor observe it via Cancelled() or via ctx.Done() on the
// context.Context passed alongside this Execution Context; Cancel does
// not itself interrupt any in-flight call.
func (c *Context) Cancel() { c.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called for this run.
func (c *Context) Cancelled() bool { return c.cancelled.Load() }

// cancelPollInterval bounds how quickly a Cancel() call propagates to a
// context.Context handed out by WithCancel.
const cancelPollInterval = 25 * time.Millisecond

// WithCancel returns a context.Context that is done either when parent
// is done or when this Execution Context is cancelled, plus a function
// stages should defer-call to release the background watcher goroutine.
func (c *Context) WithCancel(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.Cancelled() {
					cancel()
					return
				}
			}
		}
	}()
	return ctx, func() { close(stop); cancel() }
}
