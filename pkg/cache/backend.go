// Package cache defines the content-addressed cache backend contract
// (spec.md §3/§4.5/§6), its fingerprinting scheme, and several concrete
// backend implementations (filesystem, in-memory, Redis, Postgres,
// SQLite).
package cache

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"
)

// Class is the cache policy class (spec.md §3): Deterministic entries are
// long-lived and invalidated only by version bumps or explicit
// invalidation; Transient entries carry a TTL enforced at load time.
type Class int

const (
	// Deterministic is the default class for pipeline stages: no expiry.
	Deterministic Class = iota
	// Transient is required for non-deterministic/LLM call-level caches.
	Transient
)

// ErrNotFound is returned by nothing directly — backends report a miss by
// returning (nil, false, nil) from Load, never an error, per spec.md
// §4.5 ("any exception yields null (miss)"). It exists so callers that
// want to distinguish "definitely absent" from "backend error" in logs
// have a named sentinel to compare against when they choose to wrap
// errors with it.
var ErrNotFound = errors.New("cache: entry not found")

// Metadata accompanies every stored artifact (spec.md §3).
type Metadata struct {
	StepID            string
	StepVersion       string
	InputFingerprint  string
	CreatedAt         time.Time
	ArtifactModel     string
	ArtifactSchemaVer *int
	ComputeMs         *float64
	ArtifactBytes     *int
}

// Entry pairs a stored artifact with its metadata. Backends must commit
// both atomically: a reader never observes one without the other
// (spec.md §3 invariant; fscache's TestStoreIsAtomic checks its commit).
type Entry struct {
	Artifact []byte // JSON-encoded artifact
	Meta     Metadata
}

// Backend is the cache contract every concrete store implements
// (spec.md §6). All operations are safe for concurrent use.
type Backend interface {
	// Exists reports whether a live (for Transient, unexpired) entry is
	// present for fp.
	Exists(ctx context.Context, fp Fingerprint) (bool, error)

	// Load returns the entry for fp, or (nil, false, nil) on a miss —
	// including expired Transient entries and any corruption, which must
	// read as a miss rather than propagate an error (spec.md §4.5).
	// ttl is ignored by Deterministic-class backends; fscache and
	// memcache in the Transient class compare now-createdAt against it;
	// rediscache ignores it and relies on the key expiry set at Store.
	Load(ctx context.Context, fp Fingerprint, ttl time.Duration) (*Entry, bool, error)

	// Store writes an entry idempotently and atomically (spec.md §4.5,
	// §8 cache-idempotence/atomicity properties).
	Store(ctx context.Context, fp Fingerprint, artifact []byte, meta Metadata) error

	// Invalidate removes any entry for fp. Removing an absent entry is a
	// no-op, not an error.
	Invalidate(ctx context.Context, fp Fingerprint) error

	// Class reports which policy class this backend enforces TTL
	// semantics for. Postgres/SQLite backends are Deterministic and
	// Redis is Transient; filesystem and in-memory backends take their
	// class at construction. Callers that need both classes
	// from one backend type (e.g. filesystem used for both) should wrap
	// two instances rather than relying on this.
	Class() Class
}

// SingleFlightGroup wraps a Backend so that concurrent Load-miss→compute
// sequences for the same fingerprint, within one process, collapse into a
// single in-flight computation (spec.md §4.5's at-most-one-concurrent-
// build guarantee). The Executor's wave structure already guarantees one
// invocation per (stage, wave); this exists for callers — e.g. the
// Iterative Agent Controller's LLM-response cache — that may legitimately
// issue concurrent lookups for the same fingerprint outside the wave
// barrier.
type SingleFlightGroup struct {
	group singleflight.Group
}

// Do ensures only one concurrent call to build runs for a given
// fingerprint; concurrent callers with the same fingerprint block on, and
// share, that single call's result.
func (g *SingleFlightGroup) Do(fp Fingerprint, build func() (*Entry, error)) (*Entry, error) {
	v, err, _ := g.group.Do(fp.String(), func() (any, error) {
		return build()
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}
