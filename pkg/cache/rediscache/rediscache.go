// Package rediscache is the Transient-class cache.Backend used for
// non-deterministic (e.g. LLM response) caching, where expiry must be
// enforced by the store itself rather than reconstructed from a
// created_at timestamp. Grounded on the go-redis/v9 client construction
// and error-wrapping style used for the pack's Redis-backed stores.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/pipelinecore/pkg/cache"
)

const keyPrefix = "pipelinecore:cache:"

type record struct {
	Artifact []byte          `json:"artifact"`
	Meta     cache.Metadata  `json:"meta"`
}

// Backend is a Redis-backed, Transient-class cache.Backend. TTL is
// enforced by Redis itself via EX on Store — a key simply disappears
// once it expires. Load ignores its ttl parameter; the expiry is the one
// given at write time (defaultTTL for Store, the explicit ttl for
// StoreWithTTL).
type Backend struct {
	rdb *goredis.Client
}

// New connects to addr and verifies reachability with a ping.
func New(addr string) (*Backend, error) {
	if addr == "" {
		return nil, fmt.Errorf("rediscache: addr required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("rediscache: ping: %w", err)
	}
	return &Backend{rdb: rdb}, nil
}

// NewWithClient wraps an already-constructed client, for callers that
// share one Redis connection pool across multiple subsystems.
func NewWithClient(rdb *goredis.Client) *Backend {
	return &Backend{rdb: rdb}
}

// Close releases the underlying connection pool.
func (b *Backend) Close() error { return b.rdb.Close() }

// Class implements cache.Backend.
func (b *Backend) Class() cache.Class { return cache.Transient }

func (b *Backend) key(fp cache.Fingerprint) string {
	return keyPrefix + fp.String()
}

// Exists implements cache.Backend.
func (b *Backend) Exists(ctx context.Context, fp cache.Fingerprint) (bool, error) {
	n, err := b.rdb.Exists(ctx, b.key(fp)).Result()
	if err != nil {
		return false, fmt.Errorf("rediscache: exists: %w", err)
	}
	return n > 0, nil
}

// Load implements cache.Backend. A missing or Redis-expired key reads as
// a plain miss, per spec.md §4.5.
func (b *Backend) Load(ctx context.Context, fp cache.Fingerprint, _ time.Duration) (*cache.Entry, bool, error) {
	raw, err := b.rdb.Get(ctx, b.key(fp)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rediscache: get: %w", err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// Corrupt payload reads as a miss rather than surfacing an error.
		return nil, false, nil
	}
	return &cache.Entry{Artifact: rec.Artifact, Meta: rec.Meta}, true, nil
}

// defaultTTL is the expiry Store applies (spec.md §3's Transient class
// requires a TTL); Store takes no ttl argument per the Backend
// interface, so the effective lifetime is fixed at defaultTTL unless the
// caller uses StoreWithTTL.
const defaultTTL = time.Hour

// Store implements cache.Backend using defaultTTL. Use StoreWithTTL for
// callers that need a stage-specific expiry.
func (b *Backend) Store(ctx context.Context, fp cache.Fingerprint, artifact []byte, meta cache.Metadata) error {
	return b.StoreWithTTL(ctx, fp, artifact, meta, defaultTTL)
}

// StoreWithTTL writes an entry with an explicit expiry, letting callers
// honor a per-stage Transient TTL from pipeline configuration.
func (b *Backend) StoreWithTTL(ctx context.Context, fp cache.Fingerprint, artifact []byte, meta cache.Metadata, ttl time.Duration) error {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	meta.StepID = fp.StageID
	meta.StepVersion = fp.CacheVersion
	meta.InputFingerprint = fp.InputHash

	raw, err := json.Marshal(record{Artifact: artifact, Meta: meta})
	if err != nil {
		return fmt.Errorf("rediscache: marshal: %w", err)
	}
	if err := b.rdb.Set(ctx, b.key(fp), raw, ttl).Err(); err != nil {
		return fmt.Errorf("rediscache: set: %w", err)
	}
	return nil
}

// Invalidate implements cache.Backend.
func (b *Backend) Invalidate(ctx context.Context, fp cache.Fingerprint) error {
	if err := b.rdb.Del(ctx, b.key(fp)).Err(); err != nil {
		return fmt.Errorf("rediscache: del: %w", err)
	}
	return nil
}
