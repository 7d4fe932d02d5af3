// Package memcache provides an in-memory cache.Backend used by unit tests
// and as a Deterministic-class default when no durable backend is
// configured. Grounded on pkg/runbook/cache.go's RWMutex-guarded map with
// lazy TTL eviction on read, generalized from a single string value to a
// typed artifact+metadata cache.Entry.
package memcache

import (
	"context"
	"sync"
	"time"

	"github.com/codeready-toolchain/pipelinecore/pkg/cache"
)

// Backend is a thread-safe in-memory cache.Backend.
type Backend struct {
	mu      sync.RWMutex
	entries map[string]cache.Entry
	class   cache.Class
}

// New creates an in-memory backend enforcing the given policy class.
func New(class cache.Class) *Backend {
	return &Backend{
		entries: make(map[string]cache.Entry),
		class:   class,
	}
}

// Class implements cache.Backend.
func (b *Backend) Class() cache.Class { return b.class }

// Exists implements cache.Backend. It calls Load with a zero ttl, so no
// TTL is applied: an expired Transient entry still reports true.
func (b *Backend) Exists(ctx context.Context, fp cache.Fingerprint) (bool, error) {
	entry, _, err := b.Load(ctx, fp, 0)
	return entry != nil, err
}

// Load implements cache.Backend.
func (b *Backend) Load(_ context.Context, fp cache.Fingerprint, ttl time.Duration) (*cache.Entry, bool, error) {
	key := fp.String()

	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if b.class == cache.Transient && ttl > 0 && time.Since(entry.Meta.CreatedAt) > ttl {
		// Expired — clean up lazily, re-checking under the write lock in
		// case a concurrent Store() already refreshed it.
		b.mu.Lock()
		if current, ok := b.entries[key]; ok && time.Since(current.Meta.CreatedAt) > ttl {
			delete(b.entries, key)
		}
		b.mu.Unlock()
		return nil, false, nil
	}

	out := entry
	return &out, true, nil
}

// Store implements cache.Backend.
func (b *Backend) Store(_ context.Context, fp cache.Fingerprint, artifact []byte, meta cache.Metadata) error {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	b.mu.Lock()
	b.entries[fp.String()] = cache.Entry{Artifact: artifact, Meta: meta}
	b.mu.Unlock()
	return nil
}

// Invalidate implements cache.Backend.
func (b *Backend) Invalidate(_ context.Context, fp cache.Fingerprint) error {
	b.mu.Lock()
	delete(b.entries, fp.String())
	b.mu.Unlock()
	return nil
}
