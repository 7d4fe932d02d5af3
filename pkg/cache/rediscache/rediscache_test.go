package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/codeready-toolchain/pipelinecore/pkg/cache"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestBackend(t *testing.T) (*miniredis.Miniredis, *Backend) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewWithClient(client)
}

func TestStoreLoadRoundTrip(t *testing.T) {
	_, b := setupTestBackend(t)
	fp := cache.Fingerprint{StageID: "s1", CacheVersion: "1", InputHash: "abc"}

	require.NoError(t, b.Store(context.Background(), fp, []byte(`{"x":1}`), cache.Metadata{ArtifactModel: "gpt"}))

	entry, ok, err := b.Load(context.Background(), fp, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"x":1}`, string(entry.Artifact))
	assert.Equal(t, "gpt", entry.Meta.ArtifactModel)
}

func TestMissReturnsNoError(t *testing.T) {
	_, b := setupTestBackend(t)
	entry, ok, err := b.Load(context.Background(), cache.Fingerprint{StageID: "nope"}, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, entry)
}

func TestExpiredKeyIsMiss(t *testing.T) {
	mr, b := setupTestBackend(t)
	fp := cache.Fingerprint{StageID: "s1", CacheVersion: "1", InputHash: "abc"}
	require.NoError(t, b.StoreWithTTL(context.Background(), fp, []byte("x"), cache.Metadata{}, time.Second))

	mr.FastForward(2 * time.Second)

	_, ok, err := b.Load(context.Background(), fp, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	_, b := setupTestBackend(t)
	fp := cache.Fingerprint{StageID: "s1"}
	require.NoError(t, b.Store(context.Background(), fp, []byte("x"), cache.Metadata{}))
	require.NoError(t, b.Invalidate(context.Background(), fp))

	ok, err := b.Exists(context.Background(), fp)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClassIsTransient(t *testing.T) {
	_, b := setupTestBackend(t)
	assert.Equal(t, cache.Transient, b.Class())
}
