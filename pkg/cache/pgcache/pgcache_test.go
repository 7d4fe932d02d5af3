package pgcache

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/pipelinecore/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres-backed cache test in -short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	b, err := New(ctx, Config{DSN: connStr})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func TestStoreLoadRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	fp := cache.Fingerprint{StageID: "s1", CacheVersion: "1", InputHash: "abc"}

	require.NoError(t, b.Store(context.Background(), fp, []byte(`{"x":1}`), cache.Metadata{ArtifactModel: "gpt"}))

	entry, ok, err := b.Load(context.Background(), fp, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"x":1}`, string(entry.Artifact))
	assert.Equal(t, "gpt", entry.Meta.ArtifactModel)
}

func TestUpsertIsIdempotent(t *testing.T) {
	b := newTestBackend(t)
	fp := cache.Fingerprint{StageID: "s1", CacheVersion: "1", InputHash: "abc"}

	require.NoError(t, b.Store(context.Background(), fp, []byte("first"), cache.Metadata{}))
	require.NoError(t, b.Store(context.Background(), fp, []byte("second"), cache.Metadata{}))

	entry, ok, err := b.Load(context.Background(), fp, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", string(entry.Artifact))
}

func TestMissReturnsNoError(t *testing.T) {
	b := newTestBackend(t)
	entry, ok, err := b.Load(context.Background(), cache.Fingerprint{StageID: "nope"}, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, entry)
}

func TestInvalidate(t *testing.T) {
	b := newTestBackend(t)
	fp := cache.Fingerprint{StageID: "s1"}
	require.NoError(t, b.Store(context.Background(), fp, []byte("x"), cache.Metadata{}))
	require.NoError(t, b.Invalidate(context.Background(), fp))

	ok, err := b.Exists(context.Background(), fp)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClassIsDeterministic(t *testing.T) {
	b := newTestBackend(t)
	assert.Equal(t, cache.Deterministic, b.Class())
}
