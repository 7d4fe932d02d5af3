// Package sqlitecache is an embedded, durable Deterministic-class
// cache.Backend requiring no external database process — suited to a
// single-machine pipeline run or CLI invocation. Grounded on
// re-cinq-wave's internal/state store: a single-connection
// database/sql handle over modernc.org/sqlite, WAL journaling and a
// busy_timeout PRAGMA for safe concurrent access from multiple
// goroutines within one process.
package sqlitecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codeready-toolchain/pipelinecore/pkg/cache"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	stage_id          TEXT NOT NULL,
	cache_version     TEXT NOT NULL,
	input_fingerprint TEXT NOT NULL,
	artifact          BLOB NOT NULL,
	artifact_model    TEXT NOT NULL DEFAULT '',
	artifact_schema_version INTEGER,
	compute_ms        REAL,
	artifact_bytes    INTEGER,
	created_at        TEXT NOT NULL,
	PRIMARY KEY (stage_id, cache_version, input_fingerprint)
);
`

// Backend is a SQLite-backed cache.Backend.
type Backend struct {
	db *sql.DB
}

// New opens (creating if absent) a SQLite database at path and ensures
// the schema exists. path may be ":memory:" for ephemeral use in tests.
func New(path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitecache: open: %w", err)
	}

	// SQLite allows only one writer at a time; cap the pool so
	// database/sql doesn't hand out concurrent connections that would
	// otherwise serialize on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitecache: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitecache: set busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitecache: create schema: %w", err)
	}

	return &Backend{db: db}, nil
}

// Close releases the database handle.
func (b *Backend) Close() error { return b.db.Close() }

// Class implements cache.Backend.
func (b *Backend) Class() cache.Class { return cache.Deterministic }

// Exists implements cache.Backend.
func (b *Backend) Exists(ctx context.Context, fp cache.Fingerprint) (bool, error) {
	var exists bool
	err := b.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM cache_entries WHERE stage_id=? AND cache_version=? AND input_fingerprint=?)`,
		fp.StageID, fp.CacheVersion, fp.InputHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlitecache: exists: %w", err)
	}
	return exists, nil
}

// Load implements cache.Backend. ttl is ignored — entries never expire.
func (b *Backend) Load(ctx context.Context, fp cache.Fingerprint, _ time.Duration) (*cache.Entry, bool, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT artifact, artifact_model, artifact_schema_version, compute_ms, artifact_bytes, created_at
		   FROM cache_entries
		  WHERE stage_id=? AND cache_version=? AND input_fingerprint=?`,
		fp.StageID, fp.CacheVersion, fp.InputHash,
	)

	var (
		artifact   []byte
		model      string
		schemaVer  *int
		computeMs  *float64
		bytesCount *int
		createdRaw string
	)
	if err := row.Scan(&artifact, &model, &schemaVer, &computeMs, &bytesCount, &createdRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, nil //nolint:nilerr // any read failure is treated as a miss
	}

	createdAt, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return nil, false, nil
	}

	return &cache.Entry{
		Artifact: artifact,
		Meta: cache.Metadata{
			StepID:            fp.StageID,
			StepVersion:       fp.CacheVersion,
			InputFingerprint:  fp.InputHash,
			CreatedAt:         createdAt,
			ArtifactModel:     model,
			ArtifactSchemaVer: schemaVer,
			ComputeMs:         computeMs,
			ArtifactBytes:     bytesCount,
		},
	}, true, nil
}

// Store implements cache.Backend via an upsert.
func (b *Backend) Store(ctx context.Context, fp cache.Fingerprint, artifact []byte, meta cache.Metadata) error {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	if meta.ArtifactBytes == nil {
		n := len(artifact)
		meta.ArtifactBytes = &n
	}

	_, err := b.db.ExecContext(ctx,
		`INSERT INTO cache_entries
		   (stage_id, cache_version, input_fingerprint, artifact, artifact_model, artifact_schema_version, compute_ms, artifact_bytes, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?)
		 ON CONFLICT (stage_id, cache_version, input_fingerprint)
		 DO UPDATE SET artifact=excluded.artifact, artifact_model=excluded.artifact_model,
		   artifact_schema_version=excluded.artifact_schema_version, compute_ms=excluded.compute_ms,
		   artifact_bytes=excluded.artifact_bytes, created_at=excluded.created_at`,
		fp.StageID, fp.CacheVersion, fp.InputHash, artifact, meta.ArtifactModel, meta.ArtifactSchemaVer,
		meta.ComputeMs, meta.ArtifactBytes, meta.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlitecache: upsert: %w", err)
	}
	return nil
}

// Invalidate implements cache.Backend.
func (b *Backend) Invalidate(ctx context.Context, fp cache.Fingerprint) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE stage_id=? AND cache_version=? AND input_fingerprint=?`,
		fp.StageID, fp.CacheVersion, fp.InputHash,
	)
	if err != nil {
		return fmt.Errorf("sqlitecache: delete: %w", err)
	}
	return nil
}
