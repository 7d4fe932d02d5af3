// Package fscache is the filesystem reference cache backend from
// spec.md §6: one directory per fingerprint containing artifact.json and
// meta.json. Grounded on pkg/runbook/cache.go's TTL/locking shape,
// extended to disk with a temp-file-then-rename publish of each file and
// meta.json written last, so a Load never succeeds on a directory holding
// one file but not the other (spec.md §3/§4.5 atomicity invariant).
package fscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codeready-toolchain/pipelinecore/pkg/cache"
)

// metaFile mirrors cache.Metadata for JSON (un)marshaling with stable
// field names independent of the exported struct's Go field order.
type metaFile struct {
	StepID            string     `json:"step_id"`
	StepVersion       string     `json:"step_version"`
	InputFingerprint  string     `json:"input_fingerprint"`
	CreatedAt         time.Time  `json:"created_at"`
	ArtifactModel     string     `json:"artifact_model"`
	ArtifactSchemaVer *int       `json:"artifact_schema_version,omitempty"`
	ComputeMs         *float64   `json:"compute_ms,omitempty"`
	ArtifactBytes     *int       `json:"artifact_bytes,omitempty"`
}

// Backend is a filesystem-backed cache.Backend rooted at Dir.
type Backend struct {
	Dir   string
	class cache.Class
}

// New creates a filesystem backend rooted at dir, which is created if
// absent. class determines whether TTL is enforced at Load.
func New(dir string, class cache.Class) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fscache: create root %q: %w", dir, err)
	}
	return &Backend{Dir: dir, class: class}, nil
}

// Class implements cache.Backend.
func (b *Backend) Class() cache.Class { return b.class }

func (b *Backend) entryDir(fp cache.Fingerprint) string {
	return filepath.Join(b.Dir, fp.String())
}

// Exists implements cache.Backend. It calls Load with a zero ttl, so no
// TTL is applied: an expired Transient entry still reports true.
func (b *Backend) Exists(ctx context.Context, fp cache.Fingerprint) (bool, error) {
	entry, ok, err := b.Load(ctx, fp, 0)
	return entry != nil && ok, err
}

// Load implements cache.Backend. Any read/parse/consistency failure is
// treated as a miss, never surfaced as an error, per spec.md §4.5.
func (b *Backend) Load(_ context.Context, fp cache.Fingerprint, ttl time.Duration) (*cache.Entry, bool, error) {
	dir := b.entryDir(fp)

	metaRaw, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return nil, false, nil //nolint:nilerr // miss, not error (spec.md §4.5)
	}
	artifact, err := os.ReadFile(filepath.Join(dir, "artifact.json"))
	if err != nil {
		return nil, false, nil //nolint:nilerr
	}

	var mf metaFile
	if err := json.Unmarshal(metaRaw, &mf); err != nil {
		return nil, false, nil //nolint:nilerr
	}

	// Verify metadata identifies this exact fingerprint before trusting
	// the artifact — corruption or a hash-namespace collision must read
	// as a miss.
	if mf.StepID != fp.StageID || mf.StepVersion != fp.CacheVersion || mf.InputFingerprint != fp.InputHash {
		return nil, false, nil
	}

	if b.class == cache.Transient && ttl > 0 && time.Since(mf.CreatedAt) > ttl {
		return nil, false, nil
	}

	return &cache.Entry{
		Artifact: artifact,
		Meta: cache.Metadata{
			StepID:            mf.StepID,
			StepVersion:       mf.StepVersion,
			InputFingerprint:  mf.InputFingerprint,
			CreatedAt:         mf.CreatedAt,
			ArtifactModel:     mf.ArtifactModel,
			ArtifactSchemaVer: mf.ArtifactSchemaVer,
			ComputeMs:         mf.ComputeMs,
			ArtifactBytes:     mf.ArtifactBytes,
		},
	}, true, nil
}

// Store implements cache.Backend. Writes artifact.json then meta.json
// through temp files renamed into place — each rename is atomic within
// the same filesystem. Between the two renames the directory holds
// artifact.json alone; Load reads that state as a miss because meta.json
// is absent (spec.md §3/§8 atomicity property).
func (b *Backend) Store(_ context.Context, fp cache.Fingerprint, artifact []byte, meta cache.Metadata) error {
	dir := b.entryDir(fp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fscache: mkdir %q: %w", dir, err)
	}

	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	meta.StepID = fp.StageID
	meta.StepVersion = fp.CacheVersion
	meta.InputFingerprint = fp.InputHash
	if meta.ArtifactBytes == nil {
		n := len(artifact)
		meta.ArtifactBytes = &n
	}

	metaRaw, err := json.Marshal(metaFile{
		StepID:            meta.StepID,
		StepVersion:       meta.StepVersion,
		InputFingerprint:  meta.InputFingerprint,
		CreatedAt:         meta.CreatedAt,
		ArtifactModel:     meta.ArtifactModel,
		ArtifactSchemaVer: meta.ArtifactSchemaVer,
		ComputeMs:         meta.ComputeMs,
		ArtifactBytes:     meta.ArtifactBytes,
	})
	if err != nil {
		return fmt.Errorf("fscache: marshal meta: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, "artifact.json"), artifact); err != nil {
		return fmt.Errorf("fscache: write artifact: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, "meta.json"), metaRaw); err != nil {
		return fmt.Errorf("fscache: write meta: %w", err)
	}
	return nil
}

// Invalidate implements cache.Backend.
func (b *Backend) Invalidate(_ context.Context, fp cache.Fingerprint) error {
	if err := os.RemoveAll(b.entryDir(fp)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fscache: invalidate %q: %w", fp.String(), err)
	}
	return nil
}

// writeAtomic writes data to a temp file in the same directory as path,
// then renames it into place so readers never observe a partial write.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
