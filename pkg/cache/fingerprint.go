package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Fingerprint is the sole identity of a cache entry: the triple
// (stage_id, cache_version, input_fingerprint) from spec.md §3.
type Fingerprint struct {
	StageID      string
	CacheVersion string
	InputHash    string
}

// String renders the fingerprint as a stable, path-safe key —
// "stageID@cacheVersion#inputHash" — suitable for namespacing (directory
// names, Redis keys, SQL primary keys). StageID and CacheVersion are
// sanitized (unsafe characters replaced, hash suffix appended) so
// traversal characters in a stage id can never escape a backend's
// namespace; InputHash is used as-is (Compute produces it as hex).
func (f Fingerprint) String() string {
	return fmt.Sprintf("%s@%s#%s", sanitizeComponent(f.StageID), sanitizeComponent(f.CacheVersion), f.InputHash)
}

func sanitizeComponent(s string) string {
	h := sha256.Sum256([]byte(s))
	// Keep short readable prefixes for debuggability but never use the raw
	// string as a path/key component — it may contain "..", "/", etc.
	safe := make([]byte, 0, len(s))
	for i := 0; i < len(s) && i < 40; i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			safe = append(safe, c)
		default:
			safe = append(safe, '_')
		}
	}
	return fmt.Sprintf("%s-%s", string(safe), hex.EncodeToString(h[:])[:12])
}

// Compute builds a Fingerprint for a stage invocation. element is nil for
// non-fan-out stages; for FAN_OUT stages it identifies which element of
// the input sequence produced this invocation, so each element gets its
// own, independently reusable, fingerprint (spec.md §9 open question,
// resolved per-element — see DESIGN.md).
func Compute(stageID, cacheVersion string, input any, element *int) (Fingerprint, error) {
	canon, err := Canonicalize(input)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("cache: canonicalize input for stage %q: %w", stageID, err)
	}

	h := sha256.New()
	h.Write([]byte(stageID))
	h.Write([]byte{0})
	h.Write([]byte(cacheVersion))
	h.Write([]byte{0})
	if element != nil {
		fmt.Fprintf(h, "elem:%d", *element)
		h.Write([]byte{0})
	}
	h.Write(canon)

	return Fingerprint{
		StageID:      stageID,
		CacheVersion: cacheVersion,
		InputHash:    hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Canonicalize produces a deterministic byte encoding of v: stably sorted
// keys, fixed separators, and a registered fallback for values
// encoding/json cannot marshal natively. Two semantically equal inputs
// MUST yield identical bytes (spec.md §4.5/§9) — this is the single most
// important invariant in the cache subsystem; breaking it silently
// defeats every cache-hit guarantee above it.
func Canonicalize(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	// encoding/json already sorts map[string]any keys and uses fixed
	// separators, which is sufficient once every value has been walked
	// through normalize() below.
	return json.Marshal(normalized)
}

// normalize walks v recursively, converting it to a tree of
// json.Marshal-safe values (map[string]any, []any, and scalars) so that
// map key order and field presence are canonical regardless of the
// concrete input type. Values that cannot be marshaled at all (channels,
// funcs, complex numbers) fall back to their %#v representation, per
// spec.md §9's "registered serializer per type" escape hatch.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("!unencodable:%#v", v), nil
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("cache: re-decode canonical value: %w", err)
	}
	return sortedCopy(generic), nil
}

// sortedCopy deep-copies maps into a form whose iteration/marshal order is
// deterministic. json.Marshal already sorts map[string]any keys, so this
// mostly exists to make the sort explicit and future-proof against any
// encoder that doesn't guarantee it, and to recurse into slices.
func sortedCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = sortedCopy(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortedCopy(e)
		}
		return out
	default:
		return t
	}
}
