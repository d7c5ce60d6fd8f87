package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
)

const keyVersion = "v1"

// Key identifies a cached route output.
type Key struct {
	RouteID   string
	Version   string
	InputHash string
	// ArtifactHashes maps the artifacts (and `route:<id>` dependencies) a
	// route consumed to their content hash.
	ArtifactHashes map[string]string
}

// String returns the canonical serialized form of the key. Artifact ids are
// sorted so equal keys always serialize identically.
func (k Key) String() string {
	ids := slices.Sorted(maps.Keys(k.ArtifactHashes))
	pairs := make([]string, len(ids))
	for i, id := range ids {
		pairs[i] = url.QueryEscape(id) + "=" + url.QueryEscape(k.ArtifactHashes[id])
	}
	return strings.Join([]string{
		keyVersion,
		url.QueryEscape(k.RouteID),
		url.QueryEscape(k.Version),
		url.QueryEscape(k.InputHash),
		strings.Join(pairs, ","),
	}, "|")
}

// ParseKey parses the canonical form produced by Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 5 || parts[0] != keyVersion {
		return Key{}, fmt.Errorf("cache: malformed key %q", s)
	}
	var (
		k   = Key{ArtifactHashes: make(map[string]string)}
		err error
	)
	if k.RouteID, err = url.QueryUnescape(parts[1]); err != nil {
		return Key{}, fmt.Errorf("cache: malformed route id in key: %w", err)
	}
	if k.Version, err = url.QueryUnescape(parts[2]); err != nil {
		return Key{}, fmt.Errorf("cache: malformed version in key: %w", err)
	}
	if k.InputHash, err = url.QueryUnescape(parts[3]); err != nil {
		return Key{}, fmt.Errorf("cache: malformed input hash in key: %w", err)
	}
	if parts[4] == "" {
		return k, nil
	}
	for _, pair := range strings.Split(parts[4], ",") {
		rawID, rawHash, ok := strings.Cut(pair, "=")
		if !ok {
			return Key{}, fmt.Errorf("cache: malformed artifact pair %q", pair)
		}
		id, err := url.QueryUnescape(rawID)
		if err != nil {
			return Key{}, fmt.Errorf("cache: malformed artifact id in key: %w", err)
		}
		hash, err := url.QueryUnescape(rawHash)
		if err != nil {
			return Key{}, fmt.Errorf("cache: malformed artifact hash in key: %w", err)
		}
		k.ArtifactHashes[id] = hash
	}
	return k, nil
}

// Equal reports whether two keys identify the same output. The artifact
// maps are compared as sets of (id, hash) pairs.
func (k Key) Equal(other Key) bool {
	return k.RouteID == other.RouteID &&
		k.Version == other.Version &&
		k.InputHash == other.InputHash &&
		maps.Equal(k.ArtifactHashes, other.ArtifactHashes)
}

// Digest returns a fixed-length storage name for the key.
func (k Key) Digest() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
