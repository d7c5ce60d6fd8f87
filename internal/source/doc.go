// Package source provides pipeline.Backend implementations: an in-memory
// fixture backend, a path-safe local directory, a plain HTTP endpoint and
// an S3 compatible bucket.
//
// All backends lay files out as "<version>/<path>".
package source

import "errors"

var (
	// ErrNotFound is returned when a file does not exist in a backend.
	ErrNotFound = errors.New("source: file not found")
	// ErrListingUnsupported is returned by fetch-only backends that cannot
	// enumerate a version.
	ErrListingUnsupported = errors.New("source: backend cannot list files")
)
