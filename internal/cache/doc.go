// Package cache implements the content-addressable cache used by the
// execution engine.
//
// A Key identifies the output of one route for one version, derived from
// the hash of the route's matched inputs and the hashes of every upstream
// artifact it consumes. Keys are computed before any lookup, so a stale
// entry is never returned: a changed input simply produces a different key.
//
// Stores are drop-in adapters behind the Store interface:
//   - MemoryStore keeps entries in an expiring LRU,
//   - FSStore writes one file per key under a root directory,
//   - S3Store keeps objects in an S3 compatible bucket,
//   - PostgresStore keeps rows in a single table.
//
// Callers treat every store error as a miss. Caching is an optimisation,
// never a requirement for correctness.
package cache
