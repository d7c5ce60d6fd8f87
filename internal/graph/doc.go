// Package graph turns a pipeline.Definition into per-version dependency
// graphs.
//
// # Nodes
//
// For every requested version the builder creates:
//   - one pipeline node (`pipeline:<id>`) that depends on the version node,
//   - one version node (`version:<v>`) that depends on every route node,
//   - one route node (`route:<id>`) per route,
//   - one artifact node (`artifact:<id>`) per artifact a route emits.
//
// # Edges
//
//	route:R1 ──▶ artifact:names ──▶ route:R2      (R2 depends_on artifact:names)
//	route:R1 ───────────────────────▶ route:R3    (R3 depends_on route:R1)
//
// An artifact node depends on the route that emits it, so a route that
// waits on an artifact transitively waits on the emitter. A `route:` edge
// waits on completion of the route, not only on its artifacts.
//
// # Guarantees
//
// Cycles, duplicate ids and dangling references are configuration errors
// returned before any unit is scheduled. Topological order is made
// reproducible by breaking ties with declaration order. Build never
// mutates its input and keeps no package state, so it can run concurrently
// for different version sets.
package graph
