// Package dag implements a small, concurrency-safe directed acyclic graph
// keyed by string ids.
//
// Every node remembers the order in which it was added. That order is used
// to break ties during topological sorting, so the same declarations always
// produce the same execution order.
package dag
