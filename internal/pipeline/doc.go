// Package pipeline holds the format-agnostic data model of a pipeline: its
// sources, routes and the contracts that parsers, transforms, resolvers and
// source backends implement.
//
// A Definition is produced once by the loader (or built directly in Go) and
// is read-only afterwards. Nothing in this package performs I/O.
package pipeline
