// Package registry provides the central "glue" for the module system.
//
// The Registry stores mappings between the block labels used in pipeline
// definitions (for example `parser "fields"` or `source "http"`) and the
// compiled Go factories that build the matching parser, transform,
// resolver or source backend. Modules populate it at startup through their
// Register method; the loader consults it while evaluating definitions.
//
// ValidateRegistry checks that every registered options struct can be
// decoded from HCL, so a broken module fails at startup instead of on the
// first pipeline that uses it.
package registry
