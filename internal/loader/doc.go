// Package loader resolves, fetches and evaluates pipeline definitions.
//
// A definition is a tree of HCL modules. The entry module and everything
// it imports are located either on the local disk (below a root directory
// guarded by safefs), on a git host addressed by a RemoteIdentifier such
// as "github://owner/repo?ref=main&path=pipelines/unicode.hcl", or at a
// plain https URL.
//
// Loading happens in two phases. Discovery parses every module and reads
// its `import` blocks without evaluating anything but literals, so an
// untrusted module cannot cause side effects while its imports are
// followed. Sibling imports of one discovery wave are fetched
// concurrently. The discovered modules are then bundled and evaluated
// once, in an evaluation context that holds only the bundle's locals and
// a fixed set of pure functions. Only the entry module's pipelines are
// exported; the source span of each pipeline block is recorded so callers
// can print the original declaration.
//
// Resolution and compile errors are reported per file in Result.Errors
// and never stop the discovery of sibling modules.
package loader
