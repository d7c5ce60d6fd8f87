// Package engine executes pipeline definitions.
//
// A run builds one dependency graph per requested version and executes
// every (route, version) pair, called a unit, exactly once. Versions run
// concurrently up to the configured batch size; inside a version, units
// whose dependencies have settled are handed to a pool of workers bounded
// by a concurrency limit shared across all versions of the run.
//
// Each unit lists and filters its input files, hashes their content,
// derives a cache key from that hash and the hashes of every artifact and
// route it depends on, and either replays a cached result or runs the
// route's parser, transforms and resolver. A failing unit settles only the
// units depending on it; independent branches keep running. Cancelling the
// run context settles every unit that has not completed as Cancelled.
package engine
