// Package events defines the execution event stream and the span context
// that correlates it.
//
// A Recorder is created per execution and stored in the context handed to
// every parser, transform and resolver invocation. Start opens a span and
// returns a derived context carrying the span id, so nested spans and
// standalone events (cache hits, errors) attach to the right parent even
// when many executions run at the same time. Nothing in this package keeps
// process-wide state about the current execution.
//
// Every span emits a balanced pair of events, "<phase>:start" and
// "<phase>:end", sharing one span id. The end event carries durationMs,
// computed from the same two timestamps the events carry.
package events
